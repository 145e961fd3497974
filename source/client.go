// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package source reads pages from a Scrapbox project over its HTTP API.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/pagerag/core"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Scrapbox API endpoint.
	DefaultBaseURL = "https://scrapbox.io/api"

	// DefaultPageSize is the listing page size. Scrapbox caps it at 1000.
	DefaultPageSize = 1000

	// DefaultRequestsPerSecond throttles calls to the API.
	DefaultRequestsPerSecond = 5.0
	DefaultBurst             = 5

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 << 20
)

// Client is a Scrapbox API client for a single project.
type Client struct {
	project  string
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) error {
		if _, err := url.Parse(u); err != nil {
			return fmt.Errorf("invalid base url: %w", err)
		}
		c.baseURL = strings.TrimSuffix(u, "/")
		return nil
	}
}

// WithToken sets the session token sent as the connect.sid cookie.
// Private projects require it.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithHTTPClient sets the HTTP client.
// Default has a 30 second timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		c.http = hc
		return nil
	}
}

// WithRateLimit sets the sustained request rate and burst.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) error {
		if requestsPerSecond <= 0 || burst <= 0 {
			return fmt.Errorf("rate limit must be positive: %v/%d", requestsPerSecond, burst)
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		return nil
	}
}

// WithPageSize sets the listing page size.
func WithPageSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("page size must be positive: %d", n)
		}
		c.pageSize = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "scrapbox-client")
		return nil
	}
}

// NewClient creates a client for project.
func NewClient(project string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(project) == "" {
		return nil, core.ErrEmptyProject
	}
	c := &Client{
		project:  project,
		baseURL:  DefaultBaseURL,
		pageSize: DefaultPageSize,
		http:     &http.Client{Timeout: defaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultBurst),
		logger:   slog.Default().With("component", "scrapbox-client"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Project returns the project the client reads from.
func (c *Client) Project() string {
	return c.project
}

type listResponse struct {
	Skip  int                `json:"skip"`
	Limit int                `json:"limit"`
	Count int                `json:"count"`
	Pages []core.PageSummary `json:"pages"`
}

// ListPages returns every page of the project in listing order, following
// pagination until the reported count is reached.
func (c *Client) ListPages(ctx context.Context) ([]core.PageSummary, error) {
	var pages []core.PageSummary
	for skip := 0; ; {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("skip", strconv.Itoa(skip))

		var resp listResponse
		if _, err := c.get(ctx, c.projectURL()+"?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		pages = append(pages, resp.Pages...)
		skip += len(resp.Pages)

		c.logger.Debug("listed pages", "project", c.project, "received", len(pages), "count", resp.Count)
		if len(resp.Pages) == 0 || skip >= resp.Count {
			break
		}
	}
	return pages, nil
}

// GetPage returns the full page titled title. The returned page carries the
// undecoded response body in Raw.
func (c *Client) GetPage(ctx context.Context, title string) (*core.Page, error) {
	if title == "" {
		return nil, core.ErrEmptyTitle
	}
	var page core.Page
	raw, err := c.get(ctx, c.projectURL()+"/"+url.PathEscape(title), &page)
	if err != nil {
		return nil, err
	}
	page.Project = c.project
	page.Raw = raw
	return &page, nil
}

func (c *Client) projectURL() string {
	return c.baseURL + "/pages/" + url.PathEscape(c.project)
}

// get fetches u and decodes the JSON body into v, returning the raw body.
func (c *Client) get(ctx context.Context, u string, v any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Cookie", "connect.sid="+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: u, Body: core.Truncate(string(body), 200)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body, nil
}
