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


// Package object implements storage.ObjectStore on top of viant/afs, so the
// same code writes to s3://, file:// or mem:// locations.
package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/pagerag/storage"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	_ "github.com/viant/afsc/s3" // registers the s3:// scheme
)

// ErrBaseURLRequired is returned when the store has no location.
var ErrBaseURLRequired = errors.New("object store base URL is required")

// Store is an afs-backed object store rooted at a base URL.
type Store struct {
	fs       afs.Service
	baseURL  string
	basePath string
	logger   *slog.Logger
}

var _ storage.ObjectStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "object-store")
		return nil
	}
}

// NewStore returns an object store rooted at baseURL, e.g.
// "s3://my-bucket", "file:///var/lib/pagerag" or "mem://localhost/bucket".
//
// Returns storage.ObjectStore interface to enforce abstraction.
func NewStore(baseURL string, opts ...Option) (storage.ObjectStore, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	s := &Store{
		fs:       afs.New(),
		baseURL:  baseURL,
		basePath: strings.TrimSuffix(url.Path(baseURL), "/"),
		logger:   slog.Default().With("component", "object-store"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) objectURL(key string) string {
	return url.Join(s.baseURL, strings.TrimPrefix(key, "/"))
}

// Put writes data at key, replacing any existing object.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	s.logger.Debug("putting object", "key", key, "size", len(data))
	if err := s.fs.Upload(ctx, s.objectURL(key), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get reads the object at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	URL := s.objectURL(key)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether an object is stored at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.fs.Exists(ctx, s.objectURL(key))
}

// Delete removes the object at key. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	URL := s.objectURL(key)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if !exists {
		return nil
	}
	return s.fs.Delete(ctx, URL)
}

// List returns the keys of every object under prefix, recursively, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	root := s.objectURL(strings.TrimSuffix(prefix, "/"))
	exists, err := s.fs.Exists(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	if !exists {
		return []string{}, nil
	}

	var keys []string
	if err := s.walk(ctx, root, &keys); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) walk(ctx context.Context, location string, keys *[]string) error {
	objects, err := s.fs.List(ctx, location)
	if err != nil {
		return err
	}
	locationPath := url.Path(location)
	for _, object := range objects {
		objectPath := url.Path(object.URL())
		if object.IsDir() {
			// List includes the listed directory itself
			if url.Equals(objectPath, locationPath) {
				continue
			}
			if err := s.walk(ctx, object.URL(), keys); err != nil {
				return err
			}
			continue
		}
		*keys = append(*keys, strings.TrimPrefix(strings.TrimPrefix(objectPath, s.basePath), "/"))
	}
	return nil
}
