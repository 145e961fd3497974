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


package search

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/pagerag/core"
)

const (
	// DefaultMinScore is the score threshold used by DefaultApplyOptions.
	DefaultMinScore = 0.1

	// dedupePrefixChars is how much content keys a match that has no id.
	dedupePrefixChars = 100

	day = 24 * time.Hour
)

// boostTiers maps a maximum age in days to a score multiplier.
var boostTiers = []struct {
	maxAgeDays int
	factor     float64
}{
	{7, 1.3},
	{30, 1.2},
	{90, 1.1},
}

// timestampLayouts are the string forms accepted for updated_at, tried in order.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	time.DateOnly,
}

// ApplyOptions toggles the optional stages of Policy.Apply.
// Score filtering and ranking always run.
type ApplyOptions struct {
	MinScore         float64
	BoostRecent      bool
	RemoveDuplicates bool
}

// DefaultApplyOptions returns MinScore 0.1 with boosting and deduplication on.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{
		MinScore:         DefaultMinScore,
		BoostRecent:      true,
		RemoveDuplicates: true,
	}
}

// Policy post-processes raw index matches into a ranked result list.
// Every stage returns new matches and leaves its input untouched, so a
// Policy is safe for concurrent use.
type Policy struct {
	now     func() time.Time
	monitor Monitor
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy) error

// WithClock sets the time source used to age matches.
// Default is time.Now.
func WithClock(now func() time.Time) PolicyOption {
	return func(p *Policy) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		p.now = now
		return nil
	}
}

// WithMonitor sets a monitor notified after each stage of Apply.
func WithMonitor(m Monitor) PolicyOption {
	return func(p *Policy) error {
		if m == nil {
			m = &noopMonitor{}
		}
		p.monitor = m
		return nil
	}
}

// NewPolicy creates a retrieval policy.
func NewPolicy(opts ...PolicyOption) (*Policy, error) {
	p := &Policy{
		now:     time.Now,
		monitor: &noopMonitor{},
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Apply runs filter, dedupe, boost and rank in that order. The order is
// fixed; dedupe and boost can be switched off through opts.
func (p *Policy) Apply(matches []core.SearchMatch, opts ApplyOptions) []core.SearchMatch {
	started := time.Now()
	last := started
	stage := func(s Stage, kept int) {
		now := time.Now()
		p.monitor.AfterStage(s, kept, now.Sub(last))
		last = now
	}
	p.monitor.Start(len(matches))

	results := p.FilterByScore(matches, opts.MinScore)
	stage(StageFilter, len(results))

	if opts.RemoveDuplicates {
		results = p.RemoveDuplicates(results)
		stage(StageDedupe, len(results))
	}

	if opts.BoostRecent {
		results = p.BoostRecent(results)
		stage(StageBoost, len(results))
	}

	results = p.Rank(results)
	p.monitor.Finish(len(matches), results, time.Since(started))
	return results
}

// FilterByScore drops matches scoring below minScore and matches whose
// content is blank, whatever their score.
func (p *Policy) FilterByScore(matches []core.SearchMatch, minScore float64) []core.SearchMatch {
	results := make([]core.SearchMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		results = append(results, m.Clone())
	}
	return results
}

type dedupeKey struct {
	id   string
	hash uint64
}

// RemoveDuplicates keeps the first match for every id, in input order.
// Matches without an id are keyed by a hash of their first 100 content
// characters, so distinct id-less matches sharing that prefix collapse.
func (p *Policy) RemoveDuplicates(matches []core.SearchMatch) []core.SearchMatch {
	seen := make(map[dedupeKey]struct{}, len(matches))
	results := make([]core.SearchMatch, 0, len(matches))
	for _, m := range matches {
		key := dedupeKey{id: m.ID}
		if m.ID == "" {
			key.hash = core.ContentHash(core.Truncate(m.Content, dedupePrefixChars))
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		results = append(results, m.Clone())
	}
	return results
}

// BoostRecent multiplies each score by the factor for the age of the
// match's updated_at and records the factor. Missing or unreadable
// timestamps get a factor of 1.0.
func (p *Policy) BoostRecent(matches []core.SearchMatch) []core.SearchMatch {
	now := p.now()
	results := make([]core.SearchMatch, 0, len(matches))
	for _, m := range matches {
		m = m.Clone()
		factor := 1.0
		if updated, ok := ParseTimestamp(m.Metadata["updated_at"]); ok {
			factor = BoostFactor(ageDays(now, updated))
		}
		m.Score *= factor
		m.BoostFactor = factor
		results = append(results, m)
	}
	return results
}

// Rank sorts by score, highest first, keeping the incoming order of equal
// scores, and assigns 1-based ranks.
func (p *Policy) Rank(matches []core.SearchMatch) []core.SearchMatch {
	results := make([]core.SearchMatch, len(matches))
	for i := range matches {
		results[i] = matches[i].Clone()
	}
	slices.SortStableFunc(results, func(a, b core.SearchMatch) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// BoostFactor returns the score multiplier for a document ageDays old.
// It never increases with age. Negative ages (timestamps in the future)
// count as fresh.
func BoostFactor(ageDays int) float64 {
	for _, tier := range boostTiers {
		if ageDays <= tier.maxAgeDays {
			return tier.factor
		}
	}
	return 1.0
}

// ageDays returns the whole days elapsed from t to now, rounded toward
// negative infinity.
func ageDays(now, t time.Time) int {
	d := now.Sub(t)
	days := int(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}

// ParseTimestamp reads an epoch-seconds number or an ISO-8601 string.
// Numeric strings are not timestamps.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		return fromEpoch(t), true
	case float32:
		return fromEpoch(float64(t)), true
	case int:
		return time.Unix(int64(t), 0), true
	case int64:
		return time.Unix(t, 0), true
	case int32:
		return time.Unix(int64(t), 0), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return time.Unix(n, 0), true
		}
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func fromEpoch(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*float64(time.Second)))
}
