package search

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/pagerag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestPolicy(t *testing.T, opts ...PolicyOption) *Policy {
	t.Helper()
	opts = append([]PolicyOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	p, err := NewPolicy(opts...)
	require.NoError(t, err)
	return p
}

func match(id string, score float64, content string) core.SearchMatch {
	return core.SearchMatch{ID: id, Score: score, Content: content, Metadata: map[string]any{}}
}

func updatedAgo(m core.SearchMatch, d time.Duration) core.SearchMatch {
	m.Metadata["updated_at"] = fixedNow.Add(-d).Unix()
	return m
}

func ids(matches []core.SearchMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

func TestFilterByScore(t *testing.T) {
	p := newTestPolicy(t)

	t.Run("drops scores below the threshold", func(t *testing.T) {
		in := []core.SearchMatch{match("a", 0.05, "x"), match("b", 0.5, "y")}
		out := p.FilterByScore(in, 0.1)
		assert.Equal(t, []string{"b"}, ids(out))
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		out := p.FilterByScore([]core.SearchMatch{match("a", 0.1, "x")}, 0.1)
		assert.Len(t, out, 1)
	})

	t.Run("drops blank content regardless of score", func(t *testing.T) {
		in := []core.SearchMatch{match("a", 0.99, "  \n\t"), match("b", 0.99, "")}
		assert.Empty(t, p.FilterByScore(in, 0.1))
	})

	t.Run("output is a subset and input is untouched", func(t *testing.T) {
		in := []core.SearchMatch{match("a", 0.3, "x"), match("b", 0.01, "y"), match("c", 0.7, "z")}
		out := p.FilterByScore(in, 0.2)
		assert.Equal(t, []string{"a", "c"}, ids(out))
		assert.Len(t, in, 3)

		out[0].Metadata["k"] = "v"
		assert.NotContains(t, in[0].Metadata, "k")
	})
}

func TestRemoveDuplicates(t *testing.T) {
	p := newTestPolicy(t)

	t.Run("first occurrence wins", func(t *testing.T) {
		first := match("d1", 0.2, "first")
		second := match("d1", 0.9, "second")
		out := p.RemoveDuplicates([]core.SearchMatch{first, match("d2", 0.5, "other"), second})
		require.Len(t, out, 2)
		assert.Equal(t, "first", out[0].Content)
		assert.Equal(t, "d2", out[1].ID)
	})

	t.Run("id-less matches keyed by content", func(t *testing.T) {
		out := p.RemoveDuplicates([]core.SearchMatch{
			match("", 0.5, "same text"),
			match("", 0.4, "same text"),
			match("", 0.3, "different text"),
		})
		require.Len(t, out, 2)
		assert.Equal(t, 0.5, out[0].Score)
		assert.Equal(t, "different text", out[1].Content)
	})

	t.Run("id-less matches sharing a 100 character prefix collapse", func(t *testing.T) {
		prefix := strings.Repeat("あ", 100)
		out := p.RemoveDuplicates([]core.SearchMatch{
			match("", 0.5, prefix+" ending one"),
			match("", 0.4, prefix+" ending two"),
		})
		assert.Len(t, out, 1, "known limitation: only the prefix is compared")
	})

	t.Run("an id never collides with content", func(t *testing.T) {
		out := p.RemoveDuplicates([]core.SearchMatch{match("x", 0.5, "x"), match("", 0.5, "x")})
		assert.Len(t, out, 2)
	})
}

func TestBoostRecent(t *testing.T) {
	p := newTestPolicy(t)

	t.Run("five days old", func(t *testing.T) {
		out := p.BoostRecent([]core.SearchMatch{updatedAgo(match("a", 0.5, "x"), 5*day)})
		require.Len(t, out, 1)
		assert.InDelta(t, 0.65, out[0].Score, 1e-9)
		assert.Equal(t, 1.3, out[0].BoostFactor)
	})

	tiers := []struct {
		age    time.Duration
		factor float64
	}{
		{0, 1.3},
		{7 * day, 1.3},
		{7*day + 23*time.Hour, 1.3},
		{8 * day, 1.2},
		{30 * day, 1.2},
		{31 * day, 1.1},
		{90 * day, 1.1},
		{91 * day, 1.0},
		{3 * 365 * day, 1.0},
		{-2 * day, 1.3},
	}
	for _, tc := range tiers {
		t.Run("age "+tc.age.String(), func(t *testing.T) {
			out := p.BoostRecent([]core.SearchMatch{updatedAgo(match("a", 1, "x"), tc.age)})
			assert.Equal(t, tc.factor, out[0].BoostFactor)
			assert.InDelta(t, tc.factor, out[0].Score, 1e-9)
		})
	}

	formats := []struct {
		name   string
		value  any
		factor float64
	}{
		{"float epoch", float64(fixedNow.Add(-3 * day).Unix()), 1.3},
		{"json number", json.Number("1749556800"), 1.3}, // 2025-06-10T12:00:00Z
		{"rfc3339 utc", "2025-06-01T00:00:00Z", 1.2},
		{"offset", "2025-06-01T09:00:00+09:00", 1.2},
		{"no zone", "2025-04-01T00:00:00", 1.1},
		{"fractional seconds", "2025-06-14T10:00:00.123456", 1.3},
		{"date only", "2025-06-10", 1.3},
		{"numeric string", "1749556800", 1.0},
		{"garbage", "last tuesday", 1.0},
		{"nil", nil, 1.0},
		{"bool", true, 1.0},
	}
	for _, tc := range formats {
		t.Run(tc.name, func(t *testing.T) {
			m := match("a", 1, "x")
			if tc.value != nil {
				m.Metadata["updated_at"] = tc.value
			}
			out := p.BoostRecent([]core.SearchMatch{m})
			assert.Equal(t, tc.factor, out[0].BoostFactor)
		})
	}

	t.Run("input is untouched", func(t *testing.T) {
		in := []core.SearchMatch{updatedAgo(match("a", 0.5, "x"), day)}
		p.BoostRecent(in)
		assert.Equal(t, 0.5, in[0].Score)
		assert.Zero(t, in[0].BoostFactor)
	})
}

func TestBoostFactor_Monotone(t *testing.T) {
	prev := BoostFactor(-10)
	for age := -9; age <= 400; age++ {
		f := BoostFactor(age)
		assert.LessOrEqual(t, f, prev, "age %d", age)
		prev = f
	}
}

func TestRank(t *testing.T) {
	p := newTestPolicy(t)
	in := []core.SearchMatch{
		match("a", 0.2, "x"),
		match("b", 0.9, "x"),
		match("c", 0.5, "x"),
		match("d", 0.5, "x"),
	}
	out := p.Rank(in)
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids(out), "ties keep input order")
	for i, m := range out {
		assert.Equal(t, i+1, m.Rank)
	}
	assert.Zero(t, in[0].Rank)
}

type recordingMonitor struct {
	started int
	stages  []Stage
	kept    []int
	final   int
}

func (m *recordingMonitor) Start(n int) { m.started = n }
func (m *recordingMonitor) AfterStage(s Stage, kept int, _ time.Duration) {
	m.stages = append(m.stages, s)
	m.kept = append(m.kept, kept)
}
func (m *recordingMonitor) Finish(_ int, results []core.SearchMatch, _ time.Duration) {
	m.final = len(results)
}

func TestApply(t *testing.T) {
	in := []core.SearchMatch{
		updatedAgo(match("old", 0.6, "old page"), 200*day),
		updatedAgo(match("new", 0.5, "new page"), 1*day),
		match("low", 0.05, "too low"),
		updatedAgo(match("new", 0.4, "dup of new"), 1*day),
		match("blank", 0.9, " "),
	}

	t.Run("defaults", func(t *testing.T) {
		mon := &recordingMonitor{}
		p := newTestPolicy(t, WithMonitor(mon))
		out := p.Apply(in, DefaultApplyOptions())

		assert.Equal(t, []string{"new", "old"}, ids(out))
		assert.InDelta(t, 0.65, out[0].Score, 1e-9)
		assert.Equal(t, 1, out[0].Rank)
		assert.Equal(t, 1.0, out[1].BoostFactor)

		assert.Equal(t, 5, mon.started)
		assert.Equal(t, []Stage{StageFilter, StageDedupe, StageBoost}, mon.stages)
		assert.Equal(t, []int{3, 2, 2}, mon.kept)
		assert.Equal(t, 2, mon.final)
	})

	t.Run("boost and dedupe off", func(t *testing.T) {
		p := newTestPolicy(t)
		out := p.Apply(in, ApplyOptions{MinScore: 0.1})
		assert.Equal(t, []string{"old", "new", "new"}, ids(out))
		for _, m := range out {
			assert.Zero(t, m.BoostFactor)
		}
	})

	t.Run("input is untouched", func(t *testing.T) {
		p := newTestPolicy(t)
		before := make([]core.SearchMatch, len(in))
		copy(before, in)
		p.Apply(in, DefaultApplyOptions())
		assert.Equal(t, before, in)
	})

	t.Run("empty input", func(t *testing.T) {
		p := newTestPolicy(t)
		assert.Empty(t, p.Apply(nil, DefaultApplyOptions()))
	})
}

func TestLogMonitor(t *testing.T) {
	in := []core.SearchMatch{
		match("a", 0.6, "page a"),
		match("b", 0.5, "page b"),
		match("low", 0.05, "too low"),
	}
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := newTestPolicy(t, WithMonitor(NewLogMonitor(logger)))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, []string{"a", "b"}, ids(p.Apply(in, DefaultApplyOptions())))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	logs := buf.String()
	assert.Equal(t, 8, strings.Count(logs, "stage=filter kept=2"))
	assert.Equal(t, 8, strings.Count(logs, "input=3 output=2"))
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestNewPolicy(t *testing.T) {
	_, err := NewPolicy(WithClock(nil))
	assert.Error(t, err)

	p, err := NewPolicy(WithMonitor(nil), WithMonitor(NewLogMonitor(nil)))
	require.NoError(t, err)
	assert.NotNil(t, p)
}
