package search

import (
	"log/slog"
	"time"

	"github.com/poiesic/pagerag/core"
)

// Stage names a step of Policy.Apply.
type Stage string

const (
	StageFilter Stage = "filter"
	StageDedupe Stage = "dedupe"
	StageBoost  Stage = "boost"
)

// Monitor provides hooks to observe Policy.Apply.
// Implement this interface to track intermediate counts and results.
// Elapsed times are measured by Apply, so hooks for concurrent calls share
// no state.
type Monitor interface {
	Start(matches int)
	AfterStage(stage Stage, kept int, elapsed time.Duration)
	Finish(input int, results []core.SearchMatch, elapsed time.Duration)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ int)                                         {}
func (n *noopMonitor) AfterStage(_ Stage, _ int, _ time.Duration)          {}
func (n *noopMonitor) Finish(_ int, _ []core.SearchMatch, _ time.Duration) {}

// LogMonitor logs per-stage counts and elapsed time at debug level.
type LogMonitor struct {
	logger *slog.Logger
}

var _ Monitor = (*LogMonitor)(nil)

// NewLogMonitor creates a monitor that logs to logger, or slog.Default()
// when logger is nil.
func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMonitor{logger: logger.With("component", "retrieval-policy")}
}

func (m *LogMonitor) Start(matches int) {
	m.logger.Debug("applying search policies", "input", matches)
}

func (m *LogMonitor) AfterStage(stage Stage, kept int, elapsed time.Duration) {
	m.logger.Debug("policy stage", "stage", stage, "kept", kept, "elapsed", elapsed)
}

func (m *LogMonitor) Finish(input int, results []core.SearchMatch, elapsed time.Duration) {
	m.logger.Debug("applied search policies",
		"input", input,
		"output", len(results),
		"elapsed", elapsed)
}
