package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// BoundaryListener observes test boundaries during delegated execution:
// it forwards start/end signals to the boundary notifier, pulls a
// dump-and-reset snapshot at each test end when a local dump controller
// is configured, and collects the execution records.
//
// Engines may parallelize their own tests, so all methods are
// mutex-guarded. The dump-and-append step runs under the same lock, so
// coverage is attributed to exactly one test at a time.
type BoundaryListener struct {
	notifier BoundaryNotifier
	dumper   DumpController
	sink     CoverageSink

	mu         sync.Mutex
	executions []domain.Execution
}

// NewBoundaryListener builds a listener. dumper and sink may be nil when
// coverage is recorded remotely by the notified endpoints.
func NewBoundaryListener(notifier BoundaryNotifier, dumper DumpController, sink CoverageSink) *BoundaryListener {
	return &BoundaryListener{notifier: notifier, dumper: dumper, sink: sink}
}

// TestStarted signals the beginning of a coverage attribution interval.
func (l *BoundaryListener) TestStarted(path domain.TestPath) {
	if l.notifier != nil {
		l.notifier.TestStarted(context.Background(), path)
	}
}

// TestFinished closes the attribution interval for path, records the
// execution, and attributes the dumped coverage to it.
func (l *BoundaryListener) TestFinished(path domain.TestPath, execution domain.Execution) {
	l.mu.Lock()
	l.executions = append(l.executions, execution)
	if l.dumper != nil {
		l.attribute(path, execution)
	}
	l.mu.Unlock()

	if l.notifier != nil {
		l.notifier.TestEnded(context.Background(), path, &execution)
	}
}

// attribute must be called with l.mu held.
func (l *BoundaryListener) attribute(path domain.TestPath, execution domain.Execution) {
	dump, err := l.dumper.DumpAndReset()
	if err != nil {
		slog.Warn("dump failed, dropping coverage for test", "path", path, "error", err)
		return
	}
	if l.sink == nil {
		return
	}
	tc := domain.TestCoverage{
		UniformPath: path,
		Duration:    execution.DurationSeconds,
		Result:      execution.Result,
		Message:     execution.Message,
		Files:       dump.Files,
	}
	if err := l.sink.Append(tc); err != nil {
		slog.Error("recording test coverage failed", "path", path, "error", err)
	}
}

// Executions returns the collected execution records in completion order.
func (l *BoundaryListener) Executions() []domain.Execution {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Execution, len(l.executions))
	copy(out, l.executions)
	return out
}
