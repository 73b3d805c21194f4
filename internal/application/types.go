// Package application wires the testwise coverage pipeline together: it
// defines the ports the orchestrator depends on and the orchestrator
// itself. Adapters live under the sibling infrastructure packages.
package application

import (
	"context"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// DiscoveryRequest narrows what the engines should discover.
type DiscoveryRequest struct {
	IncludePatterns []string
	ExcludePatterns []string
}

// ExecutionConfig carries run-scoped settings into an engine execution.
type ExecutionConfig struct {
	SessionID string
	Env       map[string]string
}

// ExecutionListener observes test boundaries during delegated execution.
// Engines may run their tests in parallel, so implementations must be
// safe for concurrent use.
type ExecutionListener interface {
	TestStarted(path domain.TestPath)
	TestFinished(path domain.TestPath, execution domain.Execution)
}

// ArtifactStore persists engine-produced artifacts (e.g. raw exec data).
type ArtifactStore interface {
	Put(name string, data []byte) error
}

// OutputDirProvider hands engines a place for their own output files.
type OutputDirProvider interface {
	OutputDir(engineID string) (string, error)
}

// ExecutionContext is the fully resolved request handed to an engine's
// Execute. Regardless of which factory shape produced it, the same
// descriptor and listener end up here; the newer fields stay nil when an
// older shape was negotiated.
type ExecutionContext struct {
	Descriptor *domain.TestNode
	Listener   ExecutionListener
	Config     ExecutionConfig
	Store      ArtifactStore
	OutputDirs OutputDirProvider

	// Cancel is the run's cancellation signal; only the newest factory
	// shape receives it.
	Cancel context.Context
}

// TestEngine is one underlying test-execution engine. Discovery errors
// are structural and propagate; execution is boundary-observed through
// the listener in the context.
type TestEngine interface {
	ID() string
	Discover(ctx context.Context, req DiscoveryRequest) (*domain.TestNode, error)
	Execute(ctx context.Context, execCtx *ExecutionContext) error
}

// BoundaryNotifier signals test boundaries to the coverage-recording
// side. Implementations are best-effort telemetry: they log transport
// failures and never surface them to the test run.
type BoundaryNotifier interface {
	TestStarted(ctx context.Context, path domain.TestPath)
	TestEnded(ctx context.Context, path domain.TestPath, execution *domain.Execution)
	RunFinished(ctx context.Context, partial bool)
}

// DumpController produces atomic dump-and-reset snapshots of the
// instrumentation runtime.
type DumpController interface {
	DumpAndReset() (domain.Dump, error)
}

// CoverageSink accepts per-test coverage as it accumulates.
type CoverageSink interface {
	Append(tc domain.TestCoverage) error
}

// SelectionPolicy prunes and orders the runnable tests of a merged tree
// in place before execution.
type SelectionPolicy interface {
	Apply(merged *domain.TestNode)
}
