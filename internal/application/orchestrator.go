package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// ArtifactWriter persists the run-level report artifacts after all
// delegated executions finished.
type ArtifactWriter interface {
	WriteTestDetails(details []domain.TestDetail) error
	WriteTestExecutions(executions []domain.Execution) error
}

// Flusher closes the accumulated testwise report (the split writer).
type Flusher interface {
	SetPartial(partial bool)
	Close() error
}

// Orchestrator fans test discovery and execution out to the registered
// engines while recording one unified view of the run.
type Orchestrator struct {
	engines   []TestEngine
	policy    SelectionPolicy
	notifier  BoundaryNotifier
	listener  *BoundaryListener
	artifacts ArtifactWriter
	flusher   Flusher
	config    ExecutionConfig
	store     ArtifactStore
	dirs      OutputDirProvider

	builders map[string]contextBuilder
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPolicy sets the selection/sort policy. Default keeps all tests.
func WithPolicy(p SelectionPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.policy = p }
}

// WithArtifactWriter sets the destination of the test-details and
// test-executions artifacts.
func WithArtifactWriter(w ArtifactWriter) OrchestratorOption {
	return func(o *Orchestrator) { o.artifacts = w }
}

// WithFlusher sets the testwise report writer to finalize after the run.
func WithFlusher(f Flusher) OrchestratorOption {
	return func(o *Orchestrator) { o.flusher = f }
}

// WithExecutionConfig sets run-scoped engine settings.
func WithExecutionConfig(cfg ExecutionConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithArtifactStore hands engines a store for raw exec data.
func WithArtifactStore(s ArtifactStore) OrchestratorOption {
	return func(o *Orchestrator) { o.store = s }
}

// WithOutputDirs hands engines a provider for their output directories.
func WithOutputDirs(d OutputDirProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.dirs = d }
}

// NewOrchestrator builds an orchestrator over the given engines. The
// listener is shared across engines so boundary notifications and
// execution records form one unified run.
func NewOrchestrator(engines []TestEngine, notifier BoundaryNotifier, listener *BoundaryListener, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		engines:  engines,
		policy:   KeepAllPolicy{},
		notifier: notifier,
		listener: listener,
		builders: make(map[string]contextBuilder, len(engines)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Discover calls every registered engine with the same request and
// merges the resulting subtrees under one synthetic root. Discovery
// errors are structural and propagate.
func (o *Orchestrator) Discover(ctx context.Context, req DiscoveryRequest) (*domain.TestNode, error) {
	trees := make([]domain.EngineTree, 0, len(o.engines))
	for _, engine := range o.engines {
		subtree, err := engine.Discover(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("discover on engine %q: %w", engine.ID(), err)
		}
		trees = append(trees, domain.EngineTree{EngineID: engine.ID(), Root: subtree})
	}
	return domain.MergeTrees(trees), nil
}

// RunResult summarizes one executed run.
type RunResult struct {
	Discovered int
	Executed   int
	Partial    bool
	Executions []domain.Execution
}

// Execute applies the selection policy to the merged tree, dispatches
// each engine group to its engine, and finalizes the run artifacts.
// Engine-level dispatch problems are logged and skipped; they never
// abort the remaining engines. The run-end signal is sent exactly once,
// with partial=true when a strict subset of the discoverable tests ran.
func (o *Orchestrator) Execute(ctx context.Context, merged *domain.TestNode) (*RunResult, error) {
	discovered := len(domain.UniformLeaves(merged))
	details := domain.DetailsOf(merged)

	o.policy.Apply(merged)
	selected := domain.UniformLeaves(merged)

	// Selection-based partiality is known before any shard is flushed,
	// so mark the writer up front. Cancellation mid-run can only affect
	// shards that have not gone out yet.
	if o.flusher != nil && len(selected) < discovered {
		o.flusher.SetPartial(true)
	}

	cancelled := false
	for _, group := range merged.Children {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		o.dispatchGroup(ctx, group)
	}
	if ctx.Err() != nil {
		cancelled = true
	}

	executions := o.listener.Executions()
	partial := cancelled || len(selected) < discovered || len(executions) < discovered

	result := &RunResult{
		Discovered: discovered,
		Executed:   len(executions),
		Partial:    partial,
		Executions: executions,
	}

	// Partial data beats no data: flush whatever was collected even
	// when the run was cancelled mid-flight.
	if err := o.finalize(ctx, details, executions, partial); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) dispatchGroup(ctx context.Context, group *domain.TestNode) {
	engine := o.engineByID(group.EngineID)
	if engine == nil {
		slog.Error("no engine registered for descriptor group, skipping", "engine", group.EngineID)
		return
	}

	builder, err := o.builderFor(engine)
	if err != nil {
		slog.Error("engine execution context negotiation failed, skipping", "engine", engine.ID(), "error", err)
		return
	}

	execCtx, err := builder(ctx, group, o.listener, o.config, o.store, o.dirs)
	if err != nil {
		slog.Error("building execution context failed, skipping engine", "engine", engine.ID(), "error", err)
		return
	}

	if err := engine.Execute(ctx, execCtx); err != nil {
		slog.Error("delegated execution failed", "engine", engine.ID(), "error", err)
	}
}

// builderFor negotiates the context factory shape once per engine and
// caches the strategy.
func (o *Orchestrator) builderFor(engine TestEngine) (contextBuilder, error) {
	if b, ok := o.builders[engine.ID()]; ok {
		return b, nil
	}
	b, err := negotiateFactory(engine)
	if err != nil {
		return nil, err
	}
	o.builders[engine.ID()] = b
	return b, nil
}

func (o *Orchestrator) engineByID(id string) TestEngine {
	for _, e := range o.engines {
		if e.ID() == id {
			return e
		}
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, details []domain.TestDetail, executions []domain.Execution, partial bool) error {
	var firstErr error
	if o.artifacts != nil {
		if err := o.artifacts.WriteTestDetails(details); err != nil {
			slog.Error("writing test details failed", "error", err)
			firstErr = err
		}
		if err := o.artifacts.WriteTestExecutions(executions); err != nil {
			slog.Error("writing test executions failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if o.flusher != nil {
		o.flusher.SetPartial(partial)
		if err := o.flusher.Close(); err != nil {
			slog.Error("closing testwise report failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if o.notifier != nil {
		// Run-end must go out even when the run was cancelled.
		o.notifier.RunFinished(context.WithoutCancel(ctx), partial)
	}
	return firstErr
}
