package application

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbeam/coverbeam/internal/domain"
	"github.com/coverbeam/coverbeam/internal/report"
)

// fakeEngine executes every leaf through the listener. The factory
// shapes it implements are controlled per test.
type fakeEngine struct {
	id    string
	tests []string

	implementsV1 bool
	implementsV2 bool
	implementsV3 bool
	v3Rejects    bool

	mu       sync.Mutex
	executed []domain.TestPath
}

func (e *fakeEngine) ID() string { return e.id }

func (e *fakeEngine) Discover(context.Context, DiscoveryRequest) (*domain.TestNode, error) {
	root := domain.NewContainer(e.id + "-root")
	pkg := root.AddChild(domain.NewContainer("pkg"))
	for _, name := range e.tests {
		pkg.AddChild(domain.NewTest(name))
	}
	return root, nil
}

func (e *fakeEngine) Execute(_ context.Context, execCtx *ExecutionContext) error {
	for _, leaf := range execCtx.Descriptor.Leaves() {
		execCtx.Listener.TestStarted(leaf.Path)
		execCtx.Listener.TestFinished(leaf.Path, domain.NewExecution(leaf.Path, time.Millisecond, domain.ResultPassed, ""))
		e.mu.Lock()
		e.executed = append(e.executed, leaf.Path)
		e.mu.Unlock()
	}
	return nil
}

func (e *fakeEngine) NewExecutionContextV1(desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig) (*ExecutionContext, error) {
	if !e.implementsV1 {
		return nil, ErrIncompatible
	}
	return &ExecutionContext{Descriptor: desc, Listener: listener, Config: cfg}, nil
}

func (e *fakeEngine) NewExecutionContextV2(desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, store ArtifactStore, _ string) (*ExecutionContext, error) {
	if !e.implementsV2 {
		return nil, ErrIncompatible
	}
	return &ExecutionContext{Descriptor: desc, Listener: listener, Config: cfg, Store: store}, nil
}

func (e *fakeEngine) NewExecutionContextV3(desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, store ArtifactStore, dirs OutputDirProvider, cancel context.Context) (*ExecutionContext, error) {
	if !e.implementsV3 || e.v3Rejects {
		return nil, ErrIncompatible
	}
	return &ExecutionContext{Descriptor: desc, Listener: listener, Config: cfg, Store: store, OutputDirs: dirs, Cancel: cancel}, nil
}

type memoryArtifacts struct {
	details    []domain.TestDetail
	executions []domain.Execution
}

func (a *memoryArtifacts) WriteTestDetails(d []domain.TestDetail) error {
	a.details = d
	return nil
}

func (a *memoryArtifacts) WriteTestExecutions(e []domain.Execution) error {
	a.executions = e
	return nil
}

type memoryFlusher struct {
	partial bool
	closed  bool
}

func (f *memoryFlusher) SetPartial(p bool) { f.partial = p }
func (f *memoryFlusher) Close() error {
	f.closed = true
	return nil
}

func newRun(t *testing.T, engines []TestEngine, opts ...OrchestratorOption) (*Orchestrator, *recordingNotifier, *memoryArtifacts, *memoryFlusher) {
	t.Helper()
	notifier := &recordingNotifier{}
	artifacts := &memoryArtifacts{}
	flusher := &memoryFlusher{}
	listener := NewBoundaryListener(notifier, nil, nil)
	opts = append([]OrchestratorOption{WithArtifactWriter(artifacts), WithFlusher(flusher)}, opts...)
	return NewOrchestrator(engines, notifier, listener, opts...), notifier, artifacts, flusher
}

func TestExecuteFullRunIsNotPartial(t *testing.T) {
	alpha := &fakeEngine{id: "alpha", tests: []string{"t1", "t2"}, implementsV3: true}
	beta := &fakeEngine{id: "beta", tests: []string{"t3"}, implementsV1: true}
	orch, notifier, artifacts, flusher := newRun(t, []TestEngine{alpha, beta})

	merged, err := orch.Discover(context.Background(), DiscoveryRequest{})
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), merged)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Discovered)
	assert.Equal(t, 3, result.Executed)
	assert.False(t, result.Partial)

	require.Equal(t, []bool{false}, notifier.finished, "run-end must be signalled exactly once")
	assert.Len(t, artifacts.details, 3)
	assert.Len(t, artifacts.executions, 3)
	assert.True(t, flusher.closed)
	assert.False(t, flusher.partial)
}

func TestExecuteSubsetSelectionIsPartial(t *testing.T) {
	engine := &fakeEngine{id: "unit", tests: []string{"keep", "drop"}, implementsV2: true}
	orch, notifier, artifacts, flusher := newRun(t, []TestEngine{engine},
		WithPolicy(NewImpactedPolicy([]domain.TestPath{"pkg/keep"})))

	merged, err := orch.Discover(context.Background(), DiscoveryRequest{})
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), merged)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Discovered)
	assert.Equal(t, 1, result.Executed)
	assert.True(t, result.Partial)
	assert.True(t, flusher.partial)
	require.Equal(t, []bool{true}, notifier.finished)

	// Details describe everything discoverable, not just the selection.
	assert.Len(t, artifacts.details, 2)
	assert.Len(t, artifacts.executions, 1)
}

// Shards flushed while a subset run is still executing must already
// carry the partial flag, not just the final one.
func TestSubsetSelectionMarksMidRunShards(t *testing.T) {
	engine := &fakeEngine{id: "unit", tests: []string{"t1", "t2", "t3"}, implementsV3: true}
	writer := report.NewSplitWriter(t.TempDir(), "run", report.WithSplitAfter(1))
	listener := NewBoundaryListener(nil, &countingDumper{}, writer)
	orch := NewOrchestrator([]TestEngine{engine}, nil, listener,
		WithFlusher(writer),
		WithPolicy(NewImpactedPolicy([]domain.TestPath{"pkg/t1", "pkg/t2"})))

	merged, err := orch.Discover(context.Background(), DiscoveryRequest{})
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), merged)
	require.NoError(t, err)
	require.True(t, result.Partial)

	files := writer.Files()
	require.Len(t, files, 2)
	for _, path := range files {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		var doc domain.TestwiseReport
		require.NoError(t, json.Unmarshal(raw, &doc))
		assert.True(t, doc.Partial, "shard %s must be flagged partial", path)
	}
}

func TestExecuteCancelledRunIsPartial(t *testing.T) {
	engine := &fakeEngine{id: "unit", tests: []string{"t1"}, implementsV3: true}
	orch, notifier, _, _ := newRun(t, []TestEngine{engine})

	merged, err := orch.Discover(context.Background(), DiscoveryRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := orch.Execute(ctx, merged)
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Equal(t, 0, result.Executed)
	require.Equal(t, []bool{true}, notifier.finished, "run-end must go out even when cancelled")
}

// Engines negotiating different factory shapes must behave identically.
func TestExecuteFactoryShapesAreEquivalent(t *testing.T) {
	shapes := map[string]*fakeEngine{
		"v1":          {implementsV1: true},
		"v2":          {implementsV2: true},
		"v3":          {implementsV3: true},
		"v3-fallback": {implementsV3: true, v3Rejects: true, implementsV1: true},
	}

	for name, engine := range shapes {
		t.Run(name, func(t *testing.T) {
			engine.id = "unit"
			engine.tests = []string{"t1", "t2"}
			orch, notifier, _, _ := newRun(t, []TestEngine{engine})

			merged, err := orch.Discover(context.Background(), DiscoveryRequest{})
			require.NoError(t, err)

			result, err := orch.Execute(context.Background(), merged)
			require.NoError(t, err)

			assert.Equal(t, 2, result.Executed)
			assert.False(t, result.Partial)
			assert.Equal(t, []domain.TestPath{"pkg/t1", "pkg/t2"}, engine.executed)
			assert.Equal(t, []bool{false}, notifier.finished)
		})
	}
}

func TestExecuteSkipsUnnegotiableEngine(t *testing.T) {
	working := &fakeEngine{id: "good", tests: []string{"t1"}, implementsV1: true}
	// An engine whose every shape reports incompatibility.
	broken := &fakeEngine{id: "bad", tests: []string{"t2"}}
	orch, notifier, _, _ := newRun(t, []TestEngine{broken, working})

	merged, err := orch.Discover(context.Background(), DiscoveryRequest{})
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), merged)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Executed)
	assert.True(t, result.Partial)
	assert.Empty(t, broken.executed)
	assert.Equal(t, []domain.TestPath{"pkg/t1"}, working.executed)
	require.Equal(t, []bool{true}, notifier.finished)
}
