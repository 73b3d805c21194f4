package engines

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbeam/coverbeam/internal/application"
	"github.com/coverbeam/coverbeam/internal/config"
	"github.com/coverbeam/coverbeam/internal/domain"
)

type execCall struct {
	cmd  string
	args []string
}

// scriptEngine fakes the external runner: list output is fixed, run
// exits with the scripted error per test path.
func scriptEngine(listOutput string, runErrs map[string]error) (*CmdEngine, *[]execCall) {
	e := New(config.Engine{
		ID:      "script",
		ListCmd: []string{"runner", "list"},
		RunCmd:  []string{"runner", "run", "{test}"},
	})
	var calls []execCall
	var mu sync.Mutex
	e.Exec = func(_ context.Context, _ string, _ []string, cmd string, args []string) ([]byte, error) {
		mu.Lock()
		calls = append(calls, execCall{cmd: cmd, args: args})
		mu.Unlock()
		if len(args) > 0 && args[0] == "list" {
			return []byte(listOutput), nil
		}
		if len(args) == 2 && args[0] == "run" {
			if err, ok := runErrs[args[1]]; ok {
				return []byte("FAILURE: assertion broke\n"), err
			}
			return []byte("ok\n"), nil
		}
		return nil, fmt.Errorf("unexpected command %v", args)
	}
	return e, &calls
}

type collectingListener struct {
	mu         sync.Mutex
	started    []domain.TestPath
	executions []domain.Execution
}

func (l *collectingListener) TestStarted(path domain.TestPath) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, path)
}

func (l *collectingListener) TestFinished(_ domain.TestPath, e domain.Execution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executions = append(l.executions, e)
}

const listing = `
pkg/alpha/testOne
pkg/alpha/testTwo
pkg/beta/testThree
# a comment line
standalone
`

func TestDiscoverBuildsTree(t *testing.T) {
	e, _ := scriptEngine(listing, nil)
	root, err := e.Discover(context.Background(), application.DiscoveryRequest{})
	require.NoError(t, err)

	leaves := root.Leaves()
	require.Len(t, leaves, 4)
	assert.Equal(t, domain.TestPath("pkg/alpha/testOne"), leaves[0].Path)
	assert.Equal(t, domain.TestPath("standalone"), leaves[3].Path)

	// Shared containers are reused, not duplicated.
	pkg := root.FindChild("pkg")
	require.NotNil(t, pkg)
	assert.Len(t, pkg.Children, 2)
}

func TestDiscoverAppliesPatterns(t *testing.T) {
	e, _ := scriptEngine(listing, nil)
	root, err := e.Discover(context.Background(), application.DiscoveryRequest{
		IncludePatterns: []string{"alpha"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, root.CountTests())

	root, err = e.Discover(context.Background(), application.DiscoveryRequest{
		ExcludePatterns: []string{"beta"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, root.CountTests())
}

func TestExecuteReportsResults(t *testing.T) {
	e, calls := scriptEngine(listing, map[string]error{
		"pkg/alpha/testTwo": &exec.ExitError{},
		"standalone":        errors.New("runner crashed"),
	})
	root, err := e.Discover(context.Background(), application.DiscoveryRequest{})
	require.NoError(t, err)

	listener := &collectingListener{}
	execCtx, err := e.NewExecutionContextV3(root, listener, application.ExecutionConfig{}, nil, nil, context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Execute(context.Background(), execCtx))

	require.Len(t, listener.executions, 4)
	byPath := map[domain.TestPath]domain.Execution{}
	for _, ex := range listener.executions {
		byPath[ex.UniformPath] = ex
	}
	assert.Equal(t, domain.ResultPassed, byPath["pkg/alpha/testOne"].Result)
	assert.Equal(t, domain.ResultFailed, byPath["pkg/alpha/testTwo"].Result)
	assert.Equal(t, domain.ResultError, byPath["standalone"].Result)
	assert.Equal(t, "FAILURE: assertion broke", byPath["standalone"].Message)

	// Every start has a matching finish.
	assert.Len(t, listener.started, 4)

	// The placeholder was substituted per test.
	var runArgs []string
	for _, c := range *calls {
		if len(c.args) == 2 && c.args[0] == "run" {
			runArgs = append(runArgs, c.args[1])
		}
	}
	assert.Contains(t, runArgs, "pkg/alpha/testOne")
	assert.Contains(t, runArgs, "standalone")
}

func TestExecuteMapsSkipMarker(t *testing.T) {
	e := New(config.Engine{
		ID:      "script",
		ListCmd: []string{"runner", "list"},
		RunCmd:  []string{"runner", "run", "{test}"},
	})
	e.Exec = func(_ context.Context, _ string, _ []string, _ string, args []string) ([]byte, error) {
		if len(args) > 0 && args[0] == "list" {
			return []byte("pkg/quarantined\npkg/bare\npkg/normal\n"), nil
		}
		switch args[1] {
		case "pkg/quarantined":
			return []byte("setting up\nSKIPPED: flaky on arm\n"), nil
		case "pkg/bare":
			return []byte("SKIPPED\n"), nil
		}
		return []byte("ok\n"), nil
	}

	root, err := e.Discover(context.Background(), application.DiscoveryRequest{})
	require.NoError(t, err)

	listener := &collectingListener{}
	execCtx, err := e.NewExecutionContextV3(root, listener, application.ExecutionConfig{}, nil, nil, context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Execute(context.Background(), execCtx))

	byPath := map[domain.TestPath]domain.Execution{}
	for _, ex := range listener.executions {
		byPath[ex.UniformPath] = ex
	}
	assert.Equal(t, domain.ResultSkipped, byPath["pkg/quarantined"].Result)
	assert.Equal(t, "flaky on arm", byPath["pkg/quarantined"].Message)
	assert.Equal(t, domain.ResultSkipped, byPath["pkg/bare"].Result)
	assert.Empty(t, byPath["pkg/bare"].Message)
	assert.Equal(t, domain.ResultPassed, byPath["pkg/normal"].Result)
}

func TestExecuteStopsOnCancellation(t *testing.T) {
	e, _ := scriptEngine(listing, nil)
	root, err := e.Discover(context.Background(), application.DiscoveryRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	listener := &collectingListener{}
	execCtx, err := e.NewExecutionContextV3(root, listener, application.ExecutionConfig{}, nil, nil, ctx)
	require.NoError(t, err)

	err = e.Execute(context.Background(), execCtx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listener.executions)
}

func TestFromConfig(t *testing.T) {
	list := FromConfig([]config.Engine{{ID: "a"}, {ID: "b"}})
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID())
	assert.Equal(t, "b", list[1].ID())
}

func TestEngineImplementsNewestFactoryShape(t *testing.T) {
	var engine application.TestEngine = New(config.Engine{ID: "x"})
	_, ok := engine.(application.ContextFactoryV3)
	assert.True(t, ok)
}
