// Package engines adapts external test runners to the orchestrator's
// engine port. CmdEngine drives any runner that can list its tests and
// run one test per invocation over its command line.
package engines

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/coverbeam/coverbeam/internal/application"
	"github.com/coverbeam/coverbeam/internal/config"
	"github.com/coverbeam/coverbeam/internal/domain"
)

// testPathPlaceholder in the run command is replaced with the uniform
// path of the test being executed.
const testPathPlaceholder = "{test}"

// skipMarker as the last output line of a zero-exit run marks the test
// as skipped; an optional reason follows after a colon.
const skipMarker = "SKIPPED"

// CmdEngine shells out to an external test runner. The list command
// prints one uniform path per line; the run command executes a single
// test and signals failure through its exit code. A run that exits
// zero but prints SKIPPED as its last line is recorded as skipped.
type CmdEngine struct {
	id      string
	dir     string
	listCmd []string
	runCmd  []string
	env     []string

	// Exec overrides command execution (for testing).
	Exec func(ctx context.Context, dir string, env []string, cmd string, args []string) ([]byte, error)
}

// New builds an engine from its configuration.
func New(cfg config.Engine) *CmdEngine {
	return &CmdEngine{
		id:      cfg.ID,
		dir:     cfg.Dir,
		listCmd: cfg.ListCmd,
		runCmd:  cfg.RunCmd,
		env:     cfg.Env,
	}
}

// FromConfig builds all configured engines.
func FromConfig(cfgs []config.Engine) []application.TestEngine {
	out := make([]application.TestEngine, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, New(c))
	}
	return out
}

func (e *CmdEngine) ID() string { return e.id }

// Discover runs the list command and parses its output into a test
// tree. Each line is a uniform path; intermediate segments become
// containers, the last segment a test.
func (e *CmdEngine) Discover(ctx context.Context, req application.DiscoveryRequest) (*domain.TestNode, error) {
	out, err := e.run(ctx, nil, e.listCmd)
	if err != nil {
		return nil, fmt.Errorf("engine %s: listing tests: %w", e.id, err)
	}

	root := domain.NewContainer(e.id)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !matches(line, req) {
			continue
		}
		insert(root, strings.Split(line, "/"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("engine %s: reading test list: %w", e.id, err)
	}
	return root, nil
}

// insert adds one uniform path to the tree, reusing existing containers.
func insert(node *domain.TestNode, segments []string) {
	for i, seg := range segments {
		child := node.FindChild(seg)
		if child == nil {
			if i == len(segments)-1 {
				child = domain.NewTest(seg)
			} else {
				child = domain.NewContainer(seg)
			}
			node.AddChild(child)
		}
		node = child
	}
}

func matches(path string, req application.DiscoveryRequest) bool {
	for _, p := range req.ExcludePatterns {
		if strings.Contains(path, p) {
			return false
		}
	}
	if len(req.IncludePatterns) == 0 {
		return true
	}
	for _, p := range req.IncludePatterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// NewExecutionContextV3 implements the newest factory shape; older
// callers fall back through the negotiation in the orchestrator.
func (e *CmdEngine) NewExecutionContextV3(desc *domain.TestNode, listener application.ExecutionListener, cfg application.ExecutionConfig, store application.ArtifactStore, dirs application.OutputDirProvider, cancel context.Context) (*application.ExecutionContext, error) {
	return &application.ExecutionContext{
		Descriptor: desc,
		Listener:   listener,
		Config:     cfg,
		Store:      store,
		OutputDirs: dirs,
		Cancel:     cancel,
	}, nil
}

// Execute runs every leaf of the descriptor in order, signalling each
// boundary through the listener. A failing test is a result, not an
// execution error; only a cancelled run aborts the loop.
func (e *CmdEngine) Execute(ctx context.Context, execCtx *application.ExecutionContext) error {
	if execCtx.Cancel != nil {
		ctx = execCtx.Cancel
	}
	for _, leaf := range execCtx.Descriptor.Leaves() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.runTest(ctx, execCtx, leaf)
	}
	return nil
}

func (e *CmdEngine) runTest(ctx context.Context, execCtx *application.ExecutionContext, leaf domain.Leaf) {
	execCtx.Listener.TestStarted(leaf.Path)

	start := time.Now()
	out, err := e.run(ctx, execCtx.Config.Env, substitute(e.runCmd, string(leaf.Path)))
	duration := time.Since(start)

	result := domain.ResultPassed
	message := ""
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result = domain.ResultFailed
		} else {
			result = domain.ResultError
		}
		message = firstLine(out, err)
	} else if reason, ok := skipReason(out); ok {
		result = domain.ResultSkipped
		message = reason
	}

	execution := domain.NewExecution(leaf.Path, duration, result, message)
	execCtx.Listener.TestFinished(leaf.Path, execution)
}

func substitute(cmd []string, testPath string) []string {
	out := make([]string, len(cmd))
	for i, arg := range cmd {
		out[i] = strings.ReplaceAll(arg, testPathPlaceholder, testPath)
	}
	return out
}

// firstLine picks the most useful short failure message: the last
// non-empty output line, falling back to the error itself.
func firstLine(out []byte, err error) string {
	if l := lastNonEmptyLine(out); l != "" {
		return l
	}
	return err.Error()
}

func lastNonEmptyLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// skipReason detects the skip marker on a successful run.
func skipReason(out []byte) (string, bool) {
	line := lastNonEmptyLine(out)
	if line == skipMarker {
		return "", true
	}
	if rest, ok := strings.CutPrefix(line, skipMarker+":"); ok {
		return strings.TrimSpace(rest), true
	}
	return "", false
}

func (e *CmdEngine) run(ctx context.Context, extraEnv map[string]string, cmdline []string) ([]byte, error) {
	if len(cmdline) == 0 {
		return nil, fmt.Errorf("engine %s: empty command", e.id)
	}
	env := append(os.Environ(), e.env...)
	for k, v := range extraEnv {
		env = append(env, k+"="+v)
	}

	execFn := e.Exec
	if execFn == nil {
		execFn = runCommand
	}
	return execFn(ctx, e.dir, env, cmdline[0], cmdline[1:])
}

func runCommand(ctx context.Context, dir string, env []string, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	return cmd.CombinedOutput()
}
