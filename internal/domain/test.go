// Package domain holds the core value types of the testwise coverage
// pipeline: uniform test paths, test descriptor trees, execution results
// and coverage dumps. It has no dependencies on the delivery layers.
package domain

import (
	"net/url"
	"time"
)

// TestPath is the uniform path of a single test case: a stable,
// engine-independent string joining the nested containers down to the
// test itself with "/" (e.g. "com/example/FooTest/testBar").
// It is the coverage-attribution key shared by all engines of one run.
type TestPath string

func (p TestPath) String() string { return string(p) }

// Escape returns the path encoded as a single URL path segment, so it
// can be embedded in boundary-notification URLs.
func (p TestPath) Escape() string {
	return url.PathEscape(string(p))
}

// Join appends a segment to the path.
func (p TestPath) Join(segment string) TestPath {
	if p == "" {
		return TestPath(segment)
	}
	return TestPath(string(p) + "/" + segment)
}

// NodeKind distinguishes containers from runnable tests in a descriptor
// tree.
type NodeKind string

const (
	KindContainer NodeKind = "container"
	KindTest      NodeKind = "test"
)

// TestNode is one node of a test descriptor tree. Trees are built fresh
// per discovery call and torn down with the process.
type TestNode struct {
	Name     string
	Kind     NodeKind
	EngineID string
	Children []*TestNode
}

// NewContainer builds a container node.
func NewContainer(name string, children ...*TestNode) *TestNode {
	return &TestNode{Name: name, Kind: KindContainer, Children: children}
}

// NewTest builds a leaf test node.
func NewTest(name string) *TestNode {
	return &TestNode{Name: name, Kind: KindTest}
}

// AddChild appends a child node and returns it.
func (n *TestNode) AddChild(child *TestNode) *TestNode {
	n.Children = append(n.Children, child)
	return child
}

// FindChild returns the direct child with the given name, or nil.
func (n *TestNode) FindChild(name string) *TestNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Leaf pairs a runnable test node with its uniform path.
type Leaf struct {
	Path TestPath
	Node *TestNode
}

// Leaves returns all runnable tests below n in depth-first insertion
// order. The uniform path excludes the name of n itself, so calling this
// on an engine group node yields engine-independent paths.
func (n *TestNode) Leaves() []Leaf {
	var out []Leaf
	var walk func(node *TestNode, path TestPath)
	walk = func(node *TestNode, path TestPath) {
		if node.Kind == KindTest {
			out = append(out, Leaf{Path: path, Node: node})
			return
		}
		for _, c := range node.Children {
			walk(c, path.Join(c.Name))
		}
	}
	walk(n, "")
	return out
}

// CountTests returns the number of runnable tests below n.
func (n *TestNode) CountTests() int {
	return len(n.Leaves())
}

// TestResult is the outcome of one executed test.
type TestResult string

const (
	ResultPassed  TestResult = "PASSED"
	ResultFailed  TestResult = "FAILED"
	ResultSkipped TestResult = "SKIPPED"
	ResultError   TestResult = "ERROR"
)

// Execution is the immutable result record of exactly one executed leaf
// test.
type Execution struct {
	UniformPath TestPath      `json:"uniformPath"`
	Duration    time.Duration `json:"-"`
	Result      TestResult    `json:"result"`
	Message     string        `json:"message,omitempty"`

	// DurationSeconds mirrors Duration for the report artifacts.
	DurationSeconds float64 `json:"duration"`
}

// NewExecution builds an execution record with both duration
// representations populated.
func NewExecution(path TestPath, d time.Duration, result TestResult, message string) Execution {
	return Execution{
		UniformPath:     path,
		Duration:        d,
		DurationSeconds: d.Seconds(),
		Result:          result,
		Message:         message,
	}
}

// TestDetail is one entry of the test-details report artifact.
type TestDetail struct {
	UniformPath TestPath `json:"uniformPath"`
	SourcePath  string   `json:"sourcePath,omitempty"`
}
