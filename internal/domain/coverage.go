package domain

import "time"

// LineRange is an inclusive range of covered source lines.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FileCoverage lists the covered line ranges of one source file.
type FileCoverage struct {
	Path   string      `json:"path"`
	Ranges []LineRange `json:"coveredRanges"`
}

// Dump is a snapshot of coverage counters captured between a reset and
// the next dump. In interval mode dumps never overlap; in testwise mode
// each dump belongs to at most one open test.
type Dump struct {
	SessionID string         `json:"sessionId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Files     []FileCoverage `json:"files,omitempty"`

	// Meta and Counters carry the raw binary profile when the
	// underlying runtime cannot expose line-level data in-process
	// (the Go runtime/coverage adapter). Such dumps are decoded by the
	// offline convert step.
	Meta     []byte `json:"meta,omitempty"`
	Counters []byte `json:"counters,omitempty"`
}

// Empty reports whether the dump carries no coverage at all.
func (d Dump) Empty() bool {
	return len(d.Files) == 0 && len(d.Counters) == 0
}

// TestCoverage attributes one dump's coverage to one test.
type TestCoverage struct {
	UniformPath TestPath       `json:"uniformPath"`
	Duration    float64        `json:"duration"`
	Result      TestResult     `json:"result,omitempty"`
	Message     string         `json:"message,omitempty"`
	Files       []FileCoverage `json:"paths,omitempty"`
}

// TestwiseReport is the document stored in every shard of a sharded
// testwise coverage report. Each shard is self-contained: a reader never
// needs a second shard to interpret one.
type TestwiseReport struct {
	Partial bool           `json:"partial"`
	Tests   []TestCoverage `json:"tests"`
}
