// Package report writes the run's report artifacts: the sharded
// testwise coverage document, the test-details and test-executions
// arrays, and the session XML used in interval mode.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// DefaultSplitAfter is the number of tests after which the current shard
// is closed and a new one opened, bounding memory.
const DefaultSplitAfter = 5000

// SplitWriter accumulates per-test coverage and flushes a complete,
// independently parseable JSON shard every SplitAfter tests. Ordering
// within a shard follows insertion order.
type SplitWriter struct {
	dir        string
	base       string
	splitAfter int

	mu      sync.Mutex
	partial bool
	pending []domain.TestCoverage
	shard   int
	files   []string
}

// SplitOption configures the writer.
type SplitOption func(*SplitWriter)

// WithSplitAfter overrides the shard size.
func WithSplitAfter(n int) SplitOption {
	return func(w *SplitWriter) {
		if n > 0 {
			w.splitAfter = n
		}
	}
}

// NewSplitWriter writes shards named <base>-testwise-coverage-<n>.json
// into dir, with n counting from 1.
func NewSplitWriter(dir, base string, opts ...SplitOption) *SplitWriter {
	w := &SplitWriter{dir: dir, base: base, splitAfter: DefaultSplitAfter}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetPartial marks all subsequently flushed shards as belonging to a
// partial run.
func (w *SplitWriter) SetPartial(partial bool) {
	w.mu.Lock()
	w.partial = partial
	w.mu.Unlock()
}

// Append records one test's coverage, flushing a shard once splitAfter
// tests accumulated.
func (w *SplitWriter) Append(tc domain.TestCoverage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, tc)
	if len(w.pending) >= w.splitAfter {
		return w.flushLocked()
	}
	return nil
}

// Close flushes the final, possibly partial shard.
func (w *SplitWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	return w.flushLocked()
}

// Files returns the shard paths written so far, in order.
func (w *SplitWriter) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

// flushLocked writes the pending tests as one self-contained shard.
// Must be called with w.mu held.
func (w *SplitWriter) flushLocked() error {
	w.shard++
	name := fmt.Sprintf("%s-testwise-coverage-%d.json", w.base, w.shard)
	path := filepath.Join(w.dir, name)

	doc := domain.TestwiseReport{Partial: w.partial, Tests: w.pending}
	if err := writeJSON(path, doc); err != nil {
		w.shard--
		return fmt.Errorf("flush shard %s: %w", name, err)
	}
	w.files = append(w.files, path)
	w.pending = nil
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
