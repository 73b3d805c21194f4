// Package convert produces the report artifacts from persisted exec
// data, without a live agent: the offline counterpart of the testwise
// and interval pipelines.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coverbeam/coverbeam/internal/domain"
	"github.com/coverbeam/coverbeam/internal/report"
)

// DuplicatePolicy decides what happens when the same source file is
// reported twice within one test's coverage (typically the same class
// packaged into several archives).
type DuplicatePolicy string

const (
	DuplicateFail   DuplicatePolicy = "fail"
	DuplicateWarn   DuplicatePolicy = "warn"
	DuplicateIgnore DuplicatePolicy = "ignore"
)

// ParsePolicy validates a policy flag value.
func ParsePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case DuplicateFail, DuplicateWarn, DuplicateIgnore:
		return DuplicatePolicy(s), nil
	case "":
		return DuplicateWarn, nil
	}
	return "", fmt.Errorf("invalid duplicate policy %q (want fail, warn or ignore)", s)
}

// Options configure one conversion.
type Options struct {
	ExecDataFiles []string
	ClassDirs     []string
	OutputDir     string
	Testwise      bool
	SplitAfter    int
	Duplicates    DuplicatePolicy
	Partial       bool
}

// Summary reports what a conversion produced.
type Summary struct {
	Tests   int
	Outputs []string
}

// Run performs the conversion. Structural problems (unreadable input,
// no exec data) are errors; duplicate findings follow the configured
// policy.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if len(opts.ExecDataFiles) == 0 {
		return Summary{}, fmt.Errorf("no exec data files given")
	}
	if opts.OutputDir == "" {
		return Summary{}, fmt.Errorf("no output directory given")
	}
	if opts.Duplicates == "" {
		opts.Duplicates = DuplicateWarn
	}

	var tests []domain.TestCoverage
	for _, path := range opts.ExecDataFiles {
		if ctx.Err() != nil {
			return Summary{}, ctx.Err()
		}
		entries, err := report.ReadExecData(path)
		if err != nil {
			return Summary{}, fmt.Errorf("exec data %s: %w", path, err)
		}
		tests = append(tests, entries...)
	}

	for i := range tests {
		deduped, err := applyDuplicatePolicy(tests[i], opts.Duplicates)
		if err != nil {
			return Summary{}, err
		}
		tests[i].Files = filterByClassDirs(deduped, opts.ClassDirs)
	}

	if opts.Testwise {
		return writeTestwise(tests, opts)
	}
	return writeSession(tests, opts)
}

// applyDuplicatePolicy handles repeated file entries within one test.
func applyDuplicatePolicy(tc domain.TestCoverage, policy DuplicatePolicy) ([]domain.FileCoverage, error) {
	seen := make(map[string]bool, len(tc.Files))
	out := tc.Files[:0]
	for _, f := range tc.Files {
		if !seen[f.Path] {
			seen[f.Path] = true
			out = append(out, f)
			continue
		}
		switch policy {
		case DuplicateFail:
			return nil, fmt.Errorf("duplicate coverage entry for %s in test %s", f.Path, tc.UniformPath)
		case DuplicateWarn:
			slog.Warn("duplicate coverage entry, keeping first", "file", f.Path, "test", tc.UniformPath)
		}
	}
	return out, nil
}

// filterByClassDirs drops file entries outside the given directories.
// With no directories configured everything passes.
func filterByClassDirs(files []domain.FileCoverage, dirs []string) []domain.FileCoverage {
	if len(dirs) == 0 {
		return files
	}
	out := files[:0]
	for _, f := range files {
		if underAnyDir(f.Path, dirs) {
			out = append(out, f)
		} else {
			slog.Debug("dropping coverage for file outside class directories", "file", f.Path)
		}
	}
	return out
}

func underAnyDir(path string, dirs []string) bool {
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, dir := range dirs {
		prefix := filepath.ToSlash(filepath.Clean(dir))
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}

func writeTestwise(tests []domain.TestCoverage, opts Options) (Summary, error) {
	splitOpts := []report.SplitOption{}
	if opts.SplitAfter > 0 {
		splitOpts = append(splitOpts, report.WithSplitAfter(opts.SplitAfter))
	}
	writer := report.NewSplitWriter(opts.OutputDir, "converted", splitOpts...)
	writer.SetPartial(opts.Partial)
	for _, tc := range tests {
		if err := writer.Append(tc); err != nil {
			return Summary{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return Summary{}, err
	}
	return Summary{Tests: len(tests), Outputs: writer.Files()}, nil
}

// writeSession merges all coverage into one session dump and writes the
// XML report, for the non-testwise conversion mode.
func writeSession(tests []domain.TestCoverage, opts Options) (Summary, error) {
	merged := mergeFiles(tests)
	dump := domain.Dump{Timestamp: time.Now(), Files: merged}
	if dump.Empty() {
		return Summary{Tests: len(tests)}, nil
	}
	if err := os.MkdirAll(opts.OutputDir, 0o750); err != nil {
		return Summary{}, err
	}
	path, err := report.WriteSessionXMLFile(opts.OutputDir, dump)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Tests: len(tests), Outputs: []string{path}}, nil
}

// mergeFiles unions the covered ranges of all tests per file, keeping
// first-seen file order.
func mergeFiles(tests []domain.TestCoverage) []domain.FileCoverage {
	index := make(map[string]int)
	var out []domain.FileCoverage
	for _, tc := range tests {
		for _, f := range tc.Files {
			i, ok := index[f.Path]
			if !ok {
				index[f.Path] = len(out)
				out = append(out, domain.FileCoverage{Path: f.Path, Ranges: append([]domain.LineRange(nil), f.Ranges...)})
				continue
			}
			out[i].Ranges = mergeRanges(out[i].Ranges, f.Ranges)
		}
	}
	return out
}

// mergeRanges unions two sorted-or-unsorted range lists into a compact
// sorted list.
func mergeRanges(a, b []domain.LineRange) []domain.LineRange {
	all := append(append([]domain.LineRange(nil), a...), b...)
	if len(all) <= 1 {
		return all
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].Start < all[j-1].Start; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	merged := all[:1]
	for _, r := range all[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
