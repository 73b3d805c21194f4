package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbeam/coverbeam/internal/domain"
)

func coverageFor(i int) domain.TestCoverage {
	return domain.TestCoverage{
		UniformPath: domain.TestPath(fmt.Sprintf("pkg/test%03d", i)),
		Result:      domain.ResultPassed,
		Files:       []domain.FileCoverage{{Path: "a.go", Ranges: []domain.LineRange{{Start: 1, End: i + 1}}}},
	}
}

func readShard(t *testing.T, path string) domain.TestwiseReport {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc domain.TestwiseReport
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestSplitWriterShardCountAndOrder(t *testing.T) {
	dir := t.TempDir()
	w := NewSplitWriter(dir, "report", WithSplitAfter(4))

	const total = 10
	for i := 0; i < total; i++ {
		require.NoError(t, w.Append(coverageFor(i)))
	}
	require.NoError(t, w.Close())

	files := w.Files()
	require.Len(t, files, 3, "10 tests at 4 per shard need 3 shards")

	assert.Equal(t, filepath.Join(dir, "report-testwise-coverage-1.json"), files[0])
	assert.Equal(t, filepath.Join(dir, "report-testwise-coverage-2.json"), files[1])
	assert.Equal(t, filepath.Join(dir, "report-testwise-coverage-3.json"), files[2])

	// Each shard parses on its own, and concatenating them restores the
	// insertion order.
	var all []domain.TestCoverage
	for _, f := range files {
		doc := readShard(t, f)
		assert.LessOrEqual(t, len(doc.Tests), 4)
		all = append(all, doc.Tests...)
	}
	require.Len(t, all, total)
	for i, tc := range all {
		assert.Equal(t, domain.TestPath(fmt.Sprintf("pkg/test%03d", i)), tc.UniformPath)
	}
}

func TestSplitWriterCloseWithoutTests(t *testing.T) {
	w := NewSplitWriter(t.TempDir(), "report")
	require.NoError(t, w.Close())
	assert.Empty(t, w.Files())
}

func TestSplitWriterPartialFlag(t *testing.T) {
	dir := t.TempDir()
	w := NewSplitWriter(dir, "report", WithSplitAfter(2))
	w.SetPartial(true)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(coverageFor(i)))
	}
	require.NoError(t, w.Close())

	for _, f := range w.Files() {
		assert.True(t, readShard(t, f).Partial, "shard %s must carry the partial flag", f)
	}
}

func TestSplitWriterDefaultShardSize(t *testing.T) {
	dir := t.TempDir()
	w := NewSplitWriter(dir, "report")
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Append(coverageFor(i)))
	}
	require.NoError(t, w.Close())
	assert.Len(t, w.Files(), 1, "10 tests fit into one default-sized shard")
}
