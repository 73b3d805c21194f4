package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbeam/coverbeam/internal/domain"
	"github.com/coverbeam/coverbeam/internal/upload"
)

func reconfigDump() domain.Dump {
	return domain.Dump{
		SessionID: "old-partition",
		Timestamp: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		Files:     []domain.FileCoverage{{Path: "a.go", Ranges: []domain.LineRange{{Start: 1, End: 3}}}},
	}
}

func TestSessionFlushWritesAndUploadsDump(t *testing.T) {
	dir := t.TempDir()
	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		uploads.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := upload.NewClient(upload.ClientConfig{ServerURL: srv.URL, Project: "p", User: "u", AccessKey: "k"})
	uploader := upload.NewUploader(client, upload.UploadOptions{Format: formatSession}, "COVERBEAM_KEY")

	flush := sessionFlush(context.Background(), dir, uploader)
	require.NoError(t, flush(reconfigDump()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// The report carries the session id the dump was tagged with.
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `session="old-partition"`)
	assert.Equal(t, int32(1), uploads.Load())
}

func TestSessionFlushWithoutServerKeepsReportOnDisk(t *testing.T) {
	dir := t.TempDir()
	flush := sessionFlush(context.Background(), dir, nil)

	require.NoError(t, flush(reconfigDump()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
