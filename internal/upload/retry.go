package upload

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ScanResult summarizes one retry scan.
type ScanResult struct {
	Attempted int
	Delivered int
	Remaining int
	Corrupt   int
}

// RetryScan walks the output root, finds every retry marker, rebuilds
// the original upload from its properties and attempts it again. A
// successful retry deletes report and marker; a failed one leaves both
// for the next scan. Corrupt markers are logged and skipped; the scan
// itself never fails the process.
func RetryScan(ctx context.Context, root string) ScanResult {
	lock, err := acquireScanLock(root)
	if err != nil {
		slog.Warn("could not lock output root for retry scan", "root", root, "error", err)
		return ScanResult{}
	}
	defer lock.release()

	var result ScanResult
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("retry scan cannot read path", "path", path, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(path, RetrySuffix) {
			return nil
		}
		retryMarker(ctx, path, &result)
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		slog.Warn("retry scan aborted", "root", root, "error", walkErr)
	}
	result.Remaining = result.Attempted - result.Delivered
	return result
}

// retryMarker re-attempts the upload described by one marker file.
func retryMarker(ctx context.Context, markerPath string, result *ScanResult) {
	uploader, err := loadMarker(markerPath)
	if err != nil {
		result.Corrupt++
		slog.Error("skipping corrupt retry marker", "marker", markerPath, "error", err)
		return
	}

	reportPath := strings.TrimSuffix(markerPath, RetrySuffix)
	if _, err := os.Stat(reportPath); err != nil {
		result.Corrupt++
		slog.Error("retry marker without report file, skipping", "marker", markerPath, "error", err)
		return
	}

	result.Attempted++
	if err := uploader.Upload(ctx, reportPath); err != nil {
		slog.Warn("retried upload failed, keeping retry state", "report", reportPath, "error", err)
		return
	}

	if err := os.Remove(reportPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not remove delivered report", "report", reportPath, "error", err)
	}
	result.Delivered++
	slog.Info("retried upload delivered", "report", reportPath)
}
