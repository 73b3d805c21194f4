package upload

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/magiconair/properties"
)

// RetrySuffix is appended to a report's path to name its retry marker.
const RetrySuffix = ".retry"

// Marker property keys. The access key itself is never persisted, only
// the name of the environment variable holding it.
const (
	propURL          = "url"
	propProject      = "project"
	propUser         = "user"
	propAccessKeyEnv = "accesskey-env"
	propPartition    = "partition"
	propMessage      = "message"
	propRevision     = "revision"
	propFormat       = "format"
)

// MarkerError signals a retry marker that cannot be read or is missing
// required properties.
type MarkerError struct {
	Path string
	Err  error
}

func (e *MarkerError) Error() string {
	return fmt.Sprintf("retry marker %s: %v", e.Path, e.Err)
}

func (e *MarkerError) Unwrap() error { return e.Err }

// Uploader delivers reports and converts failures into persisted retry
// state instead of errors that could stop the run.
type Uploader struct {
	client       *Client
	opts         UploadOptions
	accessKeyEnv string
}

// NewUploader builds an uploader. accessKeyEnv names the environment
// variable the access key came from; it is recorded in retry markers as
// the credentials reference.
func NewUploader(client *Client, opts UploadOptions, accessKeyEnv string) *Uploader {
	return &Uploader{client: client, opts: opts, accessKeyEnv: accessKeyEnv}
}

// Upload ships the report. On success the report's retry marker (if
// any) is removed. On failure a marker is written next to the report
// with everything needed to reproduce the exact same upload later; the
// returned error is informational, never fatal to the caller.
func (u *Uploader) Upload(ctx context.Context, reportPath string) error {
	err := u.client.UploadReport(ctx, reportPath, u.opts)
	if err == nil {
		if rmErr := os.Remove(reportPath + RetrySuffix); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("remove retry marker: %w", rmErr)
		}
		return nil
	}

	if writeErr := u.writeMarker(reportPath); writeErr != nil {
		return fmt.Errorf("upload failed (%w) and marker could not be written: %w", err, writeErr)
	}
	return fmt.Errorf("upload failed, retry marker written: %w", err)
}

// writeMarker persists the upload configuration as a Java-properties
// style file. Overwrites any previous marker so repeated failures never
// duplicate markers.
func (u *Uploader) writeMarker(reportPath string) error {
	p := properties.NewProperties()
	setAll := func(kv map[string]string) error {
		for k, v := range kv {
			if _, _, err := p.Set(k, v); err != nil {
				return err
			}
		}
		return nil
	}
	if err := setAll(map[string]string{
		propURL:          u.client.cfg.ServerURL,
		propProject:      u.client.cfg.Project,
		propUser:         u.client.cfg.User,
		propAccessKeyEnv: u.accessKeyEnv,
		propPartition:    u.opts.Partition,
		propMessage:      u.opts.Message,
		propRevision:     u.opts.Revision,
		propFormat:       u.opts.Format,
	}); err != nil {
		return err
	}

	file, err := os.OpenFile(reportPath+RetrySuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := p.Write(file, properties.UTF8); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// loadMarker reconstructs an uploader from a marker file.
func loadMarker(markerPath string) (*Uploader, error) {
	p, err := properties.LoadFile(markerPath, properties.UTF8)
	if err != nil {
		return nil, &MarkerError{Path: markerPath, Err: err}
	}

	serverURL, okURL := p.Get(propURL)
	project, okProject := p.Get(propProject)
	format, okFormat := p.Get(propFormat)
	if !okURL || !okProject || !okFormat {
		return nil, &MarkerError{Path: markerPath, Err: errors.New("missing url, project or format property")}
	}

	accessKeyEnv := p.GetString(propAccessKeyEnv, "")
	cfg := ClientConfig{
		ServerURL: serverURL,
		Project:   project,
		User:      p.GetString(propUser, ""),
	}
	if accessKeyEnv != "" {
		cfg.AccessKey = os.Getenv(accessKeyEnv)
	}

	opts := UploadOptions{
		Format:    format,
		Partition: p.GetString(propPartition, ""),
		Message:   p.GetString(propMessage, ""),
		Revision:  p.GetString(propRevision, ""),
	}
	return NewUploader(NewClient(cfg), opts, accessKeyEnv), nil
}
