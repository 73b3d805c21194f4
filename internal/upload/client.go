// Package upload ships finished reports to the remote analysis server
// and persists retry state when the server is unreachable.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// DefaultTimeout bounds one upload round trip.
const DefaultTimeout = 2 * time.Minute

// ClientConfig identifies the remote analysis server and the project
// partition reports belong to.
type ClientConfig struct {
	ServerURL string
	Project   string
	User      string
	AccessKey string
	Timeout   time.Duration
}

// UploadOptions describe one report delivery.
type UploadOptions struct {
	Format    string
	Partition string
	Message   string
	Revision  string
}

// Client talks to the remote analysis server.
type Client struct {
	cfg  ClientConfig
	http *retryablehttp.Client
}

// NewClient builds a server client with bounded retries and timeout.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.Timeout
	return &Client{cfg: cfg, http: client}
}

// UploadReport sends one report file to the server's external-analysis
// session endpoint.
func (c *Client) UploadReport(ctx context.Context, reportPath string, opts UploadOptions) error {
	content, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("report", filepath.Base(reportPath))
	if err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}

	query := url.Values{}
	query.Set("format", opts.Format)
	query.Set("partition", opts.Partition)
	if opts.Message != "" {
		query.Set("message", opts.Message)
	}
	if opts.Revision != "" {
		query.Set("revision", opts.Revision)
	}
	endpoint := fmt.Sprintf("%s/api/projects/%s/external-analysis/session/auto-create/report?%s",
		strings.TrimRight(c.cfg.ServerURL, "/"), url.PathEscape(c.cfg.Project), query.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body.Bytes())
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server rejected upload: %s - %s", resp.Status, string(detail))
	}
	return nil
}

// ImpactedTests asks the server which of the available tests must run
// for the current change, ranked by priority. The selection algorithm is
// the server's concern.
func (c *Client) ImpactedTests(ctx context.Context, available []domain.TestPath, partition string) ([]domain.TestPath, error) {
	payload, err := json.Marshal(available)
	if err != nil {
		return nil, fmt.Errorf("encode available tests: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/projects/%s/impacted-tests?partition=%s",
		strings.TrimRight(c.cfg.ServerURL, "/"), url.PathEscape(c.cfg.Project), url.QueryEscape(partition))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("create impacted-tests request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("impacted-tests request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("impacted-tests query failed: %s", resp.Status)
	}

	var impacted []domain.TestPath
	if err := json.NewDecoder(resp.Body).Decode(&impacted); err != nil {
		return nil, fmt.Errorf("decode impacted tests: %w", err)
	}
	return impacted, nil
}

func (c *Client) setAuth(req *retryablehttp.Request) {
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.AccessKey)
	}
}
