// Package notifier signals test boundaries to the remote
// coverage-recording endpoints. Notification is best-effort telemetry:
// endpoint failures are logged and never abort the test run.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// DefaultTimeout bounds each notification round trip so a hung endpoint
// cannot hang the test run.
const DefaultTimeout = 30 * time.Second

// Endpoint is one coverage-recording process to notify.
type Endpoint struct {
	base   string
	client *retryablehttp.Client
}

// NewEndpoint builds an endpoint client for the given base URL.
func NewEndpoint(baseURL string, timeout time.Duration) *Endpoint {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil
	client.HTTPClient.Timeout = timeout
	return &Endpoint{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (e *Endpoint) URL() string { return e.base }

func (e *Endpoint) testStarted(ctx context.Context, path domain.TestPath) error {
	return e.post(ctx, "test/start/"+path.Escape(), nil)
}

func (e *Endpoint) testEnded(ctx context.Context, path domain.TestPath, execution *domain.Execution) error {
	var body []byte
	if execution != nil {
		var err error
		body, err = json.Marshal(execution)
		if err != nil {
			return fmt.Errorf("encode execution: %w", err)
		}
	}
	return e.post(ctx, "test/end/"+path.Escape(), body)
}

func (e *Endpoint) runFinished(ctx context.Context, partial bool) error {
	return e.post(ctx, "test/run/finished?partial="+strconv.FormatBool(partial), nil)
}

func (e *Endpoint) post(ctx context.Context, route string, body []byte) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.base+"/"+route, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}

// Notifier fans every boundary signal out to all configured endpoints.
type Notifier struct {
	endpoints []*Endpoint
}

// New builds a notifier over the given endpoint URLs.
func New(urls []string, timeout time.Duration) *Notifier {
	endpoints := make([]*Endpoint, 0, len(urls))
	for _, u := range urls {
		endpoints = append(endpoints, NewEndpoint(u, timeout))
	}
	return &Notifier{endpoints: endpoints}
}

// NewWithEndpoints builds a notifier over prebuilt endpoints.
func NewWithEndpoints(endpoints ...*Endpoint) *Notifier {
	return &Notifier{endpoints: endpoints}
}

// TestStarted tells every endpoint to attribute subsequent coverage to
// path. The endpoint resets or snapshots its counters at this point.
func (n *Notifier) TestStarted(ctx context.Context, path domain.TestPath) {
	n.fanOut(ctx, "test start", func(ctx context.Context, e *Endpoint) error {
		return e.testStarted(ctx, path)
	})
}

// TestEnded tells every endpoint to stop attributing to path; the
// execution result rides along so no second round trip is needed.
func (n *Notifier) TestEnded(ctx context.Context, path domain.TestPath, execution *domain.Execution) {
	n.fanOut(ctx, "test end", func(ctx context.Context, e *Endpoint) error {
		return e.testEnded(ctx, path, execution)
	})
}

// RunFinished tells every endpoint whether this was a partial run.
func (n *Notifier) RunFinished(ctx context.Context, partial bool) {
	n.fanOut(ctx, "run finished", func(ctx context.Context, e *Endpoint) error {
		return e.runFinished(ctx, partial)
	})
}

// fanOut notifies all endpoints concurrently. A failing endpoint is
// logged and does not stop the others.
func (n *Notifier) fanOut(ctx context.Context, what string, call func(context.Context, *Endpoint) error) {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range n.endpoints {
		e := e
		g.Go(func() error {
			if err := call(ctx, e); err != nil {
				slog.Warn("boundary notification failed", "signal", what, "endpoint", e.URL(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
