// Package interval implements the non-testwise mode: whole-process
// coverage dumped on a fixed period and at shutdown, converted to the
// session XML report and uploaded.
package interval

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coverbeam/coverbeam/internal/domain"
	"github.com/coverbeam/coverbeam/internal/report"
)

// DefaultInterval is the dump period when none is configured.
const DefaultInterval = 10 * time.Minute

// Controller is the slice of the runtime controller the dumper needs.
type Controller interface {
	DumpAndReset() (domain.Dump, error)
}

// Uploader ships one report file.
type Uploader interface {
	Upload(ctx context.Context, reportPath string) error
}

// Dumper periodically dumps the runtime, writes the session XML and
// uploads it. It runs on its own timer goroutine and must never crash
// the profiled process: every stage is caught and logged.
type Dumper struct {
	controller Controller
	uploader   Uploader
	outDir     string
	interval   time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures the dumper.
type Option func(*Dumper)

// WithInterval overrides the dump period.
func WithInterval(d time.Duration) Option {
	return func(i *Dumper) {
		if d > 0 {
			i.interval = d
		}
	}
}

// New builds a dumper writing XML reports into outDir. uploader may be
// nil when reports should only be written to disk.
func New(controller Controller, uploader Uploader, outDir string, opts ...Option) *Dumper {
	d := &Dumper{
		controller: controller,
		uploader:   uploader,
		outDir:     outDir,
		interval:   DefaultInterval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the timer goroutine. Calling it more than once is a
// no-op.
func (d *Dumper) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.loop(ctx)
}

func (d *Dumper) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.DumpOnce(ctx)
		}
	}
}

// Stop cancels the timer and waits for the loop to exit. It must run
// before any shutdown dump so a scheduled dump cannot race it. Safe to
// call when Start never ran.
func (d *Dumper) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	if !d.started.Load() {
		return
	}
	<-d.done
}

// DumpOnce performs one dump-convert-upload cycle. An empty dump is a
// recoverable no-op; every failure is logged and swallowed.
func (d *Dumper) DumpOnce(ctx context.Context) {
	dump, err := d.controller.DumpAndReset()
	if err != nil {
		slog.Warn("interval dump failed, will retry next period", "error", err)
		return
	}
	if dump.Empty() {
		slog.Debug("no coverage collected since last dump")
		return
	}

	path, err := report.WriteSessionXMLFile(d.outDir, dump)
	if err != nil {
		slog.Error("writing interval report failed", "error", err)
		return
	}

	if d.uploader == nil {
		return
	}
	if err := d.uploader.Upload(ctx, path); err != nil {
		// Upload failures already persisted a retry marker.
		slog.Warn("interval report upload failed", "report", path, "error", err)
	}
}
