package application

import (
	"log/slog"
	"sync"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// SessionController is the slice of the runtime controller the agent
// facade needs: atomic dumps plus the mutable session tag.
type SessionController interface {
	DumpController
	SessionID() string
	SetSessionID(id string)
}

// FlushFunc ships one dump through report generation and upload.
type FlushFunc func(dump domain.Dump) error

// Agent is the facade behind the live reconfiguration endpoints. Every
// setter dumps and flushes first, so coverage collected before the
// change stays attributed to the old configuration. The HTTP layer
// receives this facade at construction; there is no shared global.
type Agent struct {
	controller SessionController
	flush      FlushFunc

	mu       sync.Mutex
	message  string
	revision string
	commit   string
}

// NewAgent builds the facade. flush may be nil when dumps are only
// tagged, not shipped.
func NewAgent(controller SessionController, flush FlushFunc) *Agent {
	return &Agent{controller: controller, flush: flush}
}

// DumpNow performs an immediate dump-and-flush. An empty dump is a
// recoverable no-op.
func (a *Agent) DumpNow() error {
	dump, err := a.controller.DumpAndReset()
	if err != nil {
		return err
	}
	if dump.Empty() {
		slog.Debug("dump requested but no coverage collected since last reset")
		return nil
	}
	if a.flush == nil {
		return nil
	}
	return a.flush(dump)
}

// dumpBefore flushes pending coverage before a configuration change.
// Dump failures are per-dump errors: logged, never blocking the change.
func (a *Agent) dumpBefore(change string) {
	if err := a.DumpNow(); err != nil {
		slog.Warn("dump before configuration change failed", "change", change, "error", err)
	}
}

func (a *Agent) Partition() string { return a.controller.SessionID() }

func (a *Agent) SetPartition(p string) {
	a.dumpBefore("partition")
	a.controller.SetSessionID(p)
}

func (a *Agent) Message() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.message
}

func (a *Agent) SetMessage(m string) {
	a.dumpBefore("message")
	a.mu.Lock()
	a.message = m
	a.mu.Unlock()
}

func (a *Agent) Revision() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revision
}

func (a *Agent) SetRevision(r string) {
	a.dumpBefore("revision")
	a.mu.Lock()
	a.revision = r
	a.mu.Unlock()
}

func (a *Agent) Commit() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commit
}

func (a *Agent) SetCommit(c string) {
	a.dumpBefore("commit")
	a.mu.Lock()
	a.commit = c
	a.mu.Unlock()
}
