// Package runtime wraps the opaque instrumentation runtime behind an
// atomic dump-and-reset operation.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// Runtime is the opaque instrumentation runtime: it can read the current
// coverage counters and clear them. Implementations need no internal
// locking; the controller serializes access.
type Runtime interface {
	Read() (domain.Dump, error)
	Reset() error
}

// DumpError signals that the runtime could not produce a snapshot. The
// counters are left untouched, so a later retry is meaningful.
type DumpError struct {
	Op  string
	Err error
}

func (e *DumpError) Error() string {
	return fmt.Sprintf("coverage dump failed during %s: %v", e.Op, e.Err)
}

func (e *DumpError) Unwrap() error { return e.Err }

// Controller serializes all dump access to the runtime. The mutex around
// DumpAndReset is the single serialization point between the per-test
// workflow, the interval timer and HTTP-triggered dumps.
type Controller struct {
	mu        sync.Mutex
	runtime   Runtime
	sessionID string
	now       func() time.Time
}

// NewController wraps the runtime; dumps are tagged with sessionID (the
// active partition).
func NewController(rt Runtime, sessionID string) *Controller {
	return &Controller{runtime: rt, sessionID: sessionID, now: time.Now}
}

// DumpAndReset atomically reads the current counters and clears them.
// On a read failure nothing is reset; on a reset failure the dump is not
// delivered either, so no coverage is silently dropped half-way.
func (c *Controller) DumpAndReset() (domain.Dump, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dump, err := c.runtime.Read()
	if err != nil {
		return domain.Dump{}, &DumpError{Op: "read", Err: err}
	}
	if err := c.runtime.Reset(); err != nil {
		return domain.Dump{}, &DumpError{Op: "reset", Err: err}
	}
	dump.SessionID = c.sessionID
	dump.Timestamp = c.now()
	return dump, nil
}

// SessionID returns the tag attached to subsequent dumps.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID changes the tag for subsequent dumps. It flushes nothing
// by itself; callers wanting a clean boundary dump first.
func (c *Controller) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}
