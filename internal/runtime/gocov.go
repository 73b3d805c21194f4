package runtime

import (
	"bytes"
	"fmt"
	"runtime/coverage"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// GoRuntime adapts the Go runtime's own coverage instrumentation to the
// Runtime interface. It only works in binaries built with -cover.
//
// The runtime exposes counters as opaque binary blobs, so dumps carry
// Meta/Counters instead of decoded line data; the offline convert step
// turns them into reports.
type GoRuntime struct{}

func (GoRuntime) Read() (domain.Dump, error) {
	var meta, counters bytes.Buffer
	if err := coverage.WriteMeta(&meta); err != nil {
		return domain.Dump{}, fmt.Errorf("write coverage meta: %w", err)
	}
	if err := coverage.WriteCounters(&counters); err != nil {
		return domain.Dump{}, fmt.Errorf("write coverage counters: %w", err)
	}
	return domain.Dump{Meta: meta.Bytes(), Counters: counters.Bytes()}, nil
}

func (GoRuntime) Reset() error {
	if err := coverage.ClearCounters(); err != nil {
		return fmt.Errorf("clear coverage counters: %w", err)
	}
	return nil
}
