package application

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbeam/coverbeam/internal/domain"
)

type sessionDumper struct {
	sessionID string
	dump      domain.Dump
	err       error
	dumps     int
}

func (c *sessionDumper) DumpAndReset() (domain.Dump, error) {
	c.dumps++
	if c.err != nil {
		return domain.Dump{}, c.err
	}
	out := c.dump
	out.SessionID = c.sessionID
	c.dump = domain.Dump{}
	return out, nil
}

func (c *sessionDumper) SessionID() string      { return c.sessionID }
func (c *sessionDumper) SetSessionID(id string) { c.sessionID = id }

func nonEmptyDump() domain.Dump {
	return domain.Dump{Files: []domain.FileCoverage{{Path: "a.go"}}}
}

func TestDumpNowFlushesNonEmptyDump(t *testing.T) {
	controller := &sessionDumper{dump: nonEmptyDump()}
	var flushed []domain.Dump
	agent := NewAgent(controller, func(d domain.Dump) error {
		flushed = append(flushed, d)
		return nil
	})

	require.NoError(t, agent.DumpNow())
	assert.Len(t, flushed, 1)

	// Nothing collected since the reset: no flush.
	require.NoError(t, agent.DumpNow())
	assert.Len(t, flushed, 1)
}

func TestSetPartitionDumpsUnderOldPartition(t *testing.T) {
	controller := &sessionDumper{sessionID: "old", dump: nonEmptyDump()}
	var flushed []domain.Dump
	agent := NewAgent(controller, func(d domain.Dump) error {
		flushed = append(flushed, d)
		return nil
	})

	agent.SetPartition("new")

	require.Len(t, flushed, 1)
	assert.Equal(t, "old", flushed[0].SessionID, "coverage before the change belongs to the old partition")
	assert.Equal(t, "new", agent.Partition())
}

func TestSettersSurviveDumpFailure(t *testing.T) {
	controller := &sessionDumper{err: errors.New("runtime busy")}
	agent := NewAgent(controller, nil)

	agent.SetMessage("release build")
	agent.SetRevision("abc123")
	agent.SetCommit("main:42")

	assert.Equal(t, "release build", agent.Message())
	assert.Equal(t, "abc123", agent.Revision())
	assert.Equal(t, "main:42", agent.Commit())
}
