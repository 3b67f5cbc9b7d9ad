package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	s, ok := Lookup("TIMEOUT")
	require.True(t, ok)
	assert.Equal(t, TIMEOUT, s)

	_, ok = Lookup("NOPE")
	assert.False(t, ok)
}

func TestClassification(t *testing.T) {
	assert.True(t, IsExitNonZero(FAIL))
	assert.True(t, IsExitNonZero(TIMEOUT))
	assert.False(t, IsExitNonZero(OK))

	assert.True(t, IsExitZero(OK))
	assert.True(t, IsExitZero(SKIP))
	assert.False(t, IsExitZero(RUNNING))

	assert.True(t, IsPending(RUNNING))
	assert.True(t, IsPending(HOLD))
	assert.False(t, IsPending(FINISHED))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(NA))
	assert.False(t, IsTerminal(RUNNING))
	assert.True(t, IsTerminal(OK))
	assert.True(t, IsTerminal(FAIL))
	assert.True(t, IsTerminal(FINISHED))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(NA))
	assert.True(t, Valid(OK))
	assert.False(t, Valid(Status{"BOGUS", "GREY", 0}))
}

func TestSetMembership(t *testing.T) {
	assert.ElementsMatch(t, []Status{FAIL, DIFF, DELETED, ERROR, TIMEOUT}, Failing())
	assert.ElementsMatch(t, []Status{OK, SKIP, SILENT}, Succeeding())
	assert.ElementsMatch(t, []Status{HOLD, QUEUED, RUNNING}, Pending())
	assert.Len(t, All(), 13)
}
