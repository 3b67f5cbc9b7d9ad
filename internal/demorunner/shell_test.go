package demorunner

import (
	"context"
	"testing"
	"time"

	"github.com/jfgiraldoa/moose-scheduler/internal/job"
	"github.com/jfgiraldoa/moose-scheduler/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSucceedsOnExitZero(t *testing.T) {
	spec := JobSpec{ID: "a", Command: []string{"true"}}
	r := NewShellRunner([]JobSpec{spec})
	j := job.New(spec, r)

	err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.OK, j.Status())
}

func TestRunFailsOnNonZeroExit(t *testing.T) {
	spec := JobSpec{ID: "a", Command: []string{"false"}}
	r := NewShellRunner([]JobSpec{spec})
	j := job.New(spec, r)

	err := j.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, status.FAIL, j.Status())
}

func TestRunWithoutCommandIsSilent(t *testing.T) {
	spec := JobSpec{ID: "a"}
	r := NewShellRunner([]JobSpec{spec})
	j := job.New(spec, r)

	err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.SILENT, j.Status())
}

func TestRunRespectsContextCancellation(t *testing.T) {
	spec := JobSpec{ID: "a", Command: []string{"sleep", "5"}}
	r := NewShellRunner([]JobSpec{spec})
	j := job.New(spec, r)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := j.Run(ctx)
	assert.Error(t, err)
}

func TestJobSpecDefaults(t *testing.T) {
	spec := JobSpec{ID: "a"}
	assert.Equal(t, 1, spec.Slots())
	assert.Equal(t, 60*time.Second, spec.MaxTime())
}
