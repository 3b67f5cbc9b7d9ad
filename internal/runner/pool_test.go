package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jfgiraldoa/moose-scheduler/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTester struct {
	name    string
	maxTime time.Duration
}

func (f fakeTester) Name() string           { return f.name }
func (f fakeTester) Dependencies() []string { return nil }
func (f fakeTester) Slots() int             { return 1 }
func (f fakeTester) MaxTime() time.Duration { return f.maxTime }

type blockingRunner struct {
	delay time.Duration
	err   error
}

func (r blockingRunner) Run(ctx context.Context, j *job.Job) error {
	select {
	case <-time.After(r.delay):
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPoolRunsJobAndReportsSuccess(t *testing.T) {
	p := NewPool(4)
	p.Start(2)

	j := job.New(fakeTester{name: "a", maxTime: time.Second}, blockingRunner{delay: 5 * time.Millisecond})
	require.NoError(t, p.Submit(j))

	select {
	case res := <-p.Results():
		assert.Equal(t, j, res.Job)
		assert.NoError(t, res.Err)
		assert.False(t, res.Timed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	p.Stop()
}

func TestPoolKillsJobOnTimeout(t *testing.T) {
	p := NewPool(4)
	p.Start(1)

	j := job.New(fakeTester{name: "a", maxTime: 10 * time.Millisecond}, blockingRunner{delay: time.Second})
	require.NoError(t, p.Submit(j))

	select {
	case res := <-p.Results():
		assert.True(t, res.Timed)
		assert.ErrorIs(t, res.Err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	p.Stop()
}

func TestPoolReportsFailure(t *testing.T) {
	p := NewPool(4)
	p.Start(1)

	wantErr := errors.New("boom")
	j := job.New(fakeTester{name: "a", maxTime: time.Second}, blockingRunner{delay: time.Millisecond, err: wantErr})
	require.NoError(t, p.Submit(j))

	res := <-p.Results()
	assert.ErrorIs(t, res.Err, wantErr)
	p.Stop()
}

func TestSubmitAfterStopReturnsErrPoolClosed(t *testing.T) {
	p := NewPool(1)
	p.Start(1)
	p.Stop()

	j := job.New(fakeTester{name: "a", maxTime: time.Second}, blockingRunner{})
	assert.ErrorIs(t, p.Submit(j), ErrPoolClosed)
}

func TestStopIsIdempotent(t *testing.T) {
	p := NewPool(1)
	p.Start(1)
	p.Stop()
	assert.NotPanics(t, p.Stop)
}
