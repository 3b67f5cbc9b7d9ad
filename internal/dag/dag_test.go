package dag

import (
	"context"
	"testing"
	"time"

	"github.com/jfgiraldoa/moose-scheduler/internal/job"
	"github.com/jfgiraldoa/moose-scheduler/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTester struct {
	name string
	deps []string
}

func (f fakeTester) Name() string            { return f.name }
func (f fakeTester) Dependencies() []string  { return f.deps }
func (f fakeTester) Slots() int              { return 1 }
func (f fakeTester) MaxTime() time.Duration  { return time.Second }

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, j *job.Job) error { return nil }

func TestBuildTopoOrder(t *testing.T) {
	testers := []job.Tester{
		fakeTester{name: "c", deps: []string{"b"}},
		fakeTester{name: "a"},
		fakeTester{name: "b", deps: []string{"a"}},
	}
	d, err := Build(testers, noopRunner{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Size())

	names := make([]string, 0, 3)
	for _, j := range d.TopoSort() {
		names = append(names, j.Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestBuildDetectsCycle(t *testing.T) {
	testers := []job.Tester{
		fakeTester{name: "a", deps: []string{"b"}},
		fakeTester{name: "b", deps: []string{"a"}},
	}
	_, err := Build(testers, noopRunner{}, nil)
	require.Error(t, err)
	var cycleErr *ErrCycle
	assert.ErrorAs(t, err, &cycleErr)
}

func TestBuildDetectsUnknownDependency(t *testing.T) {
	testers := []job.Tester{
		fakeTester{name: "a", deps: []string{"ghost"}},
	}
	_, err := Build(testers, noopRunner{}, nil)
	require.Error(t, err)
	var unknownErr *ErrUnknownDependency
	assert.ErrorAs(t, err, &unknownErr)
}

func TestReadyAndAdvanceIsIdempotentAndRespectsDeps(t *testing.T) {
	testers := []job.Tester{
		fakeTester{name: "a"},
		fakeTester{name: "b", deps: []string{"a"}},
	}
	d, err := Build(testers, noopRunner{}, nil)
	require.NoError(t, err)

	ready := d.ReadyAndAdvance()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].Name())
	assert.Equal(t, status.HOLD, ready[0].Status())

	// Calling again before "a" finishes yields nothing new.
	assert.Empty(t, d.ReadyAndAdvance())

	aJob, _ := d.Lookup("a")
	aJob.SetStatus(status.FINISHED)

	ready = d.ReadyAndAdvance()
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].Name())
	assert.Equal(t, status.HOLD, ready[0].Status())
}

func TestReadyAndAdvanceSkipsOnFailedDependency(t *testing.T) {
	testers := []job.Tester{
		fakeTester{name: "a"},
		fakeTester{name: "b", deps: []string{"a"}},
	}
	d, err := Build(testers, noopRunner{}, nil)
	require.NoError(t, err)

	d.ReadyAndAdvance()
	aJob, _ := d.Lookup("a")
	aJob.SetStatus(status.FAIL)

	ready := d.ReadyAndAdvance()
	require.Len(t, ready, 1)
	bJob := ready[0]
	assert.Equal(t, status.SKIP, bJob.Status())
	assert.Contains(t, bJob.Caveats(), "skipped dependency")
}

func TestRemaining(t *testing.T) {
	testers := []job.Tester{fakeTester{name: "a"}}
	d, err := Build(testers, noopRunner{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining())

	aJob, _ := d.Lookup("a")
	aJob.SetStatus(status.FINISHED)
	assert.Equal(t, 0, d.Remaining())
}
