// Package job defines the runtime unit the scheduler dispatches: a Job
// wraps a caller-supplied Tester and Runner with the mutable state
// (status, caveats, timers) the scheduler owns during execution.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/jfgiraldoa/moose-scheduler/pkg/status"
)

// Tester is the opaque test description a caller supplies to the
// scheduler. Test discovery and spec parsing are out of scope here; any
// type satisfying this interface can be scheduled.
type Tester interface {
	Name() string
	Dependencies() []string
	Slots() int
	MaxTime() time.Duration
}

// Runner executes a Job's payload. Implementations are supplied by the
// caller; the scheduler never interprets the payload itself.
type Runner interface {
	Run(ctx context.Context, j *Job) error
}

// Job is the scheduler's runtime state for one Tester. All status
// mutation must happen under the batch lock the owning DAG/Scheduler
// holds; Job itself only guards its own timers and caveat list so that
// the runner pool and status pool can touch those independently of the
// batch lock.
type Job struct {
	tester  Tester
	runner  Runner
	name    string
	deps    []*Job
	current status.Status

	mu      sync.Mutex
	caveats []string

	timersMu     sync.Mutex
	timeoutTimer *time.Timer
	reportTimer  *time.Timer
	killed       bool
	cancel       context.CancelFunc

	attempt int
}

// New builds a Job from a Tester and a Runner. Dependencies are wired in
// by the DAG builder after all Jobs in a batch exist.
func New(t Tester, r Runner) *Job {
	return &Job{
		tester:  t,
		runner:  r,
		name:    t.Name(),
		current: status.NA,
	}
}

func (j *Job) Name() string            { return j.name }
func (j *Job) Slots() int              { return j.tester.Slots() }
func (j *Job) MaxTime() time.Duration  { return j.tester.MaxTime() }
func (j *Job) Dependencies() []*Job    { return j.deps }
func (j *Job) SetDependencies(d []*Job) { j.deps = d }
func (j *Job) Attempt() int            { return j.attempt }
func (j *Job) IncrementAttempt()       { j.attempt++ }

// Status returns the Job's current status. Caller must hold the batch
// lock if it needs a consistent read-modify-write; a bare read is safe
// without it since Status() only ever returns a value type.
func (j *Job) Status() status.Status { return j.current }

// SetStatus assigns the Job's status. Caller must hold the batch lock.
func (j *Job) SetStatus(s status.Status) { j.current = s }

func (j *Job) IsFinished() bool { return j.current == status.FINISHED }
func (j *Job) IsHold() bool     { return j.current == status.HOLD }
func (j *Job) IsRunning() bool  { return j.current == status.RUNNING }
func (j *Job) IsSilent() bool   { return j.current == status.SILENT }
func (j *Job) IsFail() bool     { return status.IsExitNonZero(j.current) }
func (j *Job) IsTerminal() bool { return status.IsTerminal(j.current) }

// AddCaveats appends caveats not already present, preserving order.
func (j *Job) AddCaveats(caveats ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range caveats {
		found := false
		for _, existing := range j.caveats {
			if existing == c {
				found = true
				break
			}
		}
		if !found {
			j.caveats = append(j.caveats, c)
		}
	}
}

// Caveats returns a copy of the accumulated caveat list.
func (j *Job) Caveats() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.caveats))
	copy(out, j.caveats)
	return out
}

// SetTimeoutTimer installs the timer that will kill this Job on
// MaxTime expiry. Any previously installed timer is left alone; the
// caller (the runner pool) owns exactly one at a time.
func (j *Job) SetTimeoutTimer(t *time.Timer) {
	j.timersMu.Lock()
	defer j.timersMu.Unlock()
	j.timeoutTimer = t
}

// CancelTimeoutTimer stops the timeout timer if one is installed.
// Idempotent.
func (j *Job) CancelTimeoutTimer() {
	j.timersMu.Lock()
	defer j.timersMu.Unlock()
	if j.timeoutTimer != nil {
		j.timeoutTimer.Stop()
	}
}

// SetReportTimer installs the long-running-notice timer.
func (j *Job) SetReportTimer(t *time.Timer) {
	j.timersMu.Lock()
	defer j.timersMu.Unlock()
	j.reportTimer = t
}

// CancelReportTimer stops the report timer if one is installed.
// Idempotent.
func (j *Job) CancelReportTimer() {
	j.timersMu.Lock()
	defer j.timersMu.Unlock()
	if j.reportTimer != nil {
		j.reportTimer.Stop()
	}
}

// SetCancelFunc installs the context-cancellation hook KillProcess
// invokes. The runner pool calls this once per execution attempt, before
// handing the Job to its Runner, so that a kill requested from anywhere
// (the timeout timer, or the scheduler's KillRemaining) actually
// interrupts the in-flight run rather than just flagging it.
func (j *Job) SetCancelFunc(cancel context.CancelFunc) {
	j.timersMu.Lock()
	defer j.timersMu.Unlock()
	j.cancel = cancel
}

// KillProcess marks the Job killed exactly once, even under concurrent
// callers (a timeout firing concurrently with KillRemaining), and
// cancels its run context if one is installed.
func (j *Job) KillProcess() bool {
	j.timersMu.Lock()
	defer j.timersMu.Unlock()
	if j.killed {
		return false
	}
	j.killed = true
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

// Run hands the Job to its Runner under ctx.
func (j *Job) Run(ctx context.Context) error {
	return j.runner.Run(ctx, j)
}
