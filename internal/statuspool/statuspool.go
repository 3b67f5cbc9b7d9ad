// Package statuspool implements the scheduler's single-worker status
// reporter: a serialized channel through which job reports reach the
// caller's Host one at a time, in order. A job's terminal status is
// reported once; a long-running job may also get one earlier notice.
package statuspool

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfgiraldoa/moose-scheduler/internal/job"
)

// ErrPoolClosed is returned by Submit once Stop has been called.
var ErrPoolClosed = errors.New("statuspool: pool closed")

// Host receives terminal job reports and long-running notices, in the
// order the pool serializes them.
type Host interface {
	HandleJobStatus(j *job.Job)
}

// Bank is the job-accounting set the pool removes a job from once its
// terminal report has been delivered. Remove reports whether the job was
// present; a false return is an accounting violation (double report, or
// report of a job that was never accounted for).
type Bank interface {
	Remove(name string) bool
}

// Pool is the status pool: exactly one goroutine processes report
// requests, so two concurrent job completions can never interleave their
// reports to Host.
type Pool struct {
	host            Host
	bank            Bank
	minReportedTime time.Duration

	reqCh  chan *job.Job
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.Mutex
	stopped      bool
	lastReported time.Time
	jobsReported map[string]bool

	failures int64 // atomic

	// OnAccountingError, if set, is invoked (from the pool goroutine)
	// when Bank.Remove reports a job was not present — the Go analogue
	// of Scheduler.py raising SchedulerError out of jobStatus.
	OnAccountingError func(name string)

	// OnFailureRecorded, if set, is invoked synchronously from the pool
	// goroutine immediately after a failing report increments the
	// failure counter, passing the updated total. This is the hook the
	// scheduler uses to enforce its failure cap in the same
	// serialization that performs the accounting, rather than polling
	// the count from an unrelated goroutine.
	OnFailureRecorded func(total int64)

	// OnReport, if set, is invoked after every delivered call to
	// Host.HandleJobStatus with how long that call took.
	OnReport func(time.Duration)
}

// NewPool builds a status pool. minReportedTime is the long-running
// notice interval (Scheduler.py's min_reported_time).
func NewPool(host Host, bank Bank, minReportedTime time.Duration, bufferSize int) *Pool {
	return &Pool{
		host:            host,
		bank:            bank,
		minReportedTime: minReportedTime,
		reqCh:           make(chan *job.Job, bufferSize),
		stopCh:          make(chan struct{}),
		lastReported:    time.Now(),
		jobsReported:    make(map[string]bool),
	}
}

// Start spins up the single report-processing goroutine.
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.run()
}

// Submit enqueues a job for status evaluation: a terminal job is reported
// to Host and removed from Bank; a still-running job either gets a
// one-time "FINISHED" long-running caveat or schedules itself for
// re-evaluation later. Race-safe against a concurrent Stop the same way
// runner.Pool.Submit is.
func (p *Pool) Submit(j *job.Job) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrPoolClosed
		}
	}()
	select {
	case <-p.stopCh:
		return ErrPoolClosed
	default:
	}
	select {
	case p.reqCh <- j:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// Failures returns the count of terminal reports classified as failing.
func (p *Pool) Failures() int64 { return atomic.LoadInt64(&p.failures) }

// Stop closes the pool and waits for the worker to drain. Idempotent.
// Long-running-notice timers already armed are not cancelled; when one
// fires after Stop, its Submit returns ErrPoolClosed.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	close(p.reqCh)
	p.wg.Wait()
}

func (p *Pool) run() {
	defer p.wg.Done()
	for j := range p.reqCh {
		p.handle(j)
	}
}

// handle delivers one report. A still-running job either gets a one-time
// "FINISHED" long-running notice — which, despite the name, still falls
// through to a normal Host report exactly like a terminal job, just
// without bank removal — or, if it isn't due yet, re-arms a timer and
// returns without reporting anything. A terminal job always falls
// through to the report.
func (p *Pool) handle(j *job.Job) {
	if j.IsRunning() {
		due := p.dueForRunningNotice(j)
		if due == runningNoticeNotYet {
			return
		}
		if due == runningNoticeAlreadySent {
			return
		}
		j.AddCaveats("FINISHED")
	}

	start := time.Now()
	p.host.HandleJobStatus(j)
	if p.OnReport != nil {
		p.OnReport(time.Since(start))
	}

	p.mu.Lock()
	if !j.IsSilent() {
		p.lastReported = time.Now()
	}
	p.mu.Unlock()

	if j.IsFail() {
		total := atomic.AddInt64(&p.failures, 1)
		if p.OnFailureRecorded != nil {
			p.OnFailureRecorded(total)
		}
	}

	if j.IsRunning() {
		return
	}
	if !p.bank.Remove(j.Name()) && p.OnAccountingError != nil {
		p.OnAccountingError(j.Name())
	}
}

type runningNoticeOutcome int

const (
	runningNoticeDue runningNoticeOutcome = iota
	runningNoticeNotYet
	runningNoticeAlreadySent
)

// dueForRunningNotice decides whether a still-running job should be
// reported now. At most one notice is ever sent per job; if the minimum
// reporting interval hasn't elapsed yet it re-arms a timer that
// resubmits the same job later instead of reporting anything now.
func (p *Pool) dueForRunningNotice(j *job.Job) runningNoticeOutcome {
	p.mu.Lock()
	if p.jobsReported[j.Name()] {
		p.mu.Unlock()
		return runningNoticeAlreadySent
	}
	elapsed := time.Since(p.lastReported)
	if elapsed >= p.minReportedTime {
		p.jobsReported[j.Name()] = true
		p.mu.Unlock()
		return runningNoticeDue
	}
	p.mu.Unlock()

	adjusted := p.minReportedTime - elapsed
	if adjusted < time.Second {
		adjusted = time.Second
	}
	timer := time.AfterFunc(adjusted, func() {
		_ = p.Submit(j)
	})
	j.SetReportTimer(timer)
	return runningNoticeNotYet
}
