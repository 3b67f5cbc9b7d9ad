// Package scheduler is the façade that ties the DAG, admission
// controller, runner pool, and status pool together into the
// schedule/waitFinish/killRemaining lifecycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfgiraldoa/moose-scheduler/internal/admission"
	"github.com/jfgiraldoa/moose-scheduler/internal/dag"
	"github.com/jfgiraldoa/moose-scheduler/internal/job"
	"github.com/jfgiraldoa/moose-scheduler/internal/metrics"
	"github.com/jfgiraldoa/moose-scheduler/internal/runner"
	"github.com/jfgiraldoa/moose-scheduler/internal/statuspool"
	"github.com/jfgiraldoa/moose-scheduler/pkg/status"
)

// ErrAccounting is returned by WaitFinish when the job bank is non-empty
// at what should have been a clean exit — the Go analogue of
// Scheduler.py raising SchedulerError from waitFinish/jobStatus.
var ErrAccounting = errors.New("scheduler: job bank accounting violation")

// ErrBatchSizeMismatch is returned by Schedule when the built DAG's size
// does not match the submitted tester count — a sanity check the DAG
// builder can't make on its own once an Augmenter has run.
type ErrBatchSizeMismatch struct {
	Submitted, Built int
}

func (e *ErrBatchSizeMismatch) Error() string {
	return fmt.Sprintf("scheduler: submitted %d testers but DAG has %d jobs", e.Submitted, e.Built)
}

// Host receives terminal job reports, long-running notices, and
// out-of-band interrupt notifications.
type Host interface {
	HandleJobStatus(j *job.Job)
	KeyboardInterrupt()
}

// Options configures failure-cap behavior, mirroring Scheduler.py's
// maxFailures/valgrind_mode options.
type Options struct {
	Load             bool
	ValgrindMode     bool
	ValgrindMaxFails int
	MaxFails         int
}

// Config holds the tunable scheduler parameters, normally read from YAML
// (see internal/config).
type Config struct {
	AverageLoad     float64
	MaxProcesses    *int
	MinReportedTime time.Duration
}

// state is the scheduler's lifecycle state machine.
type state int32

const (
	stateAccepting state = iota
	stateDraining
	stateTerminatedClean
	stateAborting
	stateTerminatedError
)

// Scheduler is the façade over JobDAG + admission + runner pool + status
// pool.
type Scheduler struct {
	cfg    Config
	opts   Options
	host   Host
	runner job.Runner

	admission  *admission.Controller
	runnerPool *runner.Pool
	statusPool *statuspool.Pool
	metrics    *metrics.Collector

	mu  sync.Mutex // batch lock: guards dag and jobBank
	dag *dag.DAG
	// jobBank holds every job not yet terminally reported; emptied by
	// the status pool's Bank.Remove callback. Must be empty at a clean
	// exit.
	jobBank       map[string]*job.Job
	scheduledJobs map[string]*job.Job

	admMu            sync.Mutex
	pendingAdmission []*job.Job

	activityMu sync.Mutex
	activeJobs map[*job.Job]*admission.Reservation

	errorState atomic.Bool
	state      atomic.Int32

	resultWg sync.WaitGroup
}

// New builds a Scheduler. runner is the payload executor shared by every
// job in every batch scheduled through this instance. m is optional (nil
// disables metrics reporting).
func New(cfg Config, opts Options, host Host, r job.Runner, m *metrics.Collector) *Scheduler {
	admCfg := admission.Config{AverageLoad: cfg.AverageLoad, MaxProcesses: cfg.MaxProcesses, CheckLoad: opts.Load}
	admCtrl := admission.New(admCfg)

	workerCount := int(admCtrl.AvailableSlots())
	if workerCount < 1 {
		workerCount = 1
	}

	s := &Scheduler{
		cfg:           cfg,
		opts:          opts,
		host:          host,
		runner:        r,
		admission:     admCtrl,
		runnerPool:    runner.NewPool(workerCount * 4),
		jobBank:       make(map[string]*job.Job),
		scheduledJobs: make(map[string]*job.Job),
		activeJobs:    make(map[*job.Job]*admission.Reservation),
		metrics:       m,
	}
	minReport := cfg.MinReportedTime
	if minReport <= 0 {
		minReport = 10 * time.Second
	}
	s.statusPool = statuspool.NewPool(hostAdapter{s}, bankAdapter{s}, minReport, workerCount*4)
	s.statusPool.OnAccountingError = func(name string) {
		s.triggerErrorState()
	}
	s.statusPool.OnFailureRecorded = func(total int64) {
		if s.failureCapReached(total) {
			s.KillRemaining(false)
		}
	}
	s.statusPool.OnReport = func(d time.Duration) {
		if s.metrics != nil {
			s.metrics.ObserveReportLatency(d.Seconds())
		}
	}

	s.runnerPool.Start(workerCount)
	s.statusPool.Start()

	s.resultWg.Add(1)
	go s.resultLoop()

	return s
}

type hostAdapter struct{ s *Scheduler }

func (h hostAdapter) HandleJobStatus(j *job.Job) { h.s.host.HandleJobStatus(j) }

type bankAdapter struct{ s *Scheduler }

func (b bankAdapter) Remove(name string) bool {
	b.s.mu.Lock()
	_, ok := b.s.jobBank[name]
	if ok {
		delete(b.s.jobBank, name)
	}
	bankSize := len(b.s.jobBank)
	b.s.mu.Unlock()
	if ok && b.s.metrics != nil {
		b.s.metrics.SetJobBankSize(bankSize)
	}
	return ok
}

// Schedule builds a DAG from testers and begins dispatching. It is a
// no-op once the scheduler has entered the error state, matching
// Scheduler.py's schedule() early return.
func (s *Scheduler) Schedule(testers []job.Tester, oracle dag.DependencyOracle, augmenter dag.Augmenter) error {
	if s.errorState.Load() {
		return nil
	}

	d, err := dag.Build(testers, s.runner, oracle)
	if err != nil {
		return err
	}
	if augmenter != nil {
		augmenter.Augment(d)
	}
	if d.Size() != len(testers) {
		return &ErrBatchSizeMismatch{Submitted: len(testers), Built: d.Size()}
	}

	s.mu.Lock()
	s.dag = d
	for _, j := range d.Jobs() {
		s.jobBank[j.Name()] = j
		s.scheduledJobs[j.Name()] = j
	}
	bankSize := len(s.jobBank)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordScheduled(len(testers))
		s.metrics.SetJobBankSize(bankSize)
	}

	s.advance()
	return nil
}

// ScheduledJobs returns every job ever scheduled on this instance, for
// post-mortem inspection (Scheduler.py's retrieveJobs).
func (s *Scheduler) ScheduledJobs() []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Job, 0, len(s.scheduledJobs))
	for _, j := range s.scheduledJobs {
		out = append(out, j)
	}
	return out
}

// advance drains the DAG's ready frontier: SKIP jobs go straight to the
// status pool (their status was already assigned by ReadyAndAdvance);
// HOLD jobs enter the admission queue. It loops until a round produces no
// newly-ready jobs, since a chain of failed dependencies can make several
// jobs ready-as-SKIP in succession with no execution in between.
func (s *Scheduler) advance() {
	for {
		s.mu.Lock()
		if s.dag == nil {
			s.mu.Unlock()
			return
		}
		ready := s.dag.ReadyAndAdvance()
		s.mu.Unlock()
		if len(ready) == 0 {
			break
		}
		for _, j := range ready {
			if j.Status() == status.SKIP {
				s.recordSkipped()
				s.submitStatus(j)
			} else {
				s.admMu.Lock()
				s.pendingAdmission = append(s.pendingAdmission, j)
				s.admMu.Unlock()
			}
		}
	}
	s.drainHoldQueue()
}

// drainHoldQueue tries to admit every pending HOLD job, dispatching those
// that fit and those the admission controller lets through oversize,
// permanently skipping those that can never fit, and leaving the rest
// queued for the next call.
func (s *Scheduler) drainHoldQueue() {
	s.admMu.Lock()
	queue := s.pendingAdmission
	s.pendingAdmission = nil
	s.admMu.Unlock()

	var stillPending []*job.Job
	for _, j := range queue {
		if s.errorState.Load() {
			stillPending = append(stillPending, j)
			continue
		}
		reservation, outcome := s.admission.Reserve(context.Background(), j)
		switch outcome {
		case admission.Admit:
			s.dispatch(j, reservation, false)
		case admission.AdmitOversize:
			s.dispatch(j, reservation, true)
		case admission.RejectPermanent:
			s.mu.Lock()
			j.SetStatus(status.SKIP)
			s.mu.Unlock()
			j.AddCaveats("insufficient slots")
			s.recordSkipped()
			s.submitStatus(j)
		case admission.RejectTransient:
			stillPending = append(stillPending, j)
		}
	}

	if len(stillPending) > 0 {
		s.admMu.Lock()
		s.pendingAdmission = append(s.pendingAdmission, stillPending...)
		s.admMu.Unlock()
	}
}

func (s *Scheduler) dispatch(j *job.Job, reservation *admission.Reservation, oversize bool) {
	s.mu.Lock()
	j.SetStatus(status.RUNNING)
	s.mu.Unlock()
	if oversize {
		j.AddCaveats("OVERSIZED")
	}

	s.activityMu.Lock()
	s.activeJobs[j] = reservation
	s.activityMu.Unlock()
	s.recordDispatched()
	s.recordSlotOccupancy()

	reportTimer := time.AfterFunc(s.minReportedTime(), func() {
		_ = s.statusPool.Submit(j)
	})
	j.SetReportTimer(reportTimer)

	if err := s.runnerPool.Submit(j); err != nil {
		s.activityMu.Lock()
		delete(s.activeJobs, j)
		s.activityMu.Unlock()
		j.CancelReportTimer()
		reservation.Release()
		s.recordSlotOccupancy()
	}
}

func (s *Scheduler) recordDispatched() {
	if s.metrics != nil {
		s.metrics.RecordDispatched()
	}
}

func (s *Scheduler) recordSkipped() {
	if s.metrics != nil {
		s.metrics.RecordSkipped()
	}
}

func (s *Scheduler) recordSlotOccupancy() {
	if s.metrics != nil {
		s.metrics.SetSlotOccupancy(s.admission.SlotsInUse(), s.admission.AvailableSlots())
	}
}

func (s *Scheduler) minReportedTime() time.Duration {
	if s.cfg.MinReportedTime <= 0 {
		return 10 * time.Second
	}
	return s.cfg.MinReportedTime
}

func (s *Scheduler) submitStatus(j *job.Job) {
	_ = s.statusPool.Submit(j)
}

// resultLoop drains completed-job results from the runner pool, assigns a
// terminal status if the Runner didn't already set one (TIMEOUT always
// wins), releases the admission reservation and report timer, reports the
// job, and advances the DAG again.
func (s *Scheduler) resultLoop() {
	defer s.resultWg.Done()
	for res := range s.runnerPool.Results() {
		j := res.Job

		s.activityMu.Lock()
		reservation := s.activeJobs[j]
		delete(s.activeJobs, j)
		s.activityMu.Unlock()

		reservation.Release()
		j.CancelReportTimer()
		s.recordSlotOccupancy()

		s.mu.Lock()
		switch {
		case res.Timed:
			j.SetStatus(status.TIMEOUT)
		case !j.IsTerminal():
			if res.Err != nil {
				j.SetStatus(status.FAIL)
			} else {
				j.SetStatus(status.OK)
			}
		}
		s.mu.Unlock()

		if res.Timed && s.metrics != nil {
			s.metrics.RecordTimedOut()
		}

		// The failure cap itself is enforced from inside the status
		// pool's own serialized accounting (see OnFailureRecorded in
		// New), synchronously with the increment that could cross the
		// threshold — not polled here, where this job's own just-set
		// FAIL status hasn't been counted yet and another job's count
		// could be arbitrarily stale.
		s.submitStatus(j)
		s.advance()
	}
}

// failureCapReached reports whether total failing reports have reached
// the configured cap (valgrind or plain), given a just-observed running
// total from the status pool.
func (s *Scheduler) failureCapReached(total int64) bool {
	if s.opts.ValgrindMode {
		return total >= int64(s.opts.ValgrindMaxFails)
	}
	return s.opts.MaxFails > 0 && total >= int64(s.opts.MaxFails)
}

// WaitFinish blocks until every scheduled job has been removed from the
// job bank (i.e. terminally reported), the context is cancelled, or the
// scheduler enters the error state. It always shuts the runner and status
// pools down before returning.
func (s *Scheduler) WaitFinish(ctx context.Context) error {
	s.state.CompareAndSwap(int32(stateAccepting), int32(stateDraining))
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var waitErr error
loop:
	for {
		s.mu.Lock()
		remaining := len(s.jobBank)
		s.mu.Unlock()
		if remaining == 0 || s.errorState.Load() {
			break
		}
		select {
		case <-ctx.Done():
			s.KillRemaining(false)
			waitErr = ctx.Err()
			break loop
		case <-ticker.C:
		}
	}

	s.runnerPool.Stop()
	s.statusPool.Stop()
	s.resultWg.Wait()

	if s.errorState.Load() {
		s.state.Store(int32(stateTerminatedError))
	} else {
		s.state.Store(int32(stateTerminatedClean))
	}

	if waitErr != nil {
		return waitErr
	}

	s.mu.Lock()
	bankEmpty := len(s.jobBank) == 0
	s.mu.Unlock()

	if !s.errorState.Load() && !bankEmpty {
		return ErrAccounting
	}
	if s.Err() {
		return errors.New("scheduler: terminated in error state")
	}
	return nil
}

// KillRemaining kills every in-flight job, latches the error state, and —
// if this was triggered by an operator interrupt rather than an internal
// failure cap — notifies the Host.
func (s *Scheduler) KillRemaining(keyboard bool) {
	s.activityMu.Lock()
	jobs := make([]*job.Job, 0, len(s.activeJobs))
	for j := range s.activeJobs {
		jobs = append(jobs, j)
	}
	s.activityMu.Unlock()

	for _, j := range jobs {
		j.KillProcess()
	}

	s.triggerErrorState()
	if keyboard {
		s.state.Store(int32(stateAborting))
		s.host.KeyboardInterrupt()
	}
}

func (s *Scheduler) triggerErrorState() {
	s.errorState.Store(true)
	s.state.Store(int32(stateAborting))
}

// Err reports whether the scheduler latched its error state for a reason
// other than hitting the configured failure cap — mirroring
// Scheduler.py's schedulerError: error_state and not maxFailures().
func (s *Scheduler) Err() bool {
	return s.errorState.Load() && !s.failureCapReached(s.statusPool.Failures())
}
