// Package admission implements the scheduler's multi-resource admission
// control: bounded slot capacity plus a system load-average gate.
package admission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jfgiraldoa/moose-scheduler/internal/job"
	"github.com/shirou/gopsutil/v3/load"
	"golang.org/x/sync/semaphore"
)

// Outcome is the result of a Reserve call.
type Outcome int

const (
	// RejectTransient means no slots are free right now but the job may
	// fit once something else finishes; the caller should hold the job
	// and retry later.
	RejectTransient Outcome = iota
	// RejectPermanent means the job will never fit (hard slot limit);
	// the caller should skip it with an "insufficient slots" caveat.
	RejectPermanent
	// Admit means the job fit within available capacity.
	Admit
	// AdmitOversize means the job exceeded capacity but was let through
	// anyway because the controller is in soft-limit mode; the caller
	// should attach an "OVERSIZED" caveat.
	AdmitOversize
)

// Config mirrors the Scheduler.py validParams: average_load,
// max_processes, and whether load gating is enabled at all.
type Config struct {
	AverageLoad float64
	// MaxProcesses nil means soft-limit mode (available slots default to
	// 1, any oversize job is still admitted with a caveat). Non-nil means
	// hard-limit mode: jobs that can never fit are rejected outright.
	MaxProcesses *int
	CheckLoad    bool
}

// Controller reserves and releases slots for in-flight jobs.
type Controller struct {
	cfg            Config
	availableSlots int64
	softLimit      bool
	sem            *semaphore.Weighted
	slotsInUse     int64 // atomic; source of truth for blockOnLoad's gating condition
	loadFn         func() (float64, error)
}

// New builds a Controller from cfg. availableSlots is 1 in soft-limit
// mode (the serialized-by-default behavior when no explicit capacity is
// configured), or MaxProcesses in hard-limit mode.
func New(cfg Config) *Controller {
	avail := int64(1)
	soft := true
	if cfg.MaxProcesses != nil {
		avail = int64(*cfg.MaxProcesses)
		soft = false
	}
	return &Controller{
		cfg:            cfg,
		availableSlots: avail,
		softLimit:      soft,
		sem:            semaphore.NewWeighted(avail),
		loadFn:         systemLoad,
	}
}

func systemLoad() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

// SlotsInUse reports the number of slots currently reserved.
func (c *Controller) SlotsInUse() int64 { return atomic.LoadInt64(&c.slotsInUse) }

// AvailableSlots reports the configured capacity.
func (c *Controller) AvailableSlots() int64 { return c.availableSlots }

// Reservation must be released exactly once by the holder when the job
// finishes, regardless of the Outcome that produced it.
type Reservation struct {
	slots        int64
	viaSemaphore bool
	ctrl         *Controller
}

// Release frees the reserved slots. Safe to call on a nil Reservation
// (no-op), matching the caller convenience of "always defer Release()".
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	if r.viaSemaphore {
		r.ctrl.sem.Release(r.slots)
	}
	atomic.AddInt64(&r.ctrl.slotsInUse, -r.slots)
}

// Reserve attempts to admit j. It first blocks on load (if configured)
// while more than one slot is in use and the system load average is at
// or above the configured ceiling — mirroring Scheduler.py's
// satisfyLoad, which never blocks a solitary job so a loaded system can't
// deadlock on its own last job. It returns the Reservation to release on
// completion along with the Outcome classifying how the job was handled.
func (c *Controller) Reserve(ctx context.Context, j *job.Job) (*Reservation, Outcome) {
	if c.cfg.CheckLoad {
		if err := c.blockOnLoad(ctx); err != nil {
			return nil, RejectTransient
		}
	}

	slots := int64(j.Slots())
	if c.sem.TryAcquire(slots) {
		atomic.AddInt64(&c.slotsInUse, slots)
		return &Reservation{slots: slots, viaSemaphore: true, ctrl: c}, Admit
	}

	if slots > c.availableSlots {
		if c.softLimit {
			atomic.AddInt64(&c.slotsInUse, slots)
			return &Reservation{slots: slots, viaSemaphore: false, ctrl: c}, AdmitOversize
		}
		return nil, RejectPermanent
	}

	return nil, RejectTransient
}

// blockOnLoad polls the 1-minute load average every second while more
// than one slot is in use and load is at or above the ceiling, returning
// early if ctx is cancelled.
func (c *Controller) blockOnLoad(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for atomic.LoadInt64(&c.slotsInUse) > 1 {
		l, err := c.loadFn()
		if err != nil || l < c.cfg.AverageLoad {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
