// Package status defines the immutable Status value used throughout the
// scheduler to classify a Job's outcome.
package status

import "fmt"

// Status is an immutable (label, color, exit code) triple. The canonical
// values are the package vars below; compare with ==.
type Status struct {
	Label    string
	Color    string
	ExitCode int
}

var (
	NA       = Status{"NA", "GREY", 0x0}
	OK       = Status{"OK", "GREEN", 0x0}
	SKIP     = Status{"SKIP", "GREY", 0x0}
	SILENT   = Status{"SILENT", "GREY", 0x0}
	FAIL     = Status{"FAIL", "RED", 0x80}
	DIFF     = Status{"DIFF", "YELLOW", 0x81}
	DELETED  = Status{"DELETED", "RED", 0x83}
	ERROR    = Status{"ERROR", "RED", 0x80}
	TIMEOUT  = Status{"TIMEOUT", "RED", 0x1}
	HOLD     = Status{"HOLD", "CYAN", 0x0}
	QUEUED   = Status{"QUEUED", "CYAN", 0x0}
	RUNNING  = Status{"RUNNING", "CYAN", 0x0}
	FINISHED = Status{"FINISHED", "GREY", 0x0}
)

var all = []Status{NA, OK, SKIP, SILENT, FAIL, DIFF, DELETED, ERROR, TIMEOUT, HOLD, QUEUED, RUNNING, FINISHED}

var exitNonZero = map[Status]bool{FAIL: true, DIFF: true, DELETED: true, ERROR: true, TIMEOUT: true}
var exitZero = map[Status]bool{OK: true, SKIP: true, SILENT: true}
var pending = map[Status]bool{HOLD: true, QUEUED: true, RUNNING: true}

// All returns every canonical status, in declaration order.
func All() []Status {
	out := make([]Status, len(all))
	copy(out, all)
	return out
}

// Failing returns the exit-nonzero statuses.
func Failing() []Status { return filterAll(exitNonZero) }

// Succeeding returns the exit-zero statuses.
func Succeeding() []Status { return filterAll(exitZero) }

// Pending returns the statuses a Job can hold while still in flight.
func Pending() []Status { return filterAll(pending) }

func filterAll(set map[Status]bool) []Status {
	out := make([]Status, 0, len(set))
	for _, s := range all {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

// Lookup finds a canonical Status by label. Case-sensitive, matching the
// literal labels above.
func Lookup(label string) (Status, bool) {
	for _, s := range all {
		if s.Label == label {
			return s, true
		}
	}
	return Status{}, false
}

// IsExitNonZero reports whether s is one of the failing statuses.
func IsExitNonZero(s Status) bool { return exitNonZero[s] }

// IsExitZero reports whether s is one of the succeeding statuses.
func IsExitZero(s Status) bool { return exitZero[s] }

// IsPending reports whether s is one of hold/queued/running.
func IsPending(s Status) bool { return pending[s] }

// IsTerminal reports whether s is neither pending nor NA — a Job holding
// a terminal status will not be scheduled again.
func IsTerminal(s Status) bool { return s != NA && !IsPending(s) }

// Valid reports whether s is either NA (the no-status value) or one of the
// thirteen canonical statuses above. Mirrors the Python StatusSystem's
// isValid: a Status struct built outside this package by field literal
// (rather than by reference to one of the package vars) is still valid as
// long as its fields match a canonical entry.
func Valid(s Status) bool {
	if s == NA {
		return true
	}
	for _, c := range all {
		if s == c {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return fmt.Sprintf("%s(color=%s, code=%#x)", s.Label, s.Color, s.ExitCode)
}
