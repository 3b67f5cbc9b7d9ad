// Package dag builds the dependency graph over a batch of jobs and tracks
// which jobs have entered the ready frontier.
package dag

import (
	"fmt"
	"sort"

	"github.com/jfgiraldoa/moose-scheduler/internal/job"
	"github.com/jfgiraldoa/moose-scheduler/pkg/status"
)

// DependencyOracle resolves each tester's declared dependency names
// against the rest of the batch. The zero oracle (nil) falls back to
// each tester's own Dependencies() method.
type DependencyOracle func(testers []job.Tester) (map[string][]string, error)

// Augmenter can mutate a freshly built DAG (e.g. to inject synthetic
// jobs) before the size sanity check runs. Optional.
type Augmenter interface {
	Augment(d *DAG)
}

// DAG holds one batch's jobs in a fixed topological order plus the
// bookkeeping ReadyAndAdvance needs to avoid re-delivering a job.
type DAG struct {
	jobs       []*job.Job
	byName     map[string]*job.Job
	dispatched map[*job.Job]bool
}

// ErrCycle is returned by Build when the declared dependencies contain a
// cycle.
type ErrCycle struct{ Jobs []string }

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("dependency cycle detected among jobs: %v", e.Jobs)
}

// ErrUnknownDependency is returned when a tester names a dependency not
// present in the same batch.
type ErrUnknownDependency struct {
	Job, Dependency string
}

func (e *ErrUnknownDependency) Error() string {
	return fmt.Sprintf("job %q depends on unknown job %q", e.Job, e.Dependency)
}

// Build constructs a DAG from testers, resolving dependencies via oracle
// (or each tester's own Dependencies() if oracle is nil), and validates
// acyclicity. Jobs are ordered by a stable topological sort: ties break
// on input order.
func Build(testers []job.Tester, runner job.Runner, oracle DependencyOracle) (*DAG, error) {
	var depsByName map[string][]string
	if oracle != nil {
		resolved, err := oracle(testers)
		if err != nil {
			return nil, err
		}
		depsByName = resolved
	} else {
		depsByName = make(map[string][]string, len(testers))
		for _, t := range testers {
			depsByName[t.Name()] = t.Dependencies()
		}
	}

	jobs := make([]*job.Job, len(testers))
	byName := make(map[string]*job.Job, len(testers))
	order := make(map[string]int, len(testers))
	for i, t := range testers {
		j := job.New(t, runner)
		jobs[i] = j
		byName[t.Name()] = j
		order[t.Name()] = i
	}

	for _, j := range jobs {
		names := depsByName[j.Name()]
		deps := make([]*job.Job, 0, len(names))
		for _, dn := range names {
			dj, ok := byName[dn]
			if !ok {
				return nil, &ErrUnknownDependency{Job: j.Name(), Dependency: dn}
			}
			deps = append(deps, dj)
		}
		j.SetDependencies(deps)
	}

	sorted, err := topoSort(jobs, order)
	if err != nil {
		return nil, err
	}

	return &DAG{
		jobs:       sorted,
		byName:     byName,
		dispatched: make(map[*job.Job]bool, len(sorted)),
	}, nil
}

func topoSort(jobs []*job.Job, order map[string]int) ([]*job.Job, error) {
	inDegree := make(map[*job.Job]int, len(jobs))
	dependents := make(map[*job.Job][]*job.Job, len(jobs))
	for _, j := range jobs {
		inDegree[j] = len(j.Dependencies())
		for _, d := range j.Dependencies() {
			dependents[d] = append(dependents[d], j)
		}
	}

	var ready []*job.Job
	for _, j := range jobs {
		if inDegree[j] == 0 {
			ready = append(ready, j)
		}
	}

	sortByOrder := func(js []*job.Job) {
		sort.SliceStable(js, func(a, b int) bool {
			return order[js[a].Name()] < order[js[b].Name()]
		})
	}
	sortByOrder(ready)

	out := make([]*job.Job, 0, len(jobs))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)
		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
				sortByOrder(ready)
			}
		}
	}

	if len(out) != len(jobs) {
		var cyclic []string
		for _, j := range jobs {
			if inDegree[j] > 0 {
				cyclic = append(cyclic, j.Name())
			}
		}
		return nil, &ErrCycle{Jobs: cyclic}
	}
	return out, nil
}

// Size returns the number of jobs in the DAG.
func (d *DAG) Size() int { return len(d.jobs) }

// TopoSort returns the jobs in their fixed topological order.
func (d *DAG) TopoSort() []*job.Job {
	out := make([]*job.Job, len(d.jobs))
	copy(out, d.jobs)
	return out
}

// Jobs returns the jobs in topological order (alias of TopoSort, named to
// match call sites that just want "all jobs in this batch").
func (d *DAG) Jobs() []*job.Job { return d.TopoSort() }

// Lookup finds a job by name.
func (d *DAG) Lookup(name string) (*job.Job, bool) {
	j, ok := d.byName[name]
	return j, ok
}

// ReadyAndAdvance scans the DAG in topological order and returns every
// job that has just become actionable: a job whose dependencies are all
// terminal becomes ready to run (status HOLD) if they all succeeded, or
// is downgraded to SKIP with a "skipped dependency" caveat if any
// dependency failed. Each job is returned by this method at most once —
// calling it again with no newly-resolved dependencies returns nil. The
// caller must hold the batch lock.
func (d *DAG) ReadyAndAdvance() []*job.Job {
	var advanced []*job.Job
	for _, j := range d.jobs {
		if d.dispatched[j] {
			continue
		}
		if !allTerminal(j.Dependencies()) {
			continue
		}
		if anyFailed(j.Dependencies()) {
			j.SetStatus(status.SKIP)
			j.AddCaveats("skipped dependency")
		} else {
			j.SetStatus(status.HOLD)
		}
		d.dispatched[j] = true
		advanced = append(advanced, j)
	}
	return advanced
}

func allTerminal(deps []*job.Job) bool {
	for _, d := range deps {
		if !d.IsTerminal() {
			return false
		}
	}
	return true
}

func anyFailed(deps []*job.Job) bool {
	for _, d := range deps {
		s := d.Status()
		if status.IsExitNonZero(s) || s == status.SKIP {
			return true
		}
	}
	return false
}

// Remaining reports how many jobs have not yet reached a terminal status.
func (d *DAG) Remaining() int {
	n := 0
	for _, j := range d.jobs {
		if !j.IsTerminal() {
			n++
		}
	}
	return n
}
