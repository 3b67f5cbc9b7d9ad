// Package demorunner provides the scheduler's reference Runner: it
// executes each job's payload as an external command, the way the MOOSE
// test harness this scheduler's algorithm is drawn from actually runs
// subprocess testers. Test discovery and output parsing stay out of
// scope; a JobSpec just names a command to run.
package demorunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/jfgiraldoa/moose-scheduler/internal/job"
	"github.com/jfgiraldoa/moose-scheduler/pkg/status"
)

// JobSpec is the YAML-facing description of one job in a batch file. It
// satisfies job.Tester directly.
type JobSpec struct {
	ID             string   `yaml:"name"`
	Deps           []string `yaml:"dependencies"`
	SlotCount      int      `yaml:"slots"`
	MaxTimeSeconds int      `yaml:"max_time_seconds"`
	Command        []string `yaml:"command"`
}

func (s JobSpec) Name() string           { return s.ID }
func (s JobSpec) Dependencies() []string { return s.Deps }

func (s JobSpec) Slots() int {
	if s.SlotCount <= 0 {
		return 1
	}
	return s.SlotCount
}

func (s JobSpec) MaxTime() time.Duration {
	secs := s.MaxTimeSeconds
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

const maxCaveatOutput = 4096

// ShellRunner executes each job's Command via os/exec, killed when ctx is
// cancelled (the runner pool cancels ctx on timeout or on KillRemaining).
// Exit code zero maps to status.OK, non-zero to status.FAIL; the
// combined stdout/stderr tail is attached as a caveat for FAIL jobs so a
// report can show why without a separate log store.
type ShellRunner struct {
	specs map[string]JobSpec
}

// NewShellRunner indexes specs by name for Run's lookup.
func NewShellRunner(specs []JobSpec) *ShellRunner {
	m := make(map[string]JobSpec, len(specs))
	for _, s := range specs {
		m[s.ID] = s
	}
	return &ShellRunner{specs: m}
}

func (r *ShellRunner) Run(ctx context.Context, j *job.Job) error {
	spec, ok := r.specs[j.Name()]
	if !ok || len(spec.Command) == 0 {
		j.SetStatus(status.SILENT)
		return nil
	}

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() != nil {
		// The runner pool's timeout/kill path already classifies this as
		// TIMEOUT; leave the job's status alone.
		return ctx.Err()
	}
	if err != nil {
		j.SetStatus(status.FAIL)
		j.AddCaveats(tail(out.String(), maxCaveatOutput))
		return fmt.Errorf("demorunner: %s: %w", j.Name(), err)
	}
	j.SetStatus(status.OK)
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
