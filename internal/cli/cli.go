// Package cli wires the scheduler into a Cobra command line: "run"
// schedules a job batch and executes it to completion, "validate" builds
// the DAG and reports cycles or unknown dependencies without running
// anything.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jfgiraldoa/moose-scheduler/internal/config"
	"github.com/jfgiraldoa/moose-scheduler/internal/dag"
	"github.com/jfgiraldoa/moose-scheduler/internal/demorunner"
	"github.com/jfgiraldoa/moose-scheduler/internal/job"
	"github.com/jfgiraldoa/moose-scheduler/internal/metrics"
	"github.com/jfgiraldoa/moose-scheduler/internal/scheduler"
)

var log = slog.Default()

type rootFlags struct {
	configPath string
}

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "moose-scheduler",
		Short: "Concurrent DAG-ordered job scheduler",
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "configs/default.yaml", "path to scheduler config")
	root.AddCommand(buildRunCommand(flags))
	root.AddCommand(buildValidateCommand(flags))
	return root
}

func buildRunCommand(flags *rootFlags) *cobra.Command {
	var jobsPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Schedule and execute a job batch to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(flags.configPath, jobsPath)
		},
	}
	cmd.Flags().StringVarP(&jobsPath, "jobs", "f", "", "path to a job batch YAML file")
	_ = cmd.MarkFlagRequired("jobs")
	return cmd
}

func buildValidateCommand(flags *rootFlags) *cobra.Command {
	var jobsPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Build the job DAG and report cycles or unknown dependencies without executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateBatch(jobsPath)
		},
	}
	cmd.Flags().StringVarP(&jobsPath, "jobs", "f", "", "path to a job batch YAML file")
	_ = cmd.MarkFlagRequired("jobs")
	return cmd
}

func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Warn("falling back to built-in config defaults", "config_path", path, "error", err)
		return config.Default()
	}
	return cfg
}

func loadJobSpecs(path string) ([]demorunner.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cli: read job batch %s: %w", path, err)
	}
	var specs []demorunner.JobSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("cli: parse job batch %s: %w", path, err)
	}
	return specs, nil
}

func testersOf(specs []demorunner.JobSpec) []job.Tester {
	out := make([]job.Tester, len(specs))
	for i, s := range specs {
		out[i] = s
	}
	return out
}

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, j *job.Job) error { return nil }

func validateBatch(jobsPath string) error {
	specs, err := loadJobSpecs(jobsPath)
	if err != nil {
		return err
	}
	d, err := dag.Build(testersOf(specs), noopRunner{}, nil)
	if err != nil {
		return err
	}
	fmt.Printf("valid batch: %d jobs, topological order:\n", d.Size())
	for _, j := range d.TopoSort() {
		fmt.Printf("  - %s\n", j.Name())
	}
	return nil
}

// reportHost implements scheduler.Host: it prints each report (terminal
// or long-running notice) as it arrives and closes a channel when the
// operator interrupts the run.
type reportHost struct {
	metrics     *metrics.Collector
	interrupted chan struct{}
	once        sync.Once
}

func newReportHost(m *metrics.Collector) *reportHost {
	return &reportHost{metrics: m, interrupted: make(chan struct{})}
}

func (h *reportHost) HandleJobStatus(j *job.Job) {
	s := j.Status()
	fmt.Printf("%-8s %s\n", s.Label, j.Name())
	if caveats := j.Caveats(); len(caveats) > 0 {
		fmt.Printf("         caveats: %v\n", caveats)
	}
	if h.metrics != nil && j.IsTerminal() {
		h.metrics.RecordFinished(s.Label)
	}
}

func (h *reportHost) KeyboardInterrupt() {
	h.once.Do(func() { close(h.interrupted) })
}

func runBatch(configPath, jobsPath string) error {
	cfg := loadConfig(configPath)
	specs, err := loadJobSpecs(jobsPath)
	if err != nil {
		return err
	}

	var mcol *metrics.Collector
	if cfg.Metrics.Enabled {
		mcol = metrics.NewCollector()
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	runner := demorunner.NewShellRunner(specs)
	host := newReportHost(mcol)

	schedCfg := scheduler.Config{
		AverageLoad:     cfg.Scheduler.AverageLoad,
		MaxProcesses:    cfg.Scheduler.MaxProcesses,
		MinReportedTime: cfg.MinReportedTimeDuration(),
	}
	opts := scheduler.Options{
		Load:             cfg.Scheduler.LoadCheck,
		ValgrindMode:     cfg.Failures.ValgrindMode,
		ValgrindMaxFails: cfg.Failures.ValgrindMaxFails,
		MaxFails:         cfg.Failures.MaxFails,
	}

	s := scheduler.New(schedCfg, opts, host, runner, mcol)

	if err := s.Schedule(testersOf(specs), nil, nil); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sigCh:
			log.Warn("interrupt received, killing remaining jobs")
			s.KillRemaining(true)
			cancel()
		case <-ctx.Done():
		}
	}()

	waitErr := s.WaitFinish(ctx)

	failing := 0
	for _, j := range s.ScheduledJobs() {
		if j.IsFail() {
			failing++
		}
	}
	fmt.Printf("\n%d jobs, %d failing\n", len(s.ScheduledJobs()), failing)

	if waitErr != nil {
		return waitErr
	}
	if failing > 0 {
		return fmt.Errorf("cli: %d job(s) failed", failing)
	}
	return nil
}
