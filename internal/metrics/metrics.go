// Package metrics collects and exposes Prometheus metrics for the
// scheduler: dispatch/finish counts by outcome, a report-latency
// histogram, and gauges for slot and job-bank occupancy.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the scheduler reports.
type Collector struct {
	jobsScheduled prometheus.Counter
	jobsRunning   prometheus.Counter
	jobsSkipped   prometheus.Counter
	jobsTimedOut  prometheus.Counter
	jobsFinished  *prometheus.CounterVec // labeled by terminal status label: OK/FAIL/SKIP/TIMEOUT/...

	reportLatency prometheus.Histogram

	slotsInUse     prometheus.Gauge
	slotsAvailable prometheus.Gauge
	jobBankSize    prometheus.Gauge
}

// NewCollector builds and registers a Collector.
func NewCollector() *Collector {
	c := &Collector{
		jobsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_scheduled_total",
			Help: "Total number of jobs added to a batch",
		}),
		jobsRunning: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_dispatched_total",
			Help: "Total number of jobs admitted and handed to the runner pool",
		}),
		jobsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_skipped_total",
			Help: "Total number of jobs skipped (failed dependency or insufficient slots)",
		}),
		jobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_timed_out_total",
			Help: "Total number of jobs killed for exceeding their max time",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal status, by outcome",
		}, []string{"status"}),
		reportLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_status_report_seconds",
			Help:    "Time spent inside the status pool per report",
			Buckets: prometheus.DefBuckets,
		}),
		slotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_slots_in_use",
			Help: "Current number of reserved slots",
		}),
		slotsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_slots_available",
			Help: "Configured slot capacity",
		}),
		jobBankSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_job_bank_size",
			Help: "Number of jobs not yet terminally reported",
		}),
	}

	prometheus.MustRegister(
		c.jobsScheduled,
		c.jobsRunning,
		c.jobsSkipped,
		c.jobsTimedOut,
		c.jobsFinished,
		c.reportLatency,
		c.slotsInUse,
		c.slotsAvailable,
		c.jobBankSize,
	)

	return c
}

// RecordScheduled records a batch's worth of newly scheduled jobs.
func (c *Collector) RecordScheduled(n int) { c.jobsScheduled.Add(float64(n)) }

// RecordDispatched records one job admitted into the runner pool.
func (c *Collector) RecordDispatched() { c.jobsRunning.Inc() }

// RecordSkipped records one job skipped without running.
func (c *Collector) RecordSkipped() { c.jobsSkipped.Inc() }

// RecordTimedOut records one job killed for exceeding its max time.
func (c *Collector) RecordTimedOut() { c.jobsTimedOut.Inc() }

// RecordFinished records one terminal report, labeled by status.
func (c *Collector) RecordFinished(label string) { c.jobsFinished.WithLabelValues(label).Inc() }

// ObserveReportLatency records the time a status-pool report took.
func (c *Collector) ObserveReportLatency(seconds float64) { c.reportLatency.Observe(seconds) }

// SetSlotOccupancy updates the slot gauges.
func (c *Collector) SetSlotOccupancy(inUse, available int64) {
	c.slotsInUse.Set(float64(inUse))
	c.slotsAvailable.Set(float64(available))
}

// SetJobBankSize updates the job-bank gauge.
func (c *Collector) SetJobBankSize(n int) { c.jobBankSize.Set(float64(n)) }

// StartServer serves /metrics on port until the process exits or the
// HTTP server errors.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
