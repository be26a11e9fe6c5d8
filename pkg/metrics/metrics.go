package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Primary/ancillary job gauges, by status.
	PrimaryJobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconjob_primary_jobs_total",
			Help: "Total number of primary jobs by status",
		},
		[]string{"status"},
	)

	AncillaryJobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconjob_ancillary_jobs_total",
			Help: "Total number of ancillary jobs by status and type",
		},
		[]string{"status", "job_type"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconjob_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconjob_queue_depth",
			Help: "Number of pending jobs per queue",
		},
		[]string{"queue"},
	)

	HostsDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconjob_hosts_discovered_total",
			Help: "Total number of distinct hosts discovered",
		},
	)

	PortsDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconjob_ports_discovered_total",
			Help: "Total number of open-port discoveries, re-discoveries of a known port included",
		},
	)

	PrimaryJobErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconjob_primary_job_errors_total",
			Help: "Total number of primary jobs that ended failed",
		},
	)

	PrimaryJobCancelsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconjob_primary_job_cancels_total",
			Help: "Total number of primary jobs that were cancelled",
		},
	)

	RunningJobProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconjob_running_job_progress",
			Help: "Progress percentage of a running primary job",
		},
		[]string{"job_uuid"},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconjob_scheduling_latency_seconds",
			Help:    "Time taken to claim work for a worker tick, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DiscoveryScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconjob_discovery_scan_duration_seconds",
			Help:    "Wall-clock duration of a masscan discovery run, in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconjob_reconciliation_duration_seconds",
			Help:    "Time taken for a crash-recovery sweep cycle, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconjob_reconciliation_cycles_total",
			Help: "Total number of crash-recovery sweep cycles completed",
		},
	)

	JobsRevertedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconjob_jobs_reverted_total",
			Help: "Total number of jobs reverted to pending by the sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(PrimaryJobsTotal)
	prometheus.MustRegister(AncillaryJobsTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(HostsDiscoveredTotal)
	prometheus.MustRegister(PortsDiscoveredTotal)
	prometheus.MustRegister(PrimaryJobErrorsTotal)
	prometheus.MustRegister(PrimaryJobCancelsTotal)
	prometheus.MustRegister(RunningJobProgress)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(DiscoveryScanDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(JobsRevertedTotal)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Snapshot is the set of values the CLI `stats` subcommand renders as text,
// for one-shot invocations that never run the HTTP exposition server.
type Snapshot struct {
	PrimaryJobsByStatus   map[string]int
	AncillaryJobsByStatus map[string]int
	WorkersByStatus       map[string]int
	QueueDepthByName      map[string]int
	HostsDiscovered       int
	PortsDiscovered       int
	HostsRecent           int
	PortsRecent           int
	PrimaryErrors         int
	PrimaryCancels        int
}

// RenderText formats a snapshot as one value per line.
func (s Snapshot) RenderText() string {
	var b strings.Builder
	writeSorted := func(prefix string, m map[string]int) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s{%s}=%d\n", prefix, k, m[k])
		}
	}
	writeSorted("primary_jobs", s.PrimaryJobsByStatus)
	writeSorted("ancillary_jobs", s.AncillaryJobsByStatus)
	writeSorted("workers", s.WorkersByStatus)
	writeSorted("queue_depth", s.QueueDepthByName)
	fmt.Fprintf(&b, "hosts_discovered=%d\n", s.HostsDiscovered)
	fmt.Fprintf(&b, "ports_discovered=%d\n", s.PortsDiscovered)
	fmt.Fprintf(&b, "hosts_recent_hour=%d\n", s.HostsRecent)
	fmt.Fprintf(&b, "ports_recent_hour=%d\n", s.PortsRecent)
	fmt.Fprintf(&b, "primary_job_errors=%d\n", s.PrimaryErrors)
	fmt.Fprintf(&b, "primary_job_cancels=%d\n", s.PrimaryCancels)
	return b.String()
}

// counterValue reads a counter's current value directly off the collector.
func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// CounterSnapshot returns the current process-lifetime values of the
// discovery and failure counters, read directly off the registered
// collectors.
func CounterSnapshot() (hostsDiscovered, portsDiscovered, primaryErrors, primaryCancels int) {
	return int(counterValue(HostsDiscoveredTotal)),
		int(counterValue(PortsDiscoveredTotal)),
		int(counterValue(PrimaryJobErrorsTotal)),
		int(counterValue(PrimaryJobCancelsTotal))
}
