/*
Package metrics defines and registers the Prometheus collectors used across
the job engine: primary/ancillary job counts by status, worker counts by
status, per-queue depth, hosts/ports discovered, primary job errors and
cancellations, running-job progress, and timing histograms for scheduling,
discovery, and reconciliation.

A long-running worker process serves these at /metrics (Handler), together
with /health, /ready, and /live component-health endpoints fed by
RegisterComponent/UpdateComponent. Collector (collector.go) runs a
background 15s poll of the Store to keep the job/worker/queue gauges
current for that server. One-shot CLI invocations instead build a Snapshot
from the Store and render it with RenderText, one value per line.

# Usage

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DiscoveryScanDuration)
	metrics.PortsDiscoveredTotal.Inc()
*/
package metrics
