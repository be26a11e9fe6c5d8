package metrics

import (
	"time"

	"github.com/cuemby/faux-recon/pkg/store"
)

// Collector periodically pulls job/worker/queue counts from the Store and
// populates the package's gauges, so the exposition endpoint stays current
// without instrumenting every Store write path.
type Collector struct {
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a Collector backed by st.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, stopCh: make(chan struct{})}
}

// Start begins collecting on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectPrimaryJobs()
	c.collectAncillaryJobs()
	c.collectWorkers()
}

func (c *Collector) collectPrimaryJobs() {
	jobs, err := c.store.ListPrimaryJobs()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	depth := make(map[string]int)
	for _, j := range jobs {
		counts[string(j.Status)]++
		if j.Status == "pending" {
			depth[j.Queue]++
		}
	}
	for status, n := range counts {
		PrimaryJobsTotal.WithLabelValues(status).Set(float64(n))
	}
	for queue, n := range depth {
		QueueDepth.WithLabelValues(queue).Set(float64(n))
	}
}

func (c *Collector) collectAncillaryJobs() {
	jobs, err := c.store.ListAncillaryJobs()
	if err != nil {
		return
	}
	type key struct{ status, jobType string }
	counts := make(map[key]int)
	for _, j := range jobs {
		counts[key{string(j.Status), string(j.Type)}]++
	}
	for k, n := range counts {
		AncillaryJobsTotal.WithLabelValues(k.status, k.jobType).Set(float64(n))
	}
}

func (c *Collector) collectWorkers() {
	workers, err := c.store.ListWorkers()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, w := range workers {
		counts[string(w.Status)]++
	}
	for status, n := range counts {
		WorkersTotal.WithLabelValues(status).Set(float64(n))
	}
}
