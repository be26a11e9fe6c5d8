package scheduler

import (
	"fmt"

	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/log"
	"github.com/cuemby/faux-recon/pkg/metrics"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
	"github.com/rs/zerolog"
)

// typePriority is the order ancillary job types are preferred in when
// several are pending: SSL cert work clears fastest and unblocks follow-up
// domain enumeration, so it goes first.
var typePriority = []types.AncillaryJobType{
	types.AncillarySSLCert,
	types.AncillaryBannerGrab,
	types.AncillaryDomainEnum,
}

// Scheduler claims work from the Store on behalf of workers. It holds no
// in-memory job state of its own; BoltDB's single-writer transactions are
// what make ClaimPrimary/ClaimAncillaryBatch safe under concurrent callers.
type Scheduler struct {
	store  store.Store
	cfg    config.Config
	logger zerolog.Logger
}

// New creates a Scheduler backed by st.
func New(st store.Store, cfg config.Config) *Scheduler {
	return &Scheduler{
		store:  st,
		cfg:    cfg,
		logger: log.WithComponent("scheduler"),
	}
}

// ClaimForWorker runs one scheduling cycle for workerID: it first tries to
// claim a single primary job of a type in supportedTypes, scanning enabled
// queues in descending priority, and if none is pending, fills up to
// AncillaryBatchSize ancillary job slots instead.
func (s *Scheduler) ClaimForWorker(workerID string, supportedTypes []string) (*types.PrimaryJob, []*types.AncillaryJob, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	primary, err := s.store.ClaimPrimary(workerID, supportedTypes)
	if err != nil {
		return nil, nil, fmt.Errorf("claim primary: %w", err)
	}
	if primary != nil {
		s.logger.Debug().
			Str("job_uuid", primary.UUID).
			Str("worker_id", workerID).
			Str("type", string(primary.Type)).
			Msg("claimed primary job")
		return primary, nil, nil
	}

	ancillary, err := s.store.ClaimAncillaryBatch(workerID, s.cfg.AncillaryBatchSize, typePriority)
	if err != nil {
		return nil, nil, fmt.Errorf("claim ancillary batch: %w", err)
	}
	if len(ancillary) > 0 {
		s.logger.Debug().
			Str("worker_id", workerID).
			Int("count", len(ancillary)).
			Msg("claimed ancillary batch")
	}
	return nil, ancillary, nil
}

// QueueDepth reports the number of pending primary jobs per queue.
func (s *Scheduler) QueueDepth() (map[string]int, error) {
	jobs, err := s.store.ListPrimaryJobs()
	if err != nil {
		return nil, fmt.Errorf("list primary jobs: %w", err)
	}
	depth := make(map[string]int)
	for _, j := range jobs {
		if j.Status == types.JobStatusPending {
			depth[j.Queue]++
		}
	}
	return depth, nil
}
