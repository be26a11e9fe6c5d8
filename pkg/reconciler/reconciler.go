package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/log"
	"github.com/cuemby/faux-recon/pkg/metrics"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
	"github.com/rs/zerolog"
)

// Reconciler is the crash-recovery sweeper: it periodically scans for jobs
// assigned to a worker whose heartbeat has gone stale and reverts them to
// pending so another worker can pick them up.
type Reconciler struct {
	store  store.Store
	cfg    config.Config
	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewReconciler creates a Reconciler backed by st, using cfg for the
// reconcile tick and stale-worker threshold.
func NewReconciler(st store.Store, cfg config.Config) *Reconciler {
	return &Reconciler{
		store:  st,
		cfg:    cfg,
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.cfg.ReconcileInterval).Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Reconcile runs one sweep cycle: stale workers are marked offline, and any
// queued or running job (primary or ancillary) assigned to a worker marked
// offline in this cycle is reverted to pending (incrementing retry_count if
// it was running) or failed outright once max_retries is exhausted. Jobs
// assigned to a worker ID that has no worker row are not reverted.
func (r *Reconciler) Reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	staleWorkers, err := r.reconcileWorkers()
	if err != nil {
		return fmt.Errorf("reconcile workers: %w", err)
	}

	if err := r.reconcilePrimaryJobs(staleWorkers); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconcile primary jobs")
	}
	if err := r.reconcileAncillaryJobs(staleWorkers); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconcile ancillary jobs")
	}

	return nil
}

// reconcileWorkers marks any worker whose heartbeat has exceeded the stale
// threshold as offline, and returns the set of worker IDs it marked offline.
// Only existing worker rows are examined; a worker ID with no row is never
// in the returned set.
func (r *Reconciler) reconcileWorkers() (map[string]bool, error) {
	workers, err := r.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	stale := make(map[string]bool)
	now := time.Now()
	threshold := r.cfg.StaleThreshold()

	for _, w := range workers {
		if w.Status == types.WorkerStatusOffline {
			continue
		}
		if w.IsStale(threshold, now) {
			r.logger.Warn().
				Str("worker_id", w.WorkerID).
				Dur("no_heartbeat_duration", now.Sub(w.LastHeartbeat)).
				Msg("worker heartbeat stale, marking offline")
			stale[w.WorkerID] = true
			w.Status = types.WorkerStatusOffline
			if err := r.store.UpdateWorker(w); err != nil {
				r.logger.Error().Err(err).Str("worker_id", w.WorkerID).Msg("failed to mark worker offline")
			}
		}
	}
	return stale, nil
}

// reconcilePrimaryJobs reverts or fails primary jobs assigned to a stale
// worker.
func (r *Reconciler) reconcilePrimaryJobs(staleWorkers map[string]bool) error {
	jobs, err := r.store.ListPrimaryJobs()
	if err != nil {
		return fmt.Errorf("list primary jobs: %w", err)
	}

	for _, job := range jobs {
		if job.AssignedWorker == "" || !staleWorkers[job.AssignedWorker] {
			continue
		}
		if job.Status != types.JobStatusQueued && job.Status != types.JobStatusRunning {
			continue
		}

		wasRunning := job.Status == types.JobStatusRunning
		if wasRunning {
			job.RetryCount++
		}
		job.AssignedWorker = ""

		if job.RetryCount > job.MaxRetries {
			job.Status = types.JobStatusFailed
			job.Error = "exhausted retries"
			metrics.PrimaryJobErrorsTotal.Inc()
		} else {
			job.Status = types.JobStatusPending
		}
		metrics.JobsRevertedTotal.Inc()

		if err := r.store.UpdatePrimaryJob(job); err != nil {
			r.logger.Error().Err(err).Str("job_uuid", job.UUID).Msg("failed to revert primary job")
			continue
		}
		r.logger.Info().Str("job_uuid", job.UUID).Str("status", string(job.Status)).Msg("reverted primary job from crashed worker")
	}
	return nil
}

// reconcileAncillaryJobs reverts or fails ancillary jobs assigned to a
// stale worker, the same way reconcilePrimaryJobs does for primaries.
func (r *Reconciler) reconcileAncillaryJobs(staleWorkers map[string]bool) error {
	jobs, err := r.store.ListAncillaryJobs()
	if err != nil {
		return fmt.Errorf("list ancillary jobs: %w", err)
	}

	for _, job := range jobs {
		if job.AssignedWorker == "" || !staleWorkers[job.AssignedWorker] {
			continue
		}
		if job.Status != types.JobStatusQueued && job.Status != types.JobStatusRunning {
			continue
		}

		wasRunning := job.Status == types.JobStatusRunning
		if wasRunning {
			job.RetryCount++
		}
		job.AssignedWorker = ""

		if job.RetryCount > job.MaxRetries {
			job.Status = types.JobStatusFailed
			job.Error = "exhausted retries"
		} else {
			job.Status = types.JobStatusPending
		}
		metrics.JobsRevertedTotal.Inc()

		if err := r.store.UpdateAncillaryJob(job); err != nil {
			r.logger.Error().Err(err).Str("job_uuid", job.UUID).Msg("failed to revert ancillary job")
			continue
		}
		r.logger.Info().Str("job_uuid", job.UUID).Str("status", string(job.Status)).Msg("reverted ancillary job from crashed worker")
	}
	return nil
}
