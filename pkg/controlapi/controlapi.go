// Package controlapi is the operator-facing facade over the Store: creating
// jobs, inspecting status, cancelling, summarizing queue depth, and purging
// old terminal jobs. The CLI is its only caller; it holds no state beyond
// the Store it wraps.
package controlapi

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/faux-recon/pkg/metrics"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
)

// API wraps a Store with the job-management operations exposed to the CLI.
type API struct {
	store store.Store
}

// New creates an API backed by st.
func New(st store.Store) *API {
	return &API{store: st}
}

// CreateJobParams are the inputs to CreateJob; zero values take the
// defaults (queue "default", priority 0, run immediately).
type CreateJobParams struct {
	Type         types.PrimaryJobType
	Target       string
	Queue        string
	Ports        []string
	Options      types.ScanOptions
	Priority     int
	ScheduledFor *time.Time
}

// CreateJob ensures the named queue exists (auto-creating it with
// max_concurrent=5, priority=0) and inserts a pending PrimaryJob.
func (a *API) CreateJob(p CreateJobParams) (*types.PrimaryJob, error) {
	queueName := p.Queue
	if queueName == "" {
		queueName = "default"
	}

	if _, err := a.store.GetQueue(queueName); err != nil {
		q := &types.Queue{
			Name:          queueName,
			Description:   fmt.Sprintf("Default queue for %s", queueName),
			MaxConcurrent: 5,
			Priority:      0,
			Enabled:       true,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		if err := a.store.CreateQueue(q); err != nil {
			return nil, fmt.Errorf("ensure queue %q: %w", queueName, err)
		}
	}

	job := &types.PrimaryJob{
		UUID:         uuid.New().String(),
		Type:         p.Type,
		Status:       types.JobStatusPending,
		Priority:     p.Priority,
		Target:       p.Target,
		Ports:        p.Ports,
		Options:      p.Options,
		Queue:        queueName,
		CreatedAt:    time.Now(),
		MaxRetries:   3,
		ScheduledFor: p.ScheduledFor,
	}
	if err := a.store.CreatePrimaryJob(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// JobStatus is a status snapshot of a PrimaryJob.
type JobStatus struct {
	UUID        string
	Status      types.JobStatus
	Progress    int
	Target      string
	Type        types.PrimaryJobType
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// GetJob returns a status snapshot for jobUUID.
func (a *API) GetJob(jobUUID string) (*JobStatus, error) {
	job, err := a.store.GetPrimaryJob(jobUUID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobUUID, err)
	}
	return &JobStatus{
		UUID:        job.UUID,
		Status:      job.Status,
		Progress:    job.Progress,
		Target:      job.Target,
		Type:        job.Type,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Error,
	}, nil
}

// ListJobs returns primary jobs, optionally filtered by status and/or queue,
// capped at limit (0 means unlimited) for the list-jobs CLI subcommand.
func (a *API) ListJobs(status types.JobStatus, queue string, limit int) ([]*types.PrimaryJob, error) {
	jobs, err := a.store.ListPrimaryJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	filtered := make([]*types.PrimaryJob, 0, len(jobs))
	for _, j := range jobs {
		if status != "" && j.Status != status {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		filtered = append(filtered, j)
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered, nil
}

// CancelJob marks jobUUID cancelled if it is pending, queued, or running.
// A running handler only observes the cancellation at its next Store
// checkpoint, so cancellation of running jobs is best-effort.
func (a *API) CancelJob(jobUUID string) (bool, error) {
	job, err := a.store.GetPrimaryJob(jobUUID)
	if err != nil {
		return false, fmt.Errorf("get job %s: %w", jobUUID, err)
	}
	switch job.Status {
	case types.JobStatusPending, types.JobStatusQueued, types.JobStatusRunning:
	default:
		return false, nil
	}

	now := time.Now()
	job.Status = types.JobStatusCancelled
	job.CompletedAt = &now
	if err := a.store.UpdatePrimaryJob(job); err != nil {
		return false, fmt.Errorf("cancel job %s: %w", jobUUID, err)
	}
	metrics.PrimaryJobCancelsTotal.Inc()
	return true, nil
}

// QueueStats is the pending/running/completed/failed breakdown for one queue.
type QueueStats struct {
	Name          string
	Enabled       bool
	MaxConcurrent int
	Pending       int
	Running       int
	Completed     int
	Failed        int
}

// QueueStatsFor returns stats for the named queue, or for every queue if
// name is empty.
func (a *API) QueueStatsFor(name string) (map[string]QueueStats, error) {
	queues, err := a.store.ListQueues()
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	out := make(map[string]QueueStats)
	for _, q := range queues {
		if name != "" && q.Name != name {
			continue
		}
		jobs, err := a.store.ListPrimaryJobsByQueue(q.Name)
		if err != nil {
			return nil, fmt.Errorf("list jobs for queue %s: %w", q.Name, err)
		}
		stats := QueueStats{Name: q.Name, Enabled: q.Enabled, MaxConcurrent: q.MaxConcurrent}
		for _, j := range jobs {
			switch j.Status {
			case types.JobStatusPending:
				stats.Pending++
			case types.JobStatusRunning:
				stats.Running++
			case types.JobStatusCompleted:
				stats.Completed++
			case types.JobStatusFailed:
				stats.Failed++
			}
		}
		out[q.Name] = stats
	}
	return out, nil
}

// CleanupResult reports what Cleanup removed (or would remove, in dry-run).
type CleanupResult struct {
	PrimaryJobsRemoved   int
	AncillaryJobsRemoved int
}

// Cleanup removes terminal primary and ancillary jobs (completed, failed, or
// cancelled) older than days. With dryRun set, it only counts candidates
// without deleting them.
func (a *API) Cleanup(days int, dryRun bool) (*CleanupResult, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result := &CleanupResult{}

	primaries, err := a.store.ListPrimaryJobs()
	if err != nil {
		return nil, fmt.Errorf("list primary jobs: %w", err)
	}
	for _, job := range primaries {
		if !isTerminal(job.Status) || job.CreatedAt.After(cutoff) {
			continue
		}
		result.PrimaryJobsRemoved++
		if !dryRun {
			if err := a.store.DeletePrimaryJob(job.UUID); err != nil {
				return nil, fmt.Errorf("delete primary job %s: %w", job.UUID, err)
			}
		}
	}

	ancillaries, err := a.store.ListAncillaryJobs()
	if err != nil {
		return nil, fmt.Errorf("list ancillary jobs: %w", err)
	}
	for _, job := range ancillaries {
		if !isTerminal(job.Status) || job.CreatedAt.After(cutoff) {
			continue
		}
		result.AncillaryJobsRemoved++
		if !dryRun {
			if err := a.store.DeleteAncillaryJob(job.UUID); err != nil {
				return nil, fmt.Errorf("delete ancillary job %s: %w", job.UUID, err)
			}
		}
	}

	return result, nil
}

func isTerminal(s types.JobStatus) bool {
	switch s {
	case types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled:
		return true
	default:
		return false
	}
}
