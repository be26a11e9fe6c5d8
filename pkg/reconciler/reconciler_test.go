package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
)

func newTestReconciler(t *testing.T) (*Reconciler, store.Store) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	cfg := config.Default()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.StaleWorkerMultiple = 2
	return NewReconciler(st, cfg), st
}

func TestReconcileRevertsRunningJobFromStaleWorkerAndBumpsRetryCount(t *testing.T) {
	r, st := newTestReconciler(t)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, st.RegisterWorker(&types.Worker{
		WorkerID: "worker-dead", Status: types.WorkerStatusActive, LastHeartbeat: stale, CreatedAt: stale,
	}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{
		UUID: "p1", Status: types.JobStatusRunning, AssignedWorker: "worker-dead",
		RetryCount: 0, MaxRetries: 3, CreatedAt: stale,
	}))

	require.NoError(t, r.Reconcile())

	job, err := st.GetPrimaryJob("p1")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusPending, job.Status)
	require.Empty(t, job.AssignedWorker)
	require.Equal(t, 1, job.RetryCount)

	w, err := st.GetWorker("worker-dead")
	require.NoError(t, err)
	require.Equal(t, types.WorkerStatusOffline, w.Status)
}

func TestReconcileFailsJobThatExhaustedRetries(t *testing.T) {
	r, st := newTestReconciler(t)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, st.RegisterWorker(&types.Worker{
		WorkerID: "worker-dead", Status: types.WorkerStatusActive, LastHeartbeat: stale, CreatedAt: stale,
	}))
	require.NoError(t, st.CreateAncillaryJob(&types.AncillaryJob{
		UUID: "a1", Type: types.AncillaryBannerGrab, Status: types.JobStatusRunning, AssignedWorker: "worker-dead",
		RetryCount: 3, MaxRetries: 3, CreatedAt: stale,
	}))

	require.NoError(t, r.Reconcile())

	job, err := st.GetAncillaryJob("a1")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, job.Status)
	require.Equal(t, "exhausted retries", job.Error)
}

func TestReconcileLeavesQueuedJobRetryCountUnchanged(t *testing.T) {
	r, st := newTestReconciler(t)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, st.RegisterWorker(&types.Worker{
		WorkerID: "worker-dead", Status: types.WorkerStatusActive, LastHeartbeat: stale, CreatedAt: stale,
	}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{
		UUID: "p1", Status: types.JobStatusQueued, AssignedWorker: "worker-dead",
		RetryCount: 0, MaxRetries: 3, CreatedAt: stale,
	}))

	require.NoError(t, r.Reconcile())

	job, err := st.GetPrimaryJob("p1")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusPending, job.Status)
	require.Zero(t, job.RetryCount, "a job that never started should not consume a retry")
}

func TestReconcileIgnoresHealthyWorkers(t *testing.T) {
	r, st := newTestReconciler(t)

	require.NoError(t, st.RegisterWorker(&types.Worker{
		WorkerID: "worker-alive", Status: types.WorkerStatusActive, LastHeartbeat: time.Now(), CreatedAt: time.Now(),
	}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{
		UUID: "p1", Status: types.JobStatusRunning, AssignedWorker: "worker-alive", CreatedAt: time.Now(),
	}))

	require.NoError(t, r.Reconcile())

	job, err := st.GetPrimaryJob("p1")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusRunning, job.Status)
}
