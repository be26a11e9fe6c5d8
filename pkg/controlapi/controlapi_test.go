package controlapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
)

func newTestAPI(t *testing.T) (*API, store.Store) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func TestCreateJobAutoCreatesDefaultQueue(t *testing.T) {
	a, st := newTestAPI(t)

	job, err := a.CreateJob(CreateJobParams{Type: types.PrimaryJobMasscan, Target: "10.0.0.0/24"})
	require.NoError(t, err)
	require.Equal(t, "default", job.Queue)
	require.Equal(t, types.JobStatusPending, job.Status)

	q, err := st.GetQueue("default")
	require.NoError(t, err)
	require.Equal(t, 5, q.MaxConcurrent)
	require.True(t, q.Enabled)
}

func TestCreateJobReusesExistingQueue(t *testing.T) {
	a, st := newTestAPI(t)
	require.NoError(t, st.CreateQueue(&types.Queue{Name: "fast", MaxConcurrent: 20, Enabled: true}))

	job, err := a.CreateJob(CreateJobParams{Type: types.PrimaryJobMasscan, Target: "10.0.0.1", Queue: "fast"})
	require.NoError(t, err)
	require.Equal(t, "fast", job.Queue)

	q, err := st.GetQueue("fast")
	require.NoError(t, err)
	require.Equal(t, 20, q.MaxConcurrent, "pre-existing queue config must not be overwritten")
}

func TestCancelJobOnlyFromNonTerminalStates(t *testing.T) {
	a, st := newTestAPI(t)

	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{UUID: "p1", Status: types.JobStatusRunning, CreatedAt: time.Now()}))
	ok, err := a.CancelJob("p1")
	require.NoError(t, err)
	require.True(t, ok)

	job, err := st.GetPrimaryJob("p1")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)

	ok, err = a.CancelJob("p1")
	require.NoError(t, err)
	require.False(t, ok, "an already-cancelled job cannot be cancelled again")
}

func TestQueueStatsForCountsByStatus(t *testing.T) {
	a, st := newTestAPI(t)
	require.NoError(t, st.CreateQueue(&types.Queue{Name: "default", MaxConcurrent: 5, Enabled: true}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{UUID: "p1", Queue: "default", Status: types.JobStatusPending, CreatedAt: time.Now()}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{UUID: "p2", Queue: "default", Status: types.JobStatusRunning, CreatedAt: time.Now()}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{UUID: "p3", Queue: "default", Status: types.JobStatusFailed, CreatedAt: time.Now()}))

	stats, err := a.QueueStatsFor("")
	require.NoError(t, err)
	require.Equal(t, 1, stats["default"].Pending)
	require.Equal(t, 1, stats["default"].Running)
	require.Equal(t, 1, stats["default"].Failed)
}

func TestCleanupRemovesOnlyOldTerminalJobs(t *testing.T) {
	a, st := newTestAPI(t)

	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{UUID: "old-done", Status: types.JobStatusCompleted, CreatedAt: old}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{UUID: "old-running", Status: types.JobStatusRunning, CreatedAt: old}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{UUID: "recent-done", Status: types.JobStatusCompleted, CreatedAt: time.Now()}))

	result, err := a.Cleanup(7, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.PrimaryJobsRemoved, "dry run should only count old-done")

	_, err = st.GetPrimaryJob("old-done")
	require.NoError(t, err, "dry run must not delete anything")

	result, err = a.Cleanup(7, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.PrimaryJobsRemoved)

	_, err = st.GetPrimaryJob("old-done")
	require.Error(t, err, "old terminal job should be deleted")
	_, err = st.GetPrimaryJob("old-running")
	require.NoError(t, err, "running job must survive cleanup regardless of age")
	_, err = st.GetPrimaryJob("recent-done")
	require.NoError(t, err, "recent terminal job must survive cleanup")
}
