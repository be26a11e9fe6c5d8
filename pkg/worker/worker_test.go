package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/scheduler"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
)

func newTestWorker(t *testing.T) (*Worker, store.Store) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.RedisURL = ""
	sched := scheduler.New(st, cfg)

	wcfg := DefaultConfig()
	wcfg.WorkerID = "test-worker-1"
	wcfg.DispatchInterval = 10 * time.Millisecond
	wcfg.HeartbeatInterval = 20 * time.Millisecond
	wcfg.ShutdownDrain = 200 * time.Millisecond

	return New(st, sched, cfg, wcfg), st
}

func TestRunRegistersWorkerAndStopShutsDownCleanly(t *testing.T) {
	w, st := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		wk, err := st.GetWorker("test-worker-1")
		return err == nil && wk != nil
	}, time.Second, 5*time.Millisecond)

	w.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	wk, err := st.GetWorker("test-worker-1")
	require.NoError(t, err)
	require.Equal(t, types.WorkerStatusOffline, wk.Status)
}

func TestShutdownMarksOwnedInFlightJobsFailed(t *testing.T) {
	w, st := newTestWorker(t)

	require.NoError(t, st.RegisterWorker(&types.Worker{
		WorkerID: w.id, Status: types.WorkerStatusActive, LastHeartbeat: time.Now(), CreatedAt: time.Now(),
	}))
	require.NoError(t, st.CreatePrimaryJob(&types.PrimaryJob{
		UUID: "p1", Status: types.JobStatusRunning, AssignedWorker: w.id, CreatedAt: time.Now(),
	}))
	require.NoError(t, st.CreateAncillaryJob(&types.AncillaryJob{
		UUID: "a1", Type: types.AncillaryBannerGrab, Status: types.JobStatusQueued, AssignedWorker: w.id, CreatedAt: time.Now(),
	}))

	require.NoError(t, w.shutdown())

	p, err := st.GetPrimaryJob("p1")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, p.Status)
	require.Equal(t, "Worker shutdown", p.Error)

	a, err := st.GetAncillaryJob("a1")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, a.Status)
}

func TestEnqueueFollowUpSkipsWhenAlreadyPending(t *testing.T) {
	w, st := newTestWorker(t)

	source := &types.AncillaryJob{UUID: "src", Type: types.AncillaryBannerGrab, HostIP: "10.1.1.1", ParentPrimaryJob: "p1"}
	require.NoError(t, st.CreateAncillaryJob(&types.AncillaryJob{
		UUID: "existing", Type: types.AncillarySSLCert, HostIP: "10.1.1.1", Status: types.JobStatusPending, CreatedAt: time.Now(),
	}))

	w.enqueueFollowUp(source, types.AncillarySSLCert, 2)

	jobs, err := st.ListAncillaryJobs()
	require.NoError(t, err)
	count := 0
	for _, j := range jobs {
		if j.Type == types.AncillarySSLCert && j.HostIP == "10.1.1.1" {
			count++
		}
	}
	require.Equal(t, 1, count, "must not duplicate a pending ssl_cert job for the same host")
}

func TestEnqueueFollowUpSSLCertDedupIsScopedToPort(t *testing.T) {
	w, st := newTestWorker(t)

	port443 := 443
	port8443 := 8443
	require.NoError(t, st.CreateAncillaryJob(&types.AncillaryJob{
		UUID: "existing-443", Type: types.AncillarySSLCert, HostIP: "10.1.1.1", PortNumber: &port443,
		Status: types.JobStatusPending, CreatedAt: time.Now(),
	}))

	source := &types.AncillaryJob{UUID: "src", Type: types.AncillaryBannerGrab, HostIP: "10.1.1.1", PortNumber: &port8443, ParentPrimaryJob: "p1"}
	w.enqueueFollowUp(source, types.AncillarySSLCert, 3)

	jobs, err := st.ListAncillaryJobs()
	require.NoError(t, err)
	count := 0
	for _, j := range jobs {
		if j.Type == types.AncillarySSLCert && j.HostIP == "10.1.1.1" {
			count++
		}
	}
	require.Equal(t, 2, count, "ssl_cert dedup must be scoped to (host, port), not host alone")
}

func TestHandleGeolocationCompletesForPrivateIP(t *testing.T) {
	w, _ := newTestWorker(t)

	job := &types.AncillaryJob{UUID: "geo1", Type: types.AncillaryGeolocation, HostIP: "10.1.1.1"}
	err := w.handleGeolocation(context.Background(), job)
	require.NoError(t, err, "private-IP geolocation must complete, not fail")
	require.Equal(t, "private_ip", job.Result["reason"])
}
