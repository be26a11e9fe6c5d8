package store

import (
	"testing"
	"time"

	"github.com/cuemby/faux-recon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClaimPrimaryPicksHighestPriorityPending(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	low := &types.PrimaryJob{UUID: "low", Queue: "default", Status: types.JobStatusPending, Priority: 1, CreatedAt: now}
	high := &types.PrimaryJob{UUID: "high", Queue: "default", Status: types.JobStatusPending, Priority: 9, CreatedAt: now.Add(time.Second)}

	require.NoError(t, s.CreatePrimaryJob(low))
	require.NoError(t, s.CreatePrimaryJob(high))

	claimed, err := s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "high", claimed.UUID)
	assert.Equal(t, types.JobStatusQueued, claimed.Status)
	assert.Equal(t, "worker-1", claimed.AssignedWorker)

	stored, err := s.GetPrimaryJob("high")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusQueued, stored.Status)
}

func TestClaimPrimaryIteratesQueuesByDescendingPriority(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.CreateQueue(&types.Queue{Name: "bulk", Priority: 0, MaxConcurrent: 5, Enabled: true}))
	require.NoError(t, s.CreateQueue(&types.Queue{Name: "urgent", Priority: 10, MaxConcurrent: 5, Enabled: true}))
	require.NoError(t, s.CreateQueue(&types.Queue{Name: "paused", Priority: 20, MaxConcurrent: 5, Enabled: false}))

	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{UUID: "bulk-job", Queue: "bulk", Status: types.JobStatusPending, Priority: 9, CreatedAt: now}))
	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{UUID: "urgent-job", Queue: "urgent", Status: types.JobStatusPending, Priority: 0, CreatedAt: now}))
	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{UUID: "paused-job", Queue: "paused", Status: types.JobStatusPending, Priority: 0, CreatedAt: now}))

	claimed, err := s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "urgent-job", claimed.UUID, "the highest-priority enabled queue wins regardless of per-job priority elsewhere")

	claimed, err = s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "bulk-job", claimed.UUID, "a disabled queue is never claimed from, even at higher queue priority")

	claimed, err = s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimPrimaryHonorsQueueMaxConcurrent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.CreateQueue(&types.Queue{Name: "narrow", MaxConcurrent: 1, Enabled: true}))
	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{UUID: "in-flight", Queue: "narrow", Status: types.JobStatusRunning, CreatedAt: now}))
	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{UUID: "waiting", Queue: "narrow", Status: types.JobStatusPending, CreatedAt: now}))

	claimed, err := s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	assert.Nil(t, claimed, "a queue at max_concurrent has no claimable capacity")
}

func TestClaimPrimarySkipsUnsupportedJobTypes(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{
		UUID: "nmap-job", Queue: "default", Type: types.PrimaryJobNmap, Status: types.JobStatusPending, Priority: 9, CreatedAt: now,
	}))
	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{
		UUID: "masscan-job", Queue: "default", Type: types.PrimaryJobMasscan, Status: types.JobStatusPending, Priority: 0, CreatedAt: now,
	}))

	claimed, err := s.ClaimPrimary("worker-1", []string{string(types.PrimaryJobMasscan)})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "masscan-job", claimed.UUID)

	claimed, err = s.ClaimPrimary("worker-1", []string{string(types.PrimaryJobMasscan)})
	require.NoError(t, err)
	assert.Nil(t, claimed, "the nmap job stays pending for a worker that supports it")
}

func TestClaimPrimarySkipsJobsScheduledForTheFuture(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{
		UUID: "later", Queue: "default", Status: types.JobStatusPending, Priority: 9,
		ScheduledFor: &future, CreatedAt: now,
	}))
	require.NoError(t, s.CreatePrimaryJob(&types.PrimaryJob{
		UUID: "due", Queue: "default", Status: types.JobStatusPending, Priority: 1,
		ScheduledFor: &past, CreatedAt: now,
	}))

	claimed, err := s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "due", claimed.UUID, "a higher-priority job scheduled for the future must not preempt a due job")

	claimed, err = s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	assert.Nil(t, claimed, "the future-scheduled job is not yet claimable")
}

func TestClaimPrimaryNoPendingJobsReturnsNil(t *testing.T) {
	s := newTestStore(t)
	claimed, err := s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimPrimaryDoesNotDoubleClaim(t *testing.T) {
	s := newTestStore(t)
	job := &types.PrimaryJob{UUID: "a", Queue: "default", Status: types.JobStatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.CreatePrimaryJob(job))

	first, err := s.ClaimPrimary("worker-1", nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.ClaimPrimary("worker-2", nil)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestClaimAncillaryBatchRespectsTypePriorityThenFills(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.CreateAncillaryJob(&types.AncillaryJob{UUID: "banner", Type: types.AncillaryBannerGrab, Status: types.JobStatusPending, CreatedAt: now}))
	require.NoError(t, s.CreateAncillaryJob(&types.AncillaryJob{UUID: "domain", Type: types.AncillaryDomainEnum, Status: types.JobStatusPending, CreatedAt: now}))
	require.NoError(t, s.CreateAncillaryJob(&types.AncillaryJob{UUID: "ssl", Type: types.AncillarySSLCert, Status: types.JobStatusPending, CreatedAt: now}))

	priority := []types.AncillaryJobType{types.AncillarySSLCert, types.AncillaryBannerGrab, types.AncillaryDomainEnum}
	claimed, err := s.ClaimAncillaryBatch("worker-1", 2, priority)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "ssl", claimed[0].UUID)
	assert.Equal(t, "banner", claimed[1].UUID)

	remaining, err := s.GetAncillaryJob("domain")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, remaining.Status)
}

func TestUpsertPortCreatesHostOnFirstSighting(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	result, err := s.UpsertPort("10.0.0.1", &types.Port{PortNumber: 443, Proto: "tcp", Status: "open", LastSeen: now})
	require.NoError(t, err)
	assert.True(t, result.HostCreated)
	assert.Equal(t, "10.0.0.1/443/tcp", result.Port.ID)

	result2, err := s.UpsertPort("10.0.0.1", &types.Port{PortNumber: 22, Proto: "tcp", Status: "open", LastSeen: now})
	require.NoError(t, err)
	assert.False(t, result2.HostCreated)

	ports, err := s.ListPortsByHost("10.0.0.1")
	require.NoError(t, err)
	assert.Len(t, ports, 2)
}

func TestUpsertPortRefreshesExistingRow(t *testing.T) {
	s := newTestStore(t)
	first := time.Now()
	_, err := s.UpsertPort("10.0.0.2", &types.Port{PortNumber: 80, Proto: "tcp", Status: "open", LastSeen: first})
	require.NoError(t, err)

	second := first.Add(time.Hour)
	result, err := s.UpsertPort("10.0.0.2", &types.Port{PortNumber: 80, Proto: "tcp", Status: "open", LastSeen: second})
	require.NoError(t, err)
	assert.False(t, result.HostCreated)

	ports, err := s.ListPortsByHost("10.0.0.2")
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.True(t, ports[0].LastSeen.Equal(second))
}

func TestUpsertDomainReportsCreatedOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	d := &types.Domain{Name: "example.com", Source: types.DomainSourceReverseDNS, HostIP: "10.0.0.3"}

	created, err := s.UpsertDomain(d)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertDomain(d)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUpsertSSLCertificateIsIdempotentByFingerprint(t *testing.T) {
	s := newTestStore(t)
	cert := &types.SSLCertificate{
		Fingerprint: "AA:BB:CC",
		SubjectCN:   "example.com",
		HostIP:      "10.0.0.4",
		ValidFrom:   time.Now().Format(time.RFC3339),
	}

	created, err := s.UpsertSSLCertificate(cert)
	require.NoError(t, err)
	assert.True(t, created)

	cert.SubjectCN = "updated.example.com"
	created, err = s.UpsertSSLCertificate(cert)
	require.NoError(t, err)
	assert.False(t, created, "re-observing the same fingerprint must update, not duplicate")

	certs, err := s.ListSSLCertificatesByHost("10.0.0.4")
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "updated.example.com", certs[0].SubjectCN)
}

func TestAdjustWorkerCountClampsAtZero(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterWorker(&types.Worker{WorkerID: "w-1", Status: types.WorkerStatusIdle, MaxConcurrent: 2}))

	require.NoError(t, s.AdjustWorkerCount("w-1", 1))
	require.NoError(t, s.AdjustWorkerCount("w-1", 1))
	w, err := s.GetWorker("w-1")
	require.NoError(t, err)
	assert.Equal(t, 2, w.CurrentCount)
	assert.False(t, w.IsAvailable(), "a worker at max_concurrent has no free slots")

	require.NoError(t, s.AdjustWorkerCount("w-1", -1))
	require.NoError(t, s.AdjustWorkerCount("w-1", -1))
	require.NoError(t, s.AdjustWorkerCount("w-1", -1))
	w, err = s.GetWorker("w-1")
	require.NoError(t, err)
	assert.Zero(t, w.CurrentCount)

	require.Error(t, s.AdjustWorkerCount("missing", 1))
}

func TestHeartbeatUpdatesLastHeartbeat(t *testing.T) {
	s := newTestStore(t)
	w := &types.Worker{WorkerID: "w-1", Status: types.WorkerStatusIdle, MaxConcurrent: 1}
	require.NoError(t, s.RegisterWorker(w))

	at := time.Now().Add(time.Minute)
	require.NoError(t, s.Heartbeat("w-1", at))

	got, err := s.GetWorker("w-1")
	require.NoError(t, err)
	assert.True(t, got.LastHeartbeat.Equal(at))
}
