package store

import (
	"time"

	"github.com/cuemby/faux-recon/pkg/types"
)

// Store defines the durable persistence interface for the job engine: queues,
// primary and ancillary jobs, workers, and discovery results (scans, hosts,
// ports, domains, certificates). Claim operations must be atomic so that two
// workers never observe the same pending job.
type Store interface {
	// Queues
	CreateQueue(q *types.Queue) error
	GetQueue(name string) (*types.Queue, error)
	ListQueues() ([]*types.Queue, error)
	UpdateQueue(q *types.Queue) error
	DeleteQueue(name string) error

	// Primary jobs
	CreatePrimaryJob(job *types.PrimaryJob) error
	GetPrimaryJob(uuid string) (*types.PrimaryJob, error)
	ListPrimaryJobs() ([]*types.PrimaryJob, error)
	ListPrimaryJobsByQueue(queue string) ([]*types.PrimaryJob, error)
	UpdatePrimaryJob(job *types.PrimaryJob) error
	DeletePrimaryJob(uuid string) error

	// ClaimPrimary iterates enabled queues in descending priority and
	// atomically selects the first pending job of a supported type whose
	// queue still has in-flight capacity (oldest CreatedAt breaks priority
	// ties within a queue), marks it queued and assigned to workerID, and
	// returns it. Returns (nil, nil) if no job is claimable.
	ClaimPrimary(workerID string, supportedTypes []string) (*types.PrimaryJob, error)

	// Ancillary jobs
	CreateAncillaryJob(job *types.AncillaryJob) error
	GetAncillaryJob(uuid string) (*types.AncillaryJob, error)
	ListAncillaryJobs() ([]*types.AncillaryJob, error)
	ListAncillaryJobsByParent(parentPrimaryJob string) ([]*types.AncillaryJob, error)
	UpdateAncillaryJob(job *types.AncillaryJob) error
	DeleteAncillaryJob(uuid string) error

	// ClaimAncillaryBatch atomically selects up to n pending ancillary jobs,
	// preferring the priority order in typePriority when multiple types are
	// pending, marks them queued and assigned to workerID, and returns them.
	ClaimAncillaryBatch(workerID string, n int, typePriority []types.AncillaryJobType) ([]*types.AncillaryJob, error)

	// Workers
	RegisterWorker(w *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorker(w *types.Worker) error
	DeleteWorker(id string) error
	Heartbeat(id string, at time.Time) error

	// AdjustWorkerCount atomically adds delta to the worker's current_count,
	// clamping at zero, so concurrent handler goroutines never lose an update.
	AdjustWorkerCount(id string, delta int) error

	// Scans
	CreateScan(s *types.Scan) error
	GetScan(uuid string) (*types.Scan, error)
	ListScans() ([]*types.Scan, error)
	UpdateScan(s *types.Scan) error

	// Hosts
	GetHost(ip string) (*types.Host, error)
	ListHosts() ([]*types.Host, error)
	UpdateHost(h *types.Host) error

	// UpsertPort creates the host (if new) and the port (if new), or refreshes
	// status/last_seen/scan_uuid on an existing port. It never inserts a
	// duplicate (host, port_number, proto) row.
	UpsertPort(hostIP string, port *types.Port) (*types.UpsertResult, error)
	GetPort(id string) (*types.Port, error)
	ListPortsByHost(hostIP string) ([]*types.Port, error)
	UpdatePort(p *types.Port) error

	// Domains
	UpsertDomain(d *types.Domain) (created bool, err error)
	ListDomainsByHost(hostIP string) ([]*types.Domain, error)

	// SSL certificates
	UpsertSSLCertificate(c *types.SSLCertificate) (created bool, err error)
	GetSSLCertificate(fingerprint string) (*types.SSLCertificate, error)
	ListSSLCertificatesByHost(hostIP string) ([]*types.SSLCertificate, error)

	// Utility
	Close() error
}
