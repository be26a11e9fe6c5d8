package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/faux-recon/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketQueues        = []byte("queues")
	bucketPrimaryJobs   = []byte("primary_jobs")
	bucketAncillaryJobs = []byte("ancillary_jobs")
	bucketWorkers       = []byte("workers")
	bucketScans         = []byte("scans")
	bucketHosts         = []byte("hosts")
	bucketPorts         = []byte("ports")
	bucketDomains       = []byte("domains")
	bucketSSLCerts      = []byte("ssl_certificates")
)

// BoltStore implements Store using BoltDB, giving the job engine ACID claim
// transactions without an external database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the job engine's database file
// under dataDir and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "reconjob.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketQueues,
			bucketPrimaryJobs,
			bucketAncillaryJobs,
			bucketWorkers,
			bucketScans,
			bucketHosts,
			bucketPorts,
			bucketDomains,
			bucketSSLCerts,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func portKey(hostIP string, portNumber int, proto string) []byte {
	return []byte(fmt.Sprintf("%s/%d/%s", hostIP, portNumber, proto))
}

func domainKey(hostIP, name string) []byte {
	return []byte(hostIP + "|" + name)
}

// --- Queues ---

func (s *BoltStore) CreateQueue(q *types.Queue) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(q)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketQueues).Put([]byte(q.Name), data)
	})
}

func (s *BoltStore) GetQueue(name string) (*types.Queue, error) {
	var q types.Queue
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketQueues).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("queue not found: %s", name)
		}
		return json.Unmarshal(data, &q)
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *BoltStore) ListQueues() ([]*types.Queue, error) {
	var queues []*types.Queue
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueues).ForEach(func(k, v []byte) error {
			var q types.Queue
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			queues = append(queues, &q)
			return nil
		})
	})
	return queues, err
}

func (s *BoltStore) UpdateQueue(q *types.Queue) error {
	return s.CreateQueue(q)
}

func (s *BoltStore) DeleteQueue(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueues).Delete([]byte(name))
	})
}

// --- Primary jobs ---

func (s *BoltStore) CreatePrimaryJob(job *types.PrimaryJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPrimaryJobs).Put([]byte(job.UUID), data)
	})
}

func (s *BoltStore) GetPrimaryJob(uuid string) (*types.PrimaryJob, error) {
	var job types.PrimaryJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPrimaryJobs).Get([]byte(uuid))
		if data == nil {
			return fmt.Errorf("primary job not found: %s", uuid)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListPrimaryJobs() ([]*types.PrimaryJob, error) {
	var jobs []*types.PrimaryJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrimaryJobs).ForEach(func(k, v []byte) error {
			var job types.PrimaryJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListPrimaryJobsByQueue(queue string) ([]*types.PrimaryJob, error) {
	jobs, err := s.ListPrimaryJobs()
	if err != nil {
		return nil, err
	}
	var filtered []*types.PrimaryJob
	for _, j := range jobs {
		if j.Queue == queue {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdatePrimaryJob(job *types.PrimaryJob) error {
	return s.CreatePrimaryJob(job)
}

func (s *BoltStore) DeletePrimaryJob(uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrimaryJobs).Delete([]byte(uuid))
	})
}

// ClaimPrimary walks every enabled queue in descending priority and picks
// the first claimable pending job: one of a supported type, due per
// ScheduledFor, in a queue whose in-flight count (queued+running) is still
// below MaxConcurrent. Ties inside a queue break on (priority desc,
// created_at asc). The whole selection runs in one write transaction, so two
// workers racing on the same tick never observe the same pending row. A
// queue referenced by jobs but missing a Queue row is treated as enabled
// with unlimited capacity; an empty supportedTypes claims any type.
func (s *BoltStore) ClaimPrimary(workerID string, supportedTypes []string) (*types.PrimaryJob, error) {
	var claimed *types.PrimaryJob
	now := time.Now()
	supported := make(map[types.PrimaryJobType]bool, len(supportedTypes))
	for _, t := range supportedTypes {
		supported[types.PrimaryJobType(t)] = true
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		queues := make(map[string]*types.Queue)
		if err := tx.Bucket(bucketQueues).ForEach(func(k, v []byte) error {
			var q types.Queue
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			queues[q.Name] = &q
			return nil
		}); err != nil {
			return err
		}

		b := tx.Bucket(bucketPrimaryJobs)
		inFlight := make(map[string]int)
		pending := make(map[string][]*types.PrimaryJob)
		if err := b.ForEach(func(k, v []byte) error {
			var job types.PrimaryJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			switch job.Status {
			case types.JobStatusQueued, types.JobStatusRunning:
				inFlight[job.Queue]++
			case types.JobStatusPending:
				if job.ScheduledFor != nil && job.ScheduledFor.After(now) {
					return nil
				}
				if len(supported) > 0 && !supported[job.Type] {
					return nil
				}
				pending[job.Queue] = append(pending[job.Queue], &job)
			}
			return nil
		}); err != nil {
			return err
		}

		for name := range pending {
			if _, ok := queues[name]; !ok {
				queues[name] = &types.Queue{Name: name, Enabled: true}
			}
		}
		ordered := make([]*types.Queue, 0, len(queues))
		for _, q := range queues {
			ordered = append(ordered, q)
		}
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].Priority != ordered[j].Priority {
				return ordered[i].Priority > ordered[j].Priority
			}
			return ordered[i].Name < ordered[j].Name
		})

		for _, q := range ordered {
			if !q.Enabled {
				continue
			}
			if q.MaxConcurrent > 0 && inFlight[q.Name] >= q.MaxConcurrent {
				continue
			}
			candidates := pending[q.Name]
			if len(candidates) == 0 {
				continue
			}
			sort.Slice(candidates, func(i, j int) bool {
				if candidates[i].Priority != candidates[j].Priority {
					return candidates[i].Priority > candidates[j].Priority
				}
				return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
			})
			job := candidates[0]
			job.Status = types.JobStatusQueued
			job.AssignedWorker = workerID
			data, err := json.Marshal(job)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(job.UUID), data); err != nil {
				return err
			}
			claimed = job
			return nil
		}
		return nil
	})
	return claimed, err
}

// --- Ancillary jobs ---

func (s *BoltStore) CreateAncillaryJob(job *types.AncillaryJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAncillaryJobs).Put([]byte(job.UUID), data)
	})
}

func (s *BoltStore) GetAncillaryJob(uuid string) (*types.AncillaryJob, error) {
	var job types.AncillaryJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAncillaryJobs).Get([]byte(uuid))
		if data == nil {
			return fmt.Errorf("ancillary job not found: %s", uuid)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListAncillaryJobs() ([]*types.AncillaryJob, error) {
	var jobs []*types.AncillaryJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAncillaryJobs).ForEach(func(k, v []byte) error {
			var job types.AncillaryJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListAncillaryJobsByParent(parentPrimaryJob string) ([]*types.AncillaryJob, error) {
	jobs, err := s.ListAncillaryJobs()
	if err != nil {
		return nil, err
	}
	var filtered []*types.AncillaryJob
	for _, j := range jobs {
		if j.ParentPrimaryJob == parentPrimaryJob {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateAncillaryJob(job *types.AncillaryJob) error {
	return s.CreateAncillaryJob(job)
}

func (s *BoltStore) DeleteAncillaryJob(uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAncillaryJobs).Delete([]byte(uuid))
	})
}

// ClaimAncillaryBatch fills up to n slots, walking typePriority in order and
// falling back to any remaining pending type once the preferred types are
// exhausted.
func (s *BoltStore) ClaimAncillaryBatch(workerID string, n int, typePriority []types.AncillaryJobType) ([]*types.AncillaryJob, error) {
	if n <= 0 {
		return nil, nil
	}
	var claimed []*types.AncillaryJob
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAncillaryJobs)
		var pending []*types.AncillaryJob
		if err := b.ForEach(func(k, v []byte) error {
			var job types.AncillaryJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status == types.JobStatusPending {
				pending = append(pending, &job)
			}
			return nil
		}); err != nil {
			return err
		}
		sort.Slice(pending, func(i, j int) bool {
			if pending[i].Priority != pending[j].Priority {
				return pending[i].Priority > pending[j].Priority
			}
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		})

		rank := make(map[types.AncillaryJobType]int, len(typePriority))
		for i, t := range typePriority {
			rank[t] = i
		}
		sort.SliceStable(pending, func(i, j int) bool {
			ri, oki := rank[pending[i].Type]
			rj, okj := rank[pending[j].Type]
			if oki && okj {
				return ri < rj
			}
			return oki && !okj
		})

		for _, job := range pending {
			if len(claimed) >= n {
				break
			}
			job.Status = types.JobStatusQueued
			job.AssignedWorker = workerID
			data, err := json.Marshal(job)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(job.UUID), data); err != nil {
				return err
			}
			claimed = append(claimed, job)
		}
		return nil
	})
	return claimed, err
}

// --- Workers ---

func (s *BoltStore) RegisterWorker(w *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkers).Put([]byte(w.WorkerID), data)
	})
}

func (s *BoltStore) GetWorker(id string) (*types.Worker, error) {
	var w types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("worker not found: %s", id)
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var w types.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workers = append(workers, &w)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) UpdateWorker(w *types.Worker) error {
	return s.RegisterWorker(w)
}

func (s *BoltStore) DeleteWorker(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(id))
	})
}

func (s *BoltStore) Heartbeat(id string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("worker not found: %s", id)
		}
		var w types.Worker
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		w.LastHeartbeat = at
		out, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

func (s *BoltStore) AdjustWorkerCount(id string, delta int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("worker not found: %s", id)
		}
		var w types.Worker
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		w.CurrentCount += delta
		if w.CurrentCount < 0 {
			w.CurrentCount = 0
		}
		out, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

// --- Scans ---

func (s *BoltStore) CreateScan(scan *types.Scan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(scan)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketScans).Put([]byte(scan.UUID), data)
	})
}

func (s *BoltStore) GetScan(uuid string) (*types.Scan, error) {
	var scan types.Scan
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketScans).Get([]byte(uuid))
		if data == nil {
			return fmt.Errorf("scan not found: %s", uuid)
		}
		return json.Unmarshal(data, &scan)
	})
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

func (s *BoltStore) ListScans() ([]*types.Scan, error) {
	var scans []*types.Scan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketScans).ForEach(func(k, v []byte) error {
			var scan types.Scan
			if err := json.Unmarshal(v, &scan); err != nil {
				return err
			}
			scans = append(scans, &scan)
			return nil
		})
	})
	return scans, err
}

func (s *BoltStore) UpdateScan(scan *types.Scan) error {
	return s.CreateScan(scan)
}

// --- Hosts ---

func (s *BoltStore) GetHost(ip string) (*types.Host, error) {
	var h types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHosts).Get([]byte(ip))
		if data == nil {
			return fmt.Errorf("host not found: %s", ip)
		}
		return json.Unmarshal(data, &h)
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *BoltStore) ListHosts() ([]*types.Host, error) {
	var hosts []*types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).ForEach(func(k, v []byte) error {
			var h types.Host
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			hosts = append(hosts, &h)
			return nil
		})
	})
	return hosts, err
}

func (s *BoltStore) UpdateHost(h *types.Host) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(h)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHosts).Put([]byte(h.IP), data)
	})
}

// --- Ports ---

// UpsertPort creates the host row on first sighting and either inserts the
// port or refreshes an existing one, all within a single transaction so the
// discovery pipeline's "upsert host, upsert port" step is atomic.
func (s *BoltStore) UpsertPort(hostIP string, port *types.Port) (*types.UpsertResult, error) {
	result := &types.UpsertResult{}
	err := s.db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHosts)
		now := port.LastSeen
		if data := hb.Get([]byte(hostIP)); data == nil {
			h := &types.Host{IP: hostIP, LastSeen: &now}
			out, err := json.Marshal(h)
			if err != nil {
				return err
			}
			if err := hb.Put([]byte(hostIP), out); err != nil {
				return err
			}
			result.HostCreated = true
		} else {
			var h types.Host
			if err := json.Unmarshal(data, &h); err != nil {
				return err
			}
			h.LastSeen = &now
			out, err := json.Marshal(h)
			if err != nil {
				return err
			}
			if err := hb.Put([]byte(hostIP), out); err != nil {
				return err
			}
		}

		pb := tx.Bucket(bucketPorts)
		key := portKey(hostIP, port.PortNumber, port.Proto)
		port.ID = string(key)
		port.HostIP = hostIP
		if prev := pb.Get(key); prev != nil {
			var existing types.Port
			if err := json.Unmarshal(prev, &existing); err != nil {
				return err
			}
			// Re-discovery carries no banner; keep the one already stored.
			if port.Banner == "" {
				port.Banner = existing.Banner
			}
		}
		data, err := json.Marshal(port)
		if err != nil {
			return err
		}
		if err := pb.Put(key, data); err != nil {
			return err
		}
		result.Port = port
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) GetPort(id string) (*types.Port, error) {
	var p types.Port
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPorts).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("port not found: %s", id)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPortsByHost(hostIP string) ([]*types.Port, error) {
	var ports []*types.Port
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPorts).ForEach(func(k, v []byte) error {
			var p types.Port
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.HostIP == hostIP {
				ports = append(ports, &p)
			}
			return nil
		})
	})
	return ports, err
}

func (s *BoltStore) UpdatePort(p *types.Port) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPorts).Put([]byte(p.ID), data)
	})
}

// --- Domains ---

func (s *BoltStore) UpsertDomain(d *types.Domain) (bool, error) {
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDomains)
		key := domainKey(d.HostIP, d.Name)
		if b.Get(key) == nil {
			created = true
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return created, err
}

func (s *BoltStore) ListDomainsByHost(hostIP string) ([]*types.Domain, error) {
	var domains []*types.Domain
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDomains).ForEach(func(k, v []byte) error {
			var d types.Domain
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.HostIP == hostIP {
				domains = append(domains, &d)
			}
			return nil
		})
	})
	return domains, err
}

// --- SSL certificates ---

func (s *BoltStore) UpsertSSLCertificate(c *types.SSLCertificate) (bool, error) {
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSSLCerts)
		key := []byte(c.Fingerprint)
		if b.Get(key) == nil {
			created = true
		}
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return created, err
}

func (s *BoltStore) GetSSLCertificate(fingerprint string) (*types.SSLCertificate, error) {
	var c types.SSLCertificate
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSSLCerts).Get([]byte(fingerprint))
		if data == nil {
			return fmt.Errorf("ssl certificate not found: %s", fingerprint)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListSSLCertificatesByHost(hostIP string) ([]*types.SSLCertificate, error) {
	var certs []*types.SSLCertificate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSSLCerts).ForEach(func(k, v []byte) error {
			var c types.SSLCertificate
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.HostIP == hostIP {
				certs = append(certs, &c)
			}
			return nil
		})
	})
	return certs, err
}
