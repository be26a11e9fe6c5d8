package types

import "time"

// Queue is a named bucket with a priority and concurrency cap used by the
// scheduler to select work. Queues are long-lived configuration rows.
type Queue struct {
	Name          string
	Description   string
	MaxConcurrent int
	Priority      int
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobStatus is the status machine shared by PrimaryJob and AncillaryJob:
// pending -> queued -> running -> (completed | failed | cancelled | retrying -> pending).
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusRetrying  JobStatus = "retrying"
)

// PrimaryJobType is the kind of scan a PrimaryJob performs.
type PrimaryJobType string

const (
	PrimaryJobMasscan PrimaryJobType = "masscan"
	PrimaryJobNmap    PrimaryJobType = "nmap"
	PrimaryJobCustom  PrimaryJobType = "custom"
)

// PrimaryJob is a top-level scan request that may produce discoveries.
type PrimaryJob struct {
	UUID           string
	Type           PrimaryJobType
	Status         JobStatus
	Priority       int
	Target         string
	Ports          []string
	Options        ScanOptions
	Queue          string
	AssignedWorker string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ScheduledFor   *time.Time
	RetryCount     int
	MaxRetries     int
	Error          string
	Progress       int
	ScanUUID       string
}

// ScanOptions are the per-job scan tunables: SYN is on by default,
// everything else opt-in.
type ScanOptions struct {
	SYN            bool
	TCP            bool
	UDP            bool
	UseProxychains bool
	Rate           int
	Resume         bool
	AllPorts       bool
	TimeoutSeconds int
}

// AncillaryJobType is the kind of post-discovery follow-up analysis.
type AncillaryJobType string

const (
	AncillaryBannerGrab        AncillaryJobType = "banner_grab"
	AncillaryDomainEnum        AncillaryJobType = "domain_enum"
	AncillarySSLCert           AncillaryJobType = "ssl_cert"
	AncillaryGeolocation       AncillaryJobType = "geolocation"
	AncillaryServiceDetection  AncillaryJobType = "service_detection"
	AncillaryVulnerabilityScan AncillaryJobType = "vulnerability_scan"
)

// AncillaryJob is a per-discovery follow-up triggered by a Port upsert or by
// banner-analysis policy. PortNumber is required for banner_grab/ssl_cert and
// null for the host-level domain_enum/geolocation jobs.
type AncillaryJob struct {
	UUID             string
	Type             AncillaryJobType
	Status           JobStatus
	Priority         int
	HostIP           string
	PortNumber       *int
	Protocol         string
	PortID           string
	HostID           string
	ParentPrimaryJob string
	AssignedWorker   string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Result           map[string]any
	Error            string
	RetryCount       int
	MaxRetries       int
	Metadata         map[string]any
}

// WorkerStatus is the lifecycle state of a registered worker process.
type WorkerStatus string

const (
	WorkerStatusActive  WorkerStatus = "active"
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusOffline WorkerStatus = "offline"
	WorkerStatusError   WorkerStatus = "error"
)

// Worker is a process registered in the Store that heartbeats and leases jobs.
type Worker struct {
	WorkerID       string
	Status         WorkerStatus
	Hostname       string
	PID            int
	SupportedTypes []string
	MaxConcurrent  int
	CurrentCount   int
	LastHeartbeat  time.Time
	CreatedAt      time.Time
	Version        string
	Metadata       map[string]any
}

// IsAvailable reports whether the worker can accept new jobs.
func (w *Worker) IsAvailable() bool {
	return (w.Status == WorkerStatusActive || w.Status == WorkerStatusIdle) &&
		w.CurrentCount < w.MaxConcurrent
}

// IsStale reports whether the worker's last heartbeat is older than the given
// threshold, i.e. it should be considered crashed by the reconciler sweeper.
func (w *Worker) IsStale(threshold time.Duration, now time.Time) bool {
	return now.Sub(w.LastHeartbeat) > threshold
}

// Scan is one executed discovery run, referenced by the Ports it discovers.
type Scan struct {
	UUID      string
	Command   string
	StartTime time.Time
	EndTime   *time.Time
	Status    string
	Type      string
	User      string
}

// Host is created on first discovery of an IP and enriched by later
// analyzers (geolocation, domain enumeration).
type Host struct {
	IP                 string
	LastSeen           *time.Time
	Country            string
	CountryCode        string
	Region             string
	City               string
	Latitude           float64
	Longitude          float64
	Timezone           string
	ISP                string
	Organization       string
	ASN                string
	GeolocationUpdated *time.Time
}

// NeedsGeolocationUpdate reports whether the host's geolocation data is
// missing or older than maxAge.
func (h *Host) NeedsGeolocationUpdate(maxAge time.Duration, now time.Time) bool {
	if h.GeolocationUpdated == nil {
		return true
	}
	return now.Sub(*h.GeolocationUpdated) > maxAge
}

// Port is unique per (host, port_number, proto). Re-discovery only refreshes
// status/last_seen; it never inserts a duplicate row.
type Port struct {
	ID         string
	HostIP     string
	PortNumber int
	Proto      string
	Status     string
	LastSeen   time.Time
	Banner     string
	ScanUUID   string
}

// DomainSource records which analyzer surfaced a domain name.
type DomainSource string

const (
	DomainSourceReverseDNS DomainSource = "reverse_dns"
	DomainSourceSSLCN      DomainSource = "ssl_cn"
	DomainSourceSSLSAN     DomainSource = "ssl_san"
	DomainSourceHTTPHeader DomainSource = "http_header"
)

// Domain is a discovered hostname for a Host; (Name, HostIP) is effectively
// unique.
type Domain struct {
	Name   string
	Source DomainSource
	HostIP string
}

// SSLCertificate is unique by Fingerprint (SHA-256 preferred, SHA-1 fallback).
// Re-observation of the same certificate re-points Host/Port to the latest
// sighting rather than inserting a duplicate row.
type SSLCertificate struct {
	Fingerprint        string
	PEMData            string
	SubjectCN          string
	IssuerCN           string
	ValidFrom          string
	ValidUntil         string
	SignatureAlgorithm string
	Extensions         map[string]string
	Domains            []string
	HostIP             string
	PortID             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UpsertResult is the outcome of a Store port upsert: the stored row plus
// whether the host was seen for the first time.
type UpsertResult struct {
	Port        *Port
	HostCreated bool
}
