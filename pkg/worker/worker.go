// Package worker implements the job-engine Worker Runtime: a process that
// registers itself in the Store, heartbeats, and repeatedly claims and
// executes primary and ancillary jobs until told to shut down.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuemby/faux-recon/pkg/analyze"
	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/discovery"
	"github.com/cuemby/faux-recon/pkg/log"
	"github.com/cuemby/faux-recon/pkg/metrics"
	"github.com/cuemby/faux-recon/pkg/scheduler"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
)

// Config holds the per-process tunables for a worker.
type Config struct {
	WorkerID          string
	SupportedTypes    []string
	MaxConcurrent     int
	DispatchInterval  time.Duration
	HeartbeatInterval time.Duration
	ShutdownDrain     time.Duration
	Version           string
}

// DefaultConfig returns a worker config with an auto-generated ID and the
// full set of job types supported.
func DefaultConfig() Config {
	host, _ := os.Hostname()
	return Config{
		WorkerID: fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		SupportedTypes: []string{
			string(types.PrimaryJobMasscan),
			string(types.AncillaryBannerGrab),
			string(types.AncillarySSLCert),
			string(types.AncillaryDomainEnum),
			string(types.AncillaryGeolocation),
		},
		MaxConcurrent:     4,
		DispatchInterval:  1 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownDrain:     30 * time.Second,
	}
}

// Worker runs the dispatch loop that claims jobs from the Scheduler and
// executes them, alongside an independent heartbeat loop.
type Worker struct {
	id     string
	cfg    Config
	store  store.Store
	sched  *scheduler.Scheduler
	logger zerolog.Logger

	discovery *discovery.Runner
	banner    *analyze.BannerGrabber
	classify  *analyze.BannerAnalyzer
	ssl       *analyze.SSLGrabber
	domains   *analyze.DomainEnumerator
	geo       *analyze.GeolocationClient

	sem      chan struct{}
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Worker backed by st and sched, with analyzers constructed
// from cfg's timeouts and the worker-specific workerCfg.
func New(st store.Store, sched *scheduler.Scheduler, cfg config.Config, workerCfg Config) *Worker {
	if workerCfg.WorkerID == "" {
		d := DefaultConfig()
		workerCfg.WorkerID = d.WorkerID
	}
	if workerCfg.MaxConcurrent <= 0 {
		workerCfg.MaxConcurrent = 4
	}
	if workerCfg.DispatchInterval <= 0 {
		workerCfg.DispatchInterval = cfg.DispatchInterval
	}
	if workerCfg.HeartbeatInterval <= 0 {
		workerCfg.HeartbeatInterval = cfg.HeartbeatInterval
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
			rdb = redis.NewClient(opts)
		}
	}

	return &Worker{
		id:        workerCfg.WorkerID,
		cfg:       workerCfg,
		store:     st,
		sched:     sched,
		logger:    log.WithWorkerID(workerCfg.WorkerID),
		discovery: discovery.NewRunner(st, cfg),
		banner:    analyze.NewBannerGrabber(cfg.NmapPath, cfg.BannerGrabTimeout),
		classify:  analyze.NewBannerAnalyzer(),
		ssl:       analyze.NewSSLGrabber(cfg.SSLGrabTimeout),
		domains:   analyze.NewDomainEnumerator(cfg.DomainEnumTimeout, cfg.DNSResolver),
		geo:       analyze.NewGeolocationClient(rdb, cfg.IPInfoToken, cfg.IPGeolocationAPIKey, cfg.GeolocationTimeout),
		sem:       make(chan struct{}, workerCfg.MaxConcurrent),
		stopCh:    make(chan struct{}),
	}
}

// Run registers the worker, starts the heartbeat and dispatch loops, and
// blocks until ctx is cancelled or Stop is called, then drains in-flight
// work before returning.
func (w *Worker) Run(ctx context.Context) error {
	host, _ := os.Hostname()
	now := time.Now()
	if err := w.store.RegisterWorker(&types.Worker{
		WorkerID:       w.id,
		Status:         types.WorkerStatusActive,
		Hostname:       host,
		PID:            os.Getpid(),
		SupportedTypes: w.cfg.SupportedTypes,
		MaxConcurrent:  w.cfg.MaxConcurrent,
		LastHeartbeat:  now,
		CreatedAt:      now,
		Version:        w.cfg.Version,
	}); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	w.logger.Info().Strs("supported_types", w.cfg.SupportedTypes).Int("max_concurrent", w.cfg.MaxConcurrent).Msg("worker registered")
	metrics.UpdateComponent("worker", true, "dispatching")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); w.heartbeatLoop(runCtx) }()
	go func() { defer loops.Done(); w.dispatchLoop(runCtx) }()

	select {
	case <-ctx.Done():
	case <-w.stopCh:
	}
	cancel()
	loops.Wait()

	return w.shutdown()
}

// Stop requests the dispatch loop to stop claiming new work; Run then
// drains in-flight jobs before returning.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// heartbeatLoop refreshes the worker's last_heartbeat row on
// cfg.HeartbeatInterval, backing off 10s on a store error rather than
// tightlooping.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(w.id, time.Now()); err != nil {
				w.logger.Error().Err(err).Msg("heartbeat failed")
				time.Sleep(10 * time.Second)
			}
		}
	}
}

// dispatchLoop claims work on cfg.DispatchInterval and executes it,
// bounding concurrency with w.sem.
func (w *Worker) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	select {
	case w.sem <- struct{}{}:
	default:
		return // at max_concurrent, try again next tick
	}

	primary, ancillary, err := w.sched.ClaimForWorker(w.id, w.cfg.SupportedTypes)
	if err != nil {
		<-w.sem
		w.logger.Error().Err(err).Msg("claim failed")
		return
	}
	if primary == nil && len(ancillary) == 0 {
		<-w.sem
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.store.AdjustWorkerCount(w.id, 1)
		defer w.store.AdjustWorkerCount(w.id, -1)
		if primary != nil {
			w.runPrimary(ctx, primary)
		}
		for _, job := range ancillary {
			w.runAncillary(ctx, job)
		}
	}()
}

// runPrimary executes job by type and records its terminal status. If the
// job was cancelled while the handler ran, the cancellation wins: the
// terminal status is left untouched.
func (w *Worker) runPrimary(ctx context.Context, job *types.PrimaryJob) {
	logger := log.WithJobID(job.UUID)
	now := time.Now()
	job.Status = types.JobStatusRunning
	job.StartedAt = &now
	if err := w.store.UpdatePrimaryJob(job); err != nil {
		logger.Error().Err(err).Msg("failed to mark primary job running")
	}
	metrics.RunningJobProgress.WithLabelValues(job.UUID).Set(0)

	var runErr error
	switch job.Type {
	case types.PrimaryJobMasscan:
		_, runErr = w.discovery.Run(ctx, job)
	default:
		runErr = fmt.Errorf("unsupported primary job type: %s", job.Type)
	}

	completed := time.Now()
	job.CompletedAt = &completed
	metrics.RunningJobProgress.DeleteLabelValues(job.UUID)

	if current, err := w.store.GetPrimaryJob(job.UUID); err == nil && current.Status == types.JobStatusCancelled {
		logger.Info().Msg("primary job was cancelled while running, discarding result")
		return
	}

	if runErr != nil {
		job.Error = runErr.Error()
		job.Status = types.JobStatusFailed
		metrics.PrimaryJobErrorsTotal.Inc()
		logger.Error().Err(runErr).Msg("primary job failed")
	} else {
		job.Status = types.JobStatusCompleted
		job.Progress = 100
	}

	if err := w.store.UpdatePrimaryJob(job); err != nil {
		logger.Error().Err(err).Msg("failed to persist primary job result")
	}
}

// runAncillary dispatches job to the analyzer matching its type, persisting
// the result and enqueueing any follow-up jobs the banner analysis policy
// calls for.
func (w *Worker) runAncillary(ctx context.Context, job *types.AncillaryJob) {
	logger := log.WithJobID(job.UUID)
	now := time.Now()
	job.Status = types.JobStatusRunning
	job.StartedAt = &now
	if err := w.store.UpdateAncillaryJob(job); err != nil {
		logger.Error().Err(err).Msg("failed to mark ancillary job running")
	}

	var runErr error
	switch job.Type {
	case types.AncillaryBannerGrab:
		runErr = w.handleBannerGrab(ctx, job)
	case types.AncillarySSLCert:
		runErr = w.handleSSLCert(ctx, job)
	case types.AncillaryDomainEnum:
		runErr = w.handleDomainEnum(ctx, job)
	case types.AncillaryGeolocation:
		runErr = w.handleGeolocation(ctx, job)
	default:
		runErr = fmt.Errorf("unsupported ancillary job type: %s", job.Type)
	}

	completed := time.Now()
	job.CompletedAt = &completed

	if current, err := w.store.GetAncillaryJob(job.UUID); err == nil && current.Status == types.JobStatusCancelled {
		logger.Info().Msg("ancillary job was cancelled while running, discarding result")
		return
	}

	if runErr != nil {
		job.Error = runErr.Error()
		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = types.JobStatusPending
			job.AssignedWorker = ""
			job.CompletedAt = nil
		} else {
			job.Status = types.JobStatusFailed
		}
		logger.Debug().Err(runErr).Str("type", string(job.Type)).Msg("ancillary job did not complete")
	} else {
		job.Status = types.JobStatusCompleted
	}

	if err := w.store.UpdateAncillaryJob(job); err != nil {
		logger.Error().Err(err).Msg("failed to persist ancillary job result")
	}
}

func (w *Worker) handleBannerGrab(ctx context.Context, job *types.AncillaryJob) error {
	if job.PortNumber == nil {
		return fmt.Errorf("banner_grab job missing port number")
	}
	banner := w.banner.Grab(ctx, job.HostIP, *job.PortNumber, job.Protocol)
	if banner == "" {
		job.Result = map[string]any{"banner": ""}
		return nil
	}

	if job.PortID != "" {
		if port, err := w.store.GetPort(job.PortID); err == nil {
			port.Banner = banner
			w.store.UpdatePort(port)
		}
	}

	detections := w.classify.Analyze(banner, *job.PortNumber)
	job.Result = map[string]any{"banner": banner, "service_type": string(detections[0].ServiceType), "confidence": detections[0].Confidence}

	if w.classify.ShouldQueueSSLCert(detections) {
		w.enqueueFollowUp(job, types.AncillarySSLCert, w.classify.SSLCertPriority(detections))
	}
	if w.classify.ShouldQueueDomainEnum(detections) {
		w.enqueueFollowUp(job, types.AncillaryDomainEnum, w.classify.DomainEnumPriority(detections))
	}
	return nil
}

func (w *Worker) handleSSLCert(ctx context.Context, job *types.AncillaryJob) error {
	if job.PortNumber == nil {
		return fmt.Errorf("ssl_cert job missing port number")
	}
	cert, err := w.ssl.Grab(ctx, job.HostIP, *job.PortNumber)
	if err != nil {
		w.logger.Debug().Err(err).Str("host", job.HostIP).Msg("ssl cert grab failed, completing with empty result")
		job.Result = map[string]any{"certificate": nil}
		return nil
	}
	cert.PortID = job.PortID
	created, err := w.store.UpsertSSLCertificate(cert)
	if err != nil {
		return fmt.Errorf("upsert ssl certificate: %w", err)
	}
	job.Result = map[string]any{"fingerprint": cert.Fingerprint, "created": created, "domains": cert.Domains}
	for _, d := range cert.Domains {
		w.store.UpsertDomain(&types.Domain{Name: d, Source: types.DomainSourceSSLCN, HostIP: job.HostIP})
	}
	return nil
}

func (w *Worker) handleDomainEnum(ctx context.Context, job *types.AncillaryJob) error {
	found := w.domains.Enumerate(ctx, job.HostIP)
	names := make([]string, 0, len(found))
	for _, f := range found {
		var source types.DomainSource
		switch f.Source {
		case "ssl_cn":
			source = types.DomainSourceSSLCN
		case "ssl_san":
			source = types.DomainSourceSSLSAN
		case "http_header":
			source = types.DomainSourceHTTPHeader
		default:
			source = types.DomainSourceReverseDNS
		}
		if _, err := w.store.UpsertDomain(&types.Domain{Name: f.Name, Source: source, HostIP: job.HostIP}); err != nil {
			return fmt.Errorf("upsert domain %s: %w", f.Name, err)
		}
		names = append(names, f.Name)
	}
	job.Result = map[string]any{"domains": names}
	return nil
}

// handleGeolocation resolves job.HostIP's location. Both the private-IP
// short-circuit and a transient provider failure complete the job with a
// best-effort result rather than failing it; geo_updated is still bumped
// so the host is not retried immediately. Only a Store write error is a
// real failure.
func (w *Worker) handleGeolocation(ctx context.Context, job *types.AncillaryJob) error {
	host, err := w.geo.Locate(ctx, job.HostIP)
	if err != nil {
		now := time.Now()
		if existing, getErr := w.store.GetHost(job.HostIP); getErr == nil {
			existing.GeolocationUpdated = &now
			w.store.UpdateHost(existing)
		}
		if errors.Is(err, analyze.ErrPrivateIP) {
			job.Result = map[string]any{"reason": "private_ip"}
		} else {
			job.Result = map[string]any{}
		}
		return nil
	}
	existing, getErr := w.store.GetHost(job.HostIP)
	if getErr == nil {
		host.LastSeen = existing.LastSeen
	}
	if err := w.store.UpdateHost(host); err != nil {
		return fmt.Errorf("update host geolocation: %w", err)
	}
	job.Result = map[string]any{"country": host.Country, "city": host.City}
	return nil
}

// enqueueFollowUp creates a new ancillary job of jobType for the same host
// and port as job, unless one is already pending, queued, running, or
// completed.
// ssl_cert de-dup is scoped to (host_ip, port_number) since a host can carry
// several independently-certed ports; domain_enum de-dup is host-level.
func (w *Worker) enqueueFollowUp(job *types.AncillaryJob, jobType types.AncillaryJobType, priority int) {
	existing, err := w.store.ListAncillaryJobs()
	if err == nil {
		for _, j := range existing {
			if j.HostIP != job.HostIP || j.Type != jobType {
				continue
			}
			if jobType == types.AncillarySSLCert && !samePort(j.PortNumber, job.PortNumber) {
				continue
			}
			switch j.Status {
			case types.JobStatusPending, types.JobStatusQueued, types.JobStatusRunning, types.JobStatusCompleted:
				return
			}
		}
	}
	follow := &types.AncillaryJob{
		UUID:             uuid.New().String(),
		Type:             jobType,
		Status:           types.JobStatusPending,
		HostIP:           job.HostIP,
		Priority:         priority,
		ParentPrimaryJob: job.ParentPrimaryJob,
		CreatedAt:        time.Now(),
	}
	// domain_enum is host-level; only port-scoped job types carry the port.
	if jobType != types.AncillaryDomainEnum && jobType != types.AncillaryGeolocation {
		follow.PortNumber = job.PortNumber
		follow.Protocol = job.Protocol
		follow.PortID = job.PortID
	}
	if err := w.store.CreateAncillaryJob(follow); err != nil {
		w.logger.Error().Err(err).Str("type", string(jobType)).Msg("failed to enqueue follow-up job")
	}
}

func samePort(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// shutdown drains in-flight work up to cfg.ShutdownDrain, then marks any
// jobs still assigned to this worker as failed and the worker row offline.
func (w *Worker) shutdown() error {
	metrics.UpdateComponent("worker", false, "shutting down")
	drained := make(chan struct{})
	go func() { w.wg.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(w.cfg.ShutdownDrain):
		w.logger.Warn().Msg("shutdown drain deadline exceeded, jobs may be left in flight")
	}

	orphanedAt := time.Now()
	primaries, err := w.store.ListPrimaryJobs()
	if err == nil {
		for _, p := range primaries {
			if p.AssignedWorker != w.id {
				continue
			}
			if p.Status == types.JobStatusRunning || p.Status == types.JobStatusQueued {
				p.Status = types.JobStatusFailed
				p.Error = "Worker shutdown"
				p.CompletedAt = &orphanedAt
				w.store.UpdatePrimaryJob(p)
			}
		}
	}
	ancillaries, err := w.store.ListAncillaryJobs()
	if err == nil {
		for _, a := range ancillaries {
			if a.AssignedWorker != w.id {
				continue
			}
			if a.Status == types.JobStatusRunning || a.Status == types.JobStatusQueued {
				a.Status = types.JobStatusFailed
				a.Error = "Worker shutdown"
				a.CompletedAt = &orphanedAt
				w.store.UpdateAncillaryJob(a)
			}
		}
	}

	if wrk, err := w.store.GetWorker(w.id); err == nil {
		wrk.Status = types.WorkerStatusOffline
		if err := w.store.UpdateWorker(wrk); err != nil {
			return fmt.Errorf("mark worker offline: %w", err)
		}
	}
	w.logger.Info().Msg("worker shut down cleanly")
	return nil
}
