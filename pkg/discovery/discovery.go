package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/log"
	"github.com/cuemby/faux-recon/pkg/metrics"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
	"github.com/google/uuid"
)

// killGrace is how long the subprocess is given to exit on its own after a
// polite termination signal before it is forcibly killed.
const killGrace = 5 * time.Second

// portPattern matches masscan's "Discovered open port N/proto on IP" lines.
var portPattern = regexp.MustCompile(`Discovered open port (\d+)/(\w+) on ([0-9.]+)`)

// sslPorts are the port numbers that trigger an ssl_cert follow-up job at
// discovery time; the banner analyzer may queue more later.
var sslPorts = map[int]bool{443: true, 8443: true, 9443: true, 10443: true}

// Runner executes masscan primary jobs and fans out the ancillary jobs each
// discovery implies.
type Runner struct {
	cfg   config.Config
	store store.Store
}

// NewRunner creates a Runner backed by st.
func NewRunner(st store.Store, cfg config.Config) *Runner {
	return &Runner{cfg: cfg, store: st}
}

// Result is the outcome of one discovery run.
type Result struct {
	ScanUUID   string
	HostsFound int
	PortsFound int
	Command    string
	TimedOut   bool
	ExitErr    error
}

// Run executes job's masscan scan, streaming stdout and fanning out Port
// upserts plus banner_grab/domain_enum/geolocation/ssl_cert ancillary jobs
// as each line arrives, rather than batching at the end of the scan.
func (r *Runner) Run(ctx context.Context, job *types.PrimaryJob) (*Result, error) {
	logger := log.WithJobID(job.UUID)
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DiscoveryScanDuration)

	timeoutSeconds := job.Options.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 3600
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	argv := BuildCommand(r.cfg, job)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	scan := &types.Scan{
		UUID:      uuid.New().String(),
		Command:   fmt.Sprintf("%v", argv),
		StartTime: time.Now(),
		Status:    "running",
		Type:      "masscan",
	}
	if err := r.store.CreateScan(scan); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}
	job.ScanUUID = scan.UUID
	if err := r.store.UpdatePrimaryJob(job); err != nil {
		logger.Error().Err(err).Msg("failed to attach scan to job")
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start masscan: %w", err)
	}

	result := &Result{ScanUUID: scan.UUID, Command: scan.Command}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.drainDiscoveries(job, scan, stdout, result)
	}()
	go drainIgnored(stderr)

	// Read stdout to EOF before calling Wait: Wait closes the pipe once the
	// process exits, which would drop lines the reader has not consumed yet.
	select {
	case <-done:
	case <-runCtx.Done():
	}
	waitErr := cmd.Wait()
	<-done

	endTime := time.Now()
	scan.EndTime = &endTime

	var runErr error
	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		scan.Status = "timed_out"
		runErr = fmt.Errorf("timed out after %d seconds", timeoutSeconds)
		logger.Warn().Int("timeout_seconds", timeoutSeconds).Msg("masscan scan timed out")
	} else if waitErr != nil {
		result.ExitErr = waitErr
		scan.Status = "failed"
		runErr = fmt.Errorf("masscan exited with error: %w", waitErr)
	} else {
		scan.Status = "completed"
	}
	if err := r.store.UpdateScan(scan); err != nil {
		logger.Error().Err(err).Msg("failed to update scan record")
	}

	logger.Info().
		Int("hosts_found", result.HostsFound).
		Int("ports_found", result.PortsFound).
		Msg("masscan run finished")

	return result, runErr
}

// drainDiscoveries reads masscan stdout line by line and, for each
// "Discovered open port" line, upserts the port and fans out follow-up jobs.
func (r *Runner) drainDiscoveries(job *types.PrimaryJob, scan *types.Scan, stdout io.Reader, result *Result) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		m := portPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		portNumber, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		proto := m[2]
		hostIP := m[3]
		r.processDiscovery(job, scan, hostIP, portNumber, proto, result)
	}
}

func drainIgnored(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024), 1024*1024)
	for scanner.Scan() {
		// masscan stderr is progress/noise; nothing to act on.
	}
}

// processDiscovery upserts the port (and host, if new) and enqueues
// banner_grab always, domain_enum/geolocation once per host, and ssl_cert
// for the well-known HTTPS port set.
func (r *Runner) processDiscovery(job *types.PrimaryJob, scan *types.Scan, hostIP string, portNumber int, proto string, result *Result) {
	now := time.Now()
	upsert, err := r.store.UpsertPort(hostIP, &types.Port{
		PortNumber: portNumber,
		Proto:      proto,
		Status:     "open",
		LastSeen:   now,
		ScanUUID:   scan.UUID,
	})
	if err != nil {
		log.Logger.Error().Err(err).Str("host", hostIP).Msg("failed to upsert port")
		return
	}
	result.PortsFound++
	metrics.PortsDiscoveredTotal.Inc()
	if upsert.HostCreated {
		result.HostsFound++
		metrics.HostsDiscoveredTotal.Inc()
	}

	r.enqueue(&types.AncillaryJob{
		UUID:             uuid.New().String(),
		Type:             types.AncillaryBannerGrab,
		Status:           types.JobStatusPending,
		Priority:         0,
		HostIP:           hostIP,
		PortNumber:       &portNumber,
		Protocol:         proto,
		PortID:           upsert.Port.ID,
		ParentPrimaryJob: job.UUID,
		CreatedAt:        now,
	})

	if upsert.HostCreated || !r.hasPendingOrDone(hostIP, types.AncillaryDomainEnum) {
		r.enqueue(&types.AncillaryJob{
			UUID:             uuid.New().String(),
			Type:             types.AncillaryDomainEnum,
			Status:           types.JobStatusPending,
			Priority:         1,
			HostIP:           hostIP,
			ParentPrimaryJob: job.UUID,
			CreatedAt:        now,
		})
	}

	host, err := r.store.GetHost(hostIP)
	needsGeo := upsert.HostCreated || (err == nil && host.NeedsGeolocationUpdate(24*time.Hour, now))
	if needsGeo && !r.hasPendingOrDone(hostIP, types.AncillaryGeolocation) {
		r.enqueue(&types.AncillaryJob{
			UUID:             uuid.New().String(),
			Type:             types.AncillaryGeolocation,
			Status:           types.JobStatusPending,
			Priority:         2,
			HostIP:           hostIP,
			ParentPrimaryJob: job.UUID,
			CreatedAt:        now,
		})
	}

	if sslPorts[portNumber] {
		r.enqueue(&types.AncillaryJob{
			UUID:             uuid.New().String(),
			Type:             types.AncillarySSLCert,
			Status:           types.JobStatusPending,
			Priority:         2,
			HostIP:           hostIP,
			PortNumber:       &portNumber,
			Protocol:         proto,
			PortID:           upsert.Port.ID,
			ParentPrimaryJob: job.UUID,
			CreatedAt:        now,
		})
	}
}

func (r *Runner) enqueue(job *types.AncillaryJob) {
	if err := r.store.CreateAncillaryJob(job); err != nil {
		log.Logger.Error().Err(err).Str("type", string(job.Type)).Str("host", job.HostIP).Msg("failed to enqueue ancillary job")
	}
}

// hasPendingOrDone reports whether hostIP already has a domain_enum or
// geolocation job that is pending, queued, running, or completed, which keeps these
// host-level jobs from being queued once per discovered port.
func (r *Runner) hasPendingOrDone(hostIP string, jobType types.AncillaryJobType) bool {
	jobs, err := r.store.ListAncillaryJobs()
	if err != nil {
		return false
	}
	for _, j := range jobs {
		if j.HostIP != hostIP || j.Type != jobType {
			continue
		}
		switch j.Status {
		case types.JobStatusPending, types.JobStatusQueued, types.JobStatusRunning, types.JobStatusCompleted:
			return true
		}
	}
	return false
}
