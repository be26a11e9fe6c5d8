package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, script string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	scriptPath := filepath.Join(t.TempDir(), "fake-masscan")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	cfg.MasscanPath = scriptPath
	cfg.MasscanExcludeFile = filepath.Join(cfg.DataDir, "exclude.conf")
	return cfg
}

func newTestStoreForDiscovery(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunStreamsDiscoveriesAndCompletes(t *testing.T) {
	cfg := newTestConfig(t, `echo "Discovered open port 22/tcp on 10.0.0.1"
echo "Discovered open port 80/tcp on 10.0.0.2"
exit 0`)
	st := newTestStoreForDiscovery(t)
	r := NewRunner(st, cfg)

	job := &types.PrimaryJob{UUID: "job-1", Target: "10.0.0.0/30", Status: types.JobStatusRunning}
	result, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 2, result.PortsFound)
	require.Equal(t, 2, result.HostsFound)
	require.False(t, result.TimedOut)

	ancillary, err := st.ListAncillaryJobs()
	require.NoError(t, err)
	var bannerGrabs, domainEnums, sslCerts int
	for _, j := range ancillary {
		switch j.Type {
		case types.AncillaryBannerGrab:
			bannerGrabs++
		case types.AncillaryDomainEnum:
			domainEnums++
		case types.AncillarySSLCert:
			sslCerts++
		}
	}
	require.Equal(t, 2, bannerGrabs)
	require.Equal(t, 2, domainEnums)
	require.Equal(t, 0, sslCerts)
}

func TestRunEnqueuesSSLCertOnHTTPSPort(t *testing.T) {
	cfg := newTestConfig(t, `echo "Discovered open port 443/tcp on 203.0.113.5"
exit 0`)
	st := newTestStoreForDiscovery(t)
	r := NewRunner(st, cfg)

	job := &types.PrimaryJob{UUID: "job-2", Target: "203.0.113.5", Status: types.JobStatusRunning}
	_, err := r.Run(context.Background(), job)
	require.NoError(t, err)

	ancillary, err := st.ListAncillaryJobs()
	require.NoError(t, err)
	var sslCerts, geo int
	for _, j := range ancillary {
		if j.Type == types.AncillarySSLCert {
			sslCerts++
			require.Equal(t, 2, j.Priority)
		}
		if j.Type == types.AncillaryGeolocation {
			geo++
		}
	}
	require.Equal(t, 1, sslCerts)
	require.Equal(t, 1, geo)
}

func TestRunTimesOutAndKillsProcess(t *testing.T) {
	cfg := newTestConfig(t, "sleep 30")
	st := newTestStoreForDiscovery(t)
	r := NewRunner(st, cfg)

	job := &types.PrimaryJob{
		UUID:    "job-3",
		Target:  "10.0.0.0/24",
		Status:  types.JobStatusRunning,
		Options: types.ScanOptions{TimeoutSeconds: 1},
	}

	start := time.Now()
	_, err := r.Run(context.Background(), job)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out after 1 seconds")
	require.Less(t, elapsed, killGrace+5*time.Second)
}

func TestRunFailsOnNonZeroExit(t *testing.T) {
	cfg := newTestConfig(t, "exit 1")
	st := newTestStoreForDiscovery(t)
	r := NewRunner(st, cfg)

	job := &types.PrimaryJob{UUID: "job-4", Target: "10.0.0.1", Status: types.JobStatusRunning}
	_, err := r.Run(context.Background(), job)
	require.Error(t, err)
}

func TestRunIdempotentOnDuplicateDiscoveryLines(t *testing.T) {
	cfg := newTestConfig(t, `echo "Discovered open port 22/tcp on 10.0.0.1"
echo "Discovered open port 22/tcp on 10.0.0.1"
exit 0`)
	st := newTestStoreForDiscovery(t)
	r := NewRunner(st, cfg)

	job := &types.PrimaryJob{UUID: "job-5", Target: "10.0.0.1", Status: types.JobStatusRunning}
	result, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 2, result.PortsFound)
	require.Equal(t, 1, result.HostsFound)

	hosts, err := st.ListHosts()
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	ports, err := st.ListPortsByHost("10.0.0.1")
	require.NoError(t, err)
	require.Len(t, ports, 1)
}
