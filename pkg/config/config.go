package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine-wide tunables loaded from a YAML file with
// environment overrides: tool paths, scan rate, batch sizes, loop
// intervals, per-analyzer timeouts, and external service credentials.
type Config struct {
	DataDir             string        `yaml:"data_dir"`
	MasscanPath         string        `yaml:"masscan_path"`
	NmapPath            string        `yaml:"nmap_path"`
	MasscanExcludeFile  string        `yaml:"masscan_exclude_file"`
	MasscanRate         int           `yaml:"masscan_rate"`
	AncillaryBatchSize  int           `yaml:"ancillary_batch_size"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	StaleWorkerMultiple int           `yaml:"stale_worker_multiple"`
	DispatchInterval    time.Duration `yaml:"dispatch_interval"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	BannerGrabTimeout   time.Duration `yaml:"banner_grab_timeout"`
	SSLGrabTimeout      time.Duration `yaml:"ssl_grab_timeout"`
	GeolocationTimeout  time.Duration `yaml:"geolocation_timeout"`
	DomainEnumTimeout   time.Duration `yaml:"domain_enum_timeout"`
	DNSResolver         string        `yaml:"dns_resolver"`
	MetricsAddr         string        `yaml:"metrics_addr"`
	RedisURL            string        `yaml:"redis_url"`
	IPInfoToken         string        `yaml:"ipinfo_token"`
	IPGeolocationAPIKey string        `yaml:"ipgeolocation_api_key"`
}

// Default returns the baseline configuration: a 30s heartbeat, a 1s
// dispatch tick, and five ancillary jobs claimed per tick.
func Default() Config {
	return Config{
		DataDir:             "./data",
		MasscanPath:         "/usr/bin/masscan",
		NmapPath:            "/usr/bin/nmap",
		MasscanExcludeFile:  "masscan/exclude.conf",
		MasscanRate:         1000,
		AncillaryBatchSize:  5,
		HeartbeatInterval:   30 * time.Second,
		StaleWorkerMultiple: 3,
		DispatchInterval:    1 * time.Second,
		ReconcileInterval:   10 * time.Second,
		BannerGrabTimeout:   3 * time.Second,
		SSLGrabTimeout:      5 * time.Second,
		GeolocationTimeout:  10 * time.Second,
		DomainEnumTimeout:   5 * time.Second,
		DNSResolver:         "1.1.1.1:53",
		MetricsAddr:         "127.0.0.1:9090",
		RedisURL:            "redis://127.0.0.1:6379/0",
	}
}

// StaleThreshold returns the heartbeat age beyond which a worker is
// considered crashed.
func (c Config) StaleThreshold() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.StaleWorkerMultiple)
}

// Load reads a YAML config file, applying defaults for any unset field, then
// overlays the RECONJOB_* environment variables read by applyEnv.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnv(cfg), nil
			}
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	if v := os.Getenv("RECONJOB_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("RECONJOB_IPINFO_TOKEN"); v != "" {
		cfg.IPInfoToken = v
	}
	if v := os.Getenv("RECONJOB_IPGEOLOCATION_API_KEY"); v != "" {
		cfg.IPGeolocationAPIKey = v
	}
	if v := os.Getenv("RECONJOB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	return cfg
}
