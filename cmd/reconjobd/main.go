package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/log"
	"github.com/cuemby/faux-recon/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// errUsage marks a RunE error as a usage mistake (bad flag value, missing
// required argument) rather than an operational failure, so main can exit 2
// instead of 1. Wrap with usageErrorf; check with errors.Is.
var errUsage = errors.New("usage error")

// usageErrorf wraps a formatted message so errors.Is(err, errUsage) holds.
func usageErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, errUsage)...)
}

var rootCmd = &cobra.Command{
	Use:   "reconjobd",
	Short: "reconjobd - durable network-reconnaissance job engine",
	Long: `reconjobd schedules and runs masscan-driven network discovery
jobs and the banner/SSL/domain/geolocation analysis that follows each
open port, backed by an embedded BoltDB store.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"reconjobd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(createJobCmd)
	rootCmd.AddCommand(listJobsCmd)
	rootCmd.AddCommand(jobStatusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(runWorkerCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig reads the --config flag (falling back to defaults if unset or
// missing) for every subcommand that needs a Config before opening a Store.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openStore opens the BoltDB store rooted at cfg.DataDir. Callers are
// responsible for closing it.
func openStore(cfg config.Config) (store.Store, error) {
	st, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.DataDir, err)
	}
	return st, nil
}

// truncate shortens s to fit a fixed-width table column.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
