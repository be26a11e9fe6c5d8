package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/faux-recon/pkg/metrics"
	"github.com/cuemby/faux-recon/pkg/reconciler"
	"github.com/cuemby/faux-recon/pkg/scheduler"
	"github.com/cuemby/faux-recon/pkg/worker"
)

var runWorkerCmd = &cobra.Command{
	Use:   "run-worker",
	Short: "Run a worker process until interrupted",
	Long: `run-worker registers a worker, starts its heartbeat and dispatch
loops, and the crash-recovery reconciler, then blocks until interrupted.
It claims primary and ancillary jobs from the Store and executes them
until Ctrl+C or SIGTERM triggers a graceful drain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		jobTypes, _ := cmd.Flags().GetStringSlice("job-types")
		maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
		workerID, _ := cmd.Flags().GetString("worker-id")

		workerCfg := worker.DefaultConfig()
		workerCfg.Version = Version
		if workerID != "" {
			workerCfg.WorkerID = workerID
		}
		if len(jobTypes) > 0 {
			workerCfg.SupportedTypes = jobTypes
		}
		if maxConcurrent > 0 {
			workerCfg.MaxConcurrent = maxConcurrent
		}

		sched := scheduler.New(st, cfg)
		w := worker.New(st, sched, cfg, workerCfg)

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "open")
		metrics.RegisterComponent("worker", false, "initializing")
		metrics.RegisterComponent("reconciler", false, "initializing")

		collector := metrics.NewCollector(st)
		collector.Start()
		defer collector.Stop()

		rec := reconciler.NewReconciler(st, cfg)
		rec.Start()
		defer rec.Stop()
		metrics.RegisterComponent("reconciler", true, "sweeping")

		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			go func() {
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
			fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.MetricsAddr)
		}

		fmt.Printf("Starting worker %s (max-concurrent=%d)\n", workerCfg.WorkerID, workerCfg.MaxConcurrent)
		fmt.Println("Worker is running. Press Ctrl+C to stop.")

		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Println("\nShutting down...")
			cancel()
		}()

		if err := w.Run(ctx); err != nil {
			return fmt.Errorf("worker run: %w", err)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	runWorkerCmd.Flags().StringSlice("job-types", nil, "Job types this worker accepts (defaults to all supported types)")
	runWorkerCmd.Flags().Int("max-concurrent", 0, "Maximum concurrent handler slots (0 uses the worker default)")
	runWorkerCmd.Flags().String("worker-id", "", "Unique worker ID (auto-generated if unset)")
}
