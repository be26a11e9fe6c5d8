package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/faux-recon/pkg/controlapi"
	"github.com/cuemby/faux-recon/pkg/metrics"
	"github.com/cuemby/faux-recon/pkg/store"
	"github.com/cuemby/faux-recon/pkg/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and job statistics",
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

		queueFlag, _ := cmd.Flags().GetString("queue")
		api := controlapi.New(st)
		qstats, err := api.QueueStatsFor(queueFlag)
		if err != nil {
			return fmt.Errorf("queue stats: %w", err)
		}

		if len(qstats) == 0 {
			fmt.Println("No queues found")
		}
		fmt.Printf("%-15s %-8s %-6s %-9s %-9s %-10s %s\n", "QUEUE", "ENABLED", "MAX", "PENDING", "RUNNING", "COMPLETED", "FAILED")
		for _, q := range qstats {
			fmt.Printf("%-15s %-8t %-6d %-9d %-9d %-10d %d\n",
				q.Name, q.Enabled, q.MaxConcurrent, q.Pending, q.Running, q.Completed, q.Failed)
		}

		snapshot, err := buildSnapshot(st)
		if err != nil {
			return fmt.Errorf("metrics snapshot: %w", err)
		}
		fmt.Println()
		fmt.Print(snapshot.RenderText())
		return nil
	},
}

// buildSnapshot assembles the stats summary from the Store, since a one-shot
// CLI invocation never runs the background gauge collector.
func buildSnapshot(st store.Store) (metrics.Snapshot, error) {
	s := metrics.Snapshot{
		PrimaryJobsByStatus:   make(map[string]int),
		AncillaryJobsByStatus: make(map[string]int),
		WorkersByStatus:       make(map[string]int),
		QueueDepthByName:      make(map[string]int),
	}

	primaries, err := st.ListPrimaryJobs()
	if err != nil {
		return s, err
	}
	for _, j := range primaries {
		s.PrimaryJobsByStatus[string(j.Status)]++
		switch j.Status {
		case types.JobStatusPending:
			s.QueueDepthByName[j.Queue]++
		case types.JobStatusFailed:
			s.PrimaryErrors++
		case types.JobStatusCancelled:
			s.PrimaryCancels++
		}
	}

	ancillaries, err := st.ListAncillaryJobs()
	if err != nil {
		return s, err
	}
	for _, j := range ancillaries {
		s.AncillaryJobsByStatus[string(j.Status)]++
	}

	workers, err := st.ListWorkers()
	if err != nil {
		return s, err
	}
	for _, w := range workers {
		s.WorkersByStatus[string(w.Status)]++
	}

	hosts, err := st.ListHosts()
	if err != nil {
		return s, err
	}
	hourAgo := time.Now().Add(-time.Hour)
	for _, h := range hosts {
		s.HostsDiscovered++
		if h.LastSeen != nil && h.LastSeen.After(hourAgo) {
			s.HostsRecent++
		}
		ports, err := st.ListPortsByHost(h.IP)
		if err != nil {
			return s, err
		}
		for _, p := range ports {
			s.PortsDiscovered++
			if p.LastSeen.After(hourAgo) {
				s.PortsRecent++
			}
		}
	}

	return s, nil
}

func init() {
	statsCmd.Flags().String("queue", "", "Show stats for a single queue")
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List registered workers",
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

		workers, err := st.ListWorkers()
		if err != nil {
			return fmt.Errorf("list workers: %w", err)
		}
		if len(workers) == 0 {
			fmt.Println("No workers found")
			return nil
		}

		fmt.Printf("%-30s %-8s %-12s %-8s %s\n", "WORKER ID", "STATUS", "HOSTNAME", "PID", "LAST HEARTBEAT")
		for _, w := range workers {
			fmt.Printf("%-30s %-8s %-12s %-8d %s\n",
				truncate(w.WorkerID, 30), w.Status, truncate(w.Hostname, 12), w.PID, w.LastHeartbeat.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove terminal jobs older than N days",
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

		days, _ := cmd.Flags().GetInt("days")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		api := controlapi.New(st)
		result, err := api.Cleanup(days, dryRun)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}

		verb := "Removed"
		if dryRun {
			verb = "Would remove"
		}
		fmt.Printf("%s %d primary job(s) and %d ancillary job(s) older than %d day(s)\n",
			verb, result.PrimaryJobsRemoved, result.AncillaryJobsRemoved, days)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Int("days", 30, "Age threshold in days")
	cleanupCmd.Flags().Bool("dry-run", false, "Only report what would be removed")
}
