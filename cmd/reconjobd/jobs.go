package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/faux-recon/pkg/controlapi"
	"github.com/cuemby/faux-recon/pkg/types"
)

var createJobCmd = &cobra.Command{
	Use:   "create-job",
	Short: "Create a new scan job",
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

		jobType, _ := cmd.Flags().GetString("type")
		target, _ := cmd.Flags().GetString("target")
		queue, _ := cmd.Flags().GetString("queue")
		priority, _ := cmd.Flags().GetInt("priority")
		portsFlag, _ := cmd.Flags().GetStringSlice("ports")
		schedule, _ := cmd.Flags().GetString("schedule")
		syn, _ := cmd.Flags().GetBool("syn")
		tcp, _ := cmd.Flags().GetBool("tcp")
		udp, _ := cmd.Flags().GetBool("udp")
		allPorts, _ := cmd.Flags().GetBool("all-ports")
		rate, _ := cmd.Flags().GetInt("rate")
		timeout, _ := cmd.Flags().GetInt("timeout")
		proxychains, _ := cmd.Flags().GetBool("proxychains")
		resume, _ := cmd.Flags().GetBool("resume")

		if target == "" {
			return usageErrorf("--target is required")
		}
		switch types.PrimaryJobType(jobType) {
		case types.PrimaryJobMasscan, types.PrimaryJobNmap, types.PrimaryJobCustom:
		default:
			return usageErrorf("unknown --type %q", jobType)
		}
		ports, err := parsePortList(portsFlag)
		if err != nil {
			return usageErrorf("%v", err)
		}

		var scheduledFor *time.Time
		if schedule != "" {
			t, err := time.Parse(time.RFC3339, schedule)
			if err != nil {
				return usageErrorf("invalid --schedule (expected ISO-8601): %v", err)
			}
			scheduledFor = &t
		}

		api := controlapi.New(st)
		job, err := api.CreateJob(controlapi.CreateJobParams{
			Type:     types.PrimaryJobType(jobType),
			Target:   target,
			Queue:    queue,
			Ports:    ports,
			Priority: priority,
			Options: types.ScanOptions{
				SYN:            syn,
				TCP:            tcp,
				UDP:            udp,
				UseProxychains: proxychains,
				Rate:           rate,
				Resume:         resume,
				AllPorts:       allPorts,
				TimeoutSeconds: timeout,
			},
			ScheduledFor: scheduledFor,
		})
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}

		fmt.Printf("✓ Job created: %s\n", job.UUID)
		fmt.Printf("  Type: %s\n", job.Type)
		fmt.Printf("  Target: %s\n", job.Target)
		fmt.Printf("  Queue: %s\n", job.Queue)
		return nil
	},
}

func init() {
	createJobCmd.Flags().String("type", "masscan", "Job type (masscan, nmap, custom)")
	createJobCmd.Flags().String("target", "", "Scan target (CIDR or host)")
	createJobCmd.Flags().StringSlice("ports", nil, "Ports to scan (comma-separated)")
	createJobCmd.Flags().String("queue", "default", "Queue name")
	createJobCmd.Flags().Int("priority", 0, "Job priority (higher runs first)")
	createJobCmd.Flags().String("schedule", "", "ISO-8601 time to run at (defaults to immediate)")
	createJobCmd.Flags().Bool("syn", true, "Use SYN scan")
	createJobCmd.Flags().Bool("tcp", false, "Use TCP connect scan")
	createJobCmd.Flags().Bool("udp", false, "Scan UDP ports")
	createJobCmd.Flags().Bool("all-ports", false, "Scan all 65535 ports instead of the curated list")
	createJobCmd.Flags().Int("rate", 0, "Packets per second (0 uses the configured default)")
	createJobCmd.Flags().Int("timeout", 0, "Wall-clock timeout in seconds (0 uses the configured default)")
	createJobCmd.Flags().Bool("proxychains", false, "Run masscan through proxychains")
	createJobCmd.Flags().Bool("resume", false, "Resume a previous masscan run")
}

var listJobsCmd = &cobra.Command{
	Use:   "list-jobs",
	Short: "List scan jobs",
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

		statusFlag, _ := cmd.Flags().GetString("status")
		queueFlag, _ := cmd.Flags().GetString("queue")
		limit, _ := cmd.Flags().GetInt("limit")

		api := controlapi.New(st)
		jobs, err := api.ListJobs(types.JobStatus(statusFlag), queueFlag, limit)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}

		fmt.Printf("%-36s %-10s %-10s %-8s %s\n", "UUID", "TYPE", "STATUS", "QUEUE", "TARGET")
		for _, j := range jobs {
			fmt.Printf("%-36s %-10s %-10s %-8s %s\n", j.UUID, j.Type, j.Status, j.Queue, truncate(j.Target, 40))
		}
		return nil
	},
}

func init() {
	listJobsCmd.Flags().String("status", "", "Filter by status")
	listJobsCmd.Flags().String("queue", "", "Filter by queue")
	listJobsCmd.Flags().Int("limit", 0, "Limit the number of jobs shown (0 = unlimited)")
}

var jobStatusCmd = &cobra.Command{
	Use:   "job-status UUID",
	Short: "Show a job's status",
	Args:  cobra.ExactArgs(1),
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

		api := controlapi.New(st)
		job, err := api.GetJob(args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		fmt.Printf("Job: %s\n", job.UUID)
		fmt.Printf("  Type: %s\n", job.Type)
		fmt.Printf("  Target: %s\n", job.Target)
		fmt.Printf("  Status: %s\n", job.Status)
		fmt.Printf("  Progress: %d%%\n", job.Progress)
		fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
		}
		if job.CompletedAt != nil {
			fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		}
		if job.Error != "" {
			fmt.Printf("  Error: %s\n", job.Error)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel UUID",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
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

		api := controlapi.New(st)
		ok, err := api.CancelJob(args[0])
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		if !ok {
			fmt.Printf("Job %s is already in a terminal state and cannot be cancelled\n", args[0])
			return nil
		}
		fmt.Printf("✓ Job cancelled: %s\n", args[0])
		return nil
	},
}

// parsePortList is a small helper kept for symmetry with the create-job
// --ports flag; cobra's StringSlice already splits on commas, this just
// validates each entry looks like a port or a range.
func parsePortList(raw []string) ([]string, error) {
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if strings.Contains(p, "-") {
			bounds := strings.SplitN(p, "-", 2)
			if len(bounds) != 2 {
				return nil, fmt.Errorf("invalid port range %q", p)
			}
			for _, b := range bounds {
				if _, err := strconv.Atoi(b); err != nil {
					return nil, fmt.Errorf("invalid port range %q", p)
				}
			}
			continue
		}
		if _, err := strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid port %q", p)
		}
	}
	return raw, nil
}
