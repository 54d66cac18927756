package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibimina/kbengine/internal/app"
	"github.com/ibimina/kbengine/internal/ingest"
	"github.com/ibimina/kbengine/internal/kb"
)

var (
	jobsSince string
	jobsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent ingestion jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJobs(cmd.Context())
	},
}

var jobsMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregate ingestion pipeline health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJobMetrics(cmd.Context())
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsSince, "since", "", "RFC 3339 lower bound on job start time")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 100, "maximum number of jobs")
	jobsCmd.AddCommand(jobsMetricsCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	filter := kb.JobFilter{Limit: jobsLimit}
	if jobsSince != "" {
		since, err := time.Parse(time.RFC3339, jobsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
		filter.Since = since
	}

	jobs, err := a.Store.ListJobs(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	return printJSON(jobs)
}

func runJobMetrics(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	metrics, err := ingest.Snapshot(ctx, a.Store, ingest.MonitorOptions{})
	if err != nil {
		return fmt.Errorf("aggregating job metrics: %w", err)
	}

	return printJSON(metrics)
}
