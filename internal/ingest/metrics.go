package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ibimina/kbengine/internal/kb"
)

// Monitoring defaults.
const (
	DefaultMetricsWindow   = 200
	DefaultFailureSamples  = 5
	maxMetricsFailureCount = 50
)

// MonitorOptions tunes Metrics aggregation. Limit caps how many recent jobs
// are examined; IncludeFailures caps how many failed jobs are echoed back.
type MonitorOptions struct {
	Limit           int
	IncludeFailures int
}

// Metrics is an aggregate health snapshot of recent ingestion activity.
type Metrics struct {
	TotalJobs       int                  `json:"totalJobs"`
	StatusCounts    map[kb.JobStatus]int `json:"statusCounts"`
	SuccessRate     float64              `json:"successRate"`
	AverageDuration time.Duration        `json:"averageDuration"`
	RecentFailures  []kb.IngestionJob    `json:"recentFailures"`
	LastUpdatedAt   time.Time            `json:"lastUpdatedAt"`
}

// Snapshot aggregates the most recent ingestion jobs into Metrics.
//
// SuccessRate is completed/terminal (in-flight jobs don't count against it);
// AverageDuration covers terminal jobs only. Both are zero when no job has
// finished yet.
func Snapshot(ctx context.Context, store kb.Store, opts MonitorOptions) (Metrics, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultMetricsWindow
	}
	failureLimit := opts.IncludeFailures
	if failureLimit <= 0 {
		failureLimit = DefaultFailureSamples
	}
	failureLimit = min(failureLimit, maxMetricsFailureCount)

	jobs, err := store.ListJobs(ctx, kb.JobFilter{Limit: limit})
	if err != nil {
		return Metrics{}, fmt.Errorf("listing jobs for metrics: %w", err)
	}

	metrics := Metrics{
		TotalJobs: len(jobs),
		StatusCounts: map[kb.JobStatus]int{
			kb.StatusProcessing: 0,
			kb.StatusCompleted:  0,
			kb.StatusFailed:     0,
		},
		RecentFailures: []kb.IngestionJob{},
	}

	var totalDuration time.Duration
	terminal := 0
	for _, job := range jobs {
		metrics.StatusCounts[job.Status]++

		if job.Status == kb.StatusFailed && len(metrics.RecentFailures) < failureLimit {
			metrics.RecentFailures = append(metrics.RecentFailures, job)
		}

		touched := job.StartedAt
		if !job.FinishedAt.IsZero() {
			touched = job.FinishedAt
			totalDuration += job.FinishedAt.Sub(job.StartedAt)
			terminal++
		}
		if touched.After(metrics.LastUpdatedAt) {
			metrics.LastUpdatedAt = touched
		}
	}

	if terminal > 0 {
		metrics.SuccessRate = float64(metrics.StatusCounts[kb.StatusCompleted]) / float64(terminal)
		metrics.AverageDuration = totalDuration / time.Duration(terminal)
	}

	return metrics, nil
}
