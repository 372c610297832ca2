package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

const defaultMaintenanceMaxAge = 2 * time.Hour

// Maintenance reports down when a cron job keeps failing and degraded when it has not run
// within maxAge. The expire sweep runs every minute, so the default window is short.
func Maintenance(maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		summary := monitoring.Snapshot()
		now := time.Now()

		status := monitoring.StatusUp
		var problems []string
		for _, job := range summary.Maintenance.Jobs {
			if job.ConsecutiveFailures > 0 {
				status = monitoring.Worse(status, monitoring.StatusDown)
				problems = append(problems, job.Job+": "+job.LastError)
				continue
			}
			if !job.LastRunAt.IsZero() && now.Sub(job.LastRunAt) > maxAge {
				status = monitoring.Worse(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": stale since "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
