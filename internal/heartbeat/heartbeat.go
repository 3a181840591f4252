// Package heartbeat periodically notifies the job server that the current
// job is still alive.
package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

// Pinger is the minimal surface the Heartbeat Loop needs from the API
// Client, kept narrow so this package doesn't depend on apiclient.
type Pinger interface {
	PingJob(ctx context.Context, jobID int64) error
}

// ActiveJob reports the currently running job, if any. ok is false when no
// job is active; the Heartbeat Loop only pings while true.
type ActiveJob func() (jobID int64, ok bool)

// Loop runs until ctx is cancelled. Every interval, while running() is true
// and an active job is reported, it calls PingJob. A ping failure is
// logged but never cancels the job — the server is authoritative about
// reassignment.
func Loop(ctx context.Context, pinger Pinger, interval time.Duration, running func() bool, active ActiveJob, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if running != nil && !running() {
				continue
			}
			jobID, ok := active()
			if !ok {
				continue
			}
			if err := pinger.PingJob(ctx, jobID); err != nil {
				logger.Warn("heartbeat ping failed", "job_id", jobID, "error", err)
			}
		}
	}
}
