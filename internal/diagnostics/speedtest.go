// Package diagnostics runs an optional one-shot network speed probe at
// worker startup; cmd/worker writes its summary to the worker log.
package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// Result is a single network speed probe outcome.
type Result struct {
	DownloadMbps float64
	UploadMbps   float64
	PingMs       int64
	ServerName   string
	ISP          string
	Timestamp    time.Time
}

// Run performs one speed test against the nearest available server. It is
// gated by config.EnableNetworkDiagnostics and is only ever run once, from
// cmd/worker at process startup, never on a schedule — the worker's job is
// to run compute, not to monitor its own link continuously.
func Run(ctx context.Context) (*Result, error) {
	user, err := speedtest.FetchUserInfo()
	if err != nil {
		return nil, fmt.Errorf("diagnostics: no internet connection: %w", err)
	}

	serverList, err := speedtest.FetchServers()
	if err != nil {
		return nil, fmt.Errorf("diagnostics: fetch servers: %w", err)
	}

	targets, err := serverList.FindServer([]int{})
	if err != nil || len(targets) == 0 {
		return nil, fmt.Errorf("diagnostics: no speed test servers available")
	}
	server := targets[0]

	if err := server.PingTestContext(ctx, nil); err != nil {
		return nil, fmt.Errorf("diagnostics: ping test failed: %w", err)
	}
	if err := server.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("diagnostics: download test failed: %w", err)
	}
	if err := server.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("diagnostics: upload test failed: %w", err)
	}

	return &Result{
		DownloadMbps: float64(server.DLSpeed) / 1000 / 1000 * 8,
		UploadMbps:   float64(server.ULSpeed) / 1000 / 1000 * 8,
		PingMs:       int64(server.Latency.Milliseconds()),
		ServerName:   server.Name,
		ISP:          user.Isp,
		Timestamp:    time.Now(),
	}, nil
}

// Summary renders a Result as a short advisory string suitable for a status
// field; it never blocks and has no effect on job execution.
func (r *Result) Summary() string {
	if r == nil {
		return "diagnostics: not run"
	}
	return fmt.Sprintf("down=%.1fMbps up=%.1fMbps ping=%dms via %s", r.DownloadMbps, r.UploadMbps, r.PingMs, r.ServerName)
}
