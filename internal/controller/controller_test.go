package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aschie4589/quantumhive-worker/internal/apiclient"
	"github.com/aschie4589/quantumhive-worker/internal/artifact"
	"github.com/aschie4589/quantumhive-worker/internal/config"
	"github.com/aschie4589/quantumhive-worker/internal/job"
	"github.com/aschie4589/quantumhive-worker/internal/logger"
	"github.com/aschie4589/quantumhive-worker/internal/process"
	"github.com/aschie4589/quantumhive-worker/internal/telemetry"
)

func newTestController(t *testing.T) (*Controller, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"a","refresh_token":"r"}`))
	})
	mux.HandleFunc("/jobs/request", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)

	cfg := config.Default()
	cfg.DataFolder = dir
	require.NoError(t, cfg.EnsureDirs())
	cfg.BinaryPath = filepath.Join(dir, "fakebin.sh")
	require.NoError(t, os.WriteFile(cfg.BinaryPath, []byte("#!/bin/sh\nexit 0\n"), 0755))

	log, err := logger.New(dir, os.Stderr)
	require.NoError(t, err)

	api := apiclient.New(log, srv.URL)
	sup, err := process.New(log, cfg.BinaryPath, false, false)
	require.NoError(t, err)
	idx, err := artifact.Open(cfg.IndexPath())
	require.NoError(t, err)

	progress := &telemetry.Progress{}
	ring := telemetry.NewRing(cfg.CommandsStored)
	runner := job.New(log, api, sup, idx, cfg, progress, ring)

	return New(log, api, runner, cfg, ring, progress), srv
}

func TestControllerLoginTracksState(t *testing.T) {
	c, srv := newTestController(t)
	defer srv.Close()

	require.Equal(t, Init, c.State().Phase)
	require.NoError(t, c.Login(context.Background(), "alice", "secret"))
	require.Equal(t, LoggedIn, c.State().Phase)
	require.Equal(t, "alice", c.State().Username)
}

func TestControllerStartPauseStop(t *testing.T) {
	c, srv := newTestController(t)
	defer srv.Close()

	require.False(t, c.Running())
	c.Start()
	require.True(t, c.Running())
	require.Equal(t, 1, c.spawns)

	c.Pause()
	require.False(t, c.Running())
	require.Equal(t, Paused, c.State().Phase)

	// Resuming from PAUSED must reuse the still-alive MainLoop/Heartbeat
	// Loop goroutines rather than spawn a second pair: exactly one
	// goroutine may drive the job runner's main loop.
	c.Start()
	require.True(t, c.Running())
	require.Equal(t, 1, c.spawns)

	c.Pause()
	c.Start()
	require.Equal(t, 1, c.spawns)

	c.Stop()
	require.True(t, c.Stopped())
	require.False(t, c.Running())
	require.Equal(t, Stopped, c.State().Phase)

	// Stop is idempotent and Start must not resurrect a stopped worker.
	c.Stop()
	c.Start()
	require.False(t, c.Running())
	require.Equal(t, 1, c.spawns)
}

func TestControllerStateSnapshotHasNoActiveJobWhenIdle(t *testing.T) {
	c, srv := newTestController(t)
	defer srv.Close()

	snap := c.State()
	require.False(t, snap.HasJob)
	require.False(t, snap.HasEntropy)

	c.Start()
	time.Sleep(50 * time.Millisecond)
	c.Stop()
}
