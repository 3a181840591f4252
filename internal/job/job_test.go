package job

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aschie4589/quantumhive-worker/internal/apiclient"
	"github.com/aschie4589/quantumhive-worker/internal/artifact"
	"github.com/aschie4589/quantumhive-worker/internal/config"
	"github.com/aschie4589/quantumhive-worker/internal/history"
	"github.com/aschie4589/quantumhive-worker/internal/logger"
	"github.com/aschie4589/quantumhive-worker/internal/process"
	"github.com/aschie4589/quantumhive-worker/internal/telemetry"
)

func TestRunnerGenerateVectorHappyPath(t *testing.T) {
	dir := t.TempDir()

	var completedJobID string
	served := false

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/jobs/request", func(w http.ResponseWriter, r *http.Request) {
		if served {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		served = true
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":     21,
			"job_type":   "generate_vector",
			"job_status": "assigned",
			"job_data": map[string]interface{}{
				"input_dimension": 64,
				"channel_id":      9,
			},
		})
	})
	var srvURL string
	mux.HandleFunc("/files/request-upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": srvURL + "/upload"})
	})
	mux.HandleFunc("/jobs/complete", func(w http.ResponseWriter, r *http.Request) {
		completedJobID = r.FormValue("job_id")
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		require.Equal(t, "vector", r.FormValue("file_type"))
		w.WriteHeader(http.StatusOK)
	})

	cfg := config.Default()
	cfg.DataFolder = dir
	require.NoError(t, cfg.EnsureDirs())
	cfg.BinaryPath = filepath.Join(dir, "fakebin.sh")
	script := "#!/bin/sh\nprev=\"\"\nfor a in \"$@\"; do\n  if [ \"$prev\" = \"-o\" ]; then touch \"$a\"; fi\n  prev=\"$a\"\ndone\n"
	require.NoError(t, os.WriteFile(cfg.BinaryPath, []byte(script), 0755))

	log, err := logger.New(dir, os.Stderr)
	require.NoError(t, err)

	api := apiclient.New(log, srv.URL)
	sup, err := process.New(log, cfg.BinaryPath, false, false)
	require.NoError(t, err)
	idx, err := artifact.Open(cfg.IndexPath())
	require.NoError(t, err)

	progress := &telemetry.Progress{}
	ring := telemetry.NewRing(cfg.CommandsStored)

	runner := New(log, api, sup, idx, cfg, progress, ring)

	ledger, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer ledger.Close()
	runner.SetHistory(ledger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runner.MainLoop(ctx, func() bool { return true })

	require.Equal(t, "21", completedJobID)

	records, err := ledger.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.EqualValues(t, 21, records[0].JobID)
	require.Equal(t, history.OutcomeCompleted, records[0].Outcome)

	entry, ok := idx.LookupOutput(21)
	require.True(t, ok)
	require.NotEmpty(t, entry.Checksum)
}

func TestRunnerMinimizeCancelFlushesPartialProgress(t *testing.T) {
	dir := t.TempDir()

	var (
		served       atomic.Bool
		uploaded     atomic.Bool
		cancelled    atomic.Bool
		completed    atomic.Bool
		gotIter      atomic.Value
		gotEntropy   atomic.Value
	)

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/jobs/request", func(w http.ResponseWriter, r *http.Request) {
		if !served.CompareAndSwap(false, true) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":     30,
			"job_type":   "minimize",
			"job_status": "assigned",
			"kraus_id":   "K",
			"vector_id":  "V",
			"job_data": map[string]interface{}{
				"channel_id": 76,
			},
		})
	})
	mux.HandleFunc("/files/request-download/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"download_url": srvURL + "/download"})
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "artifact bytes")
	})
	mux.HandleFunc("/files/request-upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": srvURL + "/upload"})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		require.Equal(t, "vector", r.FormValue("file_type"))
		uploaded.Store(true)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/jobs/update-iterations", func(w http.ResponseWriter, r *http.Request) {
		gotIter.Store(r.FormValue("num_iterations"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/jobs/update-entropy", func(w http.ResponseWriter, r *http.Request) {
		gotEntropy.Store(r.FormValue("entropy"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/jobs/cancel", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "30", r.FormValue("job_id"))
		cancelled.Store(true)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/jobs/complete", func(w http.ResponseWriter, r *http.Request) {
		completed.Store(true)
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	cfg := config.Default()
	cfg.DataFolder = dir
	require.NoError(t, cfg.EnsureDirs())
	cfg.BinaryPath = filepath.Join(dir, "fakebin.sh")
	script := "#!/bin/sh\necho '[ Iteration 3 ] Entropy: 1.50'\nexec sleep 30\n"
	require.NoError(t, os.WriteFile(cfg.BinaryPath, []byte(script), 0755))

	log, err := logger.New(dir, os.Stderr)
	require.NoError(t, err)

	api := apiclient.New(log, srv.URL)
	sup, err := process.New(log, cfg.BinaryPath, false, false)
	require.NoError(t, err)
	idx, err := artifact.Open(cfg.IndexPath())
	require.NoError(t, err)

	progress := &telemetry.Progress{}
	ring := telemetry.NewRing(cfg.CommandsStored)
	runner := New(log, api, sup, idx, cfg, progress, ring)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.MainLoop(ctx, func() bool { return true })
		close(done)
	}()

	// Wait for the parser to observe iteration 3, then stop the worker
	// mid-run.
	require.Eventually(t, func() bool {
		iter, _, _ := progress.Snapshot()
		return iter == 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("main loop did not exit after cancellation")
	}

	require.True(t, uploaded.Load())
	require.True(t, cancelled.Load())
	require.False(t, completed.Load())
	require.Equal(t, "3", gotIter.Load())
	require.Equal(t, "1.5", gotEntropy.Load())

	// Both inputs were recorded before the child ran.
	_, ok := idx.LookupInput("K")
	require.True(t, ok)
	_, ok = idx.LookupInput("V")
	require.True(t, ok)
}
