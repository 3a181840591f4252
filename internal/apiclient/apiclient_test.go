package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoginThenPingWithoutRefresh(t *testing.T) {
	var refreshCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenPair{AccessToken: "a1", RefreshToken: "r1"})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		json.NewEncoder(w).Encode(tokenPair{AccessToken: "a2", RefreshToken: "r2"})
	})
	mux.HandleFunc("/auth/ping", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer a1" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/jobs/request", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testLogger(), srv.URL)
	require.NoError(t, c.Login(context.Background(), "u", "p"))

	job, err := c.GetJob(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
	require.Equal(t, int32(0), atomic.LoadInt32(&refreshCalls))
}

func TestGetJobRefreshesOn401ThenRetries(t *testing.T) {
	var accessInUse atomic.Value
	accessInUse.Store("expired")

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "r0", r.Header.Get("refresh"))
		accessInUse.Store("fresh")
		json.NewEncoder(w).Encode(tokenPair{AccessToken: "fresh", RefreshToken: "r1"})
	})
	mux.HandleFunc("/auth/ping", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer fresh" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/jobs/request", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testLogger(), srv.URL)
	c.session.set("expired", "r0")

	job, err := c.GetJob(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestUploadChunkBoundaries(t *testing.T) {
	var chunkCount int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&chunkCount, 1)
		require.NoError(t, r.ParseMultipartForm(10<<20))
		idx, _ := strconv.Atoi(r.FormValue("chunk_index"))
		require.Equal(t, int(atomic.LoadInt32(&chunkCount)), idx)
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	exactPath := filepath.Join(dir, "exact.dat")
	require.NoError(t, os.WriteFile(exactPath, make([]byte, 10), 0644))

	c := New(testLogger(), srv.URL, WithMaxRequestSize(10))
	require.NoError(t, c.UploadFile(context.Background(), 1, Vector, exactPath, srv.URL+"/upload"))
	require.Equal(t, int32(1), atomic.LoadInt32(&chunkCount))

	atomic.StoreInt32(&chunkCount, 0)
	overPath := filepath.Join(dir, "over.dat")
	require.NoError(t, os.WriteFile(overPath, make([]byte, 11), 0644))
	require.NoError(t, c.UploadFile(context.Background(), 1, Vector, overPath, srv.URL+"/upload"))
	require.Equal(t, int32(2), atomic.LoadInt32(&chunkCount))
}

func TestDownloadFileOverwritesExistingContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "new")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.dat")
	require.NoError(t, os.WriteFile(dest, []byte("stale longer content"), 0644))

	c := New(testLogger(), srv.URL)
	require.NoError(t, c.DownloadFile(context.Background(), srv.URL+"/download", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "new", string(got))
}

func TestJobFormVerbs(t *testing.T) {
	seen := make(map[string]bool)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/jobs/ping", func(w http.ResponseWriter, r *http.Request) {
		seen["ping"] = true
		fmt.Fprint(w, "{}")
	})
	mux.HandleFunc("/jobs/complete", func(w http.ResponseWriter, r *http.Request) {
		seen["complete"] = true
		fmt.Fprint(w, "{}")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testLogger(), srv.URL)
	require.NoError(t, c.PingJob(context.Background(), 30))
	require.NoError(t, c.CompleteJob(context.Background(), 30))
	require.True(t, seen["ping"])
	require.True(t, seen["complete"])
}
