package audit

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRecordsAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, slog.Default())
	require.NoError(t, err)
	defer l.Close()

	l.Log("127.0.0.1", "test-agent", "GET /v1/status", 200, "ok")
	l.Log("127.0.0.1", "test-agent", "POST /v1/login", 401, "bad credentials")

	entries := l.Recent(10)
	require.Len(t, entries, 2)
	require.Equal(t, "POST /v1/login", entries[0].Action)
	require.Equal(t, 401, entries[0].Status)
}

func TestLoggerRecentRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, slog.Default())
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Log("127.0.0.1", "ua", "GET /v1/status", 200, "ok")
	}
	require.Len(t, l.Recent(2), 2)
}
