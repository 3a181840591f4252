// Package audit records every request handled by the local control API to
// an append-only JSON-lines log.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded control-API access.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip"`
	UserAgent string    `json:"user_agent"`
	Action    string    `json:"action"`
	Status    int       `json:"status"`
	Details   string    `json:"details"`
}

// Logger appends Entry records to a log file under dataFolder/logs.
type Logger struct {
	mu      sync.Mutex
	logFile *os.File
	logPath string
	logger  *slog.Logger
}

// New opens (creating if needed) the audit log under dataFolder/logs/control_access.log.
func New(dataFolder string, logger *slog.Logger) (*Logger, error) {
	dir := filepath.Join(dataFolder, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "control_access.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{logFile: f, logPath: path, logger: logger}, nil
}

// Log appends one access record and mirrors it to the structured logger.
func (a *Logger) Log(sourceIP, userAgent, action string, status int, details string) {
	entry := Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		SourceIP:  sourceIP,
		UserAgent: userAgent,
		Action:    action,
		Status:    status,
		Details:   details,
	}

	a.mu.Lock()
	if a.logFile != nil {
		if b, err := json.Marshal(entry); err == nil {
			a.logFile.Write(append(b, '\n'))
		}
	}
	a.mu.Unlock()

	level := slog.LevelInfo
	if status >= 400 {
		level = slog.LevelWarn
	}
	a.logger.Log(context.Background(), level, "control api access", "action", action, "status", status, "ip", sourceIP)
}

// Recent returns up to limit entries, most recent first.
func (a *Logger) Recent(limit int) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, err := os.ReadFile(a.logPath)
	if err != nil {
		return nil
	}

	lines := strings.Split(string(content), "\n")
	var entries []Entry
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
		if len(entries) >= limit {
			break
		}
	}
	return entries
}

// Close releases the underlying file handle.
func (a *Logger) Close() error {
	if a.logFile == nil {
		return nil
	}
	return a.logFile.Close()
}
