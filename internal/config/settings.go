// Package config holds the worker's static configuration: a plain struct
// with defaults, loadable from a JSON file and overridable by command-line
// flags in cmd/worker.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the full set of options recognized by the worker.
type Config struct {
	APIURL        string `json:"api_url"`
	DataFolder    string `json:"data_folder"`
	InSubpath     string `json:"in_subfolder"`
	OutSubpath    string `json:"out_subfolder"`
	DBFile        string `json:"db"`
	HistoryDBFile string `json:"history_db"`

	BinaryPath string `json:"binary_path"`
	Silent     bool   `json:"silent"`
	LogChild   bool   `json:"log_child"`

	CommandsStored  int `json:"commands_stored"`
	PingInterval    int `json:"ping_interval"`
	JobPingInterval int `json:"job_ping_interval"`

	ChunkSize      int64 `json:"chunk_size"`
	MaxRequestSize int64 `json:"max_request_size"`
	BandwidthLimit int   `json:"bandwidth_limit"` // bytes/sec, 0 = unlimited

	EnableNetworkDiagnostics bool `json:"enable_network_diagnostics"`
	EnableIntegrityCheck     bool `json:"enable_integrity_check"`

	ControlAPIPort  int    `json:"control_api_port"`
	ControlAPIToken string `json:"control_api_token"`
}

// Default returns a Config with every field set to its default value.
func Default() Config {
	return Config{
		APIURL:        "http://localhost:8000",
		DataFolder:    "./data",
		InSubpath:     "input",
		OutSubpath:    "output",
		DBFile:        "moe.json",
		HistoryDBFile: "history.db",

		BinaryPath: "./moe",
		Silent:     false,
		LogChild:   false,

		CommandsStored:  10,
		PingInterval:    10,
		JobPingInterval: 30,

		ChunkSize:      1 << 20,  // 1 MiB
		MaxRequestSize: 50 << 20, // 50 MiB

		EnableNetworkDiagnostics: false,
		EnableIntegrityCheck:     true,

		ControlAPIPort: 4444,
	}
}

// Load reads a JSON config file over the defaults. A missing file is not an
// error; it just means every field keeps its default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// InFolder is the folder under DataFolder that downloaded input artifacts
// are stored in.
func (c Config) InFolder() string {
	return filepath.Join(c.DataFolder, c.InSubpath)
}

// OutFolder is the folder under DataFolder that produced output artifacts
// are stored in.
func (c Config) OutFolder() string {
	return filepath.Join(c.DataFolder, c.OutSubpath)
}

// IndexPath is the full path to the artifact index document.
func (c Config) IndexPath() string {
	return filepath.Join(c.DataFolder, c.DBFile)
}

// HistoryPath is the full path to the job-outcome ledger database.
func (c Config) HistoryPath() string {
	return filepath.Join(c.DataFolder, c.HistoryDBFile)
}

// PingIntervalDuration converts PingInterval (seconds) to a time.Duration.
func (c Config) PingIntervalDuration() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}

// JobPingIntervalDuration converts JobPingInterval (seconds) to a time.Duration.
func (c Config) JobPingIntervalDuration() time.Duration {
	return time.Duration(c.JobPingInterval) * time.Second
}

// EnsureDirs creates the data, input, and output folders if absent.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.DataFolder, c.InFolder(), c.OutFolder()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}
