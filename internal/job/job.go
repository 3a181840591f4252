// Package job drives a single job end-to-end: fetch, download inputs, run
// the compute child, upload outputs, and complete or cancel — the Job
// Runner state machine.
package job

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aschie4589/quantumhive-worker/internal/apiclient"
	"github.com/aschie4589/quantumhive-worker/internal/artifact"
	"github.com/aschie4589/quantumhive-worker/internal/config"
	"github.com/aschie4589/quantumhive-worker/internal/history"
	"github.com/aschie4589/quantumhive-worker/internal/process"
	"github.com/aschie4589/quantumhive-worker/internal/telemetry"
)

// State is one node of the Job Runner state machine.
type State int

const (
	Idle State = iota
	HaveJob
	Running
	Cancelling
	Failed
	Uploading
	Completing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case HaveJob:
		return "HAVE_JOB"
	case Running:
		return "RUNNING"
	case Cancelling:
		return "CANCELLING"
	case Failed:
		return "FAILED"
	case Uploading:
		return "UPLOADING"
	case Completing:
		return "COMPLETING"
	default:
		return "UNKNOWN"
	}
}

// Runner drives one job at a time through the lifecycle state machine. It
// exclusively owns Progress and the current Job reference.
type Runner struct {
	logger *slog.Logger
	api    *apiclient.Client
	sup    *process.Supervisor
	index  *artifact.Index
	cfg    config.Config

	progress *telemetry.Progress
	ring     *telemetry.Ring
	history  *history.Ledger

	mu       sync.RWMutex
	state    State
	job      *apiclient.Job
	jobStart time.Time
}

// SetHistory wires a local job-outcome ledger. Optional: when nil (the
// default), finished jobs are simply not recorded locally.
func (r *Runner) SetHistory(l *history.Ledger) {
	r.history = l
}

// New builds a Job Runner wired to the given collaborators.
func New(logger *slog.Logger, api *apiclient.Client, sup *process.Supervisor, index *artifact.Index, cfg config.Config, progress *telemetry.Progress, ring *telemetry.Ring) *Runner {
	return &Runner{
		logger:   logger,
		api:      api,
		sup:      sup,
		index:    index,
		cfg:      cfg,
		progress: progress,
		ring:     ring,
		state:    Idle,
	}
}

// State returns the Job Runner's current state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// CurrentJob returns the job currently being driven, if any.
func (r *Runner) CurrentJob() (apiclient.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.job == nil {
		return apiclient.Job{}, false
	}
	return *r.job, true
}

// ActiveJobID adapts CurrentJob to the heartbeat.ActiveJob shape: only
// reports a job while RUNNING, UPLOADING, or COMPLETING, so heartbeats are
// never sent for a job that isn't actively being processed.
func (r *Runner) ActiveJobID() (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.job == nil {
		return 0, false
	}
	switch r.state {
	case Running, Uploading, Completing:
		return r.job.ID, true
	default:
		return 0, false
	}
}

func (r *Runner) inFile(fileID string) string {
	return fmt.Sprintf("%s/%s_in.dat", r.cfg.InFolder(), fileID)
}

func (r *Runner) outFile(jobID int64) string {
	return fmt.Sprintf("%s/%d_out.dat", r.cfg.OutFolder(), jobID)
}

// pauseBetweenPolls is the idle sleep between empty get_job polls.
const pauseBetweenPolls = time.Second
