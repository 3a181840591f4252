// Package controller exposes the process-wide worker lifecycle: login,
// start/pause/stop, and a read-only state snapshot for the UI.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aschie4589/quantumhive-worker/internal/apiclient"
	"github.com/aschie4589/quantumhive-worker/internal/config"
	"github.com/aschie4589/quantumhive-worker/internal/heartbeat"
	"github.com/aschie4589/quantumhive-worker/internal/job"
	"github.com/aschie4589/quantumhive-worker/internal/telemetry"
)

// progressSource is the narrow slice of telemetry.Progress the Controller
// needs for its status snapshot.
type progressSource interface {
	Snapshot() (iteration int, entropy float64, hasEntropy bool)
}

// Phase is the Controller's own lifecycle state, distinct from the Job
// Runner's per-job state machine.
type Phase int

const (
	Init Phase = iota
	LoggedIn
	RunningPhase
	Paused
	Stopping
	Stopped
)

// Controller is the explicit handle the UI is given — replacing a
// module-level singleton — created once and passed down.
type Controller struct {
	logger   *slog.Logger
	api      *apiclient.Client
	runner   *job.Runner
	cfg      config.Config
	ring     *telemetry.Ring
	progress progressSource

	username string

	mu      sync.RWMutex
	phase   Phase
	running bool
	stopped bool
	// active reports whether the Job Runner MainLoop/Heartbeat Loop
	// goroutines spawned by Start are still alive. Pause only clears
	// running (they idle in their !running() branch); only Stop tears
	// them down. Start must not spawn a second pair while the first is
	// still active, or two MainLoop goroutines end up racing over the
	// same job.Runner.
	active bool
	// spawns counts how many times Start has actually launched the
	// background task pair (as opposed to just flipping running back on
	// after a Pause). Used by tests to confirm resume doesn't duplicate
	// goroutines.
	spawns int

	cancelTasks context.CancelFunc
	wg          sync.WaitGroup
}

// New builds a Controller. running() defaults to false until start() is
// called.
func New(logger *slog.Logger, api *apiclient.Client, runner *job.Runner, cfg config.Config, ring *telemetry.Ring, progress progressSource) *Controller {
	return &Controller{logger: logger, api: api, runner: runner, cfg: cfg, ring: ring, progress: progress, phase: Init}
}

// Login authenticates against the job server.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	if err := c.api.Login(ctx, username, password); err != nil {
		return err
	}
	c.mu.Lock()
	c.username = username
	c.phase = LoggedIn
	c.mu.Unlock()
	return nil
}

// IsLoggedIn returns the cached login state, re-validating via the API
// Client's auth ping only if it hasn't been checked within ping_interval.
func (c *Controller) IsLoggedIn(ctx context.Context) bool {
	if time.Since(c.api.LastAuthCheck()) < c.cfg.PingIntervalDuration() {
		return c.api.LoggedIn()
	}
	return c.api.PingAuth(ctx) == nil
}

// Start is idempotent when already running, and also on the paused-to-
// running transition: the job runner main loop and heartbeat loop spawned
// by an earlier Start are still alive, merely idling in their !running()
// branch, so resuming only needs to flip running back on rather than
// spawn a second pair of background tasks.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.active {
		// Background tasks already running (or idling from a Pause);
		// just resume, no new goroutines.
		c.running = true
		c.phase = RunningPhase
		c.mu.Unlock()
		return
	}
	c.running = true
	c.active = true
	c.spawns++
	c.phase = RunningPhase
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelTasks = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.runner.MainLoop(ctx, c.Running)
	}()
	go func() {
		defer c.wg.Done()
		heartbeat.Loop(ctx, c.api, c.cfg.JobPingIntervalDuration(), c.Running, c.runner.ActiveJobID, c.logger)
	}()
}

// Running reports whether the worker is actively pulling jobs.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Pause sets running=false; the Job Runner finishes any in-flight child
// and then idles without fetching new jobs.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.running = false
	c.phase = Paused
}

// Stop sets both running=false and stopped=true, cancels the worker's
// background tasks (which in turn terminates any live child via the Job
// Runner's cancellation path), and blocks until they exit.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stopped = true
	c.phase = Stopping
	cancel := c.cancelTasks
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.phase = Stopped
	c.active = false
	c.mu.Unlock()
}

// Stopped reports whether Stop has been called; this is terminal.
func (c *Controller) Stopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// Snapshot is the read-only state the UI observes.
type Snapshot struct {
	Phase           Phase
	Running         bool
	HasJob          bool
	Username        string
	JobType         string
	CurrentIteration int
	CurrentEntropy   float64
	HasEntropy       bool
	LastCommands     []string
	LastAuthCheck    time.Time
	APIStatus        string
}

// State returns a consistent read-only snapshot for observers; it never
// mutates anything.
func (c *Controller) State() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		Phase:    c.phase,
		Running:  c.running,
		Username: c.username,
	}
	c.mu.RUnlock()

	if j, ok := c.runner.CurrentJob(); ok {
		snap.HasJob = true
		snap.JobType = string(j.Kind)
	}
	snap.CurrentIteration, snap.CurrentEntropy, snap.HasEntropy = c.progress.Snapshot()
	snap.LastCommands = c.ring.Snapshot()
	snap.LastAuthCheck = c.api.LastAuthCheck()
	snap.APIStatus = c.api.Status()
	return snap
}
