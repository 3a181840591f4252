// Command worker runs the QuantumHive compute worker: it logs in to the
// job server, pulls jobs, runs the native compute binary, and uploads
// results, driven through the local control API or, at startup, through the
// login and -start flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aschie4589/quantumhive-worker/internal/apiclient"
	"github.com/aschie4589/quantumhive-worker/internal/artifact"
	"github.com/aschie4589/quantumhive-worker/internal/audit"
	"github.com/aschie4589/quantumhive-worker/internal/config"
	"github.com/aschie4589/quantumhive-worker/internal/controlapi"
	"github.com/aschie4589/quantumhive-worker/internal/controller"
	"github.com/aschie4589/quantumhive-worker/internal/diagnostics"
	"github.com/aschie4589/quantumhive-worker/internal/history"
	"github.com/aschie4589/quantumhive-worker/internal/job"
	"github.com/aschie4589/quantumhive-worker/internal/lifecycle"
	"github.com/aschie4589/quantumhive-worker/internal/logger"
	"github.com/aschie4589/quantumhive-worker/internal/process"
	"github.com/aschie4589/quantumhive-worker/internal/telemetry"
	"github.com/aschie4589/quantumhive-worker/internal/transfer"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config file overriding defaults")
		dataFolder = flag.String("data-folder", "", "override the data folder the worker reads/writes under")
		apiURL     = flag.String("api-url", "", "override the job server base URL")
		username   = flag.String("username", os.Getenv("QUANTUMHIVE_USERNAME"), "login immediately with this username")
		password   = flag.String("password", os.Getenv("QUANTUMHIVE_PASSWORD"), "login immediately with this password")
		autostart  = flag.Bool("start", false, "start pulling jobs immediately after login")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "quantumhive-worker: loading config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataFolder != "" {
		cfg.DataFolder = *dataFolder
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}

	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintln(os.Stderr, "quantumhive-worker: creating data folders:", err)
		os.Exit(1)
	}

	var logOutput io.Writer = os.Stdout
	log, err := logger.New(cfg.DataFolder, logOutput)
	if err != nil {
		fmt.Fprintln(os.Stderr, "quantumhive-worker: initializing logger:", err)
		os.Exit(1)
	}

	limiter := transfer.NewLimiter()
	if cfg.BandwidthLimit > 0 {
		limiter.SetLimit(cfg.BandwidthLimit)
	}

	api := apiclient.New(log, cfg.APIURL,
		apiclient.WithChunkSize(cfg.ChunkSize),
		apiclient.WithMaxRequestSize(cfg.MaxRequestSize),
		apiclient.WithRateLimiter(limiter),
	)

	sup, err := process.New(log, cfg.BinaryPath, cfg.Silent, cfg.LogChild)
	if err != nil {
		log.Error("initializing process supervisor", "error", err)
		os.Exit(1)
	}

	idx, err := artifact.Open(cfg.IndexPath())
	if err != nil {
		log.Error("opening artifact index", "error", err)
		os.Exit(1)
	}

	progress := &telemetry.Progress{}
	ring := telemetry.NewRing(cfg.CommandsStored)
	runner := job.New(log, api, sup, idx, cfg, progress, ring)
	ctrl := controller.New(log, api, runner, cfg, ring, progress)

	auditLogger, err := audit.New(cfg.DataFolder, log)
	if err != nil {
		log.Error("initializing audit log", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()

	ledger, err := history.Open(cfg.HistoryPath())
	if err != nil {
		log.Error("opening history ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()
	runner.SetHistory(ledger)

	if cfg.EnableNetworkDiagnostics {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			result, err := diagnostics.Run(ctx)
			if err != nil {
				log.Warn("network diagnostics failed", "error", err)
				return
			}
			log.Info("network diagnostics", "summary", result.Summary())
		}()
	}

	controlServer := controlapi.New(ctrl, cfg, auditLogger, ledger)
	controlServer.Start(cfg.ControlAPIPort)

	lifecycle.WaitForSignals(func() {
		log.Info("shutdown signal received, stopping worker")
		ctrl.Stop()
		os.Exit(0)
	})

	if *username != "" && *password != "" {
		if err := ctrl.Login(context.Background(), *username, *password); err != nil {
			log.Error("login failed", "error", err)
		} else if *autostart {
			ctrl.Start()
		}
	}

	select {}
}
