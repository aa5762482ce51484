package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/adapter/filestore"
	"bytemomo/redstorm/internal/adapter/httpapi"
	"bytemomo/redstorm/internal/adapter/logger"
	"bytemomo/redstorm/internal/adapter/memstore"
	"bytemomo/redstorm/internal/adapter/mqttpub"
	"bytemomo/redstorm/internal/adapter/toolexec"
	"bytemomo/redstorm/internal/adapter/wsgateway"
	"bytemomo/redstorm/internal/cache"
	"bytemomo/redstorm/internal/cleanup"
	"bytemomo/redstorm/internal/config"
	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/pipeline"
	"bytemomo/redstorm/internal/pipeline/exploit"
	"bytemomo/redstorm/internal/pipeline/portscan"
	"bytemomo/redstorm/internal/pipeline/recon"
	"bytemomo/redstorm/internal/pipeline/vulnscan"
	"bytemomo/redstorm/internal/usecase"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to config YAML file (optional)")
		listen      = flag.String("listen", "", "Listen address (overrides config)")
		dataDir     = flag.String("data", "", "Data directory (overrides config)")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
		versionFlag = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("RedStorm Assessment Orchestrator v%s (%s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}

	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	if *verbose {
		level = log.DebugLevel
	}
	logger.Setup(level, cfg.Logging.Format, cfg.Logging.File)

	log.WithFields(log.Fields{"version": version, "listen": cfg.Server.Listen}).Info("RedStorm starting")

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("Server exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Assessment store
	var (
		store domain.AssessmentStore
		fs    *filestore.Store
	)
	switch cfg.Storage.Backend {
	case "file":
		var err error
		fs, err = filestore.New(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		store = fs
		log.WithField("dir", fs.Dir()).Info("Using file-backed assessment store")
	default:
		store = memstore.New()
		log.Info("Using in-memory assessment store")
	}

	// Phase executors
	tools := toolexec.NewRunner()
	resultCache := cache.New(cfg.Phases.CacheTTL)

	registry := pipeline.NewRegistry()
	registry.Register(recon.New(tools, resultCache))
	registry.Register(portscan.New(resultCache))
	registry.Register(vulnscan.New(tools))
	registry.Register(exploit.New())
	log.WithField("phases", registry.Names()).Info("Registered phase executors")

	// Event publishers
	hub := wsgateway.NewHub()
	var publisher domain.EventPublisher = hub
	if cfg.Events.MQTT.Enabled {
		mirror, err := mqttpub.New(cfg.Events.MQTT.Config)
		if err != nil {
			return err
		}
		defer mirror.Close()
		publisher = usecase.FanoutPublisher{hub, mirror}
	}

	orch := usecase.NewOrchestrator(store, publisher, registry, usecase.Config{
		DefaultPhases: cfg.Phases.Defaults,
		PhaseTimeout:  cfg.Phases.Timeout,
		PhaseParams:   cfg.Phases.Options,
	})
	if err := orch.RecoverInterrupted(); err != nil {
		return err
	}

	// Cleanup sweeper
	if cfg.Cleanup.Enabled && fs != nil {
		sweeper := cleanup.NewSweeper(cfg.Cleanup.Config, fs.Dir())
		go sweeper.Run(ctx)
	}

	// HTTP + websocket surface
	mux := http.NewServeMux()
	httpapi.New(store, orch, version).Register(mux)
	mux.Handle("GET /ws/{client_id}", wsgateway.New(hub, orch, cfg.Server.AllowedOrigins))

	server := &http.Server{Addr: cfg.Server.Listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Listen).Info("Listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown did not finish cleanly")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Some assessments did not stop before the deadline")
	}

	log.Info("Shutdown complete")
	return nil
}
