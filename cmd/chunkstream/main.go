// chunkstream is a chunked adaptive video delivery engine: it turns
// uploaded videos into fixed-duration chunks and HLS renditions and serves
// both over range-aware HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mantonx/chunkstream/internal/config"
	"github.com/mantonx/chunkstream/internal/database"
	"github.com/mantonx/chunkstream/internal/events"
	"github.com/mantonx/chunkstream/internal/jobs"
	"github.com/mantonx/chunkstream/internal/logger"
	"github.com/mantonx/chunkstream/internal/modules/modulemanager"
	"github.com/mantonx/chunkstream/internal/server"

	// Feature modules register themselves on import.
	_ "github.com/mantonx/chunkstream/internal/modules/playbackmodule"
	_ "github.com/mantonx/chunkstream/internal/modules/videomodule"
)

func main() {
	if err := run(); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CHUNKSTREAM_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./chunkstream.yaml"); err == nil {
			configPath = "./chunkstream.yaml"
		}
	}
	if err := config.Load(configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := config.Get()

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Root()
	log.Info("starting chunkstream",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"database", cfg.Database.Type,
		"data_dir", cfg.Media.DataDir)

	if err := os.MkdirAll(cfg.Media.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if err := database.Initialize(cfg); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	jobs.Initialize(cfg.Media.MaxConcurrentJobs)
	events.SetGlobalEventBus(events.NewEventBus())

	if err := modulemanager.InitializeAll(database.GetDB()); err != nil {
		return fmt.Errorf("initialize modules: %w", err)
	}

	router := server.SetupRouter(cfg)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	if err := modulemanager.ShutdownAll(ctx); err != nil {
		log.Error("module shutdown failed", "error", err)
	}
	events.GetGlobalEventBus().Shutdown()

	log.Info("shutdown complete")
	return nil
}
