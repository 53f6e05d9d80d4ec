package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/Iseeumhmm/projectace-demo/internal/config"
	"github.com/Iseeumhmm/projectace-demo/internal/database"
	"github.com/Iseeumhmm/projectace-demo/internal/events"
	"github.com/Iseeumhmm/projectace-demo/internal/logger"
	"github.com/Iseeumhmm/projectace-demo/internal/server"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry ingest and query API",
		Long: `Run the HTTP API that accepts tracker events, stores them and
streams them to live subscribers.

Examples:
  projectace serve
  projectace serve --config /etc/projectace/projectace.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var reload *config.ConfigManager
			if watch {
				reload = config.GetConfigManager()
			}
			return runServe(ctx, cfg, log, reload)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the config file when it changes")
	return cmd
}

// runServe runs the API until ctx is cancelled, then shuts the server and
// the event bus down within the configured timeout. When reload is set, its
// file is watched and changes are applied to the running server.
func runServe(ctx context.Context, cfg *config.Config, log hclog.Logger, reload *config.ConfigManager) error {
	db, err := database.Initialize(cfg.Database, log.Named("database"))
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	defer sqlDB.Close()

	bus := events.NewEventBus(events.BusConfig{BufferSize: cfg.Events.BufferSize}, log.Named("events"))
	if err := bus.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	srv := server.New(cfg.Server, database.NewRepository(db), bus, log.Named("server"))
	if reload != nil {
		reload.AddWatcher(applyConfig(reload, srv, log))
		if err := reload.Watch(ctx); err != nil {
			log.Warn("config hot reload disabled", "error", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Error("event bus shutdown error", "error", err)
	}

	if serveErr == nil {
		log.Info("server shutdown complete")
	}
	return serveErr
}

// applyConfig returns the watcher that brings a running server in line with
// a reloaded file: the log level, ingest limits and allowed origins. Other
// changes are reported as waiting for a restart. Watchers run concurrently,
// so every call applies the manager's latest configuration rather than the
// one it was handed.
func applyConfig(cm *config.ConfigManager, srv *server.Server, log hclog.Logger) config.ConfigWatcher {
	var mu sync.Mutex
	applied := cm.GetConfig()

	return func(_, _ *config.Config) {
		mu.Lock()
		defer mu.Unlock()

		next := cm.GetConfig()
		if next.Logging.Level != applied.Logging.Level {
			log.SetLevel(logger.ParseLevel(next.Logging.Level))
			log.Info("log level changed", "level", next.Logging.Level)
		}
		srv.ApplyConfig(next.Server)

		if pending := restartRequired(applied, next); len(pending) > 0 {
			log.Warn("config changes take effect after a restart", "sections", pending)
		}
		applied = next
	}
}

// restartRequired lists the sections whose changes a running server cannot
// apply.
func restartRequired(prev, next *config.Config) []string {
	var pending []string
	p, n := prev.Server, next.Server
	if p.Host != n.Host || p.Port != n.Port ||
		p.ReadTimeout != n.ReadTimeout || p.WriteTimeout != n.WriteTimeout ||
		p.MaxHeaderBytes != n.MaxHeaderBytes || p.EnableCORS != n.EnableCORS ||
		!slices.Equal(p.TrustedProxies, n.TrustedProxies) {
		pending = append(pending, "server")
	}
	if prev.Database != next.Database {
		pending = append(pending, "database")
	}
	if prev.Events != next.Events {
		pending = append(pending, "events")
	}
	if prev.Logging.Format != next.Logging.Format {
		pending = append(pending, "logging.format")
	}
	return pending
}
