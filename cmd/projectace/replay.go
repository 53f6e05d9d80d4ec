package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/config"
	"github.com/Iseeumhmm/projectace-demo/internal/events"
	"github.com/Iseeumhmm/projectace-demo/internal/identity"
	"github.com/Iseeumhmm/projectace-demo/internal/replay"
	"github.com/Iseeumhmm/projectace-demo/internal/telemetry"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

type replayFlags struct {
	workers  int
	speed    float64
	sink     string
	endpoint string
	asJSON   bool
}

func replayCmd(configPath *string) *cobra.Command {
	var flags replayFlags

	cmd := &cobra.Command{
		Use:   "replay [script...]",
		Short: "Drive trackers from viewing scripts",
		Long: `Replay one or more YAML viewing scripts. Each script mounts a tracker on a
simulated player and delivers its events to the configured sink.

Examples:
  projectace replay testdata/autoplay.yaml
  projectace replay --sink http --endpoint http://localhost:8080/api/video-events scripts/*.yaml
  projectace replay --speed 10 --workers 8 --json scripts/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runReplay(ctx, cfg, log, flags, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 4, "scripts replayed concurrently")
	cmd.Flags().Float64Var(&flags.speed, "speed", 1, "time scale for step offsets and waits")
	cmd.Flags().StringVar(&flags.sink, "sink", "", "override telemetry.sink (log, http, none)")
	cmd.Flags().StringVar(&flags.endpoint, "endpoint", "", "override telemetry.endpoint")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "print results as JSON")
	return cmd
}

func runReplay(ctx context.Context, cfg *config.Config, log hclog.Logger, flags replayFlags, paths []string, out io.Writer) error {
	scripts := make([]*replay.Script, 0, len(paths))
	for _, path := range paths {
		s, err := replay.LoadScript(path)
		if err != nil {
			return err
		}
		scripts = append(scripts, s)
	}

	telemetryCfg := cfg.Telemetry
	if flags.sink != "" {
		telemetryCfg.Sink = flags.sink
	}
	if flags.endpoint != "" {
		telemetryCfg.Endpoint = flags.endpoint
	}
	sink, closeSink, err := newSink(telemetryCfg, log)
	if err != nil {
		return err
	}

	bus := events.NewEventBus(events.BusConfig{BufferSize: cfg.Events.BufferSize}, log.Named("events"))
	if err := bus.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	if _, err := bus.Subscribe("replay", events.EventFilter{
		Types: []events.EventType{events.EventSessionCompleted},
	}, func(e events.Event) error {
		if evt, ok := e.Data.(tracker.Event); ok {
			log.Info("session completed", "session_id", evt.SessionID, "playback_id", evt.PlaybackID, "watched_seconds", evt.Watched.Coverage())
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to subscribe to completions: %w", err)
	}

	opts := replay.Options{
		Defaults: tracker.Config{
			CustomerCode:       cfg.Tracker.CustomerCode,
			AutoplayInViewport: cfg.Tracker.AutoplayInViewport,
			ViewportThreshold:  cfg.Tracker.ViewportThreshold,
			HeartbeatInterval:  cfg.Tracker.HeartbeatInterval,
		},
		Sink:     telemetry.MultiSink{sink, telemetry.NewBusSink(bus, "replay")},
		Identity: identity.NewFileStore(cfg.Tracker.IdentityFile),
		Logger:   log,
		Speed:    flags.speed,
	}

	results, runErr := replay.RunAll(ctx, scripts, opts, flags.workers)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := closeSink(shutdownCtx); err != nil {
		log.Warn("telemetry flush incomplete", "error", err)
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("event bus shutdown error", "error", err)
	}

	if err := printResults(out, results, flags.asJSON); err != nil {
		return err
	}
	return runErr
}

// newSink builds the configured sink and the function that flushes it.
func newSink(cfg config.TelemetryConfig, log hclog.Logger) (tracker.Sink, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Sink {
	case "log", "":
		return telemetry.NewLogSink(log.Named("telemetry")), noop, nil
	case "none":
		return telemetry.DiscardSink{}, noop, nil
	case "http":
		s, err := telemetry.NewHTTPSink(telemetry.HTTPConfig{
			Endpoint:      cfg.Endpoint,
			QueueSize:     cfg.QueueSize,
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
			Timeout:       cfg.Timeout,
			Logger:        log.Named("telemetry"),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func(ctx context.Context) error {
			err := s.Close(ctx)
			stats := s.Stats()
			log.Info("telemetry delivered", "sent", stats.Sent, "failed", stats.Failed, "dropped", stats.Dropped)
			return err
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown telemetry sink: %s", cfg.Sink)
	}
}

func printResults(out io.Writer, results []replay.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		if r.SessionID == "" {
			continue
		}
		fmt.Fprintf(out, "%-24s session=%s viewer=%s steps=%d watched=%.1fs autoplay=%s elapsed=%s\n",
			r.Script, r.SessionID, r.ViewerID, r.Steps, r.Watched.Coverage(), r.Autoplay, r.Elapsed.Round(time.Millisecond))
	}
	return nil
}
