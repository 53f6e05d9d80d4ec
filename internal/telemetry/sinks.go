// Package telemetry delivers tracker events to logs, the ingest endpoint or
// the in-process event bus.
package telemetry

import (
	"context"
	"errors"

	"github.com/Iseeumhmm/projectace-demo/internal/events"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/hashicorp/go-hclog"
)

// LogSink writes every event to a logger.
type LogSink struct {
	logger hclog.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger hclog.Logger) *LogSink {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, evt tracker.Event) error {
	args := []interface{}{
		"evt", evt.Name,
		"session_id", evt.SessionID,
		"viewer_id", evt.ViewerID,
		"playback_id", evt.PlaybackID,
		"since_start_ms", evt.SinceStartMs,
		"visible", evt.Visible,
	}
	if v, ok := evt.CurrentTime.Get(); ok {
		args = append(args, "current_time", v)
	}
	if evt.Quartile != 0 {
		args = append(args, "quartile", evt.Quartile)
	}
	if evt.Initiator != "" {
		args = append(args, "initiator", evt.Initiator)
	}
	if evt.From != nil && evt.To != nil {
		args = append(args, "from", *evt.From, "to", *evt.To)
	}
	if len(evt.Watched) > 0 {
		args = append(args, "watched", evt.Watched, "coverage", evt.Watched.Coverage())
	}
	s.logger.Info("video event", args...)
	return nil
}

// BusSink publishes events onto the event bus. An ended event is also
// published as a completed session.
type BusSink struct {
	bus    events.EventBus
	source string
}

// NewBusSink returns a sink publishing with the given source label.
func NewBusSink(bus events.EventBus, source string) *BusSink {
	return &BusSink{bus: bus, source: source}
}

func (s *BusSink) Emit(ctx context.Context, evt tracker.Event) error {
	err := s.bus.Publish(ctx, events.Event{
		Type:   events.EventVideoReceived,
		Source: s.source,
		Data:   evt,
	})
	if evt.Name == tracker.EventEnded {
		err = errors.Join(err, s.bus.Publish(ctx, events.Event{
			Type:   events.EventSessionCompleted,
			Source: s.source,
			Data:   evt,
		}))
	}
	return err
}

// MultiSink hands each event to every sink in order.
type MultiSink []tracker.Sink

func (m MultiSink) Emit(ctx context.Context, evt tracker.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DiscardSink drops everything.
type DiscardSink struct{}

func (DiscardSink) Emit(context.Context, tracker.Event) error { return nil }
