package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/events"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/hashicorp/go-hclog"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ tracker.Sink = (*LogSink)(nil)
	_ tracker.Sink = (*HTTPSink)(nil)
	_ tracker.Sink = (*BusSink)(nil)
	_ tracker.Sink = MultiSink(nil)
	_ tracker.Sink = DiscardSink{}
)

func sampleEvent(name tracker.EventName, sessionID string) tracker.Event {
	return tracker.Event{
		Name:        name,
		SessionID:   sessionID,
		ViewerID:    "viewer",
		PlaybackID:  "pb",
		CurrentTime: mo.Some(3.5),
		Visible:     tracker.Visible,
	}
}

type ingest struct {
	mu      sync.Mutex
	batches [][]tracker.Event
	status  int
}

func (i *ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var batch []tracker.Event
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	i.mu.Lock()
	i.batches = append(i.batches, batch)
	status := i.status
	i.mu.Unlock()
	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
}

func (i *ingest) received() []tracker.Event {
	i.mu.Lock()
	defer i.mu.Unlock()
	var all []tracker.Event
	for _, b := range i.batches {
		all = append(all, b...)
	}
	return all
}

func TestHTTPSinkRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPSink(HTTPConfig{})
	assert.Error(t, err)
}

func TestHTTPSinkBatchesAndFlushesOnClose(t *testing.T) {
	srv := &ingest{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sink, err := NewHTTPSink(HTTPConfig{
		Endpoint:      ts.URL,
		BatchSize:     3,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, sink.Emit(ctx, sampleEvent(tracker.EventHeartbeat, "s-1")))
	}

	assert.Eventually(t, func() bool { return len(srv.received()) == 6 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sink.Close(ctx))
	got := srv.received()
	require.Len(t, got, 7)
	assert.Equal(t, tracker.EventHeartbeat, got[0].Name)
	assert.Equal(t, mo.Some(3.5), got[0].CurrentTime)

	stats := sink.Stats()
	assert.Equal(t, int64(7), stats.Sent)
	assert.Zero(t, stats.Queued)

	assert.ErrorIs(t, sink.Emit(ctx, sampleEvent(tracker.EventPlay, "s-1")), ErrSinkClosed)
	assert.NoError(t, sink.Close(ctx))
}

func TestHTTPSinkFlushInterval(t *testing.T) {
	srv := &ingest{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sink, err := NewHTTPSink(HTTPConfig{
		Endpoint:      ts.URL,
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer sink.Close(context.Background())

	require.NoError(t, sink.Emit(context.Background(), sampleEvent(tracker.EventPlay, "s-1")))
	assert.Eventually(t, func() bool { return len(srv.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPSinkDropsOldestWhenFull(t *testing.T) {
	srv := &ingest{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sink, err := NewHTTPSink(HTTPConfig{
		Endpoint:      ts.URL,
		QueueSize:     2,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Emit(ctx, sampleEvent(tracker.EventPlay, id)))
	}
	assert.Equal(t, int64(1), sink.Stats().Dropped)

	require.NoError(t, sink.Close(ctx))
	got := srv.received()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SessionID)
	assert.Equal(t, "c", got[1].SessionID)
}

func TestHTTPSinkCountsFailures(t *testing.T) {
	srv := &ingest{status: http.StatusInternalServerError}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sink, err := NewHTTPSink(HTTPConfig{Endpoint: ts.URL, FlushInterval: time.Hour})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Emit(ctx, sampleEvent(tracker.EventPlay, "s")))
	require.NoError(t, sink.Emit(ctx, sampleEvent(tracker.EventPause, "s")))
	require.NoError(t, sink.Close(ctx))

	stats := sink.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Zero(t, stats.Sent)
}

func TestHTTPSinkUnreachableEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	sink, err := NewHTTPSink(HTTPConfig{Endpoint: url, FlushInterval: time.Hour, Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, sink.Emit(context.Background(), sampleEvent(tracker.EventPlay, "s")))
	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, int64(1), sink.Stats().Failed)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Info})

	evt := sampleEvent(tracker.EventEnded, "s-9")
	evt.Watched = tracker.WatchedRanges{{Start: 0, End: 10}}
	require.NoError(t, NewLogSink(logger).Emit(context.Background(), evt))

	out := buf.String()
	assert.Contains(t, out, "video event")
	assert.Contains(t, out, "evt=ended")
	assert.Contains(t, out, "session_id=s-9")
	assert.Contains(t, out, "coverage=10")
}

func TestBusSinkPublishesCompletion(t *testing.T) {
	bus := events.NewEventBus(events.DefaultBusConfig(), nil)
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop(context.Background())

	var mu sync.Mutex
	var types []events.EventType
	_, err := bus.Subscribe("test", events.EventFilter{}, func(e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
		assert.Equal(t, "replay", e.Source)
		return nil
	})
	require.NoError(t, err)

	sink := NewBusSink(bus, "replay")
	require.NoError(t, sink.Emit(context.Background(), sampleEvent(tracker.EventPlay, "s")))
	require.NoError(t, sink.Emit(context.Background(), sampleEvent(tracker.EventEnded, "s")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []events.EventType{events.EventVideoReceived, events.EventVideoReceived, events.EventSessionCompleted}, types)
}

func TestBusSinkReportsStoppedBus(t *testing.T) {
	bus := events.NewEventBus(events.DefaultBusConfig(), nil)
	err := NewBusSink(bus, "x").Emit(context.Background(), sampleEvent(tracker.EventPlay, "s"))
	assert.ErrorIs(t, err, events.ErrNotRunning)
}

func TestMultiSinkFansOut(t *testing.T) {
	var got []string
	ok := tracker.SinkFunc(func(_ context.Context, e tracker.Event) error {
		got = append(got, e.SessionID)
		return nil
	})
	failing := tracker.SinkFunc(func(context.Context, tracker.Event) error {
		return errors.New("down")
	})

	err := MultiSink{ok, failing, ok}.Emit(context.Background(), sampleEvent(tracker.EventPlay, "s"))
	assert.EqualError(t, err, "down")
	assert.Equal(t, []string{"s", "s"}, got)
	assert.NoError(t, MultiSink{}.Emit(context.Background(), sampleEvent(tracker.EventPlay, "s")))
}
