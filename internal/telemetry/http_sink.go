package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/eapache/queue"
	"github.com/hashicorp/go-hclog"
)

// ErrSinkClosed is returned by Emit after Close.
var ErrSinkClosed = errors.New("telemetry: sink closed")

// HTTPConfig configures an HTTPSink.
type HTTPConfig struct {
	Endpoint      string
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Timeout       time.Duration
	Client        *http.Client
	Logger        hclog.Logger
}

func (c *HTTPConfig) normalize() {
	if c.QueueSize < 1 {
		c.QueueSize = 1024
	}
	if c.BatchSize < 1 {
		c.BatchSize = 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
}

// HTTPStats counts delivery outcomes.
type HTTPStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}

// HTTPSink posts events as JSON arrays to the ingest endpoint. Emit only
// enqueues; a background worker sends batches when BatchSize events are
// waiting or FlushInterval elapsed. When the queue is full the oldest event
// is dropped. Failed batches are counted and discarded.
type HTTPSink struct {
	cfg HTTPConfig

	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	stats  HTTPStats

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewHTTPSink starts the delivery worker.
func NewHTTPSink(cfg HTTPConfig) (*HTTPSink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("telemetry: endpoint is required")
	}
	cfg.normalize()

	s := &HTTPSink{
		cfg:  cfg,
		q:    queue.New(),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *HTTPSink) Emit(_ context.Context, evt tracker.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	if s.q.Length() >= s.cfg.QueueSize {
		s.q.Remove()
		s.stats.Dropped++
	}
	s.q.Add(evt)
	full := s.q.Length() >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Stats returns delivery counters.
func (s *HTTPSink) Stats() HTTPStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Queued = s.q.Length()
	return stats
}

// Close stops accepting events and flushes what is queued. It returns
// ctx.Err() when ctx ends before the flush completes.
func (s *HTTPSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *HTTPSink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			for s.flushOnce() > 0 {
			}
			return
		case <-s.wake:
			for s.pending() >= s.cfg.BatchSize {
				s.flushOnce()
			}
		case <-ticker.C:
			s.flushOnce()
		}
	}
}

func (s *HTTPSink) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length()
}

// flushOnce sends up to BatchSize queued events and returns how many it took.
func (s *HTTPSink) flushOnce() int {
	s.mu.Lock()
	n := s.q.Length()
	if n > s.cfg.BatchSize {
		n = s.cfg.BatchSize
	}
	batch := make([]tracker.Event, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, s.q.Remove().(tracker.Event))
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	err := s.post(batch)

	s.mu.Lock()
	if err != nil {
		s.stats.Failed += int64(len(batch))
	} else {
		s.stats.Sent += int64(len(batch))
	}
	s.mu.Unlock()

	if err != nil {
		s.cfg.Logger.Debug("telemetry delivery failed", "endpoint", s.cfg.Endpoint, "events", len(batch), "error", err)
	}
	return len(batch)
}

func (s *HTTPSink) post(batch []tracker.Event) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingest responded %s", resp.Status)
	}
	return nil
}
