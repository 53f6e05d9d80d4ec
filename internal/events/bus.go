package events

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"
)

// healthyUsage is the channel fill ratio above which Health reports the bus
// as backed up.
const healthyUsage = 0.9

// eventBus fans telemetry events out to subscribers from one processor
// goroutine, so every subscriber sees events in publish order.
type eventBus struct {
	config BusConfig
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	queue         chan Event
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	total    int64
	byType   map[string]int64
	bySource map[string]int64

	dropped       atomic.Int64
	handlerErrors atomic.Int64
}

// NewEventBus returns a stopped bus. A non-positive buffer size falls back
// to DefaultBusConfig.
func NewEventBus(config BusConfig, logger hclog.Logger) EventBus {
	if config.BufferSize < 1 {
		config.BufferSize = DefaultBusConfig().BufferSize
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &eventBus{
		config:        config,
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		queue:         make(chan Event, config.BufferSize),
		byType:        make(map[string]int64),
		bySource:      make(map[string]int64),
	}
}

func (eb *eventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.running {
		return ErrAlreadyRunning
	}
	eb.running = true
	eb.stopCh = make(chan struct{})

	eb.wg.Add(1)
	go eb.process(ctx, eb.stopCh)

	eb.logger.Info("event bus started", "buffer_size", eb.config.BufferSize)
	return nil
}

// Stop stops the bus. Events already queued are delivered before the
// processor exits, unless ctx expires first.
func (eb *eventBus) Stop(ctx context.Context) error {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return nil
	}
	eb.running = false
	close(eb.stopCh)
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus stopped", "delivered", eb.Stats().TotalEvents)
		return nil
	case <-ctx.Done():
		eb.logger.Warn("event bus stop timed out", "queued", len(eb.queue))
		return ctx.Err()
	}
}

// Publish queues event without waiting. A full queue drops the event and
// returns ErrChannelFull; ingest must never stall on a slow subscriber.
func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("invalid event: type is required")
	}
	if event.Source == "" {
		return fmt.Errorf("invalid event: source is required")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Holding the read lock keeps Stop from closing stopCh between the
	// running check and the send, so a queued event is always drained.
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if !eb.running {
		return ErrNotRunning
	}

	select {
	case eb.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		eb.dropped.Add(1)
		eb.logger.Warn("event queue full, dropping event", "type", event.Type, "source", event.Source)
		return ErrChannelFull
	}
}

func (eb *eventBus) Subscribe(subscriber string, filter EventFilter, handler EventHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	sub := &Subscription{
		ID:         "sub-" + uuid.New().String(),
		Filter:     filter,
		Handler:    handler,
		Subscriber: lo.Ternary(subscriber == "", "anonymous", subscriber),
		Created:    time.Now(),
	}

	eb.mu.Lock()
	eb.subscriptions[sub.ID] = sub
	eb.mu.Unlock()

	eb.logger.Debug("subscribed", "subscription_id", sub.ID, "subscriber", sub.Subscriber, "types", filter.Types)
	return sub, nil
}

func (eb *eventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	_, ok := eb.subscriptions[subscriptionID]
	delete(eb.subscriptions, subscriptionID)
	eb.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	eb.logger.Debug("unsubscribed", "subscription_id", subscriptionID)
	return nil
}

// Subscriptions returns copies of the live subscriptions.
func (eb *eventBus) Subscriptions() []*Subscription {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return lo.MapToSlice(eb.subscriptions, func(_ string, sub *Subscription) *Subscription {
		copied := *sub
		return &copied
	})
}

func (eb *eventBus) Stats() EventStats {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return EventStats{
		TotalEvents:         eb.total,
		DroppedEvents:       eb.dropped.Load(),
		HandlerErrors:       eb.handlerErrors.Load(),
		EventsByType:        maps.Clone(eb.byType),
		EventsBySource:      maps.Clone(eb.bySource),
		ActiveSubscriptions: len(eb.subscriptions),
	}
}

// Health fails when the bus is stopped or its queue is nearly full.
func (eb *eventBus) Health() error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if !eb.running {
		return ErrNotRunning
	}
	if usage := float64(len(eb.queue)) / float64(cap(eb.queue)); usage > healthyUsage {
		return fmt.Errorf("event queue is %d%% full", int(usage*100))
	}
	return nil
}

func (eb *eventBus) process(ctx context.Context, stopCh <-chan struct{}) {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.queue:
			eb.dispatch(event)
		case <-stopCh:
			for {
				select {
				case event := <-eb.queue:
					eb.dispatch(event)
				default:
					return
				}
			}
		case <-ctx.Done():
			eb.logger.Debug("event processor cancelled", "queued", len(eb.queue))
			return
		}
	}
}

// dispatch counts event and hands it to every matching subscriber in turn.
func (eb *eventBus) dispatch(event Event) {
	eb.mu.Lock()
	eb.total++
	eb.byType[string(event.Type)]++
	eb.bySource[event.Source]++
	matching := lo.Filter(lo.Values(eb.subscriptions), func(sub *Subscription, _ int) bool {
		return MatchesFilter(event, sub.Filter)
	})
	eb.mu.Unlock()

	for _, sub := range matching {
		eb.deliver(sub, event)
	}
}

// deliver runs one handler. Errors and panics are counted, never
// propagated to the publisher.
func (eb *eventBus) deliver(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.handlerErrors.Add(1)
			eb.logger.Error("event handler panicked", "subscription_id", sub.ID, "event_type", event.Type, "panic", r)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.handlerErrors.Add(1)
		eb.logger.Error("event handler failed", "subscription_id", sub.ID, "event_type", event.Type, "error", err)
		return
	}

	now := time.Now()
	eb.mu.Lock()
	sub.TriggerCount++
	sub.LastTriggered = &now
	eb.mu.Unlock()
}
