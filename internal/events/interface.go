package events

import (
	"context"
	"errors"

	"github.com/samber/lo"
)

var (
	ErrNotRunning           = errors.New("event bus is not running")
	ErrAlreadyRunning       = errors.New("event bus is already running")
	ErrChannelFull          = errors.New("event channel full")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// EventBus defines the interface for the event bus system
type EventBus interface {
	// Publish enqueues an event without waiting for subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers handler for events matching filter.
	Subscribe(subscriber string, filter EventFilter, handler EventHandler) (*Subscription, error)

	// Unsubscribe removes a subscription
	Unsubscribe(subscriptionID string) error

	// Subscriptions returns all active subscriptions
	Subscriptions() []*Subscription

	// Stats returns event bus statistics
	Stats() EventStats

	Start(ctx context.Context) error

	// Stop drains queued events and stops the processor.
	Stop(ctx context.Context) error

	// Health reports whether the bus is running and not backed up.
	Health() error
}

// MatchesFilter reports whether event passes filter.
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 && !lo.Contains(filter.Types, event.Type) {
		return false
	}
	if len(filter.Sources) > 0 && !lo.Contains(filter.Sources, event.Source) {
		return false
	}
	return true
}
