// Package events is the in-process event bus. Ingested telemetry is published
// here and fanned out to subscribers such as the live stream.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventVideoReceived carries one accepted tracker event.
	EventVideoReceived EventType = "video.event.received"
	// EventSessionStarted fires for the first event of a session.
	EventSessionStarted EventType = "video.session.started"
	// EventSessionCompleted fires when a session reports ended.
	EventSessionCompleted EventType = "video.session.completed"
)

// Event represents a bus event
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Source    string      `json:"source"` // ingest, replay, tracker:<session>
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions. Empty fields match
// everything.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Sources []string    `json:"sources,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	DroppedEvents       int64            `json:"dropped_events"`
	HandlerErrors       int64            `json:"handler_errors"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	EventsBySource      map[string]int64 `json:"events_by_source"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// BusConfig represents configuration for the event bus
type BusConfig struct {
	BufferSize int `json:"buffer_size"`
}

// DefaultBusConfig returns default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{BufferSize: 1000}
}
