package database

import (
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/geo"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/samber/mo"
)

// VideoEvent is one accepted telemetry event.
type VideoEvent struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	SessionID    string            `gorm:"index;not null" json:"session_id"`
	ViewerID     string            `gorm:"index" json:"viewer_id"`
	PlaybackID   string            `gorm:"index;not null" json:"playback_id"`
	Name         tracker.EventName `gorm:"not null" json:"evt"`
	ClientTS     int64             `json:"ts"`
	SinceStartMs int64             `json:"since_start_ms"`
	CurrentTime  *float64          `json:"current_time,omitempty"`
	Duration     *float64          `json:"duration,omitempty"`
	Buffered     *float64          `json:"buffered,omitempty"`
	Visible      string            `json:"visible"`

	FromTime  *float64              `json:"from,omitempty"`
	ToTime    *float64              `json:"to,omitempty"`
	Quartile  int                   `json:"quartile,omitempty"`
	Initiator string                `json:"initiator,omitempty"`
	Watched   tracker.WatchedRanges `gorm:"serializer:json" json:"watched,omitempty"`

	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	ClientIP string `json:"client_ip,omitempty"`

	ReceivedAt time.Time `gorm:"index" json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ViewerSession aggregates the events of one tracker session.
type ViewerSession struct {
	SessionID      string                `gorm:"primaryKey" json:"session_id"`
	ViewerID       string                `gorm:"index" json:"viewer_id"`
	PlaybackID     string                `gorm:"index;not null" json:"playback_id"`
	EventCount     int64                 `json:"event_count"`
	LastEvent      tracker.EventName     `json:"last_event"`
	LastPosition   float64               `json:"last_position"`
	Duration       *float64              `json:"duration,omitempty"`
	MaxQuartile    int                   `json:"max_quartile"`
	Watched        tracker.WatchedRanges `gorm:"serializer:json" json:"watched,omitempty"`
	WatchedSeconds float64               `json:"watched_seconds"`
	Completed      bool                  `json:"completed"`
	Country        string                `json:"country,omitempty"`
	City           string                `json:"city,omitempty"`
	FirstSeen      time.Time             `json:"first_seen"`
	LastSeen       time.Time             `gorm:"index" json:"last_seen"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// NewVideoEvent flattens a tracker event and the request location into a row.
func NewVideoEvent(evt tracker.Event, loc geo.Geo, receivedAt time.Time) VideoEvent {
	return VideoEvent{
		SessionID:    evt.SessionID,
		ViewerID:     evt.ViewerID,
		PlaybackID:   evt.PlaybackID,
		Name:         evt.Name,
		ClientTS:     evt.Timestamp,
		SinceStartMs: evt.SinceStartMs,
		CurrentTime:  optionPtr(evt.CurrentTime),
		Duration:     optionPtr(evt.Duration),
		Buffered:     optionPtr(evt.Buffered),
		Visible:      string(evt.Visible),
		FromTime:     evt.From,
		ToTime:       evt.To,
		Quartile:     int(evt.Quartile),
		Initiator:    string(evt.Initiator),
		Watched:      evt.Watched,
		Country:      loc.Country,
		City:         loc.City,
		ClientIP:     loc.ClientIP,
		ReceivedAt:   receivedAt,
	}
}

// apply folds one event into the aggregate.
func (s *ViewerSession) apply(e *VideoEvent) {
	s.EventCount++
	s.LastEvent = e.Name
	s.LastSeen = e.ReceivedAt
	if s.ViewerID == "" {
		s.ViewerID = e.ViewerID
	}
	if e.CurrentTime != nil {
		s.LastPosition = *e.CurrentTime
	}
	if e.Duration != nil {
		d := *e.Duration
		s.Duration = &d
	}
	if e.Quartile > s.MaxQuartile {
		s.MaxQuartile = e.Quartile
	}
	if e.Name == tracker.EventEnded {
		s.Completed = true
		s.Watched = e.Watched.Clone()
		s.WatchedSeconds = e.Watched.Coverage()
	}
	if e.Country != "" {
		s.Country = e.Country
	}
	if e.City != "" {
		s.City = e.City
	}
}

func optionPtr(o mo.Option[float64]) *float64 {
	if v, ok := o.Get(); ok {
		return &v
	}
	return nil
}
