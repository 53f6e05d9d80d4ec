package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/samber/mo"
)

var (
	ErrMissingPlaybackID = errors.New("tracker: playback id is required")
	ErrMissingPlayer     = errors.New("tracker: player is required")
)

// EventName identifies a telemetry event.
type EventName string

const (
	EventLoadedMetadata   EventName = "loadedmetadata"
	EventPlay             EventName = "play"
	EventPause            EventName = "pause"
	EventRebufferStart    EventName = "rebuffer_start"
	EventRebufferEnd      EventName = "rebuffer_end"
	EventSeeked           EventName = "seeked"
	EventTimeQuartile     EventName = "quartile"
	EventEnded            EventName = "ended"
	EventError            EventName = "error"
	EventHeartbeat        EventName = "heartbeat"
	EventVisibilityChange EventName = "visibilitychange"
)

// EventNames lists every event a tracker can emit.
var EventNames = []EventName{
	EventLoadedMetadata,
	EventPlay,
	EventPause,
	EventRebufferStart,
	EventRebufferEnd,
	EventSeeked,
	EventTimeQuartile,
	EventEnded,
	EventError,
	EventHeartbeat,
	EventVisibilityChange,
}

// Valid reports whether n is one of EventNames.
func (n EventName) Valid() bool {
	for _, known := range EventNames {
		if n == known {
			return true
		}
	}
	return false
}

// Visibility mirrors the document visibility state.
type Visibility string

const (
	Visible Visibility = "visible"
	Hidden  Visibility = "hidden"
)

// Initiator records who caused a pause.
type Initiator string

const (
	InitiatorUser       Initiator = "user"
	InitiatorViewport   Initiator = "viewport"
	InitiatorVisibility Initiator = "visibility"
)

// Event is the telemetry payload. The JSON names match what the ingest
// endpoint accepts.
type Event struct {
	Name         EventName          `json:"evt"`
	SessionID    string             `json:"sessionId"`
	ViewerID     string             `json:"viewerId"`
	PlaybackID   string             `json:"playbackId"`
	Timestamp    int64              `json:"ts"`
	SinceStartMs int64              `json:"sinceStartMs"`
	CurrentTime  mo.Option[float64] `json:"currentTime"`
	Duration     mo.Option[float64] `json:"duration"`
	Buffered     mo.Option[float64] `json:"buffered"`
	Visible      Visibility         `json:"visible"`

	From      *float64      `json:"from,omitempty"`
	To        *float64      `json:"to,omitempty"`
	Quartile  Quartile      `json:"quartile,omitempty"`
	Watched   WatchedRanges `json:"watched,omitempty"`
	Initiator Initiator     `json:"initiator,omitempty"`
}

// Player is the embedded video player. Getters must not block; Play and Pause
// may fail, for instance when the platform refuses unmuted autoplay.
type Player interface {
	CurrentTime() mo.Option[float64]
	Duration() mo.Option[float64]
	// BufferedEnd is the end of the last buffered range.
	BufferedEnd() mo.Option[float64]
	Muted() bool
	SetMuted(muted bool) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
}

// IntersectionEntry is one viewport observation of the tracker's container.
type IntersectionEntry struct {
	IsIntersecting    bool
	IntersectionRatio float64
}

// Subscription is a live viewport observation.
type Subscription interface {
	Disconnect()
}

// ViewportObserver reports intersection changes of the tracker's container
// whenever the ratio crosses one of thresholds.
type ViewportObserver interface {
	Observe(thresholds []float64, fn func(IntersectionEntry)) Subscription
}

// Page exposes document visibility.
type Page interface {
	VisibilityState() Visibility
	// OnVisibilityChange registers fn and returns a function removing it.
	OnVisibilityChange(fn func()) (remove func())
}

// IdentityStore is a durable key-value store used for the viewer id.
type IdentityStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// IdentityCreator is implemented by stores that can read and create a value
// atomically. The tracker prefers it, so trackers mounted concurrently on
// one store share a viewer id. A non-empty value returned with an error was
// created but not persisted.
type IdentityCreator interface {
	GetOrCreate(key string, create func() string) (string, error)
}

// Sink receives telemetry. Emit must not block on delivery; its error is
// ignored by the tracker.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Source describes the video handed to the player unchanged.
type Source struct {
	PlaybackID   string
	Poster       string
	CustomerCode string
}

// EmbedURL returns the Cloudflare Stream iframe URL for the source.
func (s Source) EmbedURL() string {
	base := "https://iframe.videodelivery.net/" + url.PathEscape(s.PlaybackID)
	if s.CustomerCode != "" {
		base = fmt.Sprintf("https://customer-%s.cloudflarestream.com/%s/iframe",
			url.PathEscape(s.CustomerCode), url.PathEscape(s.PlaybackID))
	}
	if s.Poster == "" {
		return base
	}
	q := url.Values{}
	q.Set("poster", s.Poster)
	return base + "?" + q.Encode()
}
