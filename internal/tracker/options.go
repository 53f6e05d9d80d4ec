package tracker

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	DefaultViewportThreshold = 0.25
	DefaultHeartbeatInterval = 5 * time.Second
)

// Config controls a single tracker.
type Config struct {
	PlaybackID   string
	Poster       string
	CustomerCode string

	AutoplayInViewport bool
	// ViewportThreshold is the visible fraction (0..1) that triggers autoplay.
	ViewportThreshold float64
	HeartbeatInterval time.Duration
	// ReducedMotion is the platform reduced-motion preference, sampled once.
	// When set, viewport autoplay is disabled for the whole session.
	ReducedMotion bool
}

// DefaultConfig returns the configuration used when a host passes nothing
// but a playback id.
func DefaultConfig(playbackID string) Config {
	return Config{
		PlaybackID:         playbackID,
		AutoplayInViewport: true,
		ViewportThreshold:  DefaultViewportThreshold,
		HeartbeatInterval:  DefaultHeartbeatInterval,
	}
}

// Source returns the pass-through player inputs.
func (c Config) Source() Source {
	return Source{
		PlaybackID:   c.PlaybackID,
		Poster:       c.Poster,
		CustomerCode: c.CustomerCode,
	}
}

func (c Config) autoplayEnabled() bool {
	return c.AutoplayInViewport && !c.ReducedMotion
}

func (c *Config) normalize() {
	if c.ViewportThreshold < 0 {
		c.ViewportThreshold = 0
	}
	if c.ViewportThreshold > 1 {
		c.ViewportThreshold = 1
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// Dependencies are the collaborators of a tracker. Only Player is required.
type Dependencies struct {
	Player   Player
	Viewport ViewportObserver
	Page     Page
	Identity IdentityStore
	Sink     Sink
	Logger   hclog.Logger

	// Now and NewID default to time.Now and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

func (d *Dependencies) normalize() {
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.New().String() }
	}
}
