// Package replay drives a tracker from a scripted sequence of player,
// viewport and page actions, standing in for a browser.
package replay

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Action is one scripted step.
type Action string

const (
	ActionMetadata Action = "metadata" // value: duration in seconds
	ActionPlay     Action = "play"     // viewer presses play
	ActionPause    Action = "pause"    // viewer presses pause
	ActionSeek     Action = "seek"     // value: target position
	ActionTime     Action = "time"     // value: new position, fires a time update
	ActionWait     Action = "wait"     // value: seconds to sleep
	ActionWaiting  Action = "waiting"  // rebuffer starts
	ActionPlaying  Action = "playing"  // rebuffer ends
	ActionEnd      Action = "end"
	ActionError    Action = "error"
	ActionHide     Action = "hide"     // tab hidden
	ActionShow     Action = "show"     // tab visible
	ActionViewport Action = "viewport" // value: visible ratio 0..1
)

var knownActions = map[Action]bool{
	ActionMetadata: true, ActionPlay: true, ActionPause: true, ActionSeek: true,
	ActionTime: true, ActionWait: true, ActionWaiting: true, ActionPlaying: true,
	ActionEnd: true, ActionError: true, ActionHide: true, ActionShow: true,
	ActionViewport: true,
}

// Step is a single scripted action. At is an offset from the start of the
// run; a step whose offset has passed runs immediately.
type Step struct {
	At     time.Duration `yaml:"at,omitempty" json:"at,omitempty"`
	Action Action        `yaml:"action" json:"action"`
	Value  float64       `yaml:"value,omitempty" json:"value,omitempty"`
}

// Script describes one simulated viewing.
type Script struct {
	Name       string `yaml:"name" json:"name"`
	PlaybackID string `yaml:"playback_id" json:"playback_id"`
	// Viewer, when set, gives a stable viewer id derived from this label.
	Viewer   string  `yaml:"viewer,omitempty" json:"viewer,omitempty"`
	Duration float64 `yaml:"duration" json:"duration"`
	Buffered float64 `yaml:"buffered,omitempty" json:"buffered,omitempty"`
	// BlockAutoplay makes the player refuse programmatic play.
	BlockAutoplay bool `yaml:"block_autoplay,omitempty" json:"block_autoplay,omitempty"`
	ReducedMotion bool `yaml:"reduced_motion,omitempty" json:"reduced_motion,omitempty"`

	// Optional overrides of the tracker settings.
	AutoplayInViewport *bool          `yaml:"autoplay_in_viewport,omitempty" json:"autoplay_in_viewport,omitempty"`
	ViewportThreshold  *float64       `yaml:"viewport_threshold,omitempty" json:"viewport_threshold,omitempty"`
	HeartbeatInterval  *time.Duration `yaml:"heartbeat_interval,omitempty" json:"heartbeat_interval,omitempty"`

	Steps []Step `yaml:"steps" json:"steps"`
}

// LoadScript reads and validates a YAML script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

// ParseScript decodes and validates a YAML script. Unknown keys are errors.
func ParseScript(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the script for values the player could not produce.
func (s *Script) Validate() error {
	if s.PlaybackID == "" {
		return fmt.Errorf("playback_id is required")
	}
	if s.Duration < 0 || s.Buffered < 0 {
		return fmt.Errorf("duration and buffered must be non-negative")
	}
	if s.ViewportThreshold != nil && (*s.ViewportThreshold < 0 || *s.ViewportThreshold > 1) {
		return fmt.Errorf("viewport_threshold must be between 0 and 1")
	}
	if s.HeartbeatInterval != nil && *s.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}

	for i, step := range s.Steps {
		if !knownActions[step.Action] {
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		if step.At < 0 {
			return fmt.Errorf("step %d: at must be non-negative", i)
		}
		switch step.Action {
		case ActionViewport:
			if step.Value < 0 || step.Value > 1 {
				return fmt.Errorf("step %d: viewport ratio must be between 0 and 1", i)
			}
		case ActionSeek, ActionTime, ActionWait, ActionMetadata:
			if step.Value < 0 {
				return fmt.Errorf("step %d: %s value must be non-negative", i, step.Action)
			}
		}
	}
	return nil
}
