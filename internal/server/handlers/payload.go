package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	apperrors "github.com/Iseeumhmm/projectace-demo/internal/errors"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/samber/mo"
)

// eventPayload is the wire form accepted by the ingest endpoint. Optional
// numbers are pointers so that null and absent both mean unknown.
type eventPayload struct {
	Evt          string                `json:"evt"`
	SessionID    string                `json:"sessionId"`
	ViewerID     string                `json:"viewerId"`
	PlaybackID   string                `json:"playbackId"`
	TS           int64                 `json:"ts"`
	SinceStartMs int64                 `json:"sinceStartMs"`
	CurrentTime  *float64              `json:"currentTime"`
	Duration     *float64              `json:"duration"`
	Buffered     *float64              `json:"buffered"`
	Visible      string                `json:"visible"`
	From         *float64              `json:"from"`
	To           *float64              `json:"to"`
	Quartile     int                   `json:"quartile"`
	Watched      tracker.WatchedRanges `json:"watched"`
	Initiator    string                `json:"initiator"`
}

// decodePayloads accepts a single JSON object or an array of them.
func decodePayloads(raw []byte) ([]eventPayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, apperrors.NewValidationError("Request body is empty", "body")
	}

	if trimmed[0] == '[' {
		var batch []eventPayload
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, apperrors.NewValidationError("Malformed JSON: "+err.Error(), "body")
		}
		if len(batch) == 0 {
			return nil, apperrors.NewValidationError("No events in request", "body")
		}
		return batch, nil
	}

	var single eventPayload
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, apperrors.NewValidationError("Malformed JSON: "+err.Error(), "body")
	}
	return []eventPayload{single}, nil
}

// toEvent validates p and converts it. index is reported in errors for
// batched requests.
func (p eventPayload) toEvent(index int) (tracker.Event, error) {
	fail := func(field, msg string) error {
		return apperrors.NewValidationError(msg, field).WithContext("index", index)
	}

	name := tracker.EventName(p.Evt)
	switch {
	case p.Evt == "":
		return tracker.Event{}, fail("evt", "evt is required")
	case !name.Valid():
		return tracker.Event{}, fail("evt", fmt.Sprintf("unknown event %q", p.Evt))
	case p.SessionID == "":
		return tracker.Event{}, fail("sessionId", "sessionId is required")
	case p.PlaybackID == "":
		return tracker.Event{}, fail("playbackId", "playbackId is required")
	}

	for field, v := range map[string]*float64{
		"currentTime": p.CurrentTime,
		"duration":    p.Duration,
		"buffered":    p.Buffered,
		"from":        p.From,
		"to":          p.To,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
			return tracker.Event{}, fail(field, field+" must be a non-negative number")
		}
	}

	visible := tracker.Visibility(p.Visible)
	switch visible {
	case tracker.Visible, tracker.Hidden:
	case "":
		visible = tracker.Visible
	default:
		return tracker.Event{}, fail("visible", "visible must be visible or hidden")
	}

	quartile := tracker.Quartile(p.Quartile)
	if name == tracker.EventTimeQuartile {
		switch quartile {
		case tracker.Quartile25, tracker.Quartile50, tracker.Quartile75, tracker.Quartile100:
		default:
			return tracker.Event{}, fail("quartile", "quartile must be 25, 50, 75 or 100")
		}
	} else if quartile != 0 {
		return tracker.Event{}, fail("quartile", "quartile is only valid on quartile events")
	}

	initiator := tracker.Initiator(p.Initiator)
	switch initiator {
	case "", tracker.InitiatorUser, tracker.InitiatorViewport, tracker.InitiatorVisibility:
	default:
		return tracker.Event{}, fail("initiator", fmt.Sprintf("unknown initiator %q", p.Initiator))
	}

	var watched tracker.WatchedRanges
	for _, r := range p.Watched {
		if math.IsNaN(r.Start) || math.IsNaN(r.End) || math.IsInf(r.Start, 0) || math.IsInf(r.End, 0) {
			return tracker.Event{}, fail("watched", "watched ranges must be finite")
		}
		watched = watched.Insert(r.Start, r.End)
	}

	return tracker.Event{
		Name:         name,
		SessionID:    p.SessionID,
		ViewerID:     p.ViewerID,
		PlaybackID:   p.PlaybackID,
		Timestamp:    p.TS,
		SinceStartMs: p.SinceStartMs,
		CurrentTime:  ptrOption(p.CurrentTime),
		Duration:     ptrOption(p.Duration),
		Buffered:     ptrOption(p.Buffered),
		Visible:      visible,
		From:         p.From,
		To:           p.To,
		Quartile:     quartile,
		Watched:      watched,
		Initiator:    initiator,
	}, nil
}

func ptrOption(v *float64) mo.Option[float64] {
	if v == nil {
		return mo.None[float64]()
	}
	return mo.Some(*v)
}
