// Package tracker turns raw video player callbacks and viewport visibility
// changes into a deduplicated stream of engagement events, and drives
// autoplay from viewport visibility without overriding a viewer who paused.
//
// A Tracker is safe for concurrent use. Callbacks are serialized on an
// internal lock and applied in the order the player delivers them. Player
// commands are issued with the lock released, so a player that fires its
// callbacks synchronously from Play or Pause is supported.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/mo"
)

// Session is a point-in-time copy of a tracker's playback state.
type Session struct {
	SessionID     string
	ViewerID      string
	StartedAt     time.Time
	Duration      mo.Option[float64]
	LastTime      float64
	IsPlaying     bool
	UserPaused    bool
	WatchedRanges WatchedRanges
	Quartiles     Quartiles
}

// Tracker owns the playback session of one embedded video.
type Tracker struct {
	cfg      Config
	player   Player
	viewport ViewportObserver
	page     Page
	sink     Sink
	logger   hclog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	closed           bool
	session          Session
	autoplay         autoplayMachine
	pendingPause     Initiator
	heartbeatStop    context.CancelFunc
	heartbeatGen     uint64
	removeVisibility func()

	// subMu guards viewSub. It is never taken while mu is held.
	subMu   sync.Mutex
	viewSub Subscription
}

// New mounts a tracker: it creates the session, resolves the viewer id and
// starts listening to page visibility and, unless autoplay is disabled or
// reduced motion is requested, to the viewport.
func New(cfg Config, deps Dependencies) (*Tracker, error) {
	if cfg.PlaybackID == "" {
		return nil, ErrMissingPlaybackID
	}
	if deps.Player == nil {
		return nil, ErrMissingPlayer
	}
	cfg.normalize()
	deps.normalize()

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:      cfg,
		player:   deps.Player,
		viewport: deps.Viewport,
		page:     deps.Page,
		sink:     deps.Sink,
		now:      deps.Now,
		ctx:      ctx,
		cancel:   cancel,
	}

	t.session = Session{
		SessionID: deps.NewID(),
		StartedAt: deps.Now(),
	}
	t.session.ViewerID = resolveViewerID(deps.Identity, deps.NewID, deps.Logger)
	t.logger = deps.Logger.With("session_id", t.session.SessionID, "playback_id", cfg.PlaybackID)

	if t.page != nil {
		t.removeVisibility = t.page.OnVisibilityChange(t.handleVisibilityChange)
	}
	if cfg.autoplayEnabled() && t.viewport != nil {
		t.observeViewport()
	}

	t.logger.Debug("tracker mounted", "viewer_id", t.session.ViewerID, "autoplay", cfg.autoplayEnabled())
	return t, nil
}

// Close unmounts the tracker. The viewport subscription, the visibility
// listener and the heartbeat are all gone when Close returns; later callbacks
// are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.stopHeartbeatLocked()
	removeVisibility := t.removeVisibility
	t.removeVisibility = nil
	t.mu.Unlock()

	t.disconnectViewport()
	if removeVisibility != nil {
		removeVisibility()
	}
	t.cancel()
	t.wg.Wait()
	t.logger.Debug("tracker unmounted")
}

// Snapshot returns a copy of the current session state.
func (t *Tracker) Snapshot() Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.session
	s.UserPaused = t.autoplay.UserPaused()
	s.WatchedRanges = t.session.WatchedRanges.Clone()
	return s
}

// AutoplayState returns the viewport autoplay state.
func (t *Tracker) AutoplayState() AutoplayState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoplay.State()
}

// Source returns the inputs the host passes to its player unchanged.
func (t *Tracker) Source() Source {
	return t.cfg.Source()
}

// OnLoadedMetadata records the duration the first time the player reports a
// positive one.
func (t *Tracker) OnLoadedMetadata() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if !t.session.Duration.IsPresent() {
		if d, ok := t.player.Duration().Get(); ok && d > 0 {
			t.session.Duration = mo.Some(d)
		}
	}
	t.emitLocked(t.eventLocked(EventLoadedMetadata))
}

// OnPlay handles the player's play callback. Any play clears a manual pause.
func (t *Tracker) OnPlay() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	wasUserPaused := t.autoplay.UserPaused()
	t.autoplay.Fire(Played)
	t.pendingPause = ""
	t.session.IsPlaying = true
	t.startHeartbeatLocked()
	t.emitLocked(t.eventLocked(EventPlay))
	t.mu.Unlock()

	if wasUserPaused {
		t.rewireViewport()
	}
}

// OnPause handles the player's pause callback. A pause answering a command
// the tracker issued (viewport exit, hidden tab) is not a manual pause and
// leaves autoplay free to resume later.
func (t *Tracker) OnPause() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	initiator := t.pendingPause
	t.pendingPause = ""
	if initiator == "" {
		initiator = InitiatorUser
	}

	wasUserPaused := t.autoplay.UserPaused()
	if initiator == InitiatorUser {
		t.autoplay.Fire(UserPause)
	}
	nowUserPaused := t.autoplay.UserPaused()

	t.session.IsPlaying = false
	t.stopHeartbeatLocked()

	evt := t.eventLocked(EventPause)
	evt.Initiator = initiator
	t.emitLocked(evt)
	t.mu.Unlock()

	if wasUserPaused != nowUserPaused {
		t.rewireViewport()
	}
}

// OnWaiting marks the start of a rebuffer.
func (t *Tracker) OnWaiting() {
	t.emitSimple(EventRebufferStart)
}

// OnPlaying marks the end of a rebuffer.
func (t *Tracker) OnPlaying() {
	t.emitSimple(EventRebufferEnd)
}

// OnError forwards a player error. The tracker does not try to recover.
func (t *Tracker) OnError() {
	t.emitSimple(EventError)
}

// OnSeeked reports the jump and moves the last known position to the target.
func (t *Tracker) OnSeeked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	to := t.player.CurrentTime().OrElse(0)
	from := t.session.LastTime

	evt := t.eventLocked(EventSeeked)
	evt.From = &from
	evt.To = &to
	t.emitLocked(evt)

	t.session.LastTime = to
}

// OnTimeUpdate extends watched coverage to the current position and emits
// every quartile crossed for the first time.
func (t *Tracker) OnTimeUpdate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	current := t.player.CurrentTime().OrElse(0)
	t.session.WatchedRanges = t.session.WatchedRanges.Insert(t.session.LastTime, current)
	t.session.LastTime = current

	duration := t.session.Duration.OrElse(t.player.Duration().OrElse(0))
	if duration <= 0 {
		return
	}
	for _, q := range t.session.Quartiles.Cross(current / duration * 100) {
		evt := t.eventLocked(EventTimeQuartile)
		evt.Quartile = q
		t.emitLocked(evt)
	}
}

// OnEnded closes coverage out to the end of the video.
func (t *Tracker) OnEnded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	end := t.player.Duration().OrElse(t.session.LastTime)
	t.session.WatchedRanges = t.session.WatchedRanges.Insert(t.session.LastTime, end)
	t.session.IsPlaying = false
	t.stopHeartbeatLocked()

	evt := t.eventLocked(EventEnded)
	evt.Watched = t.session.WatchedRanges.Clone()
	t.emitLocked(evt)
}

func (t *Tracker) emitSimple(name EventName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.emitLocked(t.eventLocked(name))
}

func (t *Tracker) handleVisibilityChange() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	pause := false
	if t.page.VisibilityState() == Hidden && t.session.IsPlaying {
		t.pendingPause = InitiatorVisibility
		t.session.IsPlaying = false
		t.stopHeartbeatLocked()
		pause = true
	}
	t.emitLocked(t.eventLocked(EventVisibilityChange))
	t.mu.Unlock()

	if pause {
		t.commandPause(InitiatorVisibility)
	}
}

func (t *Tracker) eventLocked(name EventName) Event {
	now := t.now()
	visible := Visible
	if t.page != nil {
		visible = t.page.VisibilityState()
	}
	return Event{
		Name:         name,
		SessionID:    t.session.SessionID,
		ViewerID:     t.session.ViewerID,
		PlaybackID:   t.cfg.PlaybackID,
		Timestamp:    now.UnixMilli(),
		SinceStartMs: now.Sub(t.session.StartedAt).Milliseconds(),
		CurrentTime:  t.player.CurrentTime(),
		Duration:     t.session.Duration,
		Buffered:     t.player.BufferedEnd(),
		Visible:      visible,
	}
}

// emitLocked hands the event to the sink. Delivery is best effort and its
// outcome never feeds back into session state.
func (t *Tracker) emitLocked(evt Event) {
	if t.sink == nil {
		return
	}
	_ = t.sink.Emit(t.ctx, evt)
}
