package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	player   *fakePlayer
	observer *fakeObserver
	page     *fakePage
	identity *memoryIdentity
	sink     *recordingSink
	clock    *fixedClock
	tracker  *Tracker
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig("pb-1")
	cfg.HeartbeatInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		player:   &fakePlayer{duration: mo.Some(100.0)},
		observer: newFakeObserver(),
		page:     newFakePage(),
		identity: &memoryIdentity{},
		sink:     &recordingSink{},
		clock:    &fixedClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	tr, err := New(cfg, Dependencies{
		Player:   h.player,
		Viewport: h.observer,
		Page:     h.page,
		Identity: h.identity,
		Sink:     h.sink,
		Now:      h.clock.Now,
		NewID:    sequentialIDs(),
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	h.tracker = tr
	return h
}

// wireCallbacks makes the fake player report play/pause back to the tracker
// from inside the command, like a real player element does.
func (h *harness) wireCallbacks() {
	h.player.onPlay = h.tracker.OnPlay
	h.player.onPause = h.tracker.OnPause
}

func (h *harness) update(positions ...float64) {
	for _, pos := range positions {
		h.player.seek(pos)
		h.tracker.OnTimeUpdate()
	}
}

func TestNewValidatesRequiredInputs(t *testing.T) {
	_, err := New(Config{}, Dependencies{Player: &fakePlayer{}})
	assert.ErrorIs(t, err, ErrMissingPlaybackID)

	_, err = New(DefaultConfig("pb"), Dependencies{})
	assert.ErrorIs(t, err, ErrMissingPlayer)
}

func TestNewAppliesDefaults(t *testing.T) {
	tr, err := New(Config{PlaybackID: "pb", ViewportThreshold: 3}, Dependencies{Player: &fakePlayer{}})
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, 1.0, tr.cfg.ViewportThreshold)
	assert.Equal(t, DefaultHeartbeatInterval, tr.cfg.HeartbeatInterval)
	assert.NotEmpty(t, tr.Snapshot().SessionID)
	assert.NotEmpty(t, tr.Snapshot().ViewerID)
}

func TestViewerIDResolution(t *testing.T) {
	mount := func(t *testing.T, store *memoryIdentity) Session {
		tr, err := New(DefaultConfig("pb"), Dependencies{
			Player:   &fakePlayer{},
			Identity: store,
			NewID:    sequentialIDs(),
		})
		require.NoError(t, err)
		defer tr.Close()
		return tr.Snapshot()
	}

	t.Run("reuses the stored id", func(t *testing.T) {
		s := mount(t, &memoryIdentity{values: map[string]string{ViewerIDKey: "viewer-42"}})
		assert.Equal(t, "viewer-42", s.ViewerID)
		assert.Equal(t, "id-1", s.SessionID)
	})

	t.Run("creates and persists when absent", func(t *testing.T) {
		store := &memoryIdentity{}
		s := mount(t, store)
		assert.Equal(t, "id-2", s.ViewerID)
		assert.Equal(t, "id-2", store.values[ViewerIDKey])
	})

	t.Run("falls back when the store fails on read", func(t *testing.T) {
		store := &memoryIdentity{getErr: errors.New("SecurityError: storage disabled")}
		s := mount(t, store)
		assert.Equal(t, "id-2", s.ViewerID)
		assert.Empty(t, store.values)
	})

	t.Run("keeps the generated id when persisting fails", func(t *testing.T) {
		s := mount(t, &memoryIdentity{setErr: errors.New("QuotaExceededError")})
		assert.Equal(t, "id-2", s.ViewerID)
	})
}

func TestViewerIDPrefersGetOrCreate(t *testing.T) {
	mount := func(t *testing.T, store IdentityStore) Session {
		tr, err := New(DefaultConfig("pb"), Dependencies{
			Player:   &fakePlayer{},
			Identity: store,
			NewID:    sequentialIDs(),
		})
		require.NoError(t, err)
		defer tr.Close()
		return tr.Snapshot()
	}

	t.Run("creates through the store", func(t *testing.T) {
		store := &creatingIdentity{}
		s := mount(t, store)
		assert.Equal(t, "id-2", s.ViewerID)
		assert.Equal(t, 1, store.creates)
		assert.Equal(t, "id-2", store.values[ViewerIDKey])

		again := mount(t, store)
		assert.Equal(t, "id-2", again.ViewerID)
	})

	t.Run("falls back when the store cannot be read", func(t *testing.T) {
		store := &creatingIdentity{readErr: errors.New("identity file is corrupt")}
		s := mount(t, store)
		assert.Equal(t, "id-2", s.ViewerID)
		assert.Empty(t, store.values)
	})

	t.Run("keeps the created id when persisting fails", func(t *testing.T) {
		store := &creatingIdentity{writeErr: errors.New("disk full")}
		s := mount(t, store)
		assert.Equal(t, "id-2", s.ViewerID)
		assert.Equal(t, "id-2", store.values[ViewerIDKey])
	})
}

func TestIdentityFailureStillTracks(t *testing.T) {
	sink := &recordingSink{}
	player := &fakePlayer{duration: mo.Some(10.0)}
	tr, err := New(DefaultConfig("pb"), Dependencies{
		Player:   player,
		Identity: &memoryIdentity{getErr: errors.New("boom")},
		Sink:     sink,
	})
	require.NoError(t, err)
	defer tr.Close()

	tr.OnLoadedMetadata()
	tr.OnPlay()

	events := sink.all()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ViewerID)
	assert.Equal(t, events[0].ViewerID, events[1].ViewerID)
}

func TestEventEnvelope(t *testing.T) {
	h := newHarness(t, nil)
	h.player.duration = mo.None[float64]()
	h.player.buffered = mo.Some(12.5)

	h.clock.Advance(1500 * time.Millisecond)
	h.tracker.OnWaiting()

	events := h.sink.all()
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, EventRebufferStart, evt.Name)
	assert.Equal(t, "id-1", evt.SessionID)
	assert.Equal(t, "id-2", evt.ViewerID)
	assert.Equal(t, "pb-1", evt.PlaybackID)
	assert.Equal(t, h.clock.Now().UnixMilli(), evt.Timestamp)
	assert.Equal(t, int64(1500), evt.SinceStartMs)
	assert.False(t, evt.CurrentTime.IsPresent())
	assert.False(t, evt.Duration.IsPresent())
	assert.Equal(t, mo.Some(12.5), evt.Buffered)
	assert.Equal(t, Visible, evt.Visible)
}

func TestLoadedMetadataSetsDurationOnce(t *testing.T) {
	h := newHarness(t, nil)

	h.player.duration = mo.Some(0.0)
	h.tracker.OnLoadedMetadata()
	assert.False(t, h.tracker.Snapshot().Duration.IsPresent())

	h.player.duration = mo.Some(120.0)
	h.tracker.OnLoadedMetadata()
	h.player.duration = mo.Some(60.0)
	h.tracker.OnLoadedMetadata()

	assert.Equal(t, mo.Some(120.0), h.tracker.Snapshot().Duration)

	events := h.sink.named(EventLoadedMetadata)
	require.Len(t, events, 3)
	assert.Equal(t, mo.Some(120.0), events[2].Duration)
}

func TestPlayAndPause(t *testing.T) {
	h := newHarness(t, nil)

	h.tracker.OnPlay()
	s := h.tracker.Snapshot()
	assert.True(t, s.IsPlaying)
	assert.False(t, s.UserPaused)

	h.tracker.OnPause()
	s = h.tracker.Snapshot()
	assert.False(t, s.IsPlaying)
	assert.True(t, s.UserPaused)

	pauses := h.sink.named(EventPause)
	require.Len(t, pauses, 1)
	assert.Equal(t, InitiatorUser, pauses[0].Initiator)

	h.tracker.OnPlay()
	assert.False(t, h.tracker.Snapshot().UserPaused)
	assert.Equal(t, []EventName{EventPlay, EventPause, EventPlay}, h.sink.names())
}

func TestRebufferAndErrorEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.OnPlay()
	before := h.tracker.Snapshot()

	h.tracker.OnWaiting()
	h.tracker.OnPlaying()
	h.tracker.OnError()

	assert.Equal(t, []EventName{EventPlay, EventRebufferStart, EventRebufferEnd, EventError}, h.sink.names())
	after := h.tracker.Snapshot()
	assert.Equal(t, before.IsPlaying, after.IsPlaying)
	assert.Equal(t, before.LastTime, after.LastTime)
}

func TestSeekedReportsFromAndTo(t *testing.T) {
	h := newHarness(t, nil)
	h.update(4)

	h.player.seek(30)
	h.tracker.OnSeeked()

	seeks := h.sink.named(EventSeeked)
	require.Len(t, seeks, 1)
	require.NotNil(t, seeks[0].From)
	require.NotNil(t, seeks[0].To)
	assert.Equal(t, 4.0, *seeks[0].From)
	assert.Equal(t, 30.0, *seeks[0].To)
	assert.Equal(t, 30.0, h.tracker.Snapshot().LastTime)
}

func TestTimeUpdateFiresQuartilesOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.OnLoadedMetadata()

	h.update(10, 20, 80, 80, 81)

	var fired []Quartile
	for _, e := range h.sink.named(EventTimeQuartile) {
		fired = append(fired, e.Quartile)
	}
	assert.Equal(t, []Quartile{Quartile25, Quartile50, Quartile75}, fired)

	h.update(99)
	assert.Len(t, h.sink.named(EventTimeQuartile), 3)

	h.update(99.5, 100)
	quartiles := h.sink.named(EventTimeQuartile)
	require.Len(t, quartiles, 4)
	assert.Equal(t, Quartile100, quartiles[3].Quartile)

	// Rewinding and crossing again fires nothing new.
	h.player.seek(0)
	h.tracker.OnSeeked()
	h.update(30, 60, 90, 100)
	assert.Len(t, h.sink.named(EventTimeQuartile), 4)
}

func TestTimeUpdateUsesPlayerDurationBeforeMetadata(t *testing.T) {
	h := newHarness(t, nil)
	h.player.duration = mo.Some(40.0)

	h.update(10)

	quartiles := h.sink.named(EventTimeQuartile)
	require.Len(t, quartiles, 1)
	assert.Equal(t, Quartile25, quartiles[0].Quartile)
}

func TestTimeUpdateWithoutDurationSkipsQuartiles(t *testing.T) {
	h := newHarness(t, nil)
	h.player.duration = mo.None[float64]()

	h.update(10, 50)

	assert.Empty(t, h.sink.named(EventTimeQuartile))
	assert.Equal(t, WatchedRanges{{0, 50}}, h.tracker.Snapshot().WatchedRanges)
}

func TestMonotoneTimeUpdatesCollapseToOneRange(t *testing.T) {
	h := newHarness(t, nil)
	h.player.seek(2)
	h.tracker.OnSeeked()

	h.update(2.25, 2.5, 3, 7.75, 12, 30)

	assert.Equal(t, WatchedRanges{{2, 30}}, h.tracker.Snapshot().WatchedRanges)
}

func TestScrubBackThenPlayForward(t *testing.T) {
	h := newHarness(t, nil)
	h.player.seek(10)
	h.tracker.OnSeeked()

	// The player reports the new position before the seek completes.
	h.update(5)
	assert.Equal(t, WatchedRanges{{5, 10}}, h.tracker.Snapshot().WatchedRanges)

	h.update(6, 8, 11, 13, 15)
	assert.Equal(t, WatchedRanges{{5, 15}}, h.tracker.Snapshot().WatchedRanges)
}

func TestSkipAheadKeepsRangesApart(t *testing.T) {
	h := newHarness(t, nil)
	h.update(1, 2, 3)

	h.player.seek(40)
	h.tracker.OnSeeked()
	h.update(41, 42)

	ranges := h.tracker.Snapshot().WatchedRanges
	assert.Equal(t, WatchedRanges{{0, 3}, {40, 42}}, ranges)
	assert.InDelta(t, 5.0, ranges.Coverage(), 1e-9)
}

func TestEndedMergesToDuration(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.OnLoadedMetadata()
	h.tracker.OnPlay()
	h.update(25, 50, 99.75)

	h.tracker.OnEnded()

	s := h.tracker.Snapshot()
	assert.False(t, s.IsPlaying)
	assert.Equal(t, WatchedRanges{{0, 100}}, s.WatchedRanges)

	ended := h.sink.named(EventEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, WatchedRanges{{0, 100}}, ended[0].Watched)
}

func TestEndedWithoutDurationKeepsCoverage(t *testing.T) {
	h := newHarness(t, nil)
	h.player.duration = mo.None[float64]()
	h.update(5)

	h.tracker.OnEnded()

	assert.Equal(t, WatchedRanges{{0, 5}}, h.tracker.Snapshot().WatchedRanges)
}

func TestHeartbeatOnlyWhilePlaying(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.HeartbeatInterval = 10 * time.Millisecond
	})

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, h.sink.named(EventHeartbeat))

	h.tracker.OnPlay()
	assert.Eventually(t, func() bool {
		return len(h.sink.named(EventHeartbeat)) >= 2
	}, time.Second, 5*time.Millisecond)

	h.tracker.OnPause()
	stopped := len(h.sink.named(EventHeartbeat))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, len(h.sink.named(EventHeartbeat)))

	// A second play starts a fresh ticker.
	h.tracker.OnPlay()
	assert.Eventually(t, func() bool {
		return len(h.sink.named(EventHeartbeat)) > stopped
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatStopsOnEndedAndClose(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.HeartbeatInterval = 10 * time.Millisecond
	})

	h.tracker.OnPlay()
	h.tracker.OnPlay()
	assert.Eventually(t, func() bool {
		return len(h.sink.named(EventHeartbeat)) >= 1
	}, time.Second, 5*time.Millisecond)

	h.tracker.OnEnded()
	afterEnded := len(h.sink.named(EventHeartbeat))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, afterEnded, len(h.sink.named(EventHeartbeat)))

	h.tracker.OnPlay()
	h.tracker.Close()
	closed := len(h.sink.all())
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, closed, len(h.sink.all()))
}

func TestViewportThresholdScenario(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.ViewportThreshold = 0.5
	})
	h.wireCallbacks()
	h.tracker.OnPlay()

	h.observer.report(true, 0.3)
	plays, pauses := h.player.counts()
	assert.Equal(t, 0, plays)
	assert.Equal(t, 1, pauses)
	assert.False(t, h.tracker.Snapshot().UserPaused)
	assert.Equal(t, OutOfView, h.tracker.AutoplayState())

	pauseEvents := h.sink.named(EventPause)
	require.Len(t, pauseEvents, 1)
	assert.Equal(t, InitiatorViewport, pauseEvents[0].Initiator)

	h.observer.report(true, 0.6)
	plays, _ = h.player.counts()
	assert.Equal(t, 1, plays)
	assert.True(t, h.tracker.Snapshot().IsPlaying)
	assert.Equal(t, InViewPlaying, h.tracker.AutoplayState())
}

func TestNotIntersectingCountsAsLeaving(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.ViewportThreshold = 0
	})

	h.observer.report(false, 0)
	plays, pauses := h.player.counts()
	assert.Equal(t, 0, plays)
	assert.Equal(t, 1, pauses)
}

func TestManualPauseSuppressesAutoplay(t *testing.T) {
	h := newHarness(t, nil)
	h.player.onPlay = h.tracker.OnPlay

	h.observer.report(true, 1)
	plays, _ := h.player.counts()
	require.Equal(t, 1, plays)

	// The viewer pauses with the controls.
	h.tracker.OnPause()
	assert.True(t, h.tracker.Snapshot().UserPaused)
	assert.Equal(t, InViewPausedByUser, h.tracker.AutoplayState())

	h.observer.report(false, 0)
	h.observer.report(true, 1)
	plays, _ = h.player.counts()
	assert.Equal(t, 1, plays)
	assert.True(t, h.tracker.Snapshot().UserPaused)

	// An explicit play lifts the latch.
	h.tracker.OnPlay()
	assert.False(t, h.tracker.Snapshot().UserPaused)

	h.observer.report(false, 0)
	h.observer.report(true, 1)
	plays, _ = h.player.counts()
	assert.Equal(t, 2, plays)
}

func TestAutoplayPlaysMutedThenUnmutes(t *testing.T) {
	h := newHarness(t, nil)
	h.player.onPlay = h.tracker.OnPlay

	h.observer.report(true, 0.9)

	assert.False(t, h.player.Muted())
	assert.Equal(t, InViewPlaying, h.tracker.AutoplayState())
}

func TestAutoplayBlockedIsTolerated(t *testing.T) {
	h := newHarness(t, nil)
	h.player.playErr = errBlocked

	assert.NotPanics(t, func() {
		h.observer.report(true, 0.9)
	})

	assert.True(t, h.player.Muted())
	assert.Equal(t, OutOfView, h.tracker.AutoplayState())
	assert.False(t, h.tracker.Snapshot().IsPlaying)
	assert.Empty(t, h.sink.named(EventError))

	// Unmute refusals after a successful play are tolerated too.
	h.player.playErr = nil
	h.player.unmuteErr = errBlocked
	h.player.onPlay = h.tracker.OnPlay
	h.observer.report(true, 0.9)
	assert.True(t, h.player.Muted())
	assert.Equal(t, InViewPlaying, h.tracker.AutoplayState())
}

func TestRejectedPauseDoesNotMislabelNextPause(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.OnPlay()
	h.player.pauseErr = errors.New("AbortError")

	h.observer.report(false, 0)

	// The player kept playing; the viewer now pauses by hand.
	h.tracker.OnPause()
	pauses := h.sink.named(EventPause)
	require.Len(t, pauses, 1)
	assert.Equal(t, InitiatorUser, pauses[0].Initiator)
	assert.True(t, h.tracker.Snapshot().UserPaused)
}

func TestAutoplayDisabled(t *testing.T) {
	t.Run("reduced motion", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.ReducedMotion = true })
		assert.Zero(t, h.observer.observes)
	})

	t.Run("flag off", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.AutoplayInViewport = false })
		assert.Zero(t, h.observer.observes)

		h.tracker.OnPlay()
		h.tracker.OnPause()
		h.tracker.OnPlay()
		assert.Zero(t, h.observer.observes)
	})
}

func TestObserverLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, 1, h.observer.observes)
	assert.Equal(t, []float64{0, DefaultViewportThreshold}, h.observer.thresholds)
	assert.Equal(t, 1, h.observer.live())

	// Playing without a prior manual pause leaves the observer alone.
	h.tracker.OnPlay()
	assert.Equal(t, 1, h.observer.observes)

	h.tracker.OnPause()
	assert.Equal(t, 2, h.observer.observes)
	assert.Equal(t, 1, h.observer.live())

	h.tracker.OnPlay()
	assert.Equal(t, 3, h.observer.observes)
	assert.Equal(t, 1, h.observer.live())

	h.tracker.Close()
	assert.Equal(t, 0, h.observer.live())
}

func TestHiddenTabPausesWithoutLatch(t *testing.T) {
	h := newHarness(t, nil)
	h.wireCallbacks()
	h.tracker.OnPlay()

	h.page.set(Hidden)

	_, pauses := h.player.counts()
	assert.Equal(t, 1, pauses)
	s := h.tracker.Snapshot()
	assert.False(t, s.IsPlaying)
	assert.False(t, s.UserPaused)

	vis := h.sink.named(EventVisibilityChange)
	require.Len(t, vis, 1)
	assert.Equal(t, Hidden, vis[0].Visible)

	pauseEvents := h.sink.named(EventPause)
	require.Len(t, pauseEvents, 1)
	assert.Equal(t, InitiatorVisibility, pauseEvents[0].Initiator)

	// Coming back into view may resume.
	h.page.set(Visible)
	h.observer.report(true, 1)
	plays, _ := h.player.counts()
	assert.Equal(t, 1, plays)
}

func TestVisibilityChangeWhilePaused(t *testing.T) {
	h := newHarness(t, nil)

	h.page.set(Hidden)
	h.page.set(Visible)

	_, pauses := h.player.counts()
	assert.Zero(t, pauses)
	assert.Equal(t, []EventName{EventVisibilityChange, EventVisibilityChange}, h.sink.names())
}

func TestCloseDetachesEverything(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, 1, h.page.listenerCount())

	h.tracker.Close()
	h.tracker.Close()

	assert.Zero(t, h.page.listenerCount())
	assert.Zero(t, h.observer.live())

	h.tracker.OnPlay()
	h.tracker.OnTimeUpdate()
	h.tracker.OnEnded()
	assert.Empty(t, h.sink.all())
}

func TestSinkErrorsDoNotAffectState(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.err = errors.New("network down")

	h.tracker.OnLoadedMetadata()
	h.tracker.OnPlay()
	h.update(30)

	s := h.tracker.Snapshot()
	assert.True(t, s.IsPlaying)
	assert.Equal(t, 30.0, s.LastTime)
	assert.True(t, s.Quartiles.Fired(Quartile25))
	assert.Len(t, h.sink.all(), 3)
}

func TestSnapshotIsACopy(t *testing.T) {
	h := newHarness(t, nil)
	h.update(5)

	s := h.tracker.Snapshot()
	s.WatchedRanges[0].End = 99

	assert.Equal(t, WatchedRanges{{0, 5}}, h.tracker.Snapshot().WatchedRanges)
}

func TestSourceEmbedURL(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.CustomerCode = "abc123"
		c.Poster = "https://cdn.example.com/poster.jpg"
	})

	src := h.tracker.Source()
	assert.Equal(t, "pb-1", src.PlaybackID)
	assert.Equal(t,
		"https://customer-abc123.cloudflarestream.com/pb-1/iframe?poster=https%3A%2F%2Fcdn.example.com%2Fposter.jpg",
		src.EmbedURL())
	assert.Equal(t, "https://iframe.videodelivery.net/xyz", Source{PlaybackID: "xyz"}.EmbedURL())
}
