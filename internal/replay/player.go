package replay

import (
	"context"
	"errors"
	"sync"

	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/samber/mo"
)

// ErrAutoplayBlocked is what a Player returns from Play when it was told to
// refuse programmatic playback.
var ErrAutoplayBlocked = errors.New("NotAllowedError: play() failed because the user didn't interact with the document first")

// Callbacks are the player events a tracker listens to. *tracker.Tracker
// implements it.
type Callbacks interface {
	OnLoadedMetadata()
	OnPlay()
	OnPause()
	OnWaiting()
	OnPlaying()
	OnError()
	OnSeeked()
	OnTimeUpdate()
	OnEnded()
}

// Player is an in-memory video player. Commands and scripted viewer actions
// change its state and fire the matching callback synchronously, the way a
// media element dispatches its events.
type Player struct {
	mu        sync.Mutex
	cb        Callbacks
	current   float64
	duration  mo.Option[float64]
	buffered  mo.Option[float64]
	muted     bool
	playing   bool
	blockPlay bool
}

// NewPlayer returns a paused player at position zero with no metadata.
func NewPlayer() *Player {
	return &Player{}
}

// Attach sets the callback target.
func (p *Player) Attach(cb Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

// BlockPlay makes Play fail with ErrAutoplayBlocked.
func (p *Player) BlockPlay(block bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockPlay = block
}

// SetBuffered sets the end of the buffered range.
func (p *Player) SetBuffered(end float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffered = mo.Some(end)
}

func (p *Player) CurrentTime() mo.Option[float64] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return mo.Some(p.current)
}

func (p *Player) Duration() mo.Option[float64] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *Player) BufferedEnd() mo.Option[float64] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *Player) SetMuted(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	return nil
}

// Playing reports whether the player is playing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Play is the programmatic play command.
func (p *Player) Play(context.Context) error {
	p.mu.Lock()
	if p.blockPlay {
		p.mu.Unlock()
		return ErrAutoplayBlocked
	}
	p.mu.Unlock()
	p.startPlayback()
	return nil
}

// Pause is the programmatic pause command.
func (p *Player) Pause(context.Context) error {
	p.stopPlayback()
	return nil
}

// UserPlay is the viewer pressing play. It is never blocked.
func (p *Player) UserPlay() {
	p.startPlayback()
}

// UserPause is the viewer pressing pause.
func (p *Player) UserPause() {
	p.stopPlayback()
}

// LoadMetadata sets the duration and fires loadedmetadata.
func (p *Player) LoadMetadata(duration float64) {
	p.mu.Lock()
	if duration > 0 {
		p.duration = mo.Some(duration)
	}
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb.OnLoadedMetadata()
	}
}

// Seek jumps to position and fires seeked.
func (p *Player) Seek(position float64) {
	p.mu.Lock()
	p.current = p.clamp(position)
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb.OnSeeked()
	}
}

// Advance moves to position and fires timeupdate.
func (p *Player) Advance(position float64) {
	p.mu.Lock()
	p.current = p.clamp(position)
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb.OnTimeUpdate()
	}
}

// Stall fires waiting.
func (p *Player) Stall() {
	if cb := p.callbacks(); cb != nil {
		cb.OnWaiting()
	}
}

// Resume fires playing after a stall.
func (p *Player) Resume() {
	if cb := p.callbacks(); cb != nil {
		cb.OnPlaying()
	}
}

// Fail fires error.
func (p *Player) Fail() {
	if cb := p.callbacks(); cb != nil {
		cb.OnError()
	}
}

// End moves to the end, stops playback and fires ended.
func (p *Player) End() {
	p.mu.Lock()
	if d, ok := p.duration.Get(); ok {
		p.current = d
	}
	p.playing = false
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb.OnEnded()
	}
}

func (p *Player) startPlayback() {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = true
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb.OnPlay()
	}
}

func (p *Player) stopPlayback() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb.OnPause()
	}
}

func (p *Player) callbacks() Callbacks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cb
}

// clamp keeps position inside [0, duration]. Callers hold mu.
func (p *Player) clamp(position float64) float64 {
	if position < 0 {
		return 0
	}
	if d, ok := p.duration.Get(); ok && position > d {
		return d
	}
	return position
}

// Viewport is a scriptable intersection observer.
type Viewport struct {
	mu         sync.Mutex
	nextID     int
	active     map[int]func(tracker.IntersectionEntry)
	thresholds []float64
}

// NewViewport returns an observer with no subscriptions.
func NewViewport() *Viewport {
	return &Viewport{active: make(map[int]func(tracker.IntersectionEntry))}
}

func (v *Viewport) Observe(thresholds []float64, fn func(tracker.IntersectionEntry)) tracker.Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	v.active[v.nextID] = fn
	v.thresholds = append([]float64(nil), thresholds...)
	return &viewportSubscription{viewport: v, id: v.nextID}
}

// Set reports a new visible ratio to every live subscription.
func (v *Viewport) Set(ratio float64) {
	v.mu.Lock()
	fns := make([]func(tracker.IntersectionEntry), 0, len(v.active))
	for _, fn := range v.active {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	entry := tracker.IntersectionEntry{IsIntersecting: ratio > 0, IntersectionRatio: ratio}
	for _, fn := range fns {
		fn(entry)
	}
}

// Live returns the number of active subscriptions.
func (v *Viewport) Live() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}

type viewportSubscription struct {
	viewport *Viewport
	id       int
}

func (s *viewportSubscription) Disconnect() {
	s.viewport.mu.Lock()
	defer s.viewport.mu.Unlock()
	delete(s.viewport.active, s.id)
}

// Page is a scriptable document visibility source.
type Page struct {
	mu        sync.Mutex
	state     tracker.Visibility
	listeners map[int]func()
	nextID    int
}

// NewPage returns a visible page.
func NewPage() *Page {
	return &Page{state: tracker.Visible, listeners: make(map[int]func())}
}

func (p *Page) VisibilityState() tracker.Visibility {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Page) OnVisibilityChange(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// SetVisibility changes the state and notifies listeners when it differs.
func (p *Page) SetVisibility(state tracker.Visibility) {
	p.mu.Lock()
	if p.state == state {
		p.mu.Unlock()
		return
	}
	p.state = state
	fns := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
