package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/mo"
)

type fakePlayer struct {
	mu       sync.Mutex
	current  mo.Option[float64]
	duration mo.Option[float64]
	buffered mo.Option[float64]
	muted    bool

	playErr   error
	pauseErr  error
	unmuteErr error

	plays  int
	pauses int

	// onPlay and onPause simulate a player that fires its callbacks
	// synchronously from the command.
	onPlay  func()
	onPause func()
}

func (p *fakePlayer) CurrentTime() mo.Option[float64] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *fakePlayer) Duration() mo.Option[float64] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *fakePlayer) BufferedEnd() mo.Option[float64] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

func (p *fakePlayer) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *fakePlayer) SetMuted(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !muted && p.unmuteErr != nil {
		return p.unmuteErr
	}
	p.muted = muted
	return nil
}

func (p *fakePlayer) Play(context.Context) error {
	p.mu.Lock()
	p.plays++
	err := p.playErr
	cb := p.onPlay
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if cb != nil {
		cb()
	}
	return nil
}

func (p *fakePlayer) Pause(context.Context) error {
	p.mu.Lock()
	p.pauses++
	err := p.pauseErr
	cb := p.onPause
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if cb != nil {
		cb()
	}
	return nil
}

func (p *fakePlayer) seek(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = mo.Some(t)
}

func (p *fakePlayer) counts() (plays, pauses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.pauses
}

type fakeSubscription struct {
	observer *fakeObserver
	id       int
}

func (s *fakeSubscription) Disconnect() {
	s.observer.mu.Lock()
	defer s.observer.mu.Unlock()
	delete(s.observer.active, s.id)
	s.observer.disconnects++
}

type fakeObserver struct {
	mu          sync.Mutex
	nextID      int
	active      map[int]func(IntersectionEntry)
	thresholds  []float64
	observes    int
	disconnects int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{active: make(map[int]func(IntersectionEntry))}
}

func (o *fakeObserver) Observe(thresholds []float64, fn func(IntersectionEntry)) Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	o.active[o.nextID] = fn
	o.thresholds = thresholds
	o.observes++
	return &fakeSubscription{observer: o, id: o.nextID}
}

// report delivers an entry to every live subscription.
func (o *fakeObserver) report(intersecting bool, ratio float64) {
	o.mu.Lock()
	fns := make([]func(IntersectionEntry), 0, len(o.active))
	for _, fn := range o.active {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(IntersectionEntry{IsIntersecting: intersecting, IntersectionRatio: ratio})
	}
}

func (o *fakeObserver) live() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

type fakePage struct {
	mu        sync.Mutex
	state     Visibility
	listeners map[int]func()
	nextID    int
}

func newFakePage() *fakePage {
	return &fakePage{state: Visible, listeners: make(map[int]func())}
}

func (p *fakePage) VisibilityState() Visibility {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePage) OnVisibilityChange(fn func()) func() {
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

func (p *fakePage) set(state Visibility) {
	p.mu.Lock()
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

func (p *fakePage) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

type memoryIdentity struct {
	values map[string]string
	getErr error
	setErr error
}

func (m *memoryIdentity) Get(key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryIdentity) Set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

// creatingIdentity implements IdentityCreator on top of memoryIdentity.
type creatingIdentity struct {
	memoryIdentity
	creates  int
	readErr  error
	writeErr error
}

func (c *creatingIdentity) GetOrCreate(key string, create func() string) (string, error) {
	c.creates++
	if c.readErr != nil {
		return "", c.readErr
	}
	if v := c.values[key]; v != "" {
		return v, nil
	}
	v := create()
	if c.values == nil {
		c.values = make(map[string]string)
	}
	c.values[key] = v
	return v, c.writeErr
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Emit(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) named(name EventName) []Event {
	var out []Event
	for _, e := range s.all() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) names() []EventName {
	var out []EventName
	for _, e := range s.all() {
		out = append(out, e.Name)
	}
	return out
}

var errBlocked = errors.New("NotAllowedError: play() can only be initiated by a user gesture")

// sequentialIDs returns deterministic ids: id-1, id-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
