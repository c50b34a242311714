// Package playback tracks whether any media element in the session is
// currently playing.
package playback

import (
	"log/slog"
	"sync"
	"time"
)

const DefaultScanGuard = 250 * time.Millisecond

// ElementRef is an opaque handle to a media element owned by the rendering
// layer.
type ElementRef string

type State struct {
	Playing bool
	Active  ElementRef
}

type Listener func(State)

type subscription struct {
	id int
	fn Listener
}

// Tracker is the single source of truth for playback within one session
// root. Explicit calls are last-write-wins and every call notifies
// subscribers, including calls that do not change the state.
type Tracker struct {
	mu        sync.Mutex
	state     State
	stoppedAt time.Time
	// gen counts explicit calls so a scan can tell it raced one.
	gen       uint64
	listeners []subscription
	nextID    int
	sources   []Source
	scanGuard time.Duration
	now       func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithScanGuard sets how long after an explicit SetStopped a scan may not
// infer playback.
func WithScanGuard(d time.Duration) Option {
	return func(t *Tracker) { t.scanGuard = d }
}

func WithSources(sources ...Source) Option {
	return func(t *Tracker) { t.sources = append(t.sources, sources...) }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{scanGuard: DefaultScanGuard, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) SetPlaying(ref ElementRef) {
	t.mu.Lock()
	t.state = State{Playing: true, Active: ref}
	t.gen++
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) SetStopped() {
	t.mu.Lock()
	t.state = State{}
	t.stoppedAt = t.now()
	t.gen++
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Playing
}

func (t *Tracker) Active() ElementRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Active
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (t *Tracker) Subscribe(fn Listener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners = append(t.listeners, subscription{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.listeners {
				if s.id == id {
					t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// notify runs outside t.mu so listeners may call back into the tracker.
func (t *Tracker) notify() {
	t.mu.Lock()
	state := t.state
	listeners := make([]subscription, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, s := range listeners {
		callListener(s.fn, state)
	}
}

func callListener(fn Listener, state State) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("playback: listener panicked", "panic", r)
		}
	}()
	fn(state)
}
