package playback

import (
	"context"
	"log/slog"
	"time"
)

type ElementKind int

const (
	// Native elements report paused/ended state.
	Native ElementKind = iota
	// Embedded players are opaque; only visibility is known.
	Embedded
)

// Element is what a Source can observe about one displayed media element.
type Element struct {
	Ref     ElementRef
	Kind    ElementKind
	Paused  bool
	Ended   bool
	Visible bool
}

func (e Element) playing() bool {
	if e.Kind == Embedded {
		return e.Visible
	}
	return !e.Paused && !e.Ended
}

// Source reports the media elements currently displayed.
type Source interface {
	Elements() []Element
}

type SourceFunc func() []Element

func (f SourceFunc) Elements() []Element { return f() }

// NoopSource observes nothing; use it where no media can be inspected.
type NoopSource struct{}

func (NoopSource) Elements() []Element { return nil }

func (t *Tracker) AddSource(s Source) {
	t.mu.Lock()
	t.sources = append(t.sources, s)
	t.mu.Unlock()
}

// Scan infers playback from the registered sources and applies the result
// when it differs from the current state. The inference is a fallback: it
// never reports playing within the scan guard of an explicit SetStopped.
func (t *Tracker) Scan() State {
	t.mu.Lock()
	sources := make([]Source, len(t.sources))
	copy(sources, t.sources)
	current := t.state
	stoppedAt := t.stoppedAt
	gen := t.gen
	t.mu.Unlock()

	if len(sources) == 0 {
		return current
	}

	var elements []Element
	for _, s := range sources {
		elements = append(elements, s.Elements()...)
	}

	inferred := State{}
	for _, e := range elements {
		if e.playing() {
			inferred = State{Playing: true, Active: e.Ref}
			break
		}
	}

	if inferred == current {
		return current
	}

	if inferred.Playing {
		if !stoppedAt.IsZero() && t.now().Sub(stoppedAt) < t.scanGuard {
			slog.Debug("playback: scan ignored after explicit stop", "ref", inferred.Active)
			return current
		}
		if current.Playing && hasPlaying(elements, current.Active) {
			return current
		}
		t.applyIfUnchanged(gen, inferred)
		return t.State()
	}

	// Only an observed element can be inferred stopped; an element no source
	// reports may be one the rendering layer tracks explicitly.
	if current.Playing && !observed(elements, current.Active) {
		return current
	}
	t.applyIfUnchanged(gen, State{})
	return t.State()
}

// applyIfUnchanged drops the scan result if an explicit call landed while
// sources were being inspected, even one that left the state as it was.
func (t *Tracker) applyIfUnchanged(gen uint64, next State) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.state = next
	t.mu.Unlock()
	t.notify()
}

func hasPlaying(elements []Element, ref ElementRef) bool {
	for _, e := range elements {
		if e.Ref == ref && e.playing() {
			return true
		}
	}
	return false
}

func observed(elements []Element, ref ElementRef) bool {
	for _, e := range elements {
		if e.Ref == ref {
			return true
		}
	}
	return false
}

func (t *Tracker) StartScanLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Scan()
			}
		}
	}()
}
