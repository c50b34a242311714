// Package portal assembles the per-learner session: unlock cache,
// reconciliation, playback tracking, refresh coordination and the password
// challenge.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sendrec/portal/internal/challenge"
	"github.com/sendrec/portal/internal/content"
	"github.com/sendrec/portal/internal/playback"
	"github.com/sendrec/portal/internal/reconcile"
	"github.com/sendrec/portal/internal/refresh"
	"github.com/sendrec/portal/internal/signal"
	"github.com/sendrec/portal/internal/unlock"
)

var DefaultFocusedRoutes = []string{"/watch/", "/video/"}

type Config struct {
	SessionID       string
	Content         content.Store
	Storage         unlock.Storage
	Bus             signal.Bus
	Sources         []playback.Source
	FocusedRoutes   []string
	RefreshInterval time.Duration
	RetryDelay      time.Duration
	ScanInterval    time.Duration
}

type Session struct {
	ID         string
	Unlocks    *unlock.Store
	Reconciler *reconcile.Engine
	Playback   *playback.Tracker
	Refresh    *refresh.Coordinator
	Challenges *challenge.Challenger

	bus          signal.Bus
	scanInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSessionID() string {
	return uuid.NewString()
}

func New(cfg Config) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID()
	}
	if cfg.Storage == nil {
		cfg.Storage = unlock.NewMemoryStorage()
	}
	if cfg.FocusedRoutes == nil {
		cfg.FocusedRoutes = DefaultFocusedRoutes
	}

	unlocks := unlock.New(cfg.Storage)
	engine := reconcile.NewEngine(unlocks)
	tracker := playback.NewTracker(playback.WithSources(cfg.Sources...))
	coordinator := refresh.New(refresh.Config{
		Fetcher:    cfg.Content,
		Reconciler: engine,
		Cache:      unlocks,
		Playback:   tracker,
		Focused:    refresh.PrefixClassifier(cfg.FocusedRoutes...),
		Interval:   cfg.RefreshInterval,
		RetryDelay: cfg.RetryDelay,
	})

	s := &Session{
		ID:         cfg.SessionID,
		Unlocks:    unlocks,
		Reconciler: engine,
		Playback:   tracker,
		Refresh:    coordinator,
		Challenges: challenge.New(cfg.Content, unlocks),
		bus:        cfg.Bus,
	}
	s.scanInterval = cfg.ScanInterval
	return s
}

// Start loads the catalog once and then runs the refresh triggers in the
// background until Close. A failed initial load is returned but the
// background loop keeps running so a later tick can recover.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if s.scanInterval > 0 {
		s.Playback.StartScanLoop(runCtx, s.scanInterval)
	}

	go func() {
		defer close(s.done)
		if err := s.Refresh.Run(runCtx, s.bus); err != nil {
			slog.Error("portal: refresh loop stopped", "session", s.ID, "error", err)
		}
	}()

	initial := s.Refresh.Tick
	if sig, ok := s.pendingClear(ctx); ok {
		initial = func(ctx context.Context) error { return s.Refresh.HandleSignal(ctx, sig) }
	}
	if err := initial(ctx); err != nil {
		return fmt.Errorf("initial catalog load: %w", err)
	}
	return nil
}

// pendingClear returns the last published signal when it is a cache clear
// still inside the freshness window. A session starting just after an admin
// clear must not keep unlocks restored from storage.
func (s *Session) pendingClear(ctx context.Context) (signal.RefreshSignal, bool) {
	if s.bus == nil {
		return signal.RefreshSignal{}, false
	}
	sig, ok, err := s.bus.Latest(ctx)
	if err != nil {
		slog.Warn("portal: latest refresh signal unavailable", "session", s.ID, "error", err)
		return signal.RefreshSignal{}, false
	}
	if !ok || !sig.ClearPasswordCache || !sig.Fresh(time.Now()) {
		return signal.RefreshSignal{}, false
	}
	return sig, true
}

// Close stops background work. Unlock state stays in storage so a reload
// within the session keeps it.
func (s *Session) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.Refresh.Close()
}

// End closes the session and erases its unlock state. The reconciler
// forgets the last catalog so a restarted session starts from scratch.
func (s *Session) End() {
	s.Close()
	s.Unlocks.LockAll()
	s.Reconciler.Reset()
}

func (s *Session) Sections() []content.Section {
	sections, _ := s.Refresh.Catalog()
	return sections
}

func (s *Session) Items() []content.Item {
	_, items := s.Refresh.Catalog()
	return items
}

// ItemsInSection returns the section's items in catalog order.
func (s *Session) ItemsInSection(sectionID string) []content.Item {
	var out []content.Item
	for _, it := range s.Items() {
		if it.SectionID == sectionID {
			out = append(out, it)
		}
	}
	return out
}

func (s *Session) findSection(id string) (content.Section, bool) {
	for _, sec := range s.Sections() {
		if sec.ID == id {
			return sec, true
		}
	}
	return content.Section{}, false
}

func (s *Session) findItem(id string) (content.Item, bool) {
	for _, it := range s.Items() {
		if it.ID == id {
			return it, true
		}
	}
	return content.Item{}, false
}

// OpenSection asks for access to a section, opening a password prompt when
// one is needed.
func (s *Session) OpenSection(ctx context.Context, id string) (challenge.Decision, error) {
	sec, ok := s.findSection(id)
	if !ok {
		return challenge.NeedsPassword, fmt.Errorf("section %s: %w", id, content.ErrNotFound)
	}
	return s.Challenges.Access(ctx, content.KindSection, id, sec.HasPassword)
}

func (s *Session) OpenVideo(ctx context.Context, id string) (challenge.Decision, error) {
	it, ok := s.findItem(id)
	if !ok {
		return challenge.NeedsPassword, fmt.Errorf("video %s: %w", id, content.ErrNotFound)
	}
	return s.Challenges.Access(ctx, content.KindVideo, id, it.HasPassword)
}

func (s *Session) SubmitPassword(ctx context.Context, candidate string) (challenge.Prompt, error) {
	return s.Challenges.Submit(ctx, candidate)
}

// IsUnlocked reports whether the rendering layer may show the item without
// asking for a password.
func (s *Session) IsUnlocked(kind content.Kind, id string) bool {
	switch kind {
	case content.KindSection:
		sec, ok := s.findSection(id)
		return ok && (!sec.HasPassword || s.Unlocks.IsSectionUnlocked(id))
	case content.KindVideo:
		it, ok := s.findItem(id)
		return ok && (!it.HasPassword || s.Unlocks.IsVideoUnlocked(id))
	}
	return false
}

func (s *Session) Play(ref playback.ElementRef) { s.Playback.SetPlaying(ref) }
func (s *Session) Stop()                        { s.Playback.SetStopped() }
func (s *Session) Navigate(route string)        { s.Refresh.SetRoute(route) }

func (s *Session) RefreshNow(ctx context.Context) error {
	return s.Refresh.Manual(ctx)
}

func (s *Session) LockAll() {
	s.Unlocks.LockAll()
}

// BroadcastRefresh publishes a refresh signal to every session on the bus,
// this one included.
func (s *Session) BroadcastRefresh(ctx context.Context, clearPasswordCache bool) error {
	if s.bus == nil {
		return errors.New("no signal bus configured")
	}
	return s.bus.Publish(ctx, signal.New(time.Now(), clearPasswordCache))
}
