package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sendrec/portal/internal/content"
	"github.com/sendrec/portal/internal/playback"
	"github.com/sendrec/portal/internal/reconcile"
	"github.com/sendrec/portal/internal/signal"
	"github.com/sendrec/portal/internal/unlock"
)

type fakeFetcher struct {
	mu       sync.Mutex
	sections []content.Section
	items    []content.Item
	err      error
	calls    atomic.Int32
	onFetch  func()
	block    chan struct{}
}

func (f *fakeFetcher) FetchSections(ctx context.Context) ([]content.Section, error) {
	f.calls.Add(1)
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sections, f.err
}

func (f *fakeFetcher) FetchAssignedContentItems(context.Context) ([]content.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items, nil
}

func (f *fakeFetcher) setSections(sections ...content.Section) {
	f.mu.Lock()
	f.sections = sections
	f.mu.Unlock()
}

type harness struct {
	coord   *Coordinator
	fetcher *fakeFetcher
	tracker *playback.Tracker
	store   *unlock.Store
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	store := unlock.New(unlock.NewMemoryStorage())
	tracker := playback.NewTracker()
	fetcher := &fakeFetcher{}
	cfg := Config{
		Fetcher:    fetcher,
		Reconciler: reconcile.NewEngine(store),
		Cache:      store,
		Playback:   tracker,
		Focused:    PrefixClassifier("/watch/"),
		Interval:   time.Hour,
		RetryDelay: 50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg)
	t.Cleanup(c.Close)
	return &harness{coord: c, fetcher: fetcher, tracker: tracker, store: store}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTick_DroppedWhilePlaying(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.SetPlaying("v1")

	if err := h.coord.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := h.fetcher.calls.Load(); n != 0 {
		t.Errorf("fetch calls = %d, want 0 while playing", n)
	}
}

func TestTick_RefreshesWhenActive(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.setSections(content.Section{ID: "s1", HasPassword: true})

	if err := h.coord.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := h.fetcher.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
	sections, _ := h.coord.Catalog()
	if len(sections) != 1 {
		t.Errorf("catalog sections = %d, want 1", len(sections))
	}
	if h.coord.LastRefreshed().IsZero() {
		t.Error("expected last refreshed time to be recorded")
	}
}

func TestRefresh_ReconcilesPasswordRemoval(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.fetcher.setSections(content.Section{ID: "s1", HasPassword: true})
	_ = h.coord.Tick(ctx)
	h.fetcher.setSections(content.Section{ID: "s1", HasPassword: false})
	_ = h.coord.Tick(ctx)

	if !h.store.IsSectionUnlocked("s1") {
		t.Error("expected section to be auto-unlocked after its password was removed")
	}
}

func TestGate_FollowsPlaybackAndRoute(t *testing.T) {
	h := newHarness(t, nil)
	var transitions []State
	var mu sync.Mutex
	h.coord.OnStateChange(func(s State) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})

	if h.coord.State() != Active {
		t.Fatal("expected coordinator to start active")
	}

	h.tracker.SetPlaying("v1")
	if h.coord.State() != Suspended {
		t.Error("expected suspended while playing")
	}

	h.coord.SetRoute("/watch/v1")
	h.tracker.SetStopped()
	if h.coord.State() != Suspended {
		t.Error("expected suspended on a focused route even without playback")
	}

	h.coord.SetRoute("/dashboard")
	if h.coord.State() != Active {
		t.Error("expected active once stopped and off the focused route")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Suspended, Active}
	if len(transitions) != len(want) || transitions[0] != want[0] || transitions[1] != want[1] {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestManual_RejectedWhileSuspended(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.SetRoute("/watch/v1")

	if h.coord.CanRefresh() {
		t.Error("expected manual refresh control to be disabled")
	}
	err := h.coord.Manual(context.Background())
	if !errors.Is(err, ErrSuspended) {
		t.Errorf("expected ErrSuspended, got %v", err)
	}
	if n := h.fetcher.calls.Load(); n != 0 {
		t.Errorf("fetch calls = %d, want 0", n)
	}
}

func TestManual_RefreshesWhenActive(t *testing.T) {
	h := newHarness(t, nil)
	if !h.coord.CanRefresh() {
		t.Fatal("expected manual refresh control to be enabled")
	}
	if err := h.coord.Manual(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := h.fetcher.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestHandleSignal_StaleIgnored(t *testing.T) {
	now := time.Unix(50_000, 0)
	h := newHarness(t, func(c *Config) { c.Now = func() time.Time { return now } })
	h.store.UnlockSection("s1")

	stale := signal.New(now.Add(-61*time.Second), true)
	if err := h.coord.HandleSignal(context.Background(), stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := h.fetcher.calls.Load(); n != 0 {
		t.Errorf("fetch calls = %d, want 0 for a stale signal", n)
	}
	if !h.store.IsSectionUnlocked("s1") {
		t.Error("stale signal must not clear the password cache")
	}
}

func TestHandleSignal_ClearCacheBeforeReconcile(t *testing.T) {
	h := newHarness(t, nil)
	h.store.UnlockSection("s1")
	h.store.UnlockVideo("v1")

	var emptyAtFetch bool
	h.fetcher.onFetch = func() {
		emptyAtFetch = len(h.store.UnlockedSections()) == 0 && len(h.store.UnlockedVideos()) == 0
	}

	if err := h.coord.HandleSignal(context.Background(), signal.New(time.Now(), true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !emptyAtFetch {
		t.Error("expected unlock store to be empty before the refresh ran")
	}
	if h.store.IsSectionUnlocked("s1") {
		t.Error("expected section to require a new prompt")
	}
}

func TestHandleSignal_RetriesOnceAfterPlaybackStops(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.tracker.SetPlaying("v1")

	_ = h.coord.HandleSignal(ctx, signal.New(time.Now(), false))
	_ = h.coord.HandleSignal(ctx, signal.New(time.Now(), false))
	if !h.coord.HasPendingRetry() {
		t.Fatal("expected a pending retry")
	}
	if n := h.fetcher.calls.Load(); n != 0 {
		t.Fatalf("fetch calls = %d, want 0 while suspended", n)
	}

	h.tracker.SetStopped()
	waitFor(t, func() bool { return h.fetcher.calls.Load() == 1 })

	time.Sleep(120 * time.Millisecond)
	if n := h.fetcher.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want exactly 1 retry", n)
	}
	if h.coord.HasPendingRetry() {
		t.Error("expected no retry left pending")
	}
}

func TestHandleSignal_RetryDroppedIfStillSuspended(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.SetPlaying("v1")
	h.store.UnlockSection("s1")

	_ = h.coord.HandleSignal(context.Background(), signal.New(time.Now(), true))
	waitFor(t, func() bool { return !h.coord.HasPendingRetry() })

	if n := h.fetcher.calls.Load(); n != 0 {
		t.Errorf("fetch calls = %d, want 0", n)
	}
	if h.store.IsSectionUnlocked("s1") {
		t.Error("expected the password cache clear to be applied even though the refresh was dropped")
	}

	time.Sleep(120 * time.Millisecond)
	if h.coord.HasPendingRetry() {
		t.Error("retry must not reschedule itself")
	}
}

func TestClose_CancelsPendingRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.SetPlaying("v1")
	_ = h.coord.HandleSignal(context.Background(), signal.New(time.Now(), false))

	h.coord.Close()
	h.tracker.SetStopped()
	time.Sleep(120 * time.Millisecond)

	if n := h.fetcher.calls.Load(); n != 0 {
		t.Errorf("fetch calls = %d, want 0 after Close", n)
	}
}

func TestRefresh_FetchFailureKeepsState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.fetcher.setSections(content.Section{ID: "s1", HasPassword: true})
	_ = h.coord.Tick(ctx)
	h.store.UnlockSection("s1")

	h.fetcher.mu.Lock()
	h.fetcher.err = errors.New("network down")
	h.fetcher.mu.Unlock()

	if err := h.coord.Manual(ctx); err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if !h.store.IsSectionUnlocked("s1") {
		t.Error("expected unlock store untouched after a failed fetch")
	}
	if sections, _ := h.coord.Catalog(); len(sections) != 1 {
		t.Error("expected catalog from the last successful refresh to be kept")
	}
}

func TestRefresh_InFlightAbsorbsNewTrigger(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.coord.Manual(ctx) }()
	waitFor(t, func() bool { return h.fetcher.calls.Load() == 1 })

	if err := h.coord.Tick(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(h.fetcher.block)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := h.fetcher.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestRun_HandlesSignalsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := unlock.New(unlock.NewMemoryStorage())
	tracker := playback.NewTracker()
	fetcher := &fakeFetcher{}
	c := New(Config{
		Fetcher:    fetcher,
		Reconciler: reconcile.NewEngine(store),
		Cache:      store,
		Playback:   tracker,
		Interval:   time.Hour,
	})
	defer c.Close()

	bus := signal.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, bus) }()

	waitFor(t, func() bool {
		_ = bus.Publish(context.Background(), signal.New(time.Now(), false))
		return fetcher.calls.Load() > 0
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned error: %v", err)
	}
}

func TestRun_TimerRefreshes(t *testing.T) {
	store := unlock.New(unlock.NewMemoryStorage())
	fetcher := &fakeFetcher{}
	c := New(Config{
		Fetcher:    fetcher,
		Reconciler: reconcile.NewEngine(store),
		Cache:      store,
		Playback:   playback.NewTracker(),
		Interval:   10 * time.Millisecond,
	})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, nil) }()

	waitFor(t, func() bool { return fetcher.calls.Load() >= 2 })
}

func TestPrefixClassifier(t *testing.T) {
	focused := PrefixClassifier("/watch/", "/present/")
	if !focused("/watch/abc") || !focused("/present/1") {
		t.Error("expected viewing routes to be focused")
	}
	if focused("/dashboard") {
		t.Error("expected dashboard not to be focused")
	}
}
