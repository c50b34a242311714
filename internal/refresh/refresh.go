// Package refresh decides when the session may re-fetch catalog metadata
// without interrupting playback.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sendrec/portal/internal/content"
	"github.com/sendrec/portal/internal/playback"
	"github.com/sendrec/portal/internal/reconcile"
	"github.com/sendrec/portal/internal/signal"
)

const (
	DefaultInterval   = 30 * time.Second
	DefaultRetryDelay = 10 * time.Second
)

var ErrSuspended = errors.New("refresh suspended during playback")

type State int

const (
	Active State = iota
	Suspended
)

func (s State) String() string {
	if s == Suspended {
		return "suspended"
	}
	return "active"
}

type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerSignal Trigger = "signal"
	TriggerRetry  Trigger = "signal-retry"
	TriggerManual Trigger = "manual"
)

type Fetcher interface {
	FetchSections(ctx context.Context) ([]content.Section, error)
	FetchAssignedContentItems(ctx context.Context) ([]content.Item, error)
}

type Reconciler interface {
	Reconcile(next reconcile.Snapshot) reconcile.Result
}

type CacheClearer interface {
	LockAll()
}

type PlaybackState interface {
	IsPlaying() bool
	Subscribe(fn playback.Listener) func()
}

// RouteClassifier reports whether a route is a focused content view.
type RouteClassifier func(route string) bool

// PrefixClassifier treats any route under one of prefixes as focused.
func PrefixClassifier(prefixes ...string) RouteClassifier {
	return func(route string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(route, p) {
				return true
			}
		}
		return false
	}
}

type Config struct {
	Fetcher    Fetcher
	Reconciler Reconciler
	Cache      CacheClearer
	Playback   PlaybackState
	Focused    RouteClassifier
	Interval   time.Duration
	RetryDelay time.Duration
	Now        func() time.Time
}

type Coordinator struct {
	fetcher    Fetcher
	reconciler Reconciler
	cache      CacheClearer
	playback   PlaybackState
	focused    RouteClassifier
	interval   time.Duration
	retryDelay time.Duration
	now        func() time.Time

	inFlight atomic.Bool

	mu              sync.Mutex
	route           string
	state           State
	listeners       map[int]func(State)
	nextListener    int
	retry           *pendingRetry
	sections        []content.Section
	items           []content.Item
	lastRefreshed   time.Time
	unsubscribePlay func()
}

// pendingRetry is the single deferred refresh for a signal that arrived while
// suspended.
type pendingRetry struct {
	timer              *time.Timer
	clearPasswordCache bool
}

func New(cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Focused == nil {
		cfg.Focused = func(string) bool { return false }
	}

	c := &Coordinator{
		fetcher:    cfg.Fetcher,
		reconciler: cfg.Reconciler,
		cache:      cfg.Cache,
		playback:   cfg.Playback,
		focused:    cfg.Focused,
		interval:   cfg.Interval,
		retryDelay: cfg.RetryDelay,
		now:        cfg.Now,
		listeners:  make(map[int]func(State)),
	}
	c.state = c.evaluate("")
	c.unsubscribePlay = c.playback.Subscribe(func(playback.State) { c.reevaluate() })
	return c
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CanRefresh reports whether a manual refresh would be accepted; the
// rendering layer disables its control when it is false.
func (c *Coordinator) CanRefresh() bool {
	return c.State() == Active
}

// SetRoute records the current route and re-evaluates the gate.
func (c *Coordinator) SetRoute(route string) {
	c.mu.Lock()
	c.route = route
	c.mu.Unlock()
	c.reevaluate()
}

// OnStateChange registers fn for Active/Suspended transitions.
func (c *Coordinator) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) Catalog() ([]content.Section, []content.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]content.Section(nil), c.sections...), append([]content.Item(nil), c.items...)
}

func (c *Coordinator) LastRefreshed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefreshed
}

func (c *Coordinator) evaluate(route string) State {
	if c.playback.IsPlaying() || c.focused(route) {
		return Suspended
	}
	return Active
}

func (c *Coordinator) reevaluate() {
	c.mu.Lock()
	next := c.evaluate(c.route)
	if next == c.state {
		c.mu.Unlock()
		return
	}
	c.state = next
	listeners := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	slog.Debug("refresh: gate changed", "state", next.String())
	for _, fn := range listeners {
		fn(next)
	}
}

// suspended reads live playback state rather than the cached gate, so a
// trigger fired from a timer sees the latest explicit call.
func (c *Coordinator) suspended() bool {
	c.mu.Lock()
	route := c.route
	c.mu.Unlock()
	return c.evaluate(route) == Suspended
}

// Tick handles one timer firing. A tick while suspended is dropped.
func (c *Coordinator) Tick(ctx context.Context) error {
	if c.suspended() {
		slog.Debug("refresh: timer tick dropped while suspended")
		return nil
	}
	return c.execute(ctx, TriggerTimer, false)
}

// Manual handles a user-initiated refresh.
func (c *Coordinator) Manual(ctx context.Context) error {
	if c.suspended() {
		return ErrSuspended
	}
	return c.execute(ctx, TriggerManual, false)
}

// HandleSignal handles a cross-tab refresh signal. Stale signals are ignored.
// While suspended, one retry is scheduled after the retry delay; further
// signals inside that window fold into the pending retry.
func (c *Coordinator) HandleSignal(ctx context.Context, sig signal.RefreshSignal) error {
	if !sig.Fresh(c.now()) {
		slog.Debug("refresh: ignoring stale signal", "timestamp", sig.Timestamp)
		return nil
	}

	if c.suspended() {
		c.scheduleRetry(ctx, sig.ClearPasswordCache)
		return nil
	}

	clearCache := sig.ClearPasswordCache
	if pending := c.takeRetry(); pending != nil {
		clearCache = clearCache || pending.clearPasswordCache
	}
	return c.execute(ctx, TriggerSignal, clearCache)
}

func (c *Coordinator) scheduleRetry(ctx context.Context, clearPasswordCache bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retry != nil {
		c.retry.clearPasswordCache = c.retry.clearPasswordCache || clearPasswordCache
		slog.Debug("refresh: retry already pending, signal folded in")
		return
	}

	pending := &pendingRetry{clearPasswordCache: clearPasswordCache}
	pending.timer = time.AfterFunc(c.retryDelay, func() { c.runRetry(ctx, pending) })
	c.retry = pending
	slog.Info("refresh: signal deferred during playback", "retry_in", c.retryDelay.String())
}

func (c *Coordinator) takeRetry() *pendingRetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.retry
	c.retry = nil
	if pending != nil {
		pending.timer.Stop()
	}
	return pending
}

func (c *Coordinator) runRetry(ctx context.Context, pending *pendingRetry) {
	c.mu.Lock()
	if c.retry != pending {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if c.suspended() {
		// The refresh is dropped, but a revocation is never lost.
		if pending.clearPasswordCache {
			c.cache.LockAll()
			slog.Info("refresh: password cache cleared, refresh dropped while still suspended")
		} else {
			slog.Info("refresh: retry dropped while still suspended")
		}
		return
	}

	if err := c.execute(ctx, TriggerRetry, pending.clearPasswordCache); err != nil {
		slog.Error("refresh: retry failed", "error", err)
	}
}

// HasPendingRetry reports whether a deferred signal retry is scheduled.
func (c *Coordinator) HasPendingRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry != nil
}

// execute runs at most one refresh at a time; a trigger arriving while one is
// in flight is absorbed.
func (c *Coordinator) execute(ctx context.Context, trigger Trigger, clearPasswordCache bool) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		slog.Debug("refresh: already in flight, trigger absorbed", "trigger", string(trigger))
		if clearPasswordCache {
			c.cache.LockAll()
		}
		return nil
	}
	defer c.inFlight.Store(false)

	if clearPasswordCache {
		c.cache.LockAll()
		slog.Info("refresh: password cache cleared by admin signal")
	}

	var sections []content.Section
	var items []content.Item
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sections, err = c.fetcher.FetchSections(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = c.fetcher.FetchAssignedContentItems(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		slog.Warn("refresh: fetch failed, keeping last reconciled state", "trigger", string(trigger), "error", err)
		return fmt.Errorf("refresh %s: %w", trigger, err)
	}

	c.reconciler.Reconcile(reconcile.NewSnapshot(sections, items))

	c.mu.Lock()
	c.sections = sections
	c.items = items
	c.lastRefreshed = c.now()
	c.mu.Unlock()

	slog.Debug("refresh: completed", "trigger", string(trigger), "sections", len(sections), "items", len(items))
	return nil
}

// Run drives the timer and, when bus is non-nil, the cross-tab signal until
// ctx is done.
func (c *Coordinator) Run(ctx context.Context, bus signal.Bus) error {
	var signals <-chan signal.RefreshSignal
	if bus != nil {
		ch, err := bus.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe to refresh signals: %w", err)
		}
		signals = ch
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cancelRetry()
			return nil
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				slog.Error("refresh: timer refresh failed", "error", err)
			}
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if err := c.HandleSignal(ctx, sig); err != nil {
				slog.Error("refresh: signal refresh failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) cancelRetry() {
	c.takeRetry()
}

// Close cancels a pending retry and detaches from the playback tracker.
func (c *Coordinator) Close() {
	c.cancelRetry()
	c.mu.Lock()
	unsubscribe := c.unsubscribePlay
	c.unsubscribePlay = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
