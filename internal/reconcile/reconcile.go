// Package reconcile aligns the session's unlock cache with the protection
// flags of the latest metadata fetch.
package reconcile

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/sendrec/portal/internal/content"
)

// Unlocker is the part of the unlock store the engine mutates.
type Unlocker interface {
	UnlockSection(id string)
	UnlockVideo(id string)
	LockSection(id string)
	LockVideo(id string)
	IsSectionUnlocked(id string) bool
	IsVideoUnlocked(id string) bool
}

// Snapshot maps IDs to their hasPassword flag at fetch time.
type Snapshot struct {
	Sections map[string]bool
	Videos   map[string]bool
}

func NewSnapshot(sections []content.Section, items []content.Item) Snapshot {
	snap := Snapshot{
		Sections: make(map[string]bool, len(sections)),
		Videos:   make(map[string]bool, len(items)),
	}
	for _, s := range sections {
		snap.Sections[s.ID] = s.HasPassword
	}
	for _, it := range items {
		snap.Videos[it.ID] = it.HasPassword
	}
	return snap
}

// Changes lists the IDs a single pass touched, per kind.
type Changes struct {
	AutoUnlocked []string
	Relocked     []string
	Cleaned      []string
}

func (c Changes) empty() bool {
	return len(c.AutoUnlocked) == 0 && len(c.Relocked) == 0 && len(c.Cleaned) == 0
}

type Result struct {
	Sections Changes
	Videos   Changes
}

type Engine struct {
	mu       sync.Mutex
	store    Unlocker
	previous Snapshot
	hasPrev  bool
}

func NewEngine(store Unlocker) *Engine {
	return &Engine{store: store}
}

// Reconcile runs one full pass. Passes are serialized, so a later snapshot
// never interleaves with an earlier one.
func (e *Engine) Reconcile(next Snapshot) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	var prev Snapshot
	if e.hasPrev {
		prev = e.previous
	}

	result := Result{
		Sections: reconcileKind(prev.Sections, next.Sections, e.store.UnlockSection, e.store.LockSection, e.store.IsSectionUnlocked),
		Videos:   reconcileKind(prev.Videos, next.Videos, e.store.UnlockVideo, e.store.LockVideo, e.store.IsVideoUnlocked),
	}

	e.previous = next
	e.hasPrev = true

	if !result.Sections.empty() || !result.Videos.empty() {
		slog.Info("reconcile: protection changes applied",
			"sections_unlocked", result.Sections.AutoUnlocked,
			"sections_relocked", result.Sections.Relocked,
			"videos_unlocked", result.Videos.AutoUnlocked,
			"videos_relocked", result.Videos.Relocked,
			"cleaned", len(result.Sections.Cleaned)+len(result.Videos.Cleaned),
		)
	}
	return result
}

// Previous returns the snapshot of the last pass and whether one exists.
func (e *Engine) Previous() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previous, e.hasPrev
}

// Reset forgets the previous snapshot; the next pass treats every item as a
// first observation.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.previous = Snapshot{}
	e.hasPrev = false
	e.mu.Unlock()
}

func reconcileKind(prev, next map[string]bool, unlock, lock func(string), isUnlocked func(string) bool) Changes {
	var c Changes
	ids := sortedKeys(next)
	justUnlocked := make(map[string]bool)

	for _, id := range ids {
		was, seen := prev[id]
		if !seen {
			continue
		}
		now := next[id]
		switch {
		case was && !now:
			unlock(id)
			justUnlocked[id] = true
			c.AutoUnlocked = append(c.AutoUnlocked, id)
		case !was && now:
			lock(id)
			c.Relocked = append(c.Relocked, id)
		}
	}

	// Items that stayed unprotected need no cache entry. First observations
	// and items revealed in this pass keep theirs.
	for _, id := range ids {
		was, seen := prev[id]
		if !seen || was || next[id] || justUnlocked[id] {
			continue
		}
		if isUnlocked(id) {
			lock(id)
			c.Cleaned = append(c.Cleaned, id)
		}
	}
	return c
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
