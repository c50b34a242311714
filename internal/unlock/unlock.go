// Package unlock keeps the per-session sets of sections and videos the learner
// has already unlocked, so gated content is not prompted for twice.
package unlock

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	SectionsKey = "unlockedSections"
	VideosKey   = "unlockedVideos"
)

const defaultStorageTimeout = 5 * time.Second

// Storage is session-scoped key/value storage. Get reports found=false for an
// absent key.
type Storage interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is safe for concurrent use. Every mutation is written through to
// storage before the call returns.
type Store struct {
	mu       sync.Mutex
	storage  Storage
	timeout  time.Duration
	loaded   bool
	sections map[string]struct{}
	videos   map[string]struct{}
}

func New(storage Storage) *Store {
	return &Store{storage: storage, timeout: defaultStorageTimeout}
}

func (s *Store) UnlockSection(id string) { s.mutate(SectionsKey, id, true) }
func (s *Store) UnlockVideo(id string)   { s.mutate(VideosKey, id, true) }
func (s *Store) LockSection(id string)   { s.mutate(SectionsKey, id, false) }
func (s *Store) LockVideo(id string)     { s.mutate(VideosKey, id, false) }

func (s *Store) IsSectionUnlocked(id string) bool { return s.contains(SectionsKey, id) }
func (s *Store) IsVideoUnlocked(id string) bool   { return s.contains(VideosKey, id) }

func (s *Store) UnlockedSections() []string { return s.list(SectionsKey) }
func (s *Store) UnlockedVideos() []string   { return s.list(VideosKey) }

// LockAll forgets every unlock and erases the persisted entries.
func (s *Store) LockAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loaded = true
	s.sections = make(map[string]struct{})
	s.videos = make(map[string]struct{})

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.storage.Delete(ctx, SectionsKey, VideosKey); err != nil {
		slog.Error("unlock: failed to erase persisted state", "error", err)
	}
}

func (s *Store) mutate(key, id string, unlocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded()
	set := s.setFor(key)
	if unlocked {
		set[id] = struct{}{}
	} else {
		delete(set, id)
	}
	s.persist(key, set)
}

func (s *Store) contains(key, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded()
	_, ok := s.setFor(key)[id]
	return ok
}

func (s *Store) list(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded()
	return sortedIDs(s.setFor(key))
}

func (s *Store) setFor(key string) map[string]struct{} {
	if key == SectionsKey {
		return s.sections
	}
	return s.videos
}

// ensureLoaded must be called with s.mu held.
func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.sections = s.read(ctx, SectionsKey)
	s.videos = s.read(ctx, VideosKey)
}

func (s *Store) read(ctx context.Context, key string) map[string]struct{} {
	set := make(map[string]struct{})

	raw, found, err := s.storage.Get(ctx, key)
	if err != nil {
		slog.Warn("unlock: persisted state unreadable, starting empty", "key", key, "error", err)
		return set
	}
	if !found || raw == "" {
		return set
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		slog.Warn("unlock: persisted state corrupt, starting empty", "key", key, "error", err)
		return set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s *Store) persist(key string, set map[string]struct{}) {
	data, err := json.Marshal(sortedIDs(set))
	if err != nil {
		slog.Error("unlock: failed to encode state", "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.storage.Set(ctx, key, string(data)); err != nil {
		slog.Error("unlock: failed to persist state", "key", key, "error", err)
	}
}

func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
