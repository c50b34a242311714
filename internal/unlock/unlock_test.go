package unlock

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type failingStorage struct {
	getErr    error
	setErr    error
	setCalls  int
	deleteErr error
}

func (f *failingStorage) Get(context.Context, string) (string, bool, error) {
	return "", false, f.getErr
}

func (f *failingStorage) Set(context.Context, string, string) error {
	f.setCalls++
	return f.setErr
}

func (f *failingStorage) Delete(context.Context, ...string) error {
	return f.deleteErr
}

func TestStore_StartsEmpty(t *testing.T) {
	s := New(NewMemoryStorage())
	if s.IsSectionUnlocked("s1") {
		t.Error("expected section to be locked in a fresh store")
	}
	if s.IsVideoUnlocked("v1") {
		t.Error("expected video to be locked in a fresh store")
	}
}

func TestStore_UnlockAndLock(t *testing.T) {
	s := New(NewMemoryStorage())

	s.UnlockSection("s1")
	s.UnlockVideo("v1")
	if !s.IsSectionUnlocked("s1") || !s.IsVideoUnlocked("v1") {
		t.Fatal("expected section and video to be unlocked")
	}
	if s.IsVideoUnlocked("s1") {
		t.Error("section and video sets must be independent")
	}

	s.LockSection("s1")
	s.LockVideo("v1")
	if s.IsSectionUnlocked("s1") || s.IsVideoUnlocked("v1") {
		t.Error("expected section and video to be locked again")
	}
}

func TestStore_UnlockIsIdempotent(t *testing.T) {
	once := New(NewMemoryStorage())
	once.UnlockSection("s1")

	twice := New(NewMemoryStorage())
	twice.UnlockSection("s1")
	twice.UnlockSection("s1")

	if diff := cmp.Diff(once.UnlockedSections(), twice.UnlockedSections()); diff != "" {
		t.Errorf("unlocking twice changed state (-once +twice):\n%s", diff)
	}
}

func TestStore_LockingUnknownIDIsNoop(t *testing.T) {
	s := New(NewMemoryStorage())
	s.UnlockVideo("v1")
	s.LockVideo("missing")
	if diff := cmp.Diff([]string{"v1"}, s.UnlockedVideos()); diff != "" {
		t.Errorf("unexpected videos (-want +got):\n%s", diff)
	}
}

func TestStore_ReloadWithinSessionRoundTrips(t *testing.T) {
	storage := NewMemoryStorage()
	first := New(storage)
	first.UnlockSection("s2")
	first.UnlockSection("s1")
	first.UnlockVideo("v9")

	reloaded := New(storage)
	if diff := cmp.Diff(first.UnlockedSections(), reloaded.UnlockedSections()); diff != "" {
		t.Errorf("sections differ after reload (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(first.UnlockedVideos(), reloaded.UnlockedVideos()); diff != "" {
		t.Errorf("videos differ after reload (-before +after):\n%s", diff)
	}
}

func TestStore_PersistsSortedJSONList(t *testing.T) {
	storage := NewMemoryStorage()
	s := New(storage)
	s.UnlockSection("b")
	s.UnlockSection("a")

	raw, found, _ := storage.Get(context.Background(), SectionsKey)
	if !found {
		t.Fatal("expected sections key to be persisted")
	}
	if raw != `["a","b"]` {
		t.Errorf("persisted value = %s, want [\"a\",\"b\"]", raw)
	}
}

func TestStore_NewSessionStartsEmpty(t *testing.T) {
	first := New(NewMemoryStorage())
	first.UnlockSection("s1")

	next := New(NewMemoryStorage())
	if next.IsSectionUnlocked("s1") {
		t.Error("expected a new session to start with nothing unlocked")
	}
}

func TestStore_CorruptStorageDegradesToEmpty(t *testing.T) {
	storage := NewMemoryStorage()
	_ = storage.Set(context.Background(), SectionsKey, "{not json")
	_ = storage.Set(context.Background(), VideosKey, `["v1"]`)

	s := New(storage)
	if len(s.UnlockedSections()) != 0 {
		t.Errorf("expected corrupt sections to load empty, got %v", s.UnlockedSections())
	}
	if !s.IsVideoUnlocked("v1") {
		t.Error("expected readable videos key to survive a corrupt sections key")
	}
}

func TestStore_UnreadableStorageDegradesToEmpty(t *testing.T) {
	s := New(&failingStorage{getErr: errors.New("storage disabled")})
	if s.IsSectionUnlocked("s1") {
		t.Error("expected empty store when storage is unreadable")
	}
}

func TestStore_WriteFailureKeepsMemoryState(t *testing.T) {
	storage := &failingStorage{setErr: errors.New("quota exceeded")}
	s := New(storage)
	s.UnlockVideo("v1")

	if !s.IsVideoUnlocked("v1") {
		t.Error("expected in-memory unlock to survive a failed write")
	}
	if storage.setCalls != 1 {
		t.Errorf("expected 1 write attempt, got %d", storage.setCalls)
	}
}

func TestStore_LockAllClearsEverything(t *testing.T) {
	storage := NewMemoryStorage()
	s := New(storage)
	s.UnlockSection("s1")
	s.UnlockVideo("v1")

	s.LockAll()

	if len(s.UnlockedSections()) != 0 || len(s.UnlockedVideos()) != 0 {
		t.Error("expected empty sets after LockAll")
	}
	if _, found, _ := storage.Get(context.Background(), SectionsKey); found {
		t.Error("expected sections key to be erased")
	}
	if _, found, _ := storage.Get(context.Background(), VideosKey); found {
		t.Error("expected videos key to be erased")
	}
	if New(storage).IsSectionUnlocked("s1") {
		t.Error("expected reload after LockAll to be empty")
	}
}
