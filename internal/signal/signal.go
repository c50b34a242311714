// Package signal carries admin refresh signals between learner sessions.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	Key       = "admin_refresh_signal"
	Freshness = 60 * time.Second
)

type RefreshSignal struct {
	Timestamp          int64 `json:"timestamp"`
	ClearPasswordCache bool  `json:"clearPasswordCache"`
}

func New(at time.Time, clearPasswordCache bool) RefreshSignal {
	return RefreshSignal{Timestamp: at.UnixMilli(), ClearPasswordCache: clearPasswordCache}
}

func (s RefreshSignal) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Fresh reports whether the signal is recent enough to act on at now.
func (s RefreshSignal) Fresh(now time.Time) bool {
	age := now.Sub(s.Time())
	return age >= -Freshness && age <= Freshness
}

func Decode(data []byte) (RefreshSignal, error) {
	var s RefreshSignal
	if err := json.Unmarshal(data, &s); err != nil {
		return RefreshSignal{}, fmt.Errorf("decode refresh signal: %w", err)
	}
	return s, nil
}

// Bus delivers published signals to every subscriber, including the
// publisher's own subscriptions.
type Bus interface {
	Publish(ctx context.Context, s RefreshSignal) error
	Subscribe(ctx context.Context) (<-chan RefreshSignal, error)
	Latest(ctx context.Context) (RefreshSignal, bool, error)
}

var _ Bus = (*MemoryBus)(nil)

// MemoryBus connects sessions living in the same process.
type MemoryBus struct {
	mu     sync.Mutex
	latest *RefreshSignal
	subs   map[chan RefreshSignal]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[chan RefreshSignal]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, s RefreshSignal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &s
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
			// subscriber is behind; the newest signal supersedes the unread
			// one but keeps a pending cache clear
			merged := s
			select {
			case old := <-ch:
				merged.ClearPasswordCache = merged.ClearPasswordCache || old.ClearPasswordCache
			default:
			}
			select {
			case ch <- merged:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan RefreshSignal, error) {
	ch := make(chan RefreshSignal, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *MemoryBus) Latest(context.Context) (RefreshSignal, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return RefreshSignal{}, false, nil
	}
	return *b.latest, true, nil
}
