package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

var _ Bus = (*RedisBus)(nil)

// RedisBus stores the latest signal under Key and publishes it on a channel
// of the same name, so sessions in other processes see it.
type RedisBus struct {
	client redis.UniversalClient
}

func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, s RefreshSignal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode refresh signal: %w", err)
	}
	pipe := b.client.Pipeline()
	pipe.Set(ctx, Key, data, Freshness)
	pipe.Publish(ctx, Key, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish refresh signal: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan RefreshSignal, error) {
	pubsub := b.client.Subscribe(ctx, Key)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe refresh signal: %w", err)
	}

	out := make(chan RefreshSignal, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				s, err := Decode([]byte(msg.Payload))
				if err != nil {
					slog.Warn("signal: dropping malformed refresh signal", "error", err)
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Latest(ctx context.Context) (RefreshSignal, bool, error) {
	data, err := b.client.Get(ctx, Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return RefreshSignal{}, false, nil
	}
	if err != nil {
		return RefreshSignal{}, false, fmt.Errorf("read refresh signal: %w", err)
	}
	s, err := Decode(data)
	if err != nil {
		return RefreshSignal{}, false, err
	}
	return s, true, nil
}
