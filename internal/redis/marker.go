package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker records that a one-shot action already happened, so repeated
// worker runs do not repeat it.
type Marker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewMarker(client *redis.Client, prefix string, ttl time.Duration) *Marker {
	return &Marker{client: client, prefix: prefix, ttl: ttl}
}

// MarkOnce returns true the first time it is called for key within ttl.
func (m *Marker) MarkOnce(ctx context.Context, key string) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.prefix+key, time.Now().UTC().Format(time.RFC3339), m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", key, err)
	}
	return ok, nil
}

// Forget drops a mark, letting the action run again.
func (m *Marker) Forget(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, m.prefix+key).Err(); err != nil {
		return fmt.Errorf("forget %s: %w", key, err)
	}
	return nil
}
