// internal/pkg/idempotency/idempotency.go
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed webhook event ids so provider retries of
// an already-handled event become no-ops before they reach the
// dispatcher. Keys expire after the retention window; replays older
// than that are re-processed and absorbed by the handlers' own
// idempotency checks.
type Deduper struct {
	client    *redis.Client
	retention time.Duration
}

func NewDeduper(client *redis.Client, retention time.Duration) *Deduper {
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &Deduper{client: client, retention: retention}
}

// MarkProcessed records an event id. It returns true when this is the
// first time the id was seen.
func (d *Deduper) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key := fmt.Sprintf("webhook:seen:%s:%s", provider, eventID)

	first, err := d.client.SetNX(ctx, key, "1", d.retention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook event: %w", err)
	}
	return first, nil
}

// Forget removes an event id so a failed delivery can be retried.
func (d *Deduper) Forget(ctx context.Context, provider, eventID string) error {
	key := fmt.Sprintf("webhook:seen:%s:%s", provider, eventID)
	return d.client.Del(ctx, key).Err()
}

// StatusCache holds short-lived provider session status payloads so
// status polling from clients does not hit the provider on every request.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatusCache{client: client, ttl: ttl}
}

func (c *StatusCache) Get(ctx context.Context, provider, sessionID string) (map[string]interface{}, bool, error) {
	key := fmt.Sprintf("session:status:%s:%s", provider, sessionID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read session status cache: %w", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		// Stale or corrupt entry, treat as a miss.
		return nil, false, nil
	}
	return data, true, nil
}

func (c *StatusCache) Set(ctx context.Context, provider, sessionID string, data map[string]interface{}) error {
	key := fmt.Sprintf("session:status:%s:%s", provider, sessionID)

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode session status: %w", err)
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate drops a cached status, used when a webhook settles the
// underlying invoice.
func (c *StatusCache) Invalidate(ctx context.Context, provider, sessionID string) error {
	key := fmt.Sprintf("session:status:%s:%s", provider, sessionID)
	return c.client.Del(ctx, key).Err()
}
