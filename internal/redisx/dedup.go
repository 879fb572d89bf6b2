package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed ids for TTL so redelivered work is skipped.
type Deduper struct {
	Redis   *redis.Client
	Service string
	TTL     time.Duration
}

func (d *Deduper) Key(id string) string {
	return fmt.Sprintf(KeyDedup, d.Service, id)
}

// FirstSeen marks id and reports whether it was unmarked before.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return d.Redis.SetNX(ctx, d.Key(id), "1", ttl).Result()
}

// Forget clears id so a failed attempt can be retried.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	return d.Redis.Del(ctx, d.Key(id)).Err()
}
