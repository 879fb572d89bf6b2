package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// StatusEntry is the cached view served by GET /orders/{id}/status.
type StatusEntry struct {
	OrderID         string               `json:"order_id"`
	BuyerID         string               `json:"buyer_id"`
	SellerID        string               `json:"seller_id"`
	Status          orders.Status        `json:"status"`
	PaymentStatus   orders.PaymentStatus `json:"payment_status"`
	PaymentDeadline *time.Time           `json:"payment_deadline,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Version         int64                `json:"version"`
}

// Writes carrying an older version than the stored entry are dropped, so
// a slow writer cannot put back a status that has since moved on.
var setIfNewerScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
	local ok, e = pcall(cjson.decode, cur)
	if ok and type(e) == "table" and tonumber(e.version) and tonumber(e.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1`)

func EntryOf(o *orders.Order) StatusEntry {
	return StatusEntry{
		OrderID:         o.ID,
		BuyerID:         o.BuyerID,
		SellerID:        o.SellerID,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		PaymentDeadline: o.PaymentDeadline,
		UpdatedAt:       o.UpdatedAt,
		Version:         o.Version,
	}
}

// StatusCache mirrors committed order status. The database stays the
// source of truth; cache errors are logged and otherwise ignored.
type StatusCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func (c *StatusCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return TTLStatusCache
}

// SetStatus stores o's entry unless the cache already holds a newer
// version of it.
func (c *StatusCache) SetStatus(ctx context.Context, o *orders.Order) {
	if _, err := c.set(ctx, EntryOf(o)); err != nil {
		log.Printf("status cache set order=%s: %v", o.ID, err)
	}
}

func (c *StatusCache) set(ctx context.Context, e StatusEntry) (bool, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	key := fmt.Sprintf(KeyOrderStatus, e.OrderID)
	n, err := setIfNewerScript.Run(ctx, c.Redis, []string{key}, b, e.Version, c.ttl().Milliseconds()).Int()
	return n == 1, err
}

// Get returns the cached entry; ok is false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	var e StatusEntry
	s, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return e, false, fmt.Errorf("decode status entry: %w", err)
	}
	return e, true, nil
}
