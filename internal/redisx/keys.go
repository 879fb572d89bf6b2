package redisx

import "time"

const (
	// order_status:{order_id} -> JSON StatusEntry
	KeyOrderStatus = "order_status:%s"

	// dedup:{consumer}:{id}, id being an event id or expired:{order_id}
	KeyDedup = "dedup:%s:%s"

	// lock:{name} -> owner token
	KeyLock = "lock:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
