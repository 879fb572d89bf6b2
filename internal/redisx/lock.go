package redisx

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the owner's token may delete the lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a single-instance SET NX PX lock.
type Locker struct {
	Redis *redis.Client
}

func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := fmt.Sprintf(KeyLock, name)
	token := uuid.NewString()
	ok, err := l.Redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		if err := unlockScript.Run(context.Background(), l.Redis, []string{key}, token).Err(); err != nil {
			log.Printf("release lock %s: %v", key, err)
		}
	}
	return release, true, nil
}
