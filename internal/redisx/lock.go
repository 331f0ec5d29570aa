package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// only the holder's token may delete the key
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// CheckoutLock is a per-buyer SET NX lock with a TTL so a crashed request
// cannot block the buyer for longer than TTL.
type CheckoutLock struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewCheckoutLock(rdb redis.Cmdable, ttl time.Duration) *CheckoutLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CheckoutLock{rdb: rdb, ttl: ttl}
}

func (l *CheckoutLock) Acquire(ctx context.Context, buyerID string) (func(), bool, error) {
	key := fmt.Sprintf(KeyCheckoutLock, buyerID)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// detached: the request ctx may already be cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(rctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
