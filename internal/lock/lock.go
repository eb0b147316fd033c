package lock

import (
	"context"
	"time"
)

// Locker hands out short-lived named locks. Acquire reports ok=false when
// another holder owns the key; release is then nil.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
