package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// ErrLockNotHeld is returned by Unlock when the lock expired or was taken
// over by another owner.
var ErrLockNotHeld = errors.New(errors.ErrCodeConflict, "lock not held by this owner")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Mutex is a single-key lock shared by every process on the same Redis.
// The value is a per-instance token so one owner cannot release another's
// lock.
type Mutex struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// NewMutex creates a lock on key that expires after ttl if never released.
func NewMutex(client *Client, key string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mutex{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// TryLock acquires the lock without waiting.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.client.Raw().SetNX(ctx, m.key, m.token, m.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "acquire lock")
	}
	return ok, nil
}

// Lock retries TryLock every delay until it succeeds or ctx ends.
func (m *Mutex) Lock(ctx context.Context, delay time.Duration) error {
	for {
		ok, err := m.TryLock(ctx)
		if err != nil || ok {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "acquire lock")
		case <-time.After(delay):
		}
	}
}

// Unlock releases the lock if this Mutex still owns it.
func (m *Mutex) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, m.client.Raw(), []string{m.key}, m.token).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "release lock")
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
