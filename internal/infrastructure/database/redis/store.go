package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "optiflow:model:"

// expiryGrace is added to the native Redis TTL so that the clock-based
// check, not Redis, decides when an entry stops being readable.
const expiryGrace = time.Minute

// Option configures a ModelStore.
type Option func(*ModelStore)

// WithTTL overrides model.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *ModelStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(c model.Clock) Option {
	return func(s *ModelStore) {
		if c != nil {
			s.now = c
		}
	}
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *ModelStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *ModelStore) { s.logger = logging.OrNop(l).Named("store.redis") }
}

// ModelStore keeps each entry as JSON under prefix+id with a native TTL,
// and indexes ids in a sorted set scored by creation time so that sweeps
// never scan the keyspace.
type ModelStore struct {
	client *Client
	prefix string
	ttl    time.Duration
	now    model.Clock
	newID  func() string
	logger logging.Logger

	mu sync.Mutex
}

var _ model.Store = (*ModelStore)(nil)

// NewModelStore creates a store on client.
func NewModelStore(client *Client, opts ...Option) *ModelStore {
	s := &ModelStore{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    model.DefaultTTL,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ModelStore) key(id string) string { return s.prefix + id }
func (s *ModelStore) indexKey() string     { return s.prefix + "index" }
func (s *ModelStore) lockKey() string      { return s.prefix + "sweep-lock" }

// Save stores a copy of m under a fresh id after sweeping expired entries.
func (s *ModelStore) Save(ctx context.Context, m *model.Model) (string, error) {
	if m == nil {
		return "", errors.Validation("model must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, err := s.sweepLocked(ctx, now); err != nil {
		s.logger.Warn("lazy sweep failed", logging.Err(err))
	}

	rdb := s.client.Raw()
	for {
		id := s.newID()
		payload, err := json.Marshal(&model.Entry{ID: id, Model: m, CreatedAt: now, LastAccessed: now})
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeSerialization, "encode model entry")
		}
		ok, err := rdb.SetNX(ctx, s.key(id), payload, s.ttl+expiryGrace).Result()
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeCacheError, "save model")
		}
		if !ok {
			continue
		}
		if err := rdb.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixMilli()), Member: id}).Err(); err != nil {
			_ = rdb.Del(ctx, s.key(id)).Err()
			return "", errors.Wrap(err, errors.ErrCodeCacheError, "index model")
		}
		s.logger.Debug("model saved", logging.ModelID(id))
		return id, nil
	}
}

// Get decodes the entry stored under id and touches last_accessed.
func (s *ModelStore) Get(ctx context.Context, id string) (*model.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rdb := s.client.Raw()
	raw, err := rdb.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.ModelNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "get model")
	}
	var e model.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode model entry")
	}

	now := s.now()
	if e.Expired(now, s.ttl) {
		_ = s.removeLocked(ctx, id)
		return nil, errors.ModelNotFound(id)
	}

	e.LastAccessed = now
	if payload, err := json.Marshal(&e); err == nil {
		if err := rdb.Set(ctx, s.key(id), payload, redis.KeepTTL).Err(); err != nil {
			s.logger.Warn("touch failed", logging.ModelID(id), logging.Err(err))
		}
	}
	return e.Model, nil
}

// Delete removes id.  Absent ids are ignored.
func (s *ModelStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ctx, id)
}

func (s *ModelStore) removeLocked(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		members[i] = id
	}
	_, err := s.client.Raw().TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		p.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "delete model")
	}
	return nil
}

// SweepExpired removes every entry created more than the TTL ago.  Only one
// replica sweeps at a time; the others return zero.
func (s *ModelStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(ctx, s.now())
}

func (s *ModelStore) sweepLocked(ctx context.Context, now time.Time) (int, error) {
	lock := NewMutex(s.client, s.lockKey(), 10*time.Second)
	ok, err := lock.TryLock(ctx)
	if err != nil || !ok {
		return 0, err
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("sweep lock release failed", logging.Err(err))
		}
	}()

	cutoff := now.Add(-s.ttl).UnixMilli()
	ids, err := s.client.Raw().ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeCacheError, "scan model index")
	}
	if err := s.removeLocked(ctx, ids...); err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.logger.Info("expired models swept", logging.Int("removed", len(ids)))
	}
	return len(ids), nil
}

// Ping checks the connection.
func (s *ModelStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
