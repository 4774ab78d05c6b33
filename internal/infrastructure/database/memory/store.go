// Package memory is the in-process model store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides model.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(c model.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.now = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l).Named("store.memory") }
}

// Store keeps models in a map guarded by a single mutex.
type Store struct {
	mu      sync.Mutex
	entries map[string]*model.Entry
	ttl     time.Duration
	now     model.Clock
	newID   func() string
	logger  logging.Logger
}

var _ model.Store = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*model.Entry),
		ttl:     model.DefaultTTL,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores a copy of m under a fresh id and sweeps expired entries.
func (s *Store) Save(ctx context.Context, m *model.Model) (string, error) {
	if m == nil {
		return "", errors.Validation("model must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "save model")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	id := s.newID()
	for {
		if _, taken := s.entries[id]; !taken {
			break
		}
		id = s.newID()
	}
	s.entries[id] = &model.Entry{ID: id, Model: m.Clone(), CreatedAt: now, LastAccessed: now}
	s.logger.Debug("model saved", logging.ModelID(id), logging.Int("live", len(s.entries)))
	return id, nil
}

// Get returns a copy of the model stored under id.
func (s *Store) Get(ctx context.Context, id string) (*model.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "get model")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	now := s.now()
	if !ok || e.Expired(now, s.ttl) {
		return nil, errors.ModelNotFound(id)
	}
	e.LastAccessed = now
	return e.Model.Clone(), nil
}

// Delete removes id.  Absent ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// SweepExpired removes every expired entry.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now()), nil
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for id, e := range s.entries {
		if e.Expired(now, s.ttl) {
			delete(s.entries, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("expired models swept", logging.Int("removed", removed))
	}
	return removed
}

// Len returns the number of entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
