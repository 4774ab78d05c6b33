package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

const (
	insertModelSQL = `INSERT INTO optiflow_models (id, model, created_at, last_accessed)
VALUES ($1, $2, $3, $3) ON CONFLICT (id) DO NOTHING`
	selectModelSQL = `SELECT model, created_at FROM optiflow_models WHERE id = $1`
	touchModelSQL  = `UPDATE optiflow_models SET last_accessed = $2 WHERE id = $1`
	deleteModelSQL = `DELETE FROM optiflow_models WHERE id = $1`
	sweepModelsSQL = `DELETE FROM optiflow_models WHERE created_at < $1`
)

// maxIDAttempts bounds the retries on id collisions.
const maxIDAttempts = 8

// pgxQuerier is the part of *pgxpool.Pool the store uses.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

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

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *ModelStore) { s.logger = logging.OrNop(l).Named("store.postgres") }
}

// ModelStore keeps one row per model with the definition as JSONB.  Expiry
// is decided by created_at against the store clock, so replicas sharing the
// table agree on which entries are live.
type ModelStore struct {
	pool   pgxQuerier
	ttl    time.Duration
	now    model.Clock
	newID  func() string
	logger logging.Logger
}

var _ model.Store = (*ModelStore)(nil)

// NewModelStore creates a store on the pgx pool of conn, which must come
// from NewConnection.  The schema must already exist; see
// Connection.Migrate.
func NewModelStore(conn *Connection, opts ...Option) *ModelStore {
	return newModelStore(conn.pool, opts...)
}

func newModelStore(pool pgxQuerier, opts ...Option) *ModelStore {
	s := &ModelStore{
		pool:   pool,
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

// Save stores m under a fresh id after sweeping expired rows.
func (s *ModelStore) Save(ctx context.Context, m *model.Model) (string, error) {
	if m == nil {
		return "", errors.Validation("model must not be nil")
	}
	now := s.now().UTC()
	if _, err := s.sweep(ctx, now); err != nil {
		s.logger.Warn("lazy sweep failed", logging.Err(err))
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "encode model")
	}
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		tag, err := s.pool.Exec(ctx, insertModelSQL, id, payload, now)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeDatabaseError, "save model")
		}
		if tag.RowsAffected() == 0 {
			s.logger.Debug("model id taken, retrying", logging.ModelID(id))
			continue
		}
		s.logger.Debug("model saved", logging.ModelID(id))
		return id, nil
	}
	return "", errors.New(errors.ErrCodeDatabaseError, "no free model id")
}

// Get decodes the row stored under id and touches last_accessed.
func (s *ModelStore) Get(ctx context.Context, id string) (*model.Model, error) {
	var (
		payload   []byte
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, selectModelSQL, id).Scan(&payload, &createdAt)
	if err == pgx.ErrNoRows {
		return nil, errors.ModelNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "get model")
	}

	now := s.now().UTC()
	entry := model.Entry{ID: id, CreatedAt: createdAt}
	if entry.Expired(now, s.ttl) {
		if err := s.Delete(ctx, id); err != nil {
			s.logger.Warn("expired model not removed", logging.ModelID(id), logging.Err(err))
		}
		return nil, errors.ModelNotFound(id)
	}

	var m model.Model
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode model")
	}
	if _, err := s.pool.Exec(ctx, touchModelSQL, id, now); err != nil {
		s.logger.Warn("touch failed", logging.ModelID(id), logging.Err(err))
	}
	return &m, nil
}

// Delete removes id.  Absent ids are ignored.
func (s *ModelStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, deleteModelSQL, id); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "delete model")
	}
	return nil
}

// SweepExpired removes every row created more than the TTL ago.
func (s *ModelStore) SweepExpired(ctx context.Context) (int, error) {
	return s.sweep(ctx, s.now().UTC())
}

func (s *ModelStore) sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, sweepModelsSQL, now.Add(-s.ttl))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "sweep models")
	}
	n := tag.RowsAffected()
	if n > 0 {
		s.logger.Info("expired models swept", logging.Int("removed", int(n)))
	}
	return int(n), nil
}

// Ping checks the database.
func (s *ModelStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "model store unreachable")
	}
	return nil
}

//Personal.AI order the ending
