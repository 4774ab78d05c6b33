package model

import (
	"context"
	"time"
)

// DefaultTTL is how long a built model stays runnable.
const DefaultTTL = 24 * time.Hour

// Store persists built models between Build and Run.  Implementations
// serialize every operation per instance and never hand out live references.
type Store interface {
	// Save stores a copy of m under a fresh identifier unique among live entries.
	Save(ctx context.Context, m *Model) (string, error)

	// Get returns a copy of the model, or ModelNotFound when id is absent or
	// older than the TTL.  A successful Get touches last_accessed.
	Get(ctx context.Context, id string) (*Model, error)

	// Delete removes id.  Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// SweepExpired removes every entry older than the TTL and returns how many.
	SweepExpired(ctx context.Context) (int, error)
}

// Entry is the stored form of a model.
type Entry struct {
	ID           string    `json:"id"`
	Model        *Model    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Expired reports whether e is older than ttl at now.
func (e *Entry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// Clock returns the current time; stores accept one for tests.
type Clock func() time.Time
