package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// StoreFactory builds a fresh, empty store driven by clock with the given
// TTL.
type StoreFactory func(t *testing.T, clock *FakeClock, ttl time.Duration) model.Store

// SampleModel returns a small valid model tagged as a domain build.
func SampleModel(t *testing.T) *model.Model {
	t.Helper()
	b := model.NewBuilder("contract").Describe("store contract model").Param("time_limit", 5.0)
	x := b.Binary("x")
	y := b.Continuous("y", 0, 10)
	b.Constrain("cap", []model.Term{model.T(1, x), model.T(2, y)}, model.OpLessEqual, 8)
	b.Maximize([]model.Term{model.T(3, x), model.T(1, y)})
	m, err := b.Model()
	require.NoError(t, err)
	m.Metadata.ProblemType = "task_assignment"
	m.Metadata.Request = json.RawMessage(`{"employees":[1]}`)
	return m
}

// RunStoreContract checks the behavior every model.Store must share.
func RunStoreContract(t *testing.T, newStore StoreFactory) {
	const ttl = time.Hour
	ctx := context.Background()

	t.Run("save and get return a copy", func(t *testing.T) {
		clock := NewFakeClock()
		s := newStore(t, clock, ttl)
		m := SampleModel(t)

		id, err := s.Save(ctx, m)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		m.Variables[0].Name = "mutated"
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "x", got.Variables[0].Name)
		assert.Equal(t, SampleModel(t).Constraints, got.Constraints)
		assert.Equal(t, SampleModel(t).Objective, got.Objective)
		assert.Equal(t, "task_assignment", got.Metadata.ProblemType)
		assert.JSONEq(t, `{"employees":[1]}`, string(got.Metadata.Request))
		assert.Equal(t, 5.0, got.Parameters["time_limit"])

		got.Variables[0].Name = "changed"
		again, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "x", again.Variables[0].Name)
	})

	t.Run("absent id is not found", func(t *testing.T) {
		s := newStore(t, NewFakeClock(), ttl)
		_, err := s.Get(ctx, "no-such-model")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeModelNotFound))
	})

	t.Run("entries expire strictly after the ttl", func(t *testing.T) {
		clock := NewFakeClock()
		s := newStore(t, clock, ttl)
		id, err := s.Save(ctx, SampleModel(t))
		require.NoError(t, err)

		clock.Advance(ttl)
		_, err = s.Get(ctx, id)
		require.NoError(t, err, "age equal to the ttl is still live")

		clock.Advance(time.Second)
		_, err = s.Get(ctx, id)
		assert.True(t, errors.IsCode(err, errors.CodeModelNotFound))
	})

	t.Run("access does not extend life", func(t *testing.T) {
		clock := NewFakeClock()
		s := newStore(t, clock, ttl)
		id, err := s.Save(ctx, SampleModel(t))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			clock.Advance(ttl / 2)
			_, _ = s.Get(ctx, id)
		}
		_, err = s.Get(ctx, id)
		assert.True(t, errors.IsCode(err, errors.CodeModelNotFound))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t, NewFakeClock(), ttl)
		id, err := s.Save(ctx, SampleModel(t))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))
		require.NoError(t, s.Delete(ctx, id))
		require.NoError(t, s.Delete(ctx, "never-existed"))
		_, err = s.Get(ctx, id)
		assert.True(t, errors.IsCode(err, errors.CodeModelNotFound))
	})

	t.Run("sweep removes only expired entries", func(t *testing.T) {
		clock := NewFakeClock()
		s := newStore(t, clock, ttl)
		old1, err := s.Save(ctx, SampleModel(t))
		require.NoError(t, err)
		_, err = s.Save(ctx, SampleModel(t))
		require.NoError(t, err)

		clock.Advance(ttl / 2)
		fresh, err := s.Save(ctx, SampleModel(t))
		require.NoError(t, err)

		clock.Advance(ttl/2 + time.Second)
		removed, err := s.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, err = s.Get(ctx, old1)
		assert.True(t, errors.IsCode(err, errors.CodeModelNotFound))
		_, err = s.Get(ctx, fresh)
		assert.NoError(t, err)

		removed, err = s.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("save sweeps lazily", func(t *testing.T) {
		clock := NewFakeClock()
		s := newStore(t, clock, ttl)
		_, err := s.Save(ctx, SampleModel(t))
		require.NoError(t, err)

		clock.Advance(ttl + time.Second)
		_, err = s.Save(ctx, SampleModel(t))
		require.NoError(t, err)

		removed, err := s.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed, "the expired entry was already swept by Save")
	})

	t.Run("concurrent saves get distinct ids", func(t *testing.T) {
		s := newStore(t, NewFakeClock(), ttl)
		const n = 32
		ids := make(chan string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := s.Save(ctx, SampleModel(t))
				assert.NoError(t, err)
				ids <- id
			}()
		}
		wg.Wait()
		close(ids)
		seen := map[string]bool{}
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
	})

	t.Run("nil model is rejected", func(t *testing.T) {
		s := newStore(t, NewFakeClock(), ttl)
		_, err := s.Save(ctx, nil)
		assert.True(t, errors.IsValidation(err))
	})
}
