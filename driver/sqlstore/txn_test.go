package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

func countUsers(t *testing.T, s *Store) int64 {
	t.Helper()
	n, err := s.Count(context.Background(), query.New("users"))
	require.NoError(t, err)
	return n
}

func TestTransaction_CommitPersists(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Ana"}); err != nil {
			return err
		}
		_, err := q.Create(ctx, "users", driver.Record{"name": "Boris"})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), countUsers(t, s))
}

func TestTransaction_ErrorRollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "users", driver.Record{"name": "Ana", "age": 27})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Boris"}); err != nil {
			return err
		}
		if _, err := q.Update(ctx,
			query.New("users").AndWhere("name", query.OpEq, "Ana"),
			driver.Record{"age": 99}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := s.Read(ctx, query.New("users"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0]["name"])
	assert.Equal(t, int64(27), rows[0]["age"])
}

func TestTransaction_ReadsSeeUncommittedWrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Ana"}); err != nil {
			return err
		}
		n, err := q.Count(ctx, query.New("users"))
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
}

func TestTransaction_SavepointUnwindsOnlyInnerScope(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	inner := errors.New("inner failed")
	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Boris"}); err != nil {
			return err
		}

		err := q.Transaction(ctx, func(iq driver.Queryer) error {
			if _, err := iq.Create(ctx, "users", driver.Record{"name": "Ceca"}); err != nil {
				return err
			}
			return inner
		})
		assert.ErrorIs(t, err, inner)

		// Outer scope continues past the rolled-back savepoint.
		_, err = q.Create(ctx, "users", driver.Record{"name": "Dara"})
		return err
	})
	require.NoError(t, err)

	rows, err := s.Read(ctx, query.New("users").OrderedBy("name", query.Asc))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Boris", rows[0]["name"])
	assert.Equal(t, "Dara", rows[1]["name"])
}

func TestTransaction_SavepointCommits(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		return q.Transaction(ctx, func(iq driver.Queryer) error {
			_, err := iq.Create(ctx, "users", driver.Record{"name": "Ana"})
			return err
		})
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), countUsers(t, s))
}

func TestTransaction_SavepointsNestTwoDeep(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	boom := errors.New("deepest failed")
	err := s.Transaction(ctx, func(q driver.Queryer) error {
		return q.Transaction(ctx, func(mid driver.Queryer) error {
			if _, err := mid.Create(ctx, "users", driver.Record{"name": "kept"}); err != nil {
				return err
			}
			err := mid.Transaction(ctx, func(deep driver.Queryer) error {
				if _, err := deep.Create(ctx, "users", driver.Record{"name": "discarded"}); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)
			return nil
		})
	})
	require.NoError(t, err)

	rows, err := s.Read(ctx, query.New("users"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0]["name"])
}

func TestTransaction_PanicRollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.Panics(t, func() {
		_ = s.Transaction(ctx, func(q driver.Queryer) error {
			if _, err := q.Create(ctx, "users", driver.Record{"name": "ghost"}); err != nil {
				return err
			}
			panic("unexpected")
		})
	})

	assert.Equal(t, int64(0), countUsers(t, s))

	// The store stays usable after the panic unwound.
	_, err := s.Create(ctx, "users", driver.Record{"name": "Ana"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), countUsers(t, s))
}

func TestTransaction_SpansTables(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Ana"}); err != nil {
			return err
		}
		_, err := q.Create(ctx, "orders", driver.Record{"user": "Ana", "total": 12.5})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), countUsers(t, s))
	n, err := s.Count(ctx, query.New("orders"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransaction_ClosedStore(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())

	err := s.Transaction(context.Background(), func(q driver.Queryer) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTransaction_LastIDInsideTransaction(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Ana"}); err != nil {
			return err
		}
		last, err := q.LastID(ctx, "users")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), last)
		return nil
	})
	require.NoError(t, err)
}
