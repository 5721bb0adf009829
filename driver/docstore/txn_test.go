package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

func TestTransaction_CommitPersists(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Ana"}); err != nil {
			return err
		}
		_, err := q.Create(ctx, "users", driver.Record{"name": "Boris"})
		return err
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Ana")
	assert.Contains(t, string(raw), "Boris")

	n, err := s.Count(ctx, query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTransaction_ErrorRollsBack(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "users", driver.Record{"name": "Ana", "age": 27})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Boris"}); err != nil {
			return err
		}
		if _, err := q.Update(ctx, query.New("users").AndWhere("name", query.OpEq, "Ana"),
			driver.Record{"age": 99}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := s.Read(ctx, query.New("users"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0]["name"])
	assert.Equal(t, int64(27), rows[0]["age"])

	raw, err := os.ReadFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Boris")
}

func TestTransaction_UncommittedNotOnDisk(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()
	path := filepath.Join(dir, "users.json")

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Ana"}); err != nil {
			return err
		}
		// Visible through the transaction handle.
		rows, err := q.Read(ctx, query.New("users"))
		if err != nil {
			return err
		}
		assert.Len(t, rows, 1)

		// Not yet on disk.
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
		return nil
	})
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestTransaction_NestedInnerErrorDiscardsAll(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "users", driver.Record{"name": "Ana"})
	require.NoError(t, err)

	inner := errors.New("inner failed")
	err = s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Boris"}); err != nil {
			return err
		}
		// Flat rollback: the inner failure restores the state from the
		// outermost begin, taking Boris with it.
		nestedErr := q.Transaction(ctx, func(nested driver.Queryer) error {
			if _, err := nested.Create(ctx, "users", driver.Record{"name": "Ceca"}); err != nil {
				return err
			}
			return inner
		})
		assert.ErrorIs(t, nestedErr, inner)

		// Work after the inner rollback is kept if the outer commits.
		_, err := q.Create(ctx, "users", driver.Record{"name": "Dara"})
		return err
	})
	require.NoError(t, err)

	rows, err := s.Read(ctx, query.New("users"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Ana", "Dara"}, names(rows))
}

func TestTransaction_NestedCommit(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Ana"}); err != nil {
			return err
		}
		return q.Transaction(ctx, func(nested driver.Queryer) error {
			_, err := nested.Create(ctx, "users", driver.Record{"name": "Boris"})
			return err
		})
	})
	require.NoError(t, err)

	n, err := s.Count(ctx, query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTransaction_PanicRestoresState(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "users", driver.Record{"name": "Ana"})
	require.NoError(t, err)

	require.Panics(t, func() {
		_ = s.Transaction(ctx, func(q driver.Queryer) error {
			_, _ = q.Create(ctx, "users", driver.Record{"name": "Boris"})
			panic("kaboom")
		})
	})

	rows, err := s.Read(ctx, query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana"}, names(rows))

	// The store stays usable after the panic unwound.
	_, err = s.Create(ctx, "users", driver.Record{"name": "Ceca"})
	require.NoError(t, err)
}

func TestTransaction_RollbackRestoresLastID(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "users", driver.Record{"name": "Ana"})
	require.NoError(t, err)

	boom := errors.New("boom")
	_ = s.Transaction(ctx, func(q driver.Queryer) error {
		_, _ = q.Create(ctx, "users", driver.Record{"name": "Boris"})
		return boom
	})

	// The id consumed inside the rolled-back transaction is reusable.
	id, err := s.Create(ctx, "users", driver.Record{"name": "Ceca"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestTransaction_SpansTables(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(q driver.Queryer) error {
		if _, err := q.Create(ctx, "users", driver.Record{"name": "Ana"}); err != nil {
			return err
		}
		_, err := q.Create(ctx, "orders", driver.Record{"user": "Ana", "total": 12.5})
		return err
	})
	require.NoError(t, err)

	users, err := s.Count(ctx, query.New("users"))
	require.NoError(t, err)
	orders, err := s.Count(ctx, query.New("orders"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), users)
	assert.Equal(t, int64(1), orders)
}
