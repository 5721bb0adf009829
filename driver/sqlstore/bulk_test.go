package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

func TestBulkInsert_AssignsContiguousIDs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	recs := make([]driver.Record, 100)
	for i := range recs {
		recs[i] = driver.Record{"name": fmt.Sprintf("user-%03d", i), "rank": i}
	}

	ids, err := s.BulkInsert(ctx, "users", recs)
	require.NoError(t, err)
	require.Len(t, ids, 100)
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}

	n, err := s.Count(ctx, query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestBulkInsert_Empty(t *testing.T) {
	s := newStore(t)

	ids, err := s.BulkInsert(context.Background(), "users", nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestBulkInsert_RaggedRecordsShareColumns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ids, err := s.BulkInsert(ctx, "users", []driver.Record{
		{"name": "Ana", "age": 27},
		{"name": "Boris"},
		{"city": "Beograd"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	rows, err := s.Read(ctx, query.New("users").OrderedBy("id", query.Asc))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(27), rows[0]["age"])
	assert.Nil(t, rows[1]["age"])
	assert.Nil(t, rows[2]["name"])
	assert.Equal(t, "Beograd", rows[2]["city"])
}

func TestBulkUpdate_CountsOnlyExistingIDs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ids, err := s.BulkInsert(ctx, "users", []driver.Record{
		{"name": "Ana"}, {"name": "Boris"}, {"name": "Ceca"},
	})
	require.NoError(t, err)

	n, err := s.BulkUpdate(ctx, "users", []int64{ids[0], ids[2], 999}, driver.Record{"zone": "north"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := s.Count(ctx, query.New("users").AndWhere("zone", query.OpEq, "north"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestBulkUpdate_NoIDs(t *testing.T) {
	s := newStore(t)

	n, err := s.BulkUpdate(context.Background(), "users", nil, driver.Record{"zone": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkDelete_RemovesOnlyListed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ids, err := s.BulkInsert(ctx, "users", []driver.Record{
		{"name": "Ana"}, {"name": "Boris"}, {"name": "Ceca"},
	})
	require.NoError(t, err)

	n, err := s.BulkDelete(ctx, "users", []int64{ids[0], ids[1], 999})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := s.Read(ctx, query.New("users"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ceca", rows[0]["name"])
}

func TestUpsert_CreateThenUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id1, created, err := s.Upsert(ctx, "users",
		driver.Record{"email": "ana@example.com", "name": "Ana"},
		[]string{"email"})
	require.NoError(t, err)
	assert.True(t, created)

	id2, created, err := s.Upsert(ctx, "users",
		driver.Record{"email": "ana@example.com", "name": "Ana Marić"},
		[]string{"email"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	rows, err := s.Read(ctx, query.New("users"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana Marić", rows[0]["name"])
}

func TestUpsert_KeepsCreatedAtOnUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, "users",
		driver.Record{"email": "ana@example.com", "created_at": "t1", "updated_at": "t1"},
		[]string{"email"})
	require.NoError(t, err)

	_, created, err := s.Upsert(ctx, "users",
		driver.Record{"email": "ana@example.com", "created_at": "t2", "updated_at": "t2"},
		[]string{"email"})
	require.NoError(t, err)
	require.False(t, created)

	rows, err := s.Read(ctx, query.New("users"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0]["created_at"])
	assert.Equal(t, "t2", rows[0]["updated_at"])
}

func TestUpsert_CompositeKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, created, err := s.Upsert(ctx, "stock",
		driver.Record{"sku": "A1", "depot": "north", "qty": 5},
		[]string{"sku", "depot"})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = s.Upsert(ctx, "stock",
		driver.Record{"sku": "A1", "depot": "south", "qty": 7},
		[]string{"sku", "depot"})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = s.Upsert(ctx, "stock",
		driver.Record{"sku": "A1", "depot": "north", "qty": 9},
		[]string{"sku", "depot"})
	require.NoError(t, err)
	assert.False(t, created)

	n, err := s.Count(ctx, query.New("stock"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := s.Read(ctx, query.New("stock").
		AndWhere("sku", query.OpEq, "A1").
		AndWhere("depot", query.OpEq, "north"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(9), rows[0]["qty"])
}

func TestUpsert_MissingUniqueField(t *testing.T) {
	s := newStore(t)

	_, _, err := s.Upsert(context.Background(), "users",
		driver.Record{"name": "Ana"}, []string{"email"})
	require.Error(t, err)
	assert.True(t, driver.IsMissingUniqueFieldError(err))
}

func TestUpsert_NoUniqueFields(t *testing.T) {
	s := newStore(t)

	_, _, err := s.Upsert(context.Background(), "users",
		driver.Record{"name": "Ana"}, nil)
	assert.Error(t, err)
}

func TestBulkUpsert_TalliesCreatedAndUpdated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, "users",
		driver.Record{"email": "ana@example.com", "name": "Ana"},
		[]string{"email"})
	require.NoError(t, err)

	res, err := s.BulkUpsert(ctx, "users", []driver.Record{
		{"email": "ana@example.com", "name": "Ana Marić"},
		{"email": "boris@example.com", "name": "Boris"},
		{"email": "ceca@example.com", "name": "Ceca"},
	}, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, driver.UpsertResult{Created: 2, Updated: 1}, res)

	n, err := s.Count(ctx, query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestBulkUpsert_IdempotentBatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	batch := make([]driver.Record, 10)
	for i := range batch {
		batch[i] = driver.Record{"email": fmt.Sprintf("u%d@example.com", i), "n": i}
	}

	res, err := s.BulkUpsert(ctx, "users", batch, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, driver.UpsertResult{Created: 10, Updated: 0}, res)

	res, err = s.BulkUpsert(ctx, "users", batch, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, driver.UpsertResult{Created: 0, Updated: 10}, res)

	n, err := s.Count(ctx, query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestBulkUpsert_AbortsWholeBatchOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.BulkUpsert(ctx, "users", []driver.Record{
		{"email": "good@example.com", "name": "ok"},
		{"name": "missing the key"},
	}, []string{"email"})
	require.Error(t, err)

	n, err := s.Count(ctx, query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulk_InsideTransactionRollsBackWithIt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(q driver.Queryer) error {
		b, ok := q.(driver.Bulk)
		require.True(t, ok)
		_, err := b.BulkInsert(ctx, "users", []driver.Record{
			{"name": "Ana"}, {"name": "Boris"},
		})
		if err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.Count(ctx, query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkOps_ClosedStore(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())
	ctx := context.Background()

	_, err := s.BulkInsert(ctx, "users", []driver.Record{{"a": 1}})
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = s.Upsert(ctx, "users", driver.Record{"email": "x"}, []string{"email"})
	assert.ErrorIs(t, err, ErrClosed)
}
