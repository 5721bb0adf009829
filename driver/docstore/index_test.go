package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

func TestIndexKey(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   any
		wantOK bool
	}{
		{"string", "Ana", "Ana", true},
		{"bool", true, true, true},
		{"int", 30, int64(30), true},
		{"int64", int64(30), int64(30), true},
		{"integral float collapses to int", 30.0, int64(30), true},
		{"fractional float stays float", 0.5, 0.5, true},
		{"nil not keyable", nil, nil, false},
		{"slice not keyable", []any{1}, nil, false},
		{"map not keyable", map[string]any{}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := indexKey(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestIndexFields_QueriesStayCorrect(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.IndexFields("users", "city"))
	seedPeople(t, s)
	ctx := context.Background()

	rows, err := s.Read(ctx, query.New("users").AndWhere("city", query.OpEq, "Novi Sad"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Ana", "Ceca"}, names(rows))

	// Absent value resolves through the index to an empty result.
	rows, err = s.Read(ctx, query.New("users").AndWhere("city", query.OpEq, "Niš"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIndexFields_RegisteredAfterLoad(t *testing.T) {
	s, _ := newStore(t)
	seedPeople(t, s)
	ctx := context.Background()

	// Table already loaded; registration rebuilds the index in place.
	require.NoError(t, s.IndexFields("users", "city"))

	rows, err := s.Read(ctx, query.New("users").AndWhere("city", query.OpEq, "Beograd"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Boris"}, names(rows))
}

func TestIndex_FollowsUpdates(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.IndexFields("users", "city"))
	seedPeople(t, s)
	ctx := context.Background()

	_, err := s.Update(ctx,
		query.New("users").AndWhere("name", query.OpEq, "Ana"),
		driver.Record{"city": "Beograd"})
	require.NoError(t, err)

	rows, err := s.Read(ctx, query.New("users").AndWhere("city", query.OpEq, "Beograd"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Ana", "Boris"}, names(rows))

	rows, err = s.Read(ctx, query.New("users").AndWhere("city", query.OpEq, "Novi Sad"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ceca"}, names(rows))
}

func TestIndex_FollowsDeletes(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.IndexFields("users", "city"))
	seedPeople(t, s)
	ctx := context.Background()

	_, err := s.Delete(ctx, query.New("users").AndWhere("name", query.OpEq, "Ceca"))
	require.NoError(t, err)

	rows, err := s.Read(ctx, query.New("users").AndWhere("city", query.OpEq, "Novi Sad"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana"}, names(rows))
}

func TestIndex_NilValuesFallToScan(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.IndexFields("users", "city"))
	ctx := context.Background()

	_, err := s.Create(ctx, "users", driver.Record{"name": "Ana", "city": nil})
	require.NoError(t, err)
	_, err = s.Create(ctx, "users", driver.Record{"name": "Boris", "city": "Beograd"})
	require.NoError(t, err)

	rows, err := s.Read(ctx, query.New("users").AndWhere("city", query.OpEq, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana"}, names(rows))
}

func TestIndex_IntFloatKeysCollapse(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.IndexFields("readings", "grade"))
	ctx := context.Background()

	_, err := s.Create(ctx, "readings", driver.Record{"site": "a", "grade": 5})
	require.NoError(t, err)
	_, err = s.Create(ctx, "readings", driver.Record{"site": "b", "grade": 5.0})
	require.NoError(t, err)

	rows, err := s.Read(ctx, query.New("readings").AndWhere("grade", query.OpEq, 5))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.Read(ctx, query.New("readings").AndWhere("grade", query.OpEq, 5.0))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestIndex_IDAlwaysIndexed(t *testing.T) {
	s, _ := newStore(t)
	seedPeople(t, s)

	idx, ok := s.indexes["users"]
	require.True(t, ok)
	bucket, usable := idx.lookup("id", int64(2))
	require.True(t, usable)
	require.Len(t, bucket, 1)
	_, hit := bucket[2]
	assert.True(t, hit)
}

func TestIndex_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.IndexFields("users", "city"))
	seedPeople(t, s)
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.IndexFields("users", "city"))

	rows, err := s2.Read(ctx, query.New("users").AndWhere("city", query.OpEq, "Novi Sad"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Ana", "Ceca"}, names(rows))
}
