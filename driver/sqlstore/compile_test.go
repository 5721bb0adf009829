package sqlstore

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

func TestCompileSelect_Basics(t *testing.T) {
	tests := []struct {
		name     string
		spec     query.Spec
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "select all",
			spec:    query.New("users"),
			wantSQL: `SELECT * FROM "users"`,
		},
		{
			name:     "single equality",
			spec:     query.New("users").AndWhere("city", query.OpEq, "Novi Sad"),
			wantSQL:  `SELECT * FROM "users" WHERE "city" = ?`,
			wantArgs: []any{"Novi Sad"},
		},
		{
			name: "conjunction with range",
			spec: query.New("users").
				AndWhere("age", query.OpGe, 27).
				AndWhere("active", query.OpEq, true),
			wantSQL:  `SELECT * FROM "users" WHERE "age" >= ? AND "active" = ?`,
			wantArgs: []any{int64(27), true},
		},
		{
			name:     "order and bounds",
			spec:     query.New("users").OrderedBy("age", query.Desc).Limited(2).Shifted(1),
			wantSQL:  `SELECT * FROM "users" ORDER BY "age" DESC LIMIT ? OFFSET ?`,
			wantArgs: []any{2, 1},
		},
		{
			name:     "offset without limit",
			spec:     query.New("users").Shifted(3),
			wantSQL:  `SELECT * FROM "users" LIMIT -1 OFFSET ?`,
			wantArgs: []any{3},
		},
		{
			name:     "first compiles to limit one",
			spec:     query.New("users").OrderedBy("age", query.Desc).OnlyFirst(),
			wantSQL:  `SELECT * FROM "users" ORDER BY "age" DESC LIMIT ?`,
			wantArgs: []any{1},
		},
		{
			name:     "first overrides limit",
			spec:     query.New("users").Limited(10).OnlyFirst(),
			wantSQL:  `SELECT * FROM "users" LIMIT ?`,
			wantArgs: []any{1},
		},
		{
			name:     "projection",
			spec:     query.New("users").Projected("name", "age"),
			wantSQL:  `SELECT "name", "age" FROM "users"`,
		},
		{
			name:     "multi key order",
			spec:     query.New("users").OrderedBy("city", query.Asc).OrderedBy("age", query.Desc),
			wantSQL:  `SELECT * FROM "users" ORDER BY "city" ASC, "age" DESC`,
		},
		{
			name:     "in membership",
			spec:     query.New("users").AndWhere("name", query.OpIn, []string{"Ana", "Boris"}),
			wantSQL:  `SELECT * FROM "users" WHERE "name" IN (?, ?)`,
			wantArgs: []any{"Ana", "Boris"},
		},
		{
			name:    "in empty never matches",
			spec:    query.New("users").AndWhere("name", query.OpIn, []string{}),
			wantSQL: `SELECT * FROM "users" WHERE 1 = 0`,
		},
		{
			name:     "like wraps and escapes",
			spec:     query.New("users").AndWhere("city", query.OpLike, "no_vi"),
			wantSQL:  `SELECT * FROM "users" WHERE "city" LIKE ? ESCAPE '\'`,
			wantArgs: []any{`%no\_vi%`},
		},
		{
			name:     "contains is like",
			spec:     query.New("users").AndWhere("city", query.OpContains, "ovi"),
			wantSQL:  `SELECT * FROM "users" WHERE "city" LIKE ? ESCAPE '\'`,
			wantArgs: []any{"%ovi%"},
		},
		{
			name:     "startswith anchors left",
			spec:     query.New("users").AndWhere("name", query.OpStartsWith, "An"),
			wantSQL:  `SELECT * FROM "users" WHERE "name" LIKE ? ESCAPE '\'`,
			wantArgs: []any{"An%"},
		},
		{
			name:     "endswith anchors right",
			spec:     query.New("users").AndWhere("name", query.OpEndsWith, "na"),
			wantSQL:  `SELECT * FROM "users" WHERE "name" LIKE ? ESCAPE '\'`,
			wantArgs: []any{"%na"},
		},
		{
			name:    "null equality is IS NULL",
			spec:    query.New("users").AndWhere("email", query.OpEq, nil),
			wantSQL: `SELECT * FROM "users" WHERE "email" IS NULL`,
		},
		{
			name:    "null inequality is IS NOT NULL",
			spec:    query.New("users").AndWhere("email", query.OpNe, nil),
			wantSQL: `SELECT * FROM "users" WHERE "email" IS NOT NULL`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqlText, args, err := compileSelect(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sqlText)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCompileSelect_NoStringInterpolation(t *testing.T) {
	dangerous := "'; DROP TABLE users; --"

	sqlText, args, err := compileSelect(
		query.New("users").AndWhere("name", query.OpEq, dangerous))
	require.NoError(t, err)

	assert.NotContains(t, sqlText, dangerous)
	assert.Equal(t, []any{dangerous}, args)
	assert.Contains(t, sqlText, `"name" = ?`)
}

func TestCompileSelect_RejectsBadIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		spec query.Spec
	}{
		{"bad table", query.New("users; drop")},
		{"bad field", query.New("users").AndWhere("name = name or 1", query.OpEq, 1)},
		{"bad order field", query.New("users").OrderedBy("age; --", query.Asc)},
		{"bad projection", query.New("users").Projected("name, password")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := compileSelect(tt.spec)
			require.Error(t, err)
			assert.True(t, driver.IsIdentError(err))
		})
	}
}

func TestCompileWhere_UnknownOperator(t *testing.T) {
	_, _, err := compileWhere([]query.Predicate{{Field: "x", Op: "regex", Value: "a.*"}})
	require.Error(t, err)
	assert.True(t, driver.IsCapabilityError(err))
}

func TestCompileWhere_InWithNonSliceValue(t *testing.T) {
	_, _, err := compileWhere([]query.Predicate{{Field: "x", Op: query.OpIn, Value: "Ana"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slice")
}

func TestCompileUpdate_SortedColumnsAndImmutableID(t *testing.T) {
	sqlText, args, err := compileUpdate(
		query.New("users").AndWhere("id", query.OpEq, int64(5)),
		driver.Record{"b": 2, "a": 1, "id": 99})
	require.NoError(t, err)

	assert.Equal(t, `UPDATE "users" SET "a" = ?, "b" = ? WHERE "id" = ?`, sqlText)
	assert.Equal(t, []any{int64(1), int64(2), int64(5)}, args)
}

func TestCompileUpdate_EmptyPatch(t *testing.T) {
	sqlText, _, err := compileUpdate(query.New("users"), driver.Record{})
	require.NoError(t, err)
	assert.Empty(t, sqlText)

	sqlText, _, err = compileUpdate(query.New("users"), driver.Record{"id": 7})
	require.NoError(t, err)
	assert.Empty(t, sqlText)
}

func TestCompileDelete(t *testing.T) {
	sqlText, args, err := compileDelete(query.New("users").AndWhere("age", query.OpLt, 18))
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" WHERE "age" < ?`, sqlText)
	assert.Equal(t, []any{int64(18)}, args)

	sqlText, args, err = compileDelete(query.New("users"))
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users"`, sqlText)
	assert.Empty(t, args)
}

func TestCompileCount(t *testing.T) {
	sqlText, args, err := compileCount(query.New("users").AndWhere("city", query.OpEq, "Novi Sad"))
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "users" WHERE "city" = ?`, sqlText)
	assert.Equal(t, []any{"Novi Sad"}, args)
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"50%", `50\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
		{"%_", `\%\_`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeLike(tt.in))
	}
}

func TestBindValue(t *testing.T) {
	got, err := bindValue(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	got, err = bindValue([]any{1, "two"})
	require.NoError(t, err)
	assert.Equal(t, `[1,"two"]`, got)

	got, err = bindValue(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, got)

	got, err = bindValue(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// renderStatement formats a compiled statement for golden comparison.
func renderStatement(stmt string, args []any) []byte {
	var b strings.Builder
	b.WriteString(stmt)
	b.WriteString("\n")
	for i, a := range args {
		fmt.Fprintf(&b, "arg[%d] %T %v\n", i, a, a)
	}
	return []byte(b.String())
}

func TestCompile_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	cases := []struct {
		name    string
		compile func() (string, []any, error)
	}{
		{
			name: "select_filtered",
			compile: func() (string, []any, error) {
				return compileSelect(query.New("users").
					AndWhere("age", query.OpGe, 27).
					AndWhere("city", query.OpEq, "Novi Sad").
					OrderedBy("age", query.Desc).
					Limited(2).
					Shifted(1))
			},
		},
		{
			name: "select_projection_first",
			compile: func() (string, []any, error) {
				return compileSelect(query.New("users").
					AndWhere("city", query.OpEq, "Beograd").
					Projected("name", "age").
					OnlyFirst())
			},
		},
		{
			name: "select_membership_like",
			compile: func() (string, []any, error) {
				return compileSelect(query.New("users").
					AndWhere("name", query.OpIn, []string{"Ana", "Boris"}).
					AndWhere("city", query.OpLike, "no_vi"))
			},
		},
		{
			name: "update_by_id",
			compile: func() (string, []any, error) {
				return compileUpdate(
					query.New("users").AndWhere("id", query.OpEq, 5),
					driver.Record{"city": "Beograd", "age": 28})
			},
		},
		{
			name: "delete_minors",
			compile: func() (string, []any, error) {
				return compileDelete(query.New("users").AndWhere("age", query.OpLt, 18))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, args, err := tc.compile()
			require.NoError(t, err)
			g.Assert(t, tc.name, renderStatement(stmt, args))
		})
	}
}
