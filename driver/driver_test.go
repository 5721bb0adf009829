package driver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apopov/strata/query"
)

func TestRecordClone_DeepCopy(t *testing.T) {
	orig := Record{
		"id":   int64(1),
		"name": "Ana",
		"tags": []any{"a", "b"},
		"meta": map[string]any{"city": "Novi Sad"},
	}

	cp := orig.Clone()
	cp["name"] = "Boris"
	cp["tags"].([]any)[0] = "z"
	cp["meta"].(map[string]any)["city"] = "Beograd"

	assert.Equal(t, "Ana", orig["name"])
	assert.Equal(t, "a", orig["tags"].([]any)[0])
	assert.Equal(t, "Novi Sad", orig["meta"].(map[string]any)["city"])
}

func TestRecordClone_Nil(t *testing.T) {
	var r Record
	assert.Nil(t, r.Clone())
}

func TestCloneRecords(t *testing.T) {
	recs := []Record{{"id": int64(1)}, {"id": int64(2)}}

	cp := CloneRecords(recs)
	cp[0]["id"] = int64(99)

	assert.Equal(t, int64(1), recs[0]["id"])
	assert.Nil(t, CloneRecords(nil))
}

func TestValidateIdent(t *testing.T) {
	valid := []string{"users", "_private", "Table1", "a", "snake_case_name"}
	for _, name := range valid {
		assert.NoError(t, ValidateIdent(name), "identifier %q", name)
	}

	invalid := []string{"", "1users", "users;drop", "users table", "naïve", "users-2", "../etc"}
	for _, name := range invalid {
		err := ValidateIdent(name)
		require.Error(t, err, "identifier %q", name)
		assert.True(t, IsIdentError(err), "identifier %q", name)
	}
}

func TestValidateIdents_FirstFailure(t *testing.T) {
	err := ValidateIdents("users", "age", "drop table")
	require.Error(t, err)

	var ie *IdentError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "drop table", ie.Ident)
}

func TestCapabilities_CheckSpec(t *testing.T) {
	caps := Capabilities{
		Operators:   map[query.Op]bool{query.OpEq: true, query.OpGe: true},
		OrderBy:     true,
		LimitOffset: true,
	}

	ok := query.New("users").AndWhere("age", query.OpGe, 27).OrderedBy("age", query.Desc).Limited(2)
	assert.NoError(t, caps.CheckSpec(ok))

	bad := query.New("users").AndWhere("name", query.OpLike, "an")
	err := caps.CheckSpec(bad)
	require.Error(t, err)
	assert.True(t, IsCapabilityError(err))
	assert.Contains(t, err.Error(), `operator "like"`)
}

func TestCapabilities_CheckSpecOrderAndBounds(t *testing.T) {
	caps := Capabilities{Operators: map[query.Op]bool{query.OpEq: true}}

	err := caps.CheckSpec(query.New("users").OrderedBy("age", query.Asc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order by")

	err = caps.CheckSpec(query.New("users").Limited(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit/offset")
}

func TestErrorHelpers_SeeThroughWrapping(t *testing.T) {
	capErr := fmt.Errorf("read users: %w", &CapabilityError{Driver: "document", Feature: `operator "contains"`})
	assert.True(t, IsCapabilityError(capErr))
	assert.False(t, IsCapabilityError(fmt.Errorf("plain")))

	missErr := fmt.Errorf("upsert: %w", &MissingUniqueFieldError{Table: "users", Field: "email"})
	assert.True(t, IsMissingUniqueFieldError(missErr))
	assert.Contains(t, missErr.Error(), `unique field "email"`)
}
