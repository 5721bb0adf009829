package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertCreatesRecord(t *testing.T) {
	clearStrataEnv(t)
	dir := t.TempDir()

	out, err := execCLI(t, cliArgs(dir, "document", "insert", "users",
		"--data", `{"name": "Ana", "age": 30}`)...)
	require.NoError(t, err)
	assert.Contains(t, out, "created record 1 in users")
	assert.Contains(t, out, "name=Ana")
	assert.Contains(t, out, "age=30")
	assert.Contains(t, out, "created_at=")
}

func TestInsertJSONOutput(t *testing.T) {
	clearStrataEnv(t)
	dir := t.TempDir()

	out, err := execCLI(t, cliArgs(dir, "document", "--format", "json",
		"insert", "users", "--data", `{"name": "Ana"}`)...)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   InsertResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "users", resp.Data.Table)
	assert.Equal(t, "Ana", resp.Data.Record["name"])
	assert.EqualValues(t, 1, resp.Data.Record["id"])
}

func TestInsertInvalidJSON(t *testing.T) {
	clearStrataEnv(t)
	dir := t.TempDir()

	out, err := execCLI(t, cliArgs(dir, "document", "insert", "users", "--data", `{"name":`)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
	assert.Contains(t, out, "invalid --data JSON")
}

func TestInsertRequiresData(t *testing.T) {
	clearStrataEnv(t)
	dir := t.TempDir()

	_, err := execCLI(t, cliArgs(dir, "document", "insert", "users")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data")
}

func TestInsertSchemaValidation(t *testing.T) {
	clearStrataEnv(t)
	dir := t.TempDir()
	schema := filepath.Join(dir, "users.cue")
	rules := "name: string\nage: int & >=0\nrole: *\"member\" | \"admin\"\n"
	require.NoError(t, os.WriteFile(schema, []byte(rules), 0o644))

	out, err := execCLI(t, cliArgs(dir, "document", "insert", "users",
		"--data", `{"name": "Ana", "age": 30}`, "--schema", schema)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "role=member")

	out, err = execCLI(t, cliArgs(dir, "document", "insert", "users",
		"--data", `{"name": "Boris", "age": -1}`, "--schema", schema)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]")
	assert.Contains(t, out, "age")
}

func TestInsertUniqueField(t *testing.T) {
	clearStrataEnv(t)
	dir := t.TempDir()

	out, err := execCLI(t, cliArgs(dir, "document", "insert", "users",
		"--data", `{"email": "ana@example.com"}`, "--unique", "email")...)
	require.NoError(t, err, out)

	out, err = execCLI(t, cliArgs(dir, "document", "insert", "users",
		"--data", `{"email": "ana@example.com"}`, "--unique", "email")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]")
	assert.Contains(t, out, "must be unique")
}

func TestInsertSchemaFileMissing(t *testing.T) {
	clearStrataEnv(t)
	dir := t.TempDir()

	out, err := execCLI(t, cliArgs(dir, "document", "insert", "users",
		"--data", `{"name": "Ana"}`, "--schema", filepath.Join(dir, "absent.cue"))...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "failed to read schema")
}

func TestInsertBadSchemaRejected(t *testing.T) {
	clearStrataEnv(t)
	dir := t.TempDir()
	schema := filepath.Join(dir, "broken.cue")
	require.NoError(t, os.WriteFile(schema, []byte("name: strin(("), 0o644))

	out, err := execCLI(t, cliArgs(dir, "document", "insert", "users",
		"--data", `{"name": "Ana"}`, "--schema", schema)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "invalid schema")
}
