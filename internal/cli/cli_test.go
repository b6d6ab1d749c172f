package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const catalogYAML = `
name: cli_catalog
root_table: item
source_type: json_file
flatten:
  relationships:
    item:
      - field: parts
        child_table: item_part
  primary_keys:
    item: id
  synthetic_keys: [item_part]
`

// execute runs one invocation and returns its stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root, closeApp := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--env", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	require.NoError(t, closeApp())
	return out.String(), err
}

func setupDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("INGEST_DATA_DIR", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "connectors"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "connectors", "catalog.yaml"), []byte(catalogYAML), 0o644))
	return dir
}

func TestFlattenCommand(t *testing.T) {
	setupDataDir(t)
	out, err := execute(t, `{"id":"i1","parts":[{"sku":"A"}]}`, "flatten", "--connector", "cli_catalog")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first struct {
		Table string         `json:"table"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "item_part", first.Table)
	assert.Equal(t, "i1", first.Data["item_guid"])
	assert.Contains(t, lines[1], `"table":"item"`)
}

func TestFlattenCommand_ShapeError(t *testing.T) {
	setupDataDir(t)
	_, err := execute(t, `{"id":"i1","parts":"A"}`, "flatten", "--connector", "cli_catalog")
	assert.Error(t, err)
}

func TestConnectorsCommands(t *testing.T) {
	setupDataDir(t)
	out, err := execute(t, "", "connectors", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "toast")
	assert.Contains(t, out, "cli_catalog")

	out, err = execute(t, "", "connectors", "show", "cli_catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "root_table: item")

	_, err = execute(t, "", "connectors", "show", "nope")
	assert.Error(t, err)
}

func TestSyncToSQLite(t *testing.T) {
	dir := setupDataDir(t)
	payload := filepath.Join(dir, "items.json")
	require.NoError(t, os.WriteFile(payload, []byte(`[
		{"id":"i1","parts":[{"sku":"A"},{"sku":"B"}]},
		{"id":"i2","parts":[]}
	]`), 0o644))
	target := filepath.Join(dir, "warehouse.db")

	out, err := execute(t, "", "destinations", "add", "--name", "warehouse", "--driver", "sqlite", "--host", target)
	require.NoError(t, err)
	destID := strings.TrimSpace(out)
	require.NotEmpty(t, destID)

	out, err = execute(t, "", "jobs", "create",
		"--connector", "cli_catalog",
		"--destination", destID,
		"--source", "filePath="+payload,
		"--transforms", `[{"type":"inject","table":"item","config":{"fields":{"catalog":"main"}}}]`,
	)
	require.NoError(t, err)
	jobID := strings.TrimSpace(out)
	require.NotEmpty(t, jobID)

	out, err = execute(t, "", "sync", jobID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "success: read 2"), out)

	db, err := sql.Open("sqlite", target)
	require.NoError(t, err)
	defer db.Close()
	var items, parts int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "item" WHERE "catalog" = 'main'`).Scan(&items))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "item_part"`).Scan(&parts))
	assert.Equal(t, 2, items)
	assert.Equal(t, 2, parts)

	out, err = execute(t, "", "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, jobID)
	assert.Contains(t, out, "success")

	out, err = execute(t, "", "jobs", "logs", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, "success")

	require.NoError(t, func() error { _, err := execute(t, "", "jobs", "reset", jobID); return err }())
	require.NoError(t, func() error { _, err := execute(t, "", "jobs", "delete", jobID); return err }())
	_, err = execute(t, "", "sync", jobID)
	assert.Error(t, err)
}

func TestJobsCreate_Invalid(t *testing.T) {
	setupDataDir(t)
	_, err := execute(t, "", "jobs", "create", "--connector", "cli_catalog", "--destination", "missing")
	assert.Error(t, err)
	_, err = execute(t, "", "jobs", "create", "--connector", "cli_catalog")
	assert.Error(t, err)
}

func TestApprovalsCommands(t *testing.T) {
	setupDataDir(t)
	out, err := execute(t, "", "approvals", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "TOOL")

	_, err = execute(t, "", "approvals", "approve", "missing")
	assert.Error(t, err)
}
