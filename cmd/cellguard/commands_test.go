package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDefinition = `apiVersion: cellguard/v1
kind: Service
metadata:
  name: shard-catalog
  team: Production Engineering
  service: Sidekiq
  owner: scalability@example.com
spec:
  sloTarget: 0.995
  window: 7d
`

// useTempStore points the CLI at a fresh SQLite database.
func useTempStore(t *testing.T) {
	t.Helper()
	t.Setenv("CELLGUARD_CONFIG", "")
	t.Setenv("CELLGUARD_DB_DSN", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("CELLGUARD_CLASSIFIER_STUB", "true")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeCatalog(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestValidate_ValidCatalog(t *testing.T) {
	dir := writeCatalog(t, map[string]string{"catalog.yaml": validDefinition})

	out, err := execute(t, "validate", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All service definitions are valid (1 services)")
}

func TestValidate_GroupsErrorsByFile(t *testing.T) {
	dir := writeCatalog(t, map[string]string{
		"good.yaml": validDefinition,
		"bad.yaml":  "apiVersion: cellguard/v1\nkind: Service\nmetadata:\n  name: shard-bad\nspec:\n  window: 7d\n",
	})

	out, err := execute(t, "validate", "--dir", dir)
	require.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "bad.yaml:")
	assert.NotContains(t, out, "good.yaml:")
}

func TestSyncAndGate(t *testing.T) {
	useTempStore(t)
	dir := writeCatalog(t, map[string]string{"catalog.yaml": validDefinition})

	out, err := execute(t, "sync", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 1 service(s): 1 created, 0 updated")

	out, err = execute(t, "gate", "shard-catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ shard-catalog: release allowed")
}

func TestAgentsToggleAndStatus(t *testing.T) {
	useTempStore(t)

	out, err := execute(t, "agents", "toggle", "healing", "--enabled=false")
	require.NoError(t, err)
	assert.Contains(t, out, "healing enabled=false")

	out, err = execute(t, "agents", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Agents enabled")
	assert.Regexp(t, `healing\s+false`, out)
	assert.Regexp(t, `budget_guard\s+true`, out)

	_, err = execute(t, "agents", "toggle", "no_such_agent")
	assert.ErrorContains(t, err, "unknown agent")
}

func TestReap_NothingStale(t *testing.T) {
	useTempStore(t)

	out, err := execute(t, "reap")
	require.NoError(t, err)
	assert.Contains(t, out, "Reaped 0 stale execution(s)")
}
