package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMigrationWritesPair(t *testing.T) {
	dir := t.TempDir()

	mf, err := CreateMigration(dir, "Add Event Store", "append-only events table")
	require.NoError(t, err)

	assert.Len(t, mf.Version, 14)
	assert.True(t, strings.HasSuffix(mf.UpPath, "_add_event_store.up.sql"))
	assert.True(t, strings.HasSuffix(mf.DownPath, "_add_event_store.down.sql"))

	up, err := os.ReadFile(mf.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "Add Event Store")
	assert.Contains(t, string(up), "append-only events table")

	down, err := os.ReadFile(mf.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "rollback")
}

func TestCreateMigrationCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "migrations")

	_, err := CreateMigration(dir, "init", "")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Add Event Store", "add_event_store"},
		{"command-ledger", "command_ledger"},
		{"  spaces   everywhere  ", "spaces_everywhere"},
		{"drop!bad?chars", "dropbadchars"},
		{"trailing_", "trailing"},
		{"v2 checkpoints", "v2_checkpoints"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in), tt.in)
	}
}

func TestListMigrations(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{
		"20240101000000_events.up.sql",
		"20240101000000_events.down.sql",
		"20240102000000_ledger.up.sql",
		"20240102000000_ledger.down.sql",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- sql"), 0o644))
	}

	names, err := ListMigrations(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101000000_events", "20240102000000_ledger"}, names)
}

func TestListMigrationsMissingDir(t *testing.T) {
	names, err := ListMigrations(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, names)
}
