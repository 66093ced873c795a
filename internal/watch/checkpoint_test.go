package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*CheckpointStore, string) {
	t.Helper()
	dir := t.TempDir()
	return NewCheckpointStore(dir, hclog.NewNullLogger()), dir
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	markers := []string{"2024-01-01T00:00:00", "bad-date", "с-кириллицей"}
	for _, marker := range markers {
		require.NoError(t, store.Write("ib1", marker))
		got, err := store.Read("ib1")
		require.NoError(t, err)
		assert.Equal(t, marker, got)
	}
}

func TestCheckpointStore_CreatesEmptyOnFirstRead(t *testing.T) {
	store, dir := newTestStore(t)

	marker, err := store.Read("ib1")
	require.NoError(t, err)
	assert.Equal(t, "", marker)

	// The file now exists with an empty marker.
	data, err := os.ReadFile(filepath.Join(dir, "ib1.dat"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "checkpoint:")

	// Repeated reads stay empty.
	marker, err = store.Read("ib1")
	require.NoError(t, err)
	assert.Equal(t, "", marker)
}

func TestCheckpointStore_HandEditedFile(t *testing.T) {
	store, dir := newTestStore(t)

	content := "checkpoint: 2024-06-01T12:00:00\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ib1.dat"), []byte(content), 0644))

	marker, err := store.Read("ib1")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T12:00:00", marker)
}

func TestCheckpointStore_CorruptFileResumesEmpty(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ib1.dat"), []byte("checkpoint: [unclosed"), 0644))

	marker, err := store.Read("ib1")
	require.NoError(t, err)
	assert.Equal(t, "", marker)
}

func TestCheckpointStore_WriteReplacesAtomically(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Write("ib1", "m1"))
	require.NoError(t, store.Write("ib1", "m2"))

	// The rename leaves exactly one file and no temp residue.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ib1.dat", entries[0].Name())
}

func TestCheckpointStore_PerIdentityFiles(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Write("ib1", "m1"))
	require.NoError(t, store.Write("ib2", "m2"))

	m1, err := store.Read("ib1")
	require.NoError(t, err)
	m2, err := store.Read("ib2")
	require.NoError(t, err)

	assert.Equal(t, "m1", m1)
	assert.Equal(t, "m2", m2)
}
