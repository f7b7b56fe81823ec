package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

func newTestRecord() *types.ReleaseRecord {
	return types.NewReleaseRecord("1.2.3", types.BumpPatch, "rel-test", types.ReleaseConfig{})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, DefaultConfig())
	defer store.Close()

	rec := newTestRecord()
	rec.CurrentPhase = types.PhaseUpload
	rec.AddCheckpoint("draft_release_created", nil)

	require.NoError(t, store.Save(rec))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", loaded.TargetVersion)
	assert.Equal(t, types.PhaseUpload, loaded.CurrentPhase)
	assert.Equal(t, uint64(1), loaded.SaveVersion)
	assert.True(t, loaded.HasCheckpoint("draft_release_created"))
}

func TestLoadNotFound(t *testing.T) {
	store := New(t.TempDir(), DefaultConfig())
	defer store.Close()

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveVersionStrictlyIncreases(t *testing.T) {
	store := New(t.TempDir(), DefaultConfig())
	defer store.Close()

	rec := newTestRecord()
	var last uint64
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(rec))
		assert.Greater(t, rec.SaveVersion, last)
		last = rec.SaveVersion
	}

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), loaded.SaveVersion)
}

func TestUpdatedAtMonotone(t *testing.T) {
	store := New(t.TempDir(), DefaultConfig())
	defer store.Close()

	rec := newTestRecord()
	require.NoError(t, store.Save(rec))
	assert.False(t, rec.UpdatedAt.Before(rec.StartedAt))
}

func TestFormatVersionRejected(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, DefaultConfig())
	defer store.Close()

	rec := newTestRecord()
	rec.FormatVersion = 1
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), data, 0o644))

	_, err = store.Load()
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Got)
	assert.Equal(t, types.FormatVersion, fe.Want)
}

func TestLoadRejectsTornFile(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, DefaultConfig())
	defer store.Close()

	// A partial JSON document must never parse as a valid record.
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte(`{"format_version": 2, "rel`), 0o644))

	_, err := store.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCleanupRemovesBothFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, DefaultConfig())

	require.NoError(t, store.Save(newTestRecord()))
	require.NoError(t, store.Cleanup())

	_, err := os.Stat(filepath.Join(dir, StateFileName))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupIdempotent(t *testing.T) {
	store := New(t.TempDir(), DefaultConfig())
	require.NoError(t, store.Cleanup())
	require.NoError(t, store.Cleanup())
}

func TestIsLockedByOther(t *testing.T) {
	dir := t.TempDir()

	holder := New(dir, DefaultConfig())
	require.NoError(t, holder.Save(newTestRecord()))

	// The holder itself never observes contention.
	locked, err := holder.IsLockedByOther()
	require.NoError(t, err)
	assert.False(t, locked)

	holder.Close()
}

func TestNoPartialStateVisibleAfterSave(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, DefaultConfig())
	defer store.Close()

	rec := newTestRecord()
	require.NoError(t, store.Save(rec))

	// No temp file may linger next to the record.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
