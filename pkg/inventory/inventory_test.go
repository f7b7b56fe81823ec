package inventory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

func TestRegisterListClear(t *testing.T) {
	inv := New(t.TempDir())

	temp := t.TempDir()
	require.NoError(t, inv.Register(temp, "kodegen", "0.1.1"))

	entries, err := inv.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, os.Getpid(), entries[0].PID)
	assert.Equal(t, "kodegen", entries[0].Project)
	assert.Equal(t, "0.1.1", entries[0].Version)
	assert.Equal(t, temp, entries[0].TempPath)

	require.NoError(t, inv.Clear())
	entries, err = inv.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClearWithoutRegisterIsFine(t *testing.T) {
	inv := New(t.TempDir())
	require.NoError(t, inv.Clear())
}

func writeEntry(t *testing.T, dir string, entry types.ActiveReleaseEntry) {
	t.Helper()
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	name := filepath.Join(dir, strconv.Itoa(entry.PID)+".json")
	require.NoError(t, os.WriteFile(name, data, 0o644))
}

func TestSweepRemovesDeadPidEntry(t *testing.T) {
	dir := t.TempDir()
	inv := New(dir)

	// PID values this large never exist on Linux (pid_max caps lower).
	tempPath := t.TempDir()
	writeEntry(t, dir, types.ActiveReleaseEntry{
		PID: 3999999, TempPath: tempPath, Project: "kodegen", Version: "0.1.0",
	})

	swept, err := inv.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.NoDirExists(t, tempPath, "crashed run's temp tree is removed")
}

func TestSweepRemovesGoneTempPathEntry(t *testing.T) {
	dir := t.TempDir()
	inv := New(dir)

	writeEntry(t, dir, types.ActiveReleaseEntry{
		PID: 3999998, TempPath: filepath.Join(dir, "does-not-exist"),
	})

	swept, err := inv.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
}

func TestSweepKeepsOwnEntry(t *testing.T) {
	dir := t.TempDir()
	inv := New(dir)
	require.NoError(t, inv.Register(t.TempDir(), "kodegen", "0.1.1"))

	swept, err := inv.Sweep()
	require.NoError(t, err)
	assert.Zero(t, swept)

	entries, err := inv.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSweepEmptyInventory(t *testing.T) {
	inv := New(filepath.Join(t.TempDir(), "missing"))
	swept, err := inv.Sweep()
	require.NoError(t, err)
	assert.Zero(t, swept)
}
