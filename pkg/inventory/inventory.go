package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// Inventory is the shared directory of active-release entries, one file per
// running release named by process id. It lets a later invocation find and
// clean up after crashed runs.
type Inventory struct {
	dir string
}

// Default returns the inventory under the user's home directory
// (~/.kodegen/active_releases).
func Default() (*Inventory, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return New(filepath.Join(home, ".kodegen", "active_releases")), nil
}

// New returns an inventory rooted at dir.
func New(dir string) *Inventory {
	return &Inventory{dir: dir}
}

// Register writes this process's entry.
func (inv *Inventory) Register(tempPath, project, version string) error {
	if err := os.MkdirAll(inv.dir, 0o755); err != nil {
		return fmt.Errorf("creating inventory dir: %w", err)
	}

	entry := types.ActiveReleaseEntry{
		PID:       os.Getpid(),
		TempPath:  tempPath,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Project:   project,
		Version:   version,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	path := inv.entryPath(entry.PID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing inventory entry: %w", err)
	}
	return nil
}

// Clear removes this process's entry.
func (inv *Inventory) Clear() error {
	err := os.Remove(inv.entryPath(os.Getpid()))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns every parseable entry.
func (inv *Inventory) List() ([]types.ActiveReleaseEntry, error) {
	files, err := os.ReadDir(inv.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading inventory dir: %w", err)
	}

	var entries []types.ActiveReleaseEntry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(inv.dir, f.Name()))
		if err != nil {
			continue
		}
		var entry types.ActiveReleaseEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Sweep removes stale entries: those whose process is gone or whose temp
// path no longer exists. The crashed runs' temp trees are removed too.
// Returns the number of entries swept.
func (inv *Inventory) Sweep() (int, error) {
	entries, err := inv.List()
	if err != nil {
		return 0, err
	}
	logger := log.WithComponent("inventory")

	swept := 0
	for _, entry := range entries {
		if entry.PID == os.Getpid() {
			continue
		}
		if !isStale(entry) {
			continue
		}

		if entry.TempPath != "" {
			if err := os.RemoveAll(entry.TempPath); err != nil {
				logger.Warn().Err(err).Str("temp_path", entry.TempPath).
					Msg("could not remove crashed run's temp tree")
			}
		}
		if err := os.Remove(inv.entryPath(entry.PID)); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Int("pid", entry.PID).Msg("could not remove inventory entry")
			continue
		}
		logger.Info().Int("pid", entry.PID).Str("project", entry.Project).
			Str("version", entry.Version).Msg("swept stale release entry")
		swept++
	}
	return swept, nil
}

// isStale reports whether the entry's process has died or its temp path is
// gone.
func isStale(entry types.ActiveReleaseEntry) bool {
	alive, err := process.PidExists(int32(entry.PID))
	if err == nil && !alive {
		return true
	}
	if entry.TempPath != "" {
		if _, err := os.Stat(entry.TempPath); os.IsNotExist(err) {
			return true
		}
	}
	return false
}

func (inv *Inventory) entryPath(pid int) string {
	return filepath.Join(inv.dir, strconv.Itoa(pid)+".json")
}
