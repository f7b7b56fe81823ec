package release

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cyrup-ai/kodegen-release/pkg/bundle"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// bundleSettings derives the bundler settings from the working tree and the
// package metadata: compiled binaries under target/release, artifacts under
// target/release-artifacts, icons from the conventional icons/ directory.
func (o *Orchestrator) bundleSettings() (*bundle.Settings, error) {
	binDir := filepath.Join(o.workingTree, "target", "release")
	outDir := filepath.Join(o.workingTree, "target", "release-artifacts")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}

	s := &bundle.Settings{
		ProductName: o.meta.Name,
		PackageName: o.meta.Name,
		Version:     o.rec.TargetVersion,
		Description: o.meta.Description,
		Homepage:    o.meta.Homepage,
		License:     o.meta.License,
		Icons:       discoverIcons(o.workingTree),
		BinDir:      binDir,
		MainBinary:  o.meta.BinaryName,
		OutDir:      outDir,
		Arch:        types.HostArch(),
	}
	return s, nil
}

// discoverIcons finds PNG sources under icons/ in the working tree.
func discoverIcons(workingTree string) []string {
	matches, err := filepath.Glob(filepath.Join(workingTree, "icons", "*.png"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}
