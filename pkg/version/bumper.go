package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/metadata"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// ErrVersionMismatch means the manifest read-back disagrees with the version
// that was just written.
var ErrVersionMismatch = errors.New("version mismatch after write")

// ErrLockfileMismatch means the lockfile does not contain the new version
// after the toolchain update ran.
var ErrLockfileMismatch = errors.New("lockfile mismatch")

// Toolchain updates the lockfile so it agrees with the manifest. Implemented
// by the cargo CLI in production; stubbed in tests.
type Toolchain interface {
	UpdateLockfile(ctx context.Context, dir string) error
}

// CargoToolchain runs the real `cargo update`.
type CargoToolchain struct{}

func (CargoToolchain) UpdateLockfile(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "cargo", "update", "--workspace")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("cargo update: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Bumper rewrites the manifest version and keeps the lockfile consistent.
type Bumper struct {
	workingTree string
	toolchain   Toolchain
}

// NewBumper creates a bumper for the given working tree.
func NewBumper(workingTree string, toolchain Toolchain) *Bumper {
	if toolchain == nil {
		toolchain = CargoToolchain{}
	}
	return &Bumper{workingTree: workingTree, toolchain: toolchain}
}

// Bump computes the next version for the bump kind, rewrites the manifest,
// updates the lockfile, and verifies both by re-reading them.
func (b *Bumper) Bump(ctx context.Context, kind types.BumpKind) (string, error) {
	pkg, err := metadata.Read(b.workingTree)
	if err != nil {
		return "", err
	}

	next, err := Next(pkg.Version, kind)
	if err != nil {
		return "", err
	}

	logger := log.WithComponent("version")
	logger.Info().Str("from", pkg.Version).Str("to", next).Msg("bumping package version")

	manifestPath := filepath.Join(b.workingTree, metadata.ManifestName)
	if err := RewriteManifestVersion(manifestPath, next); err != nil {
		return "", err
	}

	// The lockfile records the package's own version; update it
	// unconditionally so the two files never drift.
	if err := b.toolchain.UpdateLockfile(ctx, b.workingTree); err != nil {
		return "", err
	}

	if err := b.verify(next); err != nil {
		return "", err
	}
	return next, nil
}

// verify re-reads manifest and lockfile after the write.
func (b *Bumper) verify(want string) error {
	pkg, err := metadata.Read(b.workingTree)
	if err != nil {
		return err
	}
	if pkg.Version != want {
		return fmt.Errorf("%w: manifest has %q, expected %q", ErrVersionMismatch, pkg.Version, want)
	}

	lockPath := filepath.Join(b.workingTree, metadata.LockfileName)
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No lockfile at all means the toolchain produced nothing to
			// verify against.
			return fmt.Errorf("%w: %s missing after toolchain update", ErrLockfileMismatch, metadata.LockfileName)
		}
		return fmt.Errorf("reading lockfile: %w", err)
	}
	if !strings.Contains(string(data), fmt.Sprintf("version = %q", want)) {
		return fmt.Errorf("%w: %s does not contain %q", ErrLockfileMismatch, metadata.LockfileName, want)
	}
	return nil
}

// RewriteManifestVersion replaces the version value of the [package] section
// in place, preserving every other byte of the manifest.
func RewriteManifestVersion(manifestPath, newVersion string) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	inPackage := false
	rewritten := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			inPackage = trimmed == "[package]"
			continue
		}
		if !inPackage || rewritten {
			continue
		}
		key, rest, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) != "version" {
			continue
		}
		value := strings.TrimSpace(rest)
		if _, ok := quoteUnquote(value); !ok {
			return fmt.Errorf("manifest version is not a plain string: %s", strings.TrimSpace(line))
		}
		// Preserve indentation and spacing around '='.
		prefix := line[:len(line)-len(rest)]
		leading := rest[:len(rest)-len(strings.TrimLeft(rest, " \t"))]
		trailing := strings.TrimPrefix(strings.TrimLeft(rest, " \t"), value)
		lines[i] = prefix + leading + fmt.Sprintf("%q", newVersion) + trailing
		rewritten = true
	}
	if !rewritten {
		return fmt.Errorf("no version key found in [package] section of %s", manifestPath)
	}

	if err := os.WriteFile(manifestPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
