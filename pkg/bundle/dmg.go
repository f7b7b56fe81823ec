package bundle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/sign"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// DmgBundler seals the .app bundle into a compressed disk image. Runs only
// on a macOS host; hdiutil has no containerized substitute.
type DmgBundler struct {
	Signer sign.MacSigner
}

func (DmgBundler) PackageType() types.PackageType { return types.PackageDmg }

func (b DmgBundler) Bundle(ctx context.Context, s *Settings) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithPlatform("dmg")

	// Locate or produce the .app first.
	appPath := filepath.Join(s.OutDir, s.DisplayName()+".app")
	if _, err := os.Stat(appPath); err != nil {
		appBundler := AppBundler{Signer: b.Signer}
		paths, err := appBundler.Bundle(ctx, s)
		if err != nil {
			return nil, err
		}
		appPath = paths[0]
	}

	staging, err := os.MkdirTemp("", "kodegen-dmg-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	stagedApp := filepath.Join(staging, filepath.Base(appPath))
	if err := copyTree(appPath, stagedApp); err != nil {
		return nil, fmt.Errorf("staging app bundle: %w", err)
	}

	// Sign and notarize the staged app before sealing the image.
	if b.Signer != nil && b.Signer.Configured() {
		if err := b.Signer.Sign(ctx, stagedApp, ""); err != nil {
			return nil, err
		}
		if err := b.Signer.Notarize(ctx, stagedApp); err != nil {
			return nil, err
		}
	}

	if err := os.Symlink("/Applications", filepath.Join(staging, "Applications")); err != nil {
		return nil, fmt.Errorf("creating Applications symlink: %w", err)
	}

	dmgName := fmt.Sprintf("%s_%s_%s.dmg", s.PackageName, s.Version, s.Arch)
	dmgPath := filepath.Join(s.OutDir, dmgName)
	os.Remove(dmgPath)

	volName := s.DisplayName()
	if s.Dmg.Background != "" || s.Dmg.WindowWidth > 0 {
		if err := b.buildCustomizedDmg(ctx, staging, dmgPath, volName, s); err != nil {
			return nil, err
		}
	} else {
		if err := runHdiutil(ctx, "create", "-volname", volName, "-srcfolder", staging,
			"-ov", "-format", "UDZO", dmgPath); err != nil {
			return nil, err
		}
	}

	if b.Signer != nil && b.Signer.Configured() {
		if err := b.Signer.Sign(ctx, dmgPath, ""); err != nil {
			return nil, err
		}
	}

	logger.Info().Str("artifact", dmgPath).Msg("built dmg")
	return []string{dmgPath}, nil
}

// buildCustomizedDmg creates a writable image, mounts it, applies the window
// layout through the Finder scripting bridge, then converts to compressed
// read-only.
func (b DmgBundler) buildCustomizedDmg(ctx context.Context, staging, dmgPath, volName string, s *Settings) error {
	rwPath := dmgPath + ".rw.dmg"
	os.Remove(rwPath)
	if err := runHdiutil(ctx, "create", "-volname", volName, "-srcfolder", staging,
		"-ov", "-format", "UDRW", rwPath); err != nil {
		return err
	}
	defer os.Remove(rwPath)

	mountPoint := filepath.Join(os.TempDir(), "kodegen-dmg-mount-"+s.PackageName)
	if err := runHdiutil(ctx, "attach", rwPath, "-mountpoint", mountPoint, "-nobrowse"); err != nil {
		return err
	}
	detached := false
	defer func() {
		if !detached {
			_ = runHdiutil(context.Background(), "detach", mountPoint, "-force")
		}
	}()

	if s.Dmg.Background != "" {
		bgDir := filepath.Join(mountPoint, ".background")
		if err := os.MkdirAll(bgDir, 0o755); err != nil {
			return err
		}
		if err := copyFile(s.Dmg.Background, filepath.Join(bgDir, filepath.Base(s.Dmg.Background)), 0o644); err != nil {
			return err
		}
	}

	if err := applyFinderLayout(ctx, volName, s); err != nil {
		return err
	}

	if err := runHdiutil(ctx, "detach", mountPoint); err != nil {
		return err
	}
	detached = true

	return runHdiutil(ctx, "convert", rwPath, "-format", "UDZO", "-o", dmgPath)
}

// applyFinderLayout writes the .DS_Store via osascript so the mounted image
// opens with the requested window geometry.
func applyFinderLayout(ctx context.Context, volName string, s *Settings) error {
	w, h := s.Dmg.WindowWidth, s.Dmg.WindowHeight
	if w == 0 {
		w, h = 660, 420
	}

	var script strings.Builder
	fmt.Fprintf(&script, "tell application \"Finder\"\n")
	fmt.Fprintf(&script, "  tell disk %q\n", volName)
	fmt.Fprintf(&script, "    open\n")
	fmt.Fprintf(&script, "    set current view of container window to icon view\n")
	fmt.Fprintf(&script, "    set the bounds of container window to {100, 100, %d, %d}\n", 100+w, 100+h)
	if s.Dmg.Background != "" {
		fmt.Fprintf(&script, "    set background picture of icon view options of container window to file \".background:%s\"\n",
			filepath.Base(s.Dmg.Background))
	}
	fmt.Fprintf(&script, "    update without registering applications\n")
	fmt.Fprintf(&script, "    close\n")
	fmt.Fprintf(&script, "  end tell\n")
	fmt.Fprintf(&script, "end tell\n")

	cmd := exec.CommandContext(ctx, "osascript", "-e", script.String())
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript finder layout: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func runHdiutil(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "hdiutil", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("hdiutil %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
