package bundle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cyrup-ai/kodegen-release/pkg/icon"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// appRunScript launches the bundled main binary relative to the AppDir.
const appRunScript = `#!/bin/sh
HERE="$(dirname "$(readlink -f "$0")")"
exec "$HERE/usr/bin/%s" "$@"
`

// AppImageBundler stages an AppDir and wraps it with appimagetool.
type AppImageBundler struct {
	// Tool overrides the appimagetool binary; tests point it at a stub.
	Tool string
}

func (AppImageBundler) PackageType() types.PackageType { return types.PackageAppImage }

func (b AppImageBundler) Bundle(ctx context.Context, s *Settings) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithPlatform("appimage")

	appDir, err := cleanStaging(s.OutDir, s.DisplayName()+".AppDir")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(appDir)

	var staged []string
	for _, bin := range s.Binaries() {
		dst := filepath.Join(appDir, "usr", "bin", filepath.Base(bin))
		if err := copyBinary(bin, dst); err != nil {
			return nil, err
		}
		staged = append(staged, dst)
	}
	if err := patchStagedBinaries(staged, types.PackageAppImage); err != nil {
		return nil, err
	}

	appRun := filepath.Join(appDir, "AppRun")
	if err := os.WriteFile(appRun, []byte(fmt.Sprintf(appRunScript, s.MainBinary)), 0o755); err != nil {
		return nil, err
	}

	desktop := desktopEntry(s)
	if err := os.WriteFile(filepath.Join(appDir, s.PackageName+".desktop"), []byte(desktop), 0o644); err != nil {
		return nil, err
	}

	if len(s.Icons) > 0 {
		icons, err := icon.Load(s.Icons)
		if err != nil {
			return nil, err
		}
		if _, err := icon.WriteFreedesktopTree(icons, appDir, s.PackageName); err != nil {
			return nil, err
		}
		// appimagetool wants a top-level icon matching the desktop entry.
		img, err := icon.RenderFor(icons, 256)
		if err != nil {
			return nil, err
		}
		if err := writePNGFile(filepath.Join(appDir, s.PackageName+".png"), img); err != nil {
			return nil, err
		}
	}

	outName := fmt.Sprintf("%s_%s_%s.AppImage", s.PackageName, s.Version, s.Arch)
	outPath := filepath.Join(s.OutDir, outName)

	tool := b.Tool
	if tool == "" {
		tool = "appimagetool"
	}
	cmd := exec.CommandContext(ctx, tool, appDir, outPath)
	cmd.Env = append(os.Environ(), "ARCH="+appImageArch(string(s.Arch)))
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("appimagetool: %w: %s", err, strings.TrimSpace(string(out)))
	}

	logger.Info().Str("artifact", outPath).Msg("built AppImage")
	return []string{outPath}, nil
}

func appImageArch(arch string) string {
	// appimagetool expects uname-style names, which x86_64/aarch64 already are.
	return arch
}
