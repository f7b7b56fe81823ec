package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"howett.net/plist"

	"github.com/cyrup-ai/kodegen-release/pkg/icon"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/sign"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// infoPlist is the synthesized Info.plist content.
type infoPlist struct {
	BundleIdentifier     string `plist:"CFBundleIdentifier"`
	BundleName           string `plist:"CFBundleName"`
	BundleDisplayName    string `plist:"CFBundleDisplayName"`
	BundleExecutable     string `plist:"CFBundleExecutable"`
	ShortVersion         string `plist:"CFBundleShortVersionString"`
	BundleVersion        string `plist:"CFBundleVersion"`
	PackageType          string `plist:"CFBundlePackageType"`
	IconFile             string `plist:"CFBundleIconFile"`
	HighResolutionCapable bool  `plist:"NSHighResolutionCapable"`
	MinimumSystemVersion string `plist:"LSMinimumSystemVersion"`
}

// AppBundler assembles the ProductName.app directory bundle. The artifact
// path is the bundle root directory.
type AppBundler struct {
	Signer sign.MacSigner
}

func (AppBundler) PackageType() types.PackageType { return types.PackageApp }

func (b AppBundler) Bundle(ctx context.Context, s *Settings) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithPlatform("app")

	appRoot, err := cleanStaging(s.OutDir, s.DisplayName()+".app")
	if err != nil {
		return nil, err
	}
	contents := filepath.Join(appRoot, "Contents")
	for _, sub := range []string{"MacOS", "Resources", "Frameworks"} {
		if err := os.MkdirAll(filepath.Join(contents, sub), 0o755); err != nil {
			return nil, err
		}
	}

	// Main binary into MacOS/, every other binary into Resources/.
	staged := []string{filepath.Join(contents, "MacOS", s.MainBinary)}
	if err := copyBinary(s.MainBinaryPath(), staged[0]); err != nil {
		return nil, err
	}
	for _, extra := range s.ExtraBinaries {
		src := filepath.Join(s.BinDir, extra)
		dst := filepath.Join(contents, "Resources", extra)
		if err := copyBinary(src, dst); err != nil {
			return nil, err
		}
		staged = append(staged, dst)
	}
	// Patch precedes signing: the tag write would break the seal.
	if err := patchStagedBinaries(staged, types.PackageApp); err != nil {
		return nil, err
	}

	iconFile := ""
	if len(s.Icons) > 0 {
		icons, err := icon.Load(s.Icons)
		if err != nil {
			return nil, err
		}
		iconFile = s.PackageName + ".icns"
		if err := icon.WriteICNS(icons, filepath.Join(contents, "Resources", iconFile)); err != nil {
			return nil, err
		}
	}

	if err := writeInfoPlist(filepath.Join(contents, "Info.plist"), s, iconFile); err != nil {
		return nil, err
	}

	if b.Signer != nil && b.Signer.Configured() {
		if err := b.Signer.Sign(ctx, appRoot, ""); err != nil {
			return nil, err
		}
	}

	logger.Info().Str("artifact", appRoot).Msg("built app bundle")
	return []string{appRoot}, nil
}

func writeInfoPlist(path string, s *Settings, iconFile string) error {
	info := infoPlist{
		BundleIdentifier:      s.BundleIdentifier(),
		BundleName:            s.DisplayName(),
		BundleDisplayName:     s.DisplayName(),
		BundleExecutable:      s.MainBinary,
		ShortVersion:          s.Version,
		BundleVersion:         s.Version,
		PackageType:           "APPL",
		IconFile:              iconFile,
		HighResolutionCapable: true,
		MinimumSystemVersion:  "10.13",
	}

	data, err := plist.MarshalIndent(info, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("marshaling Info.plist: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing Info.plist: %w", err)
	}
	return nil
}
