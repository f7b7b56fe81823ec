package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/rpmpack"

	"github.com/cyrup-ai/kodegen-release/pkg/icon"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// rpmOperators are the accepted version comparison operators. "==" is
// normalized to "=".
var rpmOperators = map[string]string{
	"=": "=", "==": "=", ">=": ">=", ">": ">", "<=": "<=", "<": "<",
}

var rpmCompressions = map[string]bool{
	"gzip": true, "xz": true, "zstd": true, "bzip2": true,
}

// RpmBundler produces an RPM through the typed rpmpack builder; no rpmbuild
// toolchain is needed on the host.
type RpmBundler struct{}

func (RpmBundler) PackageType() types.PackageType { return types.PackageRpm }

func (RpmBundler) Bundle(ctx context.Context, s *Settings) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithPlatform("rpm")

	release := s.Rpm.Release
	if release == "" {
		release = "1"
	}
	compression := s.Rpm.Compression
	if compression == "" {
		compression = "gzip"
	}
	if !rpmCompressions[compression] {
		return nil, fmt.Errorf("unsupported rpm compression %q (want gzip, xz, zstd or bzip2)", compression)
	}

	meta := rpmpack.RPMMetaData{
		Name:        s.PackageName,
		Summary:     firstLine(s.Description),
		Description: s.Description,
		Version:     s.Version,
		Release:     release,
		Epoch:       s.Rpm.Epoch,
		Arch:        string(s.Arch),
		Vendor:      s.Publisher,
		URL:         s.Homepage,
		Licence:     s.License,
		Compressor:  compression,
	}

	r, err := rpmpack.NewRPM(meta)
	if err != nil {
		return nil, fmt.Errorf("creating rpm builder: %w", err)
	}

	for _, dep := range s.Rpm.Depends {
		rel, err := parseRpmDependency(dep)
		if err != nil {
			return nil, err
		}
		if err := r.Requires.Set(rel); err != nil {
			return nil, fmt.Errorf("adding rpm dependency %q: %w", dep, err)
		}
	}

	// Binaries are patched on staged copies so the originals stay pristine.
	binStaging, err := os.MkdirTemp("", "kodegen-rpm-bin-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(binStaging)

	for _, bin := range s.Binaries() {
		staged := filepath.Join(binStaging, filepath.Base(bin))
		if err := copyBinary(bin, staged); err != nil {
			return nil, err
		}
		if err := patchStagedBinaries([]string{staged}, types.PackageRpm); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(staged)
		if err != nil {
			return nil, fmt.Errorf("reading binary %s: %w", staged, err)
		}
		r.AddFile(rpmpack.RPMFile{
			Name:  "/usr/bin/" + filepath.Base(bin),
			Body:  data,
			Mode:  0o755,
			Owner: "root",
			Group: "root",
		})
	}

	r.AddFile(rpmpack.RPMFile{
		Name:  "/usr/share/applications/" + s.PackageName + ".desktop",
		Body:  []byte(desktopEntry(s)),
		Mode:  0o644,
		Owner: "root",
		Group: "root",
	})

	if len(s.Icons) > 0 {
		if err := addRpmIcons(r, s); err != nil {
			return nil, err
		}
	}

	rpmName := fmt.Sprintf("%s-%s-%s.%s.rpm", s.PackageName, s.Version, release, s.Arch)
	rpmPath := filepath.Join(s.OutDir, rpmName)
	f, err := os.Create(rpmPath)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", rpmPath, err)
	}
	if err := r.Write(f); err != nil {
		f.Close()
		os.Remove(rpmPath)
		return nil, fmt.Errorf("writing rpm: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	logger.Info().Str("artifact", rpmPath).Msg("built rpm package")
	return []string{rpmPath}, nil
}

// addRpmIcons renders the hicolor tree into a staging dir and adds each file.
func addRpmIcons(r *rpmpack.RPM, s *Settings) error {
	icons, err := icon.Load(s.Icons)
	if err != nil {
		return err
	}
	staging, err := os.MkdirTemp("", "kodegen-rpm-icons-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	written, err := icon.WriteFreedesktopTree(icons, staging, s.PackageName)
	if err != nil {
		return err
	}
	for _, path := range written {
		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		r.AddFile(rpmpack.RPMFile{
			Name:  "/" + filepath.ToSlash(rel),
			Body:  data,
			Mode:  0o644,
			Owner: "root",
			Group: "root",
		})
	}
	return nil
}

// parseRpmDependency validates "name" or "name OP version" and returns the
// normalized relation string.
func parseRpmDependency(dep string) (string, error) {
	fields := strings.Fields(dep)
	switch len(fields) {
	case 1:
		return fields[0], nil
	case 3:
		op, ok := rpmOperators[fields[1]]
		if !ok {
			return "", fmt.Errorf("invalid rpm dependency %q: unknown operator %q", dep, fields[1])
		}
		return fmt.Sprintf("%s %s %s", fields[0], op, fields[2]), nil
	default:
		return "", fmt.Errorf("invalid rpm dependency %q: want \"name\" or \"name OP version\"", dep)
	}
}
