package metadata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestName is the package manifest file read from the working tree.
const ManifestName = "Cargo.toml"

// LockfileName is the companion lockfile kept consistent by the bumper.
const LockfileName = "Cargo.lock"

// Package is the metadata extracted from the manifest. BinaryName defaults
// to the package name unless a [[bin]] entry overrides it.
type Package struct {
	Name        string
	Version     string
	BinaryName  string
	Description string
	License     string
	Homepage    string
	Repository  string
}

type manifest struct {
	Package struct {
		Name        string `toml:"name"`
		Version     any    `toml:"version"`
		Description string `toml:"description"`
		License     string `toml:"license"`
		Homepage    string `toml:"homepage"`
		Repository  string `toml:"repository"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
		Path string `toml:"path"`
	} `toml:"bin"`
}

// Read parses the manifest in the given working tree.
func Read(workingTree string) (*Package, error) {
	return ReadFile(filepath.Join(workingTree, ManifestName))
}

// ReadFile parses the manifest at an explicit path.
func ReadFile(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if m.Package.Name == "" {
		return nil, fmt.Errorf("manifest %s has no package name", path)
	}

	version, err := versionString(m.Package.Version)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	pkg := &Package{
		Name:        m.Package.Name,
		Version:     version,
		BinaryName:  m.Package.Name,
		Description: m.Package.Description,
		License:     m.Package.License,
		Homepage:    m.Package.Homepage,
		Repository:  m.Package.Repository,
	}
	if len(m.Bin) > 0 && m.Bin[0].Name != "" {
		pkg.BinaryName = m.Bin[0].Name
	}
	return pkg, nil
}

// versionString accepts both a plain version string and the
// `version = { workspace = true }` inheritance form. The inherited form has
// no usable version here, so it is rejected with a clear message.
func versionString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return "", fmt.Errorf("package version is empty")
		}
		return val, nil
	case map[string]any:
		if ws, ok := val["workspace"].(bool); ok && ws {
			return "", fmt.Errorf("package version is workspace-inherited; a concrete version is required")
		}
		return "", fmt.Errorf("package version has unsupported shape")
	case nil:
		return "", fmt.Errorf("package version is missing")
	default:
		return "", fmt.Errorf("package version has unsupported type %T", v)
	}
}
