package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(content), 0o644))
	return dir
}

func TestReadBasicManifest(t *testing.T) {
	dir := writeManifest(t, `
[package]
name = "kodegen"
version = "0.1.0"
description = "Code generation toolkit"
license = "MIT"
homepage = "https://example.com"
`)

	pkg, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, "kodegen", pkg.Name)
	assert.Equal(t, "0.1.0", pkg.Version)
	assert.Equal(t, "kodegen", pkg.BinaryName, "binary name defaults to package name")
	assert.Equal(t, "Code generation toolkit", pkg.Description)
	assert.Equal(t, "MIT", pkg.License)
}

func TestBinaryEntryOverridesName(t *testing.T) {
	dir := writeManifest(t, `
[package]
name = "kodegen"
version = "0.1.0"

[[bin]]
name = "kgen"
path = "src/main.rs"
`)

	pkg, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, "kgen", pkg.BinaryName)
}

func TestWorkspaceInheritedVersionRejected(t *testing.T) {
	dir := writeManifest(t, `
[package]
name = "kodegen"
version = { workspace = true }
`)

	_, err := Read(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace-inherited")
}

func TestMissingNameRejected(t *testing.T) {
	dir := writeManifest(t, `
[package]
version = "0.1.0"
`)

	_, err := Read(dir)
	require.Error(t, err)
}

func TestMalformedManifestRejected(t *testing.T) {
	dir := writeManifest(t, `[package`)
	_, err := Read(dir)
	require.Error(t, err)
}

func TestMissingManifest(t *testing.T) {
	_, err := Read(t.TempDir())
	require.Error(t, err)
}
