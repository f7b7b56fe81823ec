package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

func TestTreeChecksumStable(t *testing.T) {
	build := func() string {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "Contents", "MacOS"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Contents", "Info.plist"), []byte("<plist/>"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Contents", "MacOS", "app"), []byte("binary"), 0o755))
		return dir
	}

	a, err := TreeChecksum(build())
	require.NoError(t, err)
	b, err := TreeChecksum(build())
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical trees hash identically regardless of location")
}

func TestTreeChecksumSensitiveToContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("one"), 0o644))
	a, err := TreeChecksum(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("two"), 0o644))
	b, err := TreeChecksum(dir)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTreeChecksumSensitiveToPath(t *testing.T) {
	dirA := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a"), []byte("x"), 0o644))
	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b"), []byte("x"), 0o644))

	a, err := TreeChecksum(dirA)
	require.NoError(t, err)
	b, err := TreeChecksum(dirB)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "relative path participates in the hash")
}

func TestFileChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.deb")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	sum, err := FileChecksum(path)
	require.NoError(t, err)
	assert.Len(t, sum, 64)
}

func TestDescribeArtifactRejectsEmptyPathList(t *testing.T) {
	_, err := describeArtifact(types.PackageDeb, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no artifact paths")
}

func TestDescribeArtifactRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.deb")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := describeArtifact(types.PackageDeb, []string{path})
	require.Error(t, err)
}

func TestDescribeArtifactDirectory(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "Kodegen.app")
	require.NoError(t, os.MkdirAll(filepath.Join(app, "Contents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(app, "Contents", "Info.plist"), []byte("<plist/>"), 0o644))

	art, err := describeArtifact(types.PackageApp, []string{app})
	require.NoError(t, err)
	assert.Equal(t, int64(8), art.TotalSize)
	assert.Len(t, art.Checksum, 64)
}
