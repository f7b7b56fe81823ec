package docker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

type fakeRuntime struct {
	oomKilled    bool
	imageCreated time.Time
	imageExists  bool
	built        int
	removed      []string
}

func (f *fakeRuntime) Available(context.Context) error { return nil }
func (f *fakeRuntime) ImageCreated(context.Context, string) (time.Time, bool, error) {
	return f.imageCreated, f.imageExists, nil
}
func (f *fakeRuntime) BuildImage(context.Context, string, string) error {
	f.built++
	return nil
}
func (f *fakeRuntime) InspectOOM(context.Context, string) (bool, error) {
	return f.oomKilled, nil
}
func (f *fakeRuntime) RemoveContainer(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func testLimits() types.ContainerLimits {
	return types.ContainerLimits{
		MemoryBytes:         4 * gib,
		MemoryPlusSwapBytes: 6 * gib,
		Cpus:                2,
		PidCap:              1000,
	}
}

func TestOOMSignalsExitCode(t *testing.T) {
	b := NewBundler(&fakeRuntime{}, testLimits(), t.TempDir(), t.TempDir())
	signals := b.oomSignals(context.Background(), 137, "", "c")
	assert.Contains(t, signals, "exit code 137")
}

func TestOOMSignalsStderrPhrase(t *testing.T) {
	b := NewBundler(&fakeRuntime{}, testLimits(), t.TempDir(), t.TempDir())
	signals := b.oomSignals(context.Background(), 1, "fatal: Out of memory while linking", "c")
	require.Len(t, signals, 1)
	assert.Contains(t, signals[0], "stderr phrase")
}

func TestOOMSignalsInspect(t *testing.T) {
	b := NewBundler(&fakeRuntime{oomKilled: true}, testLimits(), t.TempDir(), t.TempDir())
	signals := b.oomSignals(context.Background(), 0, "", "c")
	assert.Contains(t, signals, "inspect OOMKilled=true")
}

func TestOOMSignalsCleanRun(t *testing.T) {
	b := NewBundler(&fakeRuntime{}, testLimits(), t.TempDir(), t.TempDir())
	assert.Empty(t, b.oomSignals(context.Background(), 0, "all fine", "c"))
}

func TestOOMErrorMessageIsActionable(t *testing.T) {
	err := &OOMError{
		Limits:     testLimits(),
		HostMemory: 16 * gib,
		Signals:    []string{"exit code 137"},
	}
	msg := err.Error()
	assert.Contains(t, msg, "memory limit: 4096 MB")
	assert.Contains(t, msg, "memory+swap limit: 6144 MB")
	assert.Contains(t, msg, "host total memory: 16384 MB")
	assert.Contains(t, msg, "--docker-memory")
}

func TestBundleNativeOnlyRefused(t *testing.T) {
	b := NewBundler(&fakeRuntime{}, testLimits(), t.TempDir(), t.TempDir())
	_, err := b.Bundle(context.Background(), types.PackageDmg)
	require.Error(t, err)
	assert.False(t, retry.Recoverable(err))
}

func TestRunArgsConstraints(t *testing.T) {
	workspace := t.TempDir()
	b := NewBundler(&fakeRuntime{}, testLimits(), workspace, t.TempDir())
	args := b.runArgs("kodegen-bundle-abc", "/tmp/iso", types.PackageDeb)

	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	assert.Contains(t, joined, "--cap-drop ALL")
	assert.Contains(t, joined, "--security-opt no-new-privileges")
	assert.Contains(t, joined, workspace+":/workspace:ro")
	assert.Contains(t, joined, "/tmp/iso:/target")
	assert.Contains(t, joined, "--pids-limit 1000")
	assert.Contains(t, joined, "--memory "+itoa(4*gib))
	assert.Contains(t, joined, "--types deb")
}

func TestDiscoverArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kodegen_0.1.1_amd64.deb"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	found, err := discoverArtifacts(dir, types.PackageDeb)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Contains(t, found[0], ".deb")
}

func TestDiscoverArtifactsRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.deb"), nil, 0o644))

	_, err := discoverArtifacts(dir, types.PackageDeb)
	require.Error(t, err)
}

func TestDiscoverArtifactsNoneFound(t *testing.T) {
	_, err := discoverArtifacts(t.TempDir(), types.PackageRpm)
	require.Error(t, err)
}

func TestDiscoverArtifactsAppImageExtensionless(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kodegen-x86_64"), []byte("x"), 0o755))

	found, err := discoverArtifacts(dir, types.PackageAppImage)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestNeedsRebuild(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Missing image.
	rebuild, reason, err := needsRebuild(ctx, &fakeRuntime{}, dir, false)
	require.NoError(t, err)
	assert.True(t, rebuild)
	assert.Equal(t, "image missing", reason)

	// Fresh image, no Dockerfile drift.
	rt := &fakeRuntime{imageExists: true, imageCreated: time.Now().Add(-time.Hour)}
	rebuild, _, err = needsRebuild(ctx, rt, dir, false)
	require.NoError(t, err)
	assert.False(t, rebuild)

	// Dockerfile newer than image.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM debian"), 0o644))
	rebuild, reason, err = needsRebuild(ctx, rt, dir, false)
	require.NoError(t, err)
	assert.True(t, rebuild)
	assert.Equal(t, "Dockerfile newer than image", reason)

	// Old image.
	old := &fakeRuntime{imageExists: true, imageCreated: time.Now().Add(-8 * 24 * time.Hour)}
	rebuild, _, err = needsRebuild(ctx, old, t.TempDir(), false)
	require.NoError(t, err)
	assert.True(t, rebuild)

	// Forced.
	rebuild, reason, err = needsRebuild(ctx, rt, dir, true)
	require.NoError(t, err)
	assert.True(t, rebuild)
	assert.Equal(t, "rebuild forced", reason)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
