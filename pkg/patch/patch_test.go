package patch

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// elfBinary builds a fake ELF image with the marker region embedded.
func elfBinary(tail []byte) []byte {
	data := make([]byte, 0, 64+len(tail))
	data = append(data, 0x7F, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	data = append(data, []byte("some .rodata then ")...)
	data = append(data, tail...)
	return data
}

func writeBinary(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(path, data, 0o755))
	return path
}

func TestApplyWritesTagAfterMarkerAndNul(t *testing.T) {
	tail := append([]byte(Marker), 0)
	tail = append(tail, bytes.Repeat([]byte{' '}, 16)...)
	path := writeBinary(t, elfBinary(tail))

	require.NoError(t, Apply(path, types.PackageDeb))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	offset := bytes.Index(data, []byte(Marker))
	require.GreaterOrEqual(t, offset, 0)
	assert.Equal(t, byte(0), data[offset+len(Marker)], "reserved NUL stays untouched")
	assert.Equal(t, "deb", string(data[offset+len(Marker)+1:offset+len(Marker)+4]))
}

func TestApplyMissingMarkerIsNotAnError(t *testing.T) {
	path := writeBinary(t, elfBinary([]byte("no marker here, lots of padding")))
	before, _ := os.ReadFile(path)

	require.NoError(t, Apply(path, types.PackageRpm))

	after, _ := os.ReadFile(path)
	assert.Equal(t, before, after)
}

func TestApplyInsufficientSpaceSkips(t *testing.T) {
	// Marker at the very end: no room for the tag.
	tail := append([]byte(Marker), 0)
	path := writeBinary(t, elfBinary(tail))
	before, _ := os.ReadFile(path)

	require.NoError(t, Apply(path, types.PackageAppImage))

	after, _ := os.ReadFile(path)
	assert.Equal(t, before, after)
}

func TestApplyTooSmallSkips(t *testing.T) {
	path := writeBinary(t, []byte{0x7F, 'E', 'L'})
	require.NoError(t, Apply(path, types.PackageDeb))
}

func TestApplyUnknownFormatSkips(t *testing.T) {
	data := append([]byte("#!/bin/sh\n# "), []byte(Marker)...)
	data = append(data, 0)
	data = append(data, bytes.Repeat([]byte{' '}, 16)...)
	path := writeBinary(t, data)
	before, _ := os.ReadFile(path)

	require.NoError(t, Apply(path, types.PackageDeb))

	after, _ := os.ReadFile(path)
	assert.Equal(t, before, after, "non-executables are never patched")
}

func TestApplyArchiveSkips(t *testing.T) {
	data := append([]byte("!<arch>\n"), bytes.Repeat([]byte{0}, 16)...)
	path := writeBinary(t, data)
	require.NoError(t, Apply(path, types.PackageDeb))
}

func TestApplyMachO(t *testing.T) {
	data := []byte{0xCF, 0xFA, 0xED, 0xFE, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	data = append(data, []byte(Marker)...)
	data = append(data, 0)
	data = append(data, bytes.Repeat([]byte{' '}, 8)...)
	path := writeBinary(t, data)

	require.NoError(t, Apply(path, types.PackageDmg))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(after), "dmg")
}

func TestDetectFormat(t *testing.T) {
	pad := func(b []byte) []byte {
		out := make([]byte, 16)
		copy(out, b)
		return out
	}
	assert.Equal(t, formatELF, detectFormat(pad([]byte{0x7F, 'E', 'L', 'F'})))
	assert.Equal(t, formatPE, detectFormat(pad([]byte{'M', 'Z'})))
	assert.Equal(t, formatMachO, detectFormat(pad([]byte{0xFE, 0xED, 0xFA, 0xCE})))
	assert.Equal(t, formatMachO, detectFormat(pad([]byte{0xCA, 0xFE, 0xBA, 0xBE})))
	assert.Equal(t, formatArchive, detectFormat(pad([]byte("!<arch>\n"))))
	assert.Equal(t, formatCOFF, detectFormat(pad([]byte{0x64, 0x86})))
	assert.Equal(t, formatUnknown, detectFormat(pad([]byte("#!/ب"))))
}
