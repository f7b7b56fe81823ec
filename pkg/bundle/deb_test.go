package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/blakesmith/ar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(t *testing.T) *Settings {
	t.Helper()
	binDir := t.TempDir()
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "kodegen"), []byte("#!ELFISH binary payload"), 0o755))

	return &Settings{
		ProductName: "Kodegen",
		PackageName: "kodegen",
		Version:     "0.1.1",
		Description: "Code generation toolkit\n\nSecond paragraph.",
		Publisher:   "Cyrup AI",
		Homepage:    "https://example.com/kodegen",
		License:     "MIT",
		BinDir:      binDir,
		MainBinary:  "kodegen",
		OutDir:      outDir,
		Arch:        "x86_64",
		Deb: DebSettings{
			Depends: []string{"libc6 (>= 2.31)", "libgcc-s1"},
		},
	}
}

func readArMembers(t *testing.T, path string) ([]string, map[string][]byte) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := ar.NewReader(f)
	var order []string
	members := map[string][]byte{}
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		order = append(order, name)
		members[name] = data
	}
	return order, members
}

func extractTarGz(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	out := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = content
	}
	return out
}

func TestDebMemberOrder(t *testing.T) {
	s := testSettings(t)
	paths, err := DebBundler{}.Bundle(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "kodegen_0.1.1_amd64.deb", filepath.Base(paths[0]))

	order, members := readArMembers(t, paths[0])
	assert.Equal(t, []string{"debian-binary", "control.tar.gz", "data.tar.gz"}, order)
	assert.Equal(t, []byte("2.0\n"), members["debian-binary"])
}

func TestDebControlFile(t *testing.T) {
	s := testSettings(t)
	paths, err := DebBundler{}.Bundle(context.Background(), s)
	require.NoError(t, err)

	_, members := readArMembers(t, paths[0])
	control := extractTarGz(t, members["control.tar.gz"])
	text := string(control["./control"])

	assert.Contains(t, text, "Package: kodegen\n")
	assert.Contains(t, text, "Version: 0.1.1\n")
	assert.Contains(t, text, "Architecture: amd64\n")
	assert.Contains(t, text, "Depends: libc6 (>= 2.31), libgcc-s1\n")
	assert.Contains(t, text, "Section: utils\n")
	assert.Contains(t, text, "Priority: optional\n")
	// Description continuation: one space, lone dot for blank lines.
	assert.Contains(t, text, "Description: Code generation toolkit\n .\n Second paragraph.\n")

	assert.Contains(t, string(control["./md5sums"]), "usr/bin/kodegen")
}

func TestDebInstalledSize(t *testing.T) {
	s := testSettings(t)
	paths, err := DebBundler{}.Bundle(context.Background(), s)
	require.NoError(t, err)

	_, members := readArMembers(t, paths[0])
	control := extractTarGz(t, members["control.tar.gz"])
	data := extractTarGz(t, members["data.tar.gz"])

	var total int64
	for _, content := range data {
		total += int64(len(content))
	}
	assert.Contains(t, string(control["./control"]),
		"Installed-Size: "+itoa(total/1024)+"\n")
}

func TestDebDataTree(t *testing.T) {
	s := testSettings(t)
	paths, err := DebBundler{}.Bundle(context.Background(), s)
	require.NoError(t, err)

	_, members := readArMembers(t, paths[0])
	data := extractTarGz(t, members["data.tar.gz"])

	assert.Contains(t, data, "./usr/bin/kodegen")
	assert.Contains(t, data, "./usr/share/applications/kodegen.desktop")
	assert.Contains(t, data, "./usr/share/doc/kodegen/changelog.gz")
	assert.Contains(t, string(data["./usr/share/applications/kodegen.desktop"]), "Exec=kodegen")
}

func TestDebMaintainerScripts(t *testing.T) {
	s := testSettings(t)
	scriptDir := t.TempDir()
	postinst := filepath.Join(scriptDir, "postinst")
	require.NoError(t, os.WriteFile(postinst, []byte("#!/bin/sh\nexit 0\n"), 0o644))
	s.Deb.MaintainerScripts = map[string]string{"postinst": postinst}

	paths, err := DebBundler{}.Bundle(context.Background(), s)
	require.NoError(t, err)

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()
	r := ar.NewReader(f)
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if strings.TrimSpace(hdr.Name) != "control.tar.gz" {
			continue
		}
		data, err := io.ReadAll(r)
		require.NoError(t, err)

		gz, err := gzip.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		tr := tar.NewReader(gz)
		found := false
		for {
			th, err := tr.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			if th.Name == "./postinst" {
				found = true
				assert.Equal(t, int64(0o755), th.Mode, "maintainer scripts are executable")
			}
		}
		assert.True(t, found)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
