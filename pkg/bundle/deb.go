package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blakesmith/ar"

	"github.com/cyrup-ai/kodegen-release/pkg/icon"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// tarEpoch is the fixed timestamp for deterministic archive headers.
var tarEpoch = time.Unix(0, 0)

// DebBundler produces a Debian package without dpkg: a BSD ar archive of
// debian-binary, control.tar.gz and data.tar.gz, in that order.
type DebBundler struct{}

func (DebBundler) PackageType() types.PackageType { return types.PackageDeb }

func (DebBundler) Bundle(ctx context.Context, s *Settings) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithPlatform("deb")

	staging, err := cleanStaging(s.OutDir, s.PackageName+"_deb")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	dataRoot := filepath.Join(staging, "data")
	if err := stageDebData(s, dataRoot); err != nil {
		return nil, err
	}

	installedSize, err := treeSize(dataRoot)
	if err != nil {
		return nil, err
	}

	dataTar, err := deterministicTarGz(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("building data.tar.gz: %w", err)
	}
	md5sums, err := dataMd5sums(dataRoot)
	if err != nil {
		return nil, err
	}
	controlTar, err := buildControlTarGz(s, installedSize/1024, md5sums)
	if err != nil {
		return nil, fmt.Errorf("building control.tar.gz: %w", err)
	}

	debName := fmt.Sprintf("%s_%s_%s.deb", s.PackageName, s.Version, debArch(string(s.Arch)))
	debPath := filepath.Join(s.OutDir, debName)
	if err := writeDebArchive(debPath, controlTar, dataTar); err != nil {
		return nil, err
	}

	logger.Info().Str("artifact", debPath).Int64("installed_size_kib", installedSize/1024).
		Msg("built debian package")
	return []string{debPath}, nil
}

// stageDebData lays out the rooted file tree installed by the package.
func stageDebData(s *Settings, root string) error {
	var staged []string
	for _, bin := range s.Binaries() {
		dst := filepath.Join(root, "usr", "bin", filepath.Base(bin))
		if err := copyBinary(bin, dst); err != nil {
			return err
		}
		staged = append(staged, dst)
	}
	if err := patchStagedBinaries(staged, types.PackageDeb); err != nil {
		return err
	}

	desktopPath := filepath.Join(root, "usr", "share", "applications", s.PackageName+".desktop")
	if err := os.MkdirAll(filepath.Dir(desktopPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(desktopPath, []byte(desktopEntry(s)), 0o644); err != nil {
		return err
	}

	if len(s.Icons) > 0 {
		icons, err := icon.Load(s.Icons)
		if err != nil {
			return err
		}
		if _, err := icon.WriteFreedesktopTree(icons, root, s.PackageName); err != nil {
			return err
		}
	}

	return writeChangelog(s, filepath.Join(root, "usr", "share", "doc", s.PackageName, "changelog.gz"))
}

// writeChangelog emits the minimal gzipped Debian changelog.
func writeChangelog(s *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	entry := fmt.Sprintf("%s (%s) unstable; urgency=medium\n\n  * Release %s.\n\n -- %s  %s\n",
		s.PackageName, s.Version, s.Version, maintainer(s),
		time.Now().UTC().Format(time.RFC1123Z))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(entry)); err != nil {
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func maintainer(s *Settings) string {
	if s.Publisher != "" {
		return s.Publisher
	}
	return s.PackageName + " maintainers"
}

// controlFile renders the Debian control syntax: one continuation space,
// and a lone dot for blank description lines.
func controlFile(s *Settings, installedSizeKiB int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s\n", s.PackageName)
	fmt.Fprintf(&b, "Version: %s\n", s.Version)
	fmt.Fprintf(&b, "Architecture: %s\n", debArch(string(s.Arch)))
	fmt.Fprintf(&b, "Maintainer: %s\n", maintainer(s))
	fmt.Fprintf(&b, "Installed-Size: %d\n", installedSizeKiB)
	if len(s.Deb.Depends) > 0 {
		fmt.Fprintf(&b, "Depends: %s\n", strings.Join(s.Deb.Depends, ", "))
	}
	section := s.Deb.Section
	if section == "" {
		section = "utils"
	}
	fmt.Fprintf(&b, "Section: %s\n", section)
	priority := s.Deb.Priority
	if priority == "" {
		priority = "optional"
	}
	fmt.Fprintf(&b, "Priority: %s\n", priority)
	if s.Homepage != "" {
		fmt.Fprintf(&b, "Homepage: %s\n", s.Homepage)
	}

	desc := s.Description
	if desc == "" {
		desc = s.DisplayName()
	}
	lines := strings.Split(desc, "\n")
	fmt.Fprintf(&b, "Description: %s\n", lines[0])
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			b.WriteString(" .\n")
		} else {
			fmt.Fprintf(&b, " %s\n", line)
		}
	}
	return b.String()
}

// dataMd5sums renders the md5sums member: one "<hex>  <relpath>" line per
// file, sorted by path.
func dataMd5sums(root string) (string, error) {
	var rels []string
	sums := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
		sums[rel] = fmt.Sprintf("%x", h.Sum(nil))
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(rels)

	var b strings.Builder
	for _, rel := range rels {
		fmt.Fprintf(&b, "%s  %s\n", sums[rel], rel)
	}
	return b.String(), nil
}

// buildControlTarGz assembles control, md5sums and maintainer scripts.
func buildControlTarGz(s *Settings, installedSizeKiB int64, md5sums string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	writeEntry := func(name string, mode int64, content []byte) error {
		hdr := &tar.Header{
			Name:    "./" + name,
			Mode:    mode,
			Size:    int64(len(content)),
			ModTime: tarEpoch,
			Uid:     0,
			Gid:     0,
			Uname:   "root",
			Gname:   "root",
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(content)
		return err
	}

	if err := writeEntry("control", 0o644, []byte(controlFile(s, installedSizeKiB))); err != nil {
		return nil, err
	}
	if err := writeEntry("md5sums", 0o644, []byte(md5sums)); err != nil {
		return nil, err
	}

	// Maintainer scripts in stable order, executable.
	var names []string
	for name := range s.Deb.MaintainerScripts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := os.ReadFile(s.Deb.MaintainerScripts[name])
		if err != nil {
			return nil, fmt.Errorf("reading maintainer script %s: %w", name, err)
		}
		if err := writeEntry(name, 0o755, content); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deterministicTarGz tars a directory with fixed timestamps, root ownership
// and sorted entries.
func deterministicTarGz(root string) ([]byte, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path != root {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, path := range paths {
		info, err := os.Lstat(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)

		hdr := &tar.Header{
			Name:    "./" + rel,
			ModTime: tarEpoch,
			Uid:     0,
			Gid:     0,
			Uname:   "root",
			Gname:   "root",
		}
		switch {
		case info.IsDir():
			hdr.Name += "/"
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return nil, err
			}
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = link
			hdr.Mode = 0o777
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = info.Size()
			if info.Mode().Perm()&0o111 != 0 {
				hdr.Mode = 0o755
			} else {
				hdr.Mode = 0o644
			}
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return nil, err
			}
			f.Close()
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeDebArchive emits the outer ar archive with the fixed member order.
func writeDebArchive(path string, controlTar, dataTar []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	w := ar.NewWriter(f)
	if err := w.WriteGlobalHeader(); err != nil {
		f.Close()
		return err
	}

	members := []struct {
		name string
		data []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar.gz", controlTar},
		{"data.tar.gz", dataTar},
	}
	for _, m := range members {
		hdr := &ar.Header{
			Name:    m.name,
			ModTime: tarEpoch,
			Uid:     0,
			Gid:     0,
			Mode:    0o644,
			Size:    int64(len(m.data)),
		}
		if err := w.WriteHeader(hdr); err != nil {
			f.Close()
			return fmt.Errorf("writing ar member %s: %w", m.name, err)
		}
		if _, err := w.Write(m.data); err != nil {
			f.Close()
			return fmt.Errorf("writing ar member %s: %w", m.name, err)
		}
	}
	return f.Close()
}
