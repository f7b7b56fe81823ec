package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// cleanStaging removes any prior staging directory of the same name and
// recreates it empty.
func cleanStaging(parent, name string) (string, error) {
	dir := filepath.Join(parent, name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("removing prior staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	return dir, nil
}

// copyFile copies src to dst with the given mode, creating parent dirs.
func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

// copyBinary copies an executable into place with mode 0755.
func copyBinary(src, dst string) error {
	return copyFile(src, dst, 0o755)
}

// copyTree copies a directory recursively, preserving executable bits.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

// FileChecksum returns the hex SHA-256 of one file.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TreeChecksum hashes a directory as the sorted sequence of
// (relative path, content) pairs, so the result is stable across platforms
// and walk orders.
func TreeChecksum(root string) (string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}

	rels := make([]string, len(files))
	byRel := make(map[string]string, len(files))
	for i, p := range files {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return "", err
		}
		rel = filepath.ToSlash(rel)
		rels[i] = rel
		byRel[rel] = p
	}
	sort.Strings(rels)

	h := sha256.New()
	for _, rel := range rels {
		h.Write([]byte(rel))
		h.Write([]byte{0})
		f, err := os.Open(byRel[rel])
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// describeArtifact builds the BundledArtifact for the produced paths,
// checking the each-file-nonempty invariant.
func describeArtifact(pkgType types.PackageType, paths []string) (*types.BundledArtifact, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s bundler returned no artifact paths", pkgType)
	}

	var total int64
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stating artifact %s: %w", p, err)
		}
		if fi.IsDir() {
			size, err := treeSize(p)
			if err != nil {
				return nil, err
			}
			if size == 0 {
				return nil, fmt.Errorf("artifact directory %s is empty", p)
			}
			total += size
			continue
		}
		if fi.Size() == 0 {
			return nil, fmt.Errorf("artifact %s is empty", p)
		}
		total += fi.Size()
	}

	var checksum string
	var err error
	fi, statErr := os.Stat(paths[0])
	if statErr != nil {
		return nil, statErr
	}
	if fi.IsDir() {
		checksum, err = TreeChecksum(paths[0])
	} else {
		checksum, err = FileChecksum(paths[0])
	}
	if err != nil {
		return nil, err
	}

	return &types.BundledArtifact{
		PackageType: pkgType,
		Paths:       paths,
		TotalSize:   total,
		Checksum:    checksum,
	}, nil
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
