package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/cyrup-ai/kodegen-release/pkg/git"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
)

// ownerRepoPattern matches the shorthand "owner/repo" source notation.
var ownerRepoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Source is a resolved repository source.
type Source struct {
	// Local is set when the source is a filesystem path.
	Local string

	// CloneURL is set when the source must be cloned.
	CloneURL string

	// Owner and Repo are the remote coordinates when derivable.
	Owner string
	Repo  string
}

// ParseSource classifies the positional repository argument: a local path,
// owner/repo notation, or a full HTTPS URL.
func ParseSource(arg string) (*Source, error) {
	if arg == "" {
		return nil, fmt.Errorf("repository source is empty")
	}

	if strings.HasPrefix(arg, "https://") {
		owner, repo := coordsFromURL(arg)
		return &Source{CloneURL: arg, Owner: owner, Repo: repo}, nil
	}

	if fi, err := os.Stat(arg); err == nil && fi.IsDir() {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		return &Source{Local: abs}, nil
	}

	if ownerRepoPattern.MatchString(arg) {
		parts := strings.SplitN(arg, "/", 2)
		return &Source{
			CloneURL: fmt.Sprintf("https://github.com/%s/%s.git", parts[0], parts[1]),
			Owner:    parts[0],
			Repo:     parts[1],
		}, nil
	}

	return nil, fmt.Errorf("repository source %q is neither a directory, owner/repo, nor an https URL", arg)
}

func coordsFromURL(url string) (owner, repo string) {
	trimmed := strings.TrimPrefix(url, "https://")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 3 {
		return parts[1], parts[2]
	}
	return "", ""
}

// Workspace is the isolated working tree a release runs in.
type Workspace struct {
	// Root is the working tree directory.
	Root string

	// temp is true when Root was created by Acquire and may be removed.
	temp bool
}

// Acquire produces the isolated working tree: a local source is used in
// place, a remote one is single-branch cloned into a unique temp directory.
func Acquire(ctx context.Context, src *Source) (*Workspace, error) {
	logger := log.WithComponent("workspace")

	if src.Local != "" {
		logger.Debug().Str("root", src.Local).Msg("using local working tree")
		return &Workspace{Root: src.Local}, nil
	}

	dir := filepath.Join(os.TempDir(), "kodegen-release-"+uuid.NewString()[:8])
	logger.Info().Str("url", src.CloneURL).Str("dir", dir).Msg("cloning repository")
	if _, err := git.Clone(ctx, src.CloneURL, dir, true); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &Workspace{Root: dir, temp: true}, nil
}

// TargetDir returns the artifact output directory inside the workspace,
// creating it if needed.
func (w *Workspace) TargetDir() (string, error) {
	dir := filepath.Join(w.Root, "target", "release-artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating target dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes a temp working tree; local trees are left alone.
func (w *Workspace) Cleanup() error {
	if !w.temp {
		return nil
	}
	return os.RemoveAll(w.Root)
}

// IsTemp reports whether the workspace was cloned into a temp directory.
func (w *Workspace) IsTemp() bool {
	return w.temp
}
