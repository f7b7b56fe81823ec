package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Client is the git contract the release pipeline depends on. The default
// implementation shells out to the git binary; tests substitute fakes.
type Client interface {
	CurrentBranch(ctx context.Context) (string, error)
	IsClean(ctx context.Context) (bool, error)
	Checkout(ctx context.Context, rev string) error
	CreateBranch(ctx context.Context, name string) error
	DeleteBranch(ctx context.Context, name string) error
	DeleteRemoteBranch(ctx context.Context, remote, name string) error
	BranchExists(ctx context.Context, name string) (bool, error)
	RemoteBranchExists(ctx context.Context, remote, name string) (bool, error)
	CreateTag(ctx context.Context, name, message string) error
	DeleteTag(ctx context.Context, name string) error
	DeleteRemoteTag(ctx context.Context, remote, name string) error
	TagExists(ctx context.Context, name string) (bool, error)
	RemoteTagExists(ctx context.Context, remote, name string) (bool, error)
	Commit(ctx context.Context, message string, paths ...string) error
	Push(ctx context.Context, remote, ref string, withTags bool) error
	Remotes(ctx context.Context) ([]string, error)
	Merge(ctx context.Context, rev string) error
	AbortMerge(ctx context.Context) error
}

// CLI runs git against one repository directory.
type CLI struct {
	dir string
}

// New creates a CLI client for the repository at dir.
func New(dir string) *CLI {
	return &CLI{dir: dir}
}

// Clone clones a repository. With singleBranch set, only the default branch
// history is fetched.
func Clone(ctx context.Context, url, dest string, singleBranch bool) (*CLI, error) {
	args := []string{"clone"}
	if singleBranch {
		args = append(args, "--single-branch")
	}
	args = append(args, url, dest)
	if _, err := runGit(ctx, "", args...); err != nil {
		return nil, fmt.Errorf("cloning %s: %w", url, err)
	}
	return New(dest), nil
}

func (c *CLI) run(ctx context.Context, args ...string) (string, error) {
	return runGit(ctx, c.dir, args...)
}

// runGit executes git with a minimal, deterministic environment.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "LANG=C", "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err,
			strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *CLI) CurrentBranch(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *CLI) IsClean(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

func (c *CLI) Checkout(ctx context.Context, rev string) error {
	_, err := c.run(ctx, "checkout", rev)
	return err
}

func (c *CLI) CreateBranch(ctx context.Context, name string) error {
	_, err := c.run(ctx, "checkout", "-b", name)
	return err
}

func (c *CLI) DeleteBranch(ctx context.Context, name string) error {
	_, err := c.run(ctx, "branch", "-D", name)
	return err
}

func (c *CLI) DeleteRemoteBranch(ctx context.Context, remote, name string) error {
	_, err := c.run(ctx, "push", remote, "--delete", name)
	return err
}

func (c *CLI) BranchExists(ctx context.Context, name string) (bool, error) {
	out, err := c.run(ctx, "branch", "--list", name)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *CLI) RemoteBranchExists(ctx context.Context, remote, name string) (bool, error) {
	out, err := c.run(ctx, "ls-remote", "--heads", remote, name)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *CLI) CreateTag(ctx context.Context, name, message string) error {
	_, err := c.run(ctx, "tag", "-a", name, "-m", message)
	return err
}

func (c *CLI) DeleteTag(ctx context.Context, name string) error {
	_, err := c.run(ctx, "tag", "-d", name)
	return err
}

func (c *CLI) DeleteRemoteTag(ctx context.Context, remote, name string) error {
	_, err := c.run(ctx, "push", remote, "--delete", "refs/tags/"+name)
	return err
}

func (c *CLI) TagExists(ctx context.Context, name string) (bool, error) {
	out, err := c.run(ctx, "tag", "--list", name)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *CLI) RemoteTagExists(ctx context.Context, remote, name string) (bool, error) {
	out, err := c.run(ctx, "ls-remote", "--tags", remote, "refs/tags/"+name)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *CLI) Commit(ctx context.Context, message string, paths ...string) error {
	if len(paths) > 0 {
		addArgs := append([]string{"add", "--"}, paths...)
		if _, err := c.run(ctx, addArgs...); err != nil {
			return err
		}
	} else {
		if _, err := c.run(ctx, "add", "-A"); err != nil {
			return err
		}
	}
	_, err := c.run(ctx, "commit", "-m", message)
	return err
}

func (c *CLI) Push(ctx context.Context, remote, ref string, withTags bool) error {
	args := []string{"push", remote, ref}
	if withTags {
		args = append(args, "--tags")
	}
	_, err := c.run(ctx, args...)
	return err
}

func (c *CLI) Remotes(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "remote")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (c *CLI) Merge(ctx context.Context, rev string) error {
	_, err := c.run(ctx, "merge", "--no-ff", rev)
	return err
}

func (c *CLI) AbortMerge(ctx context.Context) error {
	_, err := c.run(ctx, "merge", "--abort")
	return err
}
