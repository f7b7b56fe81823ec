package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyrup-ai/kodegen-release/pkg/git"
	"github.com/cyrup-ai/kodegen-release/pkg/github"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
)

// Cleaner removes remote and local leftovers that would collide with the
// target version: tags, branches, and a stale draft release. Typically these
// are debris from a previous crashed run.
type Cleaner struct {
	git     git.Client
	host    github.Client
	remote  string
	budgets retry.Budgets
	noPush  bool
}

// New creates a cleaner. host may be nil when remote access is disabled
// (--no-push); remote cleanup steps are then skipped.
func New(gitClient git.Client, host github.Client, remote string, budgets retry.Budgets, noPush bool) *Cleaner {
	return &Cleaner{
		git:     gitClient,
		host:    host,
		remote:  remote,
		budgets: budgets,
		noPush:  noPush,
	}
}

// Clean removes every colliding object for version v (tag name v<v>). The
// five steps are independent; a step that exhausts its retries degrades to a
// warning and the remaining steps still run. The returned count is the
// number of warnings.
func (c *Cleaner) Clean(ctx context.Context, version string) int {
	tag := "v" + version
	logger := log.WithComponent("conflict")
	budget := c.budgets.For(retry.ClassCleanup)
	warnings := 0

	step := func(name string, fn func(ctx context.Context) error) {
		if err := retry.Do(ctx, budget, name, fn); err != nil {
			warnings++
			logger.Warn().Err(err).Str("step", name).Str("tag", tag).
				Msg("conflict cleanup step failed, continuing")
		}
	}

	step("delete local tag", func(ctx context.Context) error {
		return c.deleteLocalTag(ctx, tag)
	})
	if !c.noPush {
		step("delete remote tag", func(ctx context.Context) error {
			return c.deleteRemoteTag(ctx, tag)
		})
	}
	step("delete local branch", func(ctx context.Context) error {
		return c.deleteLocalBranch(ctx, tag)
	})
	if !c.noPush {
		step("delete remote branch", func(ctx context.Context) error {
			return c.deleteRemoteBranch(ctx, tag)
		})
		step("delete draft release", func(ctx context.Context) error {
			return c.deleteDraftRelease(ctx, tag)
		})
	}
	return warnings
}

func (c *Cleaner) deleteLocalTag(ctx context.Context, tag string) error {
	exists, err := c.git.TagExists(ctx, tag)
	if err != nil || !exists {
		return err
	}
	conflictLogger := log.WithComponent("conflict")
	conflictLogger.Info().Str("tag", tag).Msg("deleting stale local tag")
	return c.git.DeleteTag(ctx, tag)
}

func (c *Cleaner) deleteRemoteTag(ctx context.Context, tag string) error {
	exists, err := c.git.RemoteTagExists(ctx, c.remote, tag)
	if err != nil || !exists {
		return err
	}
	conflictLogger := log.WithComponent("conflict")
	conflictLogger.Info().Str("tag", tag).Msg("deleting stale remote tag")
	return c.git.DeleteRemoteTag(ctx, c.remote, tag)
}

// deleteLocalBranch removes the release branch, first checking out a
// different branch when the release branch is the current one.
func (c *Cleaner) deleteLocalBranch(ctx context.Context, branch string) error {
	exists, err := c.git.BranchExists(ctx, branch)
	if err != nil || !exists {
		return err
	}
	current, err := c.git.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current == branch {
		if err := c.checkoutAway(ctx, branch); err != nil {
			return err
		}
	}
	conflictLogger := log.WithComponent("conflict")
	conflictLogger.Info().Str("branch", branch).Msg("deleting stale local branch")
	return c.git.DeleteBranch(ctx, branch)
}

func (c *Cleaner) checkoutAway(ctx context.Context, avoid string) error {
	for _, candidate := range []string{"main", "master"} {
		if candidate == avoid {
			continue
		}
		exists, err := c.git.BranchExists(ctx, candidate)
		if err != nil {
			return err
		}
		if exists {
			return c.git.Checkout(ctx, candidate)
		}
	}
	return fmt.Errorf("cannot delete branch %s: no other branch to check out", avoid)
}

func (c *Cleaner) deleteRemoteBranch(ctx context.Context, branch string) error {
	exists, err := c.git.RemoteBranchExists(ctx, c.remote, branch)
	if err != nil || !exists {
		return err
	}
	conflictLogger := log.WithComponent("conflict")
	conflictLogger.Info().Str("branch", branch).Msg("deleting stale remote branch")
	return c.git.DeleteRemoteBranch(ctx, c.remote, branch)
}

// deleteDraftRelease removes a leftover draft for the tag. A published
// release for the same tag is not ours to delete; it surfaces later as a
// fatal "version already released".
func (c *Cleaner) deleteDraftRelease(ctx context.Context, tag string) error {
	if c.host == nil {
		return nil
	}
	rel, err := c.host.GetReleaseByTag(ctx, tag)
	if err != nil {
		if errors.Is(err, github.ErrReleaseNotFound) {
			return nil
		}
		return err
	}
	if !rel.Draft {
		return nil
	}
	conflictLogger := log.WithComponent("conflict")
	conflictLogger.Info().Str("tag", tag).Int64("release_id", rel.ID).
		Msg("deleting stale draft release")
	return c.host.DeleteRelease(ctx, rel.ID)
}
