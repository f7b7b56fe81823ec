package release

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
	"github.com/cyrup-ai/kodegen-release/pkg/version"
)

// RunRollback loads the saved record for a working tree and executes the
// rollback composition against it. Used by the manual rollback command.
func RunRollback(ctx context.Context, workingTree string, opts Options, deps Deps) error {
	rec, err := deps.Store.Load()
	if err != nil {
		return fmt.Errorf("loading release state: %w", err)
	}

	o := New(workingTree, opts, deps)
	o.rec = rec
	o.preBranch = preBranchFromRecord(rec)
	o.rollback(ctx)
	return nil
}

// preBranchFromRecord recovers the original branch from the validation
// checkpoint.
func preBranchFromRecord(rec *types.ReleaseRecord) string {
	for _, cp := range rec.Checkpoints {
		if cp.Name != "validated" || cp.Data == nil {
			continue
		}
		var payload map[string]string
		if err := json.Unmarshal(cp.Data, &payload); err == nil {
			return payload["pre_release_branch"]
		}
	}
	return ""
}

// rollback executes the compensating actions in reverse-chronological order
// against a snapshot of the record taken at the moment of failure. Each step
// runs under the cleanup budget and degrades to a warning when exhausted;
// later steps still execute.
func (o *Orchestrator) rollback(ctx context.Context) {
	logger := log.WithComponent("rollback")
	snapshot := *o.rec
	tag := version.TagName(snapshot.TargetVersion)
	budget := o.deps.Budgets.For(retry.ClassCleanup)

	step := func(name string, fn func(ctx context.Context) error) {
		if err := retry.Do(ctx, budget, name, fn); err != nil {
			o.warnings++
			msg := logger.Warn().Err(err).Str("step", name)
			if snapshot.HostState != nil && snapshot.HostState.URL != "" {
				msg = msg.Str("manual_remediation", snapshot.HostState.URL)
			}
			msg.Msg("rollback step failed; manual cleanup may be needed")
		}
	}

	// 1. Delete the remote release while it is still a draft.
	if snapshot.HostState != nil && snapshot.HostState.ReleaseID != 0 &&
		snapshot.HostState.Draft && o.deps.Host != nil {
		step("delete draft release", func(ctx context.Context) error {
			return o.deps.Host.DeleteRelease(ctx, snapshot.HostState.ReleaseID)
		})
	}

	// 2. Delete the remote tag if it was pushed.
	if !o.opts.NoPush && snapshot.HasCheckpoint("pushed") {
		step("delete remote tag", func(ctx context.Context) error {
			exists, err := o.deps.Git.RemoteTagExists(ctx, o.opts.Remote, tag)
			if err != nil || !exists {
				return err
			}
			return o.deps.Git.DeleteRemoteTag(ctx, o.opts.Remote, tag)
		})
	}

	// 3. Delete the release branch, local and remote.
	if snapshot.HasCheckpoint("release_branch_created") {
		step("delete local release branch", func(ctx context.Context) error {
			current, err := o.deps.Git.CurrentBranch(ctx)
			if err != nil {
				return err
			}
			if current == tag && o.preBranch != "" {
				if err := o.deps.Git.Checkout(ctx, o.preBranch); err != nil {
					return err
				}
			}
			exists, err := o.deps.Git.BranchExists(ctx, tag)
			if err != nil || !exists {
				return err
			}
			return o.deps.Git.DeleteBranch(ctx, tag)
		})
		if !o.opts.NoPush && snapshot.HasCheckpoint("pushed") {
			step("delete remote release branch", func(ctx context.Context) error {
				exists, err := o.deps.Git.RemoteBranchExists(ctx, o.opts.Remote, tag)
				if err != nil || !exists {
					return err
				}
				return o.deps.Git.DeleteRemoteBranch(ctx, o.opts.Remote, tag)
			})
		}
	}

	// 4. Delete the local tag.
	if snapshot.HasCheckpoint("tag_created") {
		step("delete local tag", func(ctx context.Context) error {
			exists, err := o.deps.Git.TagExists(ctx, tag)
			if err != nil || !exists {
				return err
			}
			return o.deps.Git.DeleteTag(ctx, tag)
		})
	}

	// 5. Return to the pre-release branch. Checkout only, never a reset.
	if o.preBranch != "" {
		step("restore pre-release branch", func(ctx context.Context) error {
			current, err := o.deps.Git.CurrentBranch(ctx)
			if err != nil || current == o.preBranch {
				return err
			}
			return o.deps.Git.Checkout(ctx, o.preBranch)
		})
	}

	o.rec.CurrentPhase = types.PhaseRolledBack
	if err := o.deps.Store.Cleanup(); err != nil {
		logger.Warn().Err(err).Msg("could not remove state file after rollback")
	}
	logger.Info().Str("version", snapshot.TargetVersion).Msg("rollback complete")
}
