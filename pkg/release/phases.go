package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyrup-ai/kodegen-release/pkg/github"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/metadata"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
	"github.com/cyrup-ai/kodegen-release/pkg/upload"
	"github.com/cyrup-ai/kodegen-release/pkg/version"
)

// phaseStep pairs a phase with its action. Actions are idempotent: a phase
// that finds its side effect already applied returns nil without repeating
// it.
type phaseStep struct {
	phase types.Phase
	run   func(ctx context.Context) error
}

// runPhases executes every phase at or after the record's current phase, in
// strict order, checkpointing between them.
func (o *Orchestrator) runPhases(ctx context.Context) error {
	steps := []phaseStep{
		{types.PhaseValidation, o.phaseValidation},
		{types.PhaseCleanupConflicts, o.phaseCleanupConflicts},
		{types.PhaseVersionBump, o.phaseVersionBump},
		{types.PhaseCreateDraftRelease, o.phaseCreateDraftRelease},
		{types.PhaseBuild, o.phaseBuild},
		{types.PhaseBundle, o.phaseBundle},
		{types.PhaseUpload, o.phaseUpload},
		{types.PhasePublishRelease, o.phasePublishRelease},
	}

	for _, step := range steps {
		if o.rec.CurrentPhase > step.phase {
			continue
		}
		if o.rec.CurrentPhase < step.phase {
			if err := o.advance(step.phase); err != nil {
				return err
			}
		}
		logger := log.WithPhase(step.phase.String())
		logger.Info().Msg("phase starting")
		if err := step.run(ctx); err != nil {
			return err
		}
		logger.Info().Msg("phase complete")
	}
	return o.advance(types.PhaseCompleted)
}

func (o *Orchestrator) phaseValidation(ctx context.Context) error {
	if !o.opts.Bump.Valid() {
		return retry.MarkFatal(fmt.Errorf("invalid bump kind %q", o.opts.Bump))
	}
	if err := version.Validate(o.rec.TargetVersion); err != nil {
		return retry.MarkFatal(err)
	}
	if !o.opts.NoPush && o.deps.Host == nil {
		return retry.MarkFatal(fmt.Errorf("release-host client missing; set GH_TOKEN or GITHUB_TOKEN, or pass --no-push"))
	}

	clean, err := o.deps.Git.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean && !o.rec.HasCheckpoint("validated") {
		return retry.MarkFatal(fmt.Errorf("working tree has uncommitted changes"))
	}

	branch, err := o.deps.Git.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	o.preBranch = branch

	if !o.rec.HasCheckpoint("validated") {
		data, _ := json.Marshal(map[string]string{"pre_release_branch": branch})
		o.rec.AddCheckpoint("validated", data)
		return o.saveRecord()
	}
	// Resume: recover the original branch from the checkpoint.
	for _, cp := range o.rec.Checkpoints {
		if cp.Name != "validated" || cp.Data == nil {
			continue
		}
		var payload map[string]string
		if err := json.Unmarshal(cp.Data, &payload); err == nil {
			if prior := payload["pre_release_branch"]; prior != "" {
				o.preBranch = prior
			}
		}
	}
	return nil
}

func (o *Orchestrator) phaseCleanupConflicts(ctx context.Context) error {
	warnings := o.newConflictCleaner().Clean(ctx, o.rec.TargetVersion)
	o.warnings += warnings
	if !o.rec.HasCheckpoint("conflicts_cleaned") {
		o.rec.AddCheckpoint("conflicts_cleaned", nil)
		return o.saveRecord()
	}
	return nil
}

func (o *Orchestrator) phaseVersionBump(ctx context.Context) error {
	tag := version.TagName(o.rec.TargetVersion)

	// Noop when the manifest already carries the target version.
	pkg, err := metadata.Read(o.workingTree)
	if err != nil {
		return retry.MarkFatal(err)
	}
	if pkg.Version != o.rec.TargetVersion {
		bumped, err := o.deps.Bumper.Bump(ctx, o.opts.Bump)
		if err != nil {
			return retry.MarkFatal(err)
		}
		if bumped != o.rec.TargetVersion {
			return retry.MarkFatal(fmt.Errorf(
				"bump produced %s but the release record targets %s", bumped, o.rec.TargetVersion))
		}
		o.rec.AddCheckpoint("version_bumped", nil)
		if err := o.saveRecord(); err != nil {
			return err
		}
	}

	if !o.rec.HasCheckpoint("release_branch_created") {
		if err := retry.Do(ctx, o.deps.Budgets.For(retry.ClassGit), "create release branch",
			func(ctx context.Context) error {
				return o.deps.Git.CreateBranch(ctx, tag)
			}); err != nil {
			return err
		}
		o.rec.AddCheckpoint("release_branch_created", nil)
		if err := o.saveRecord(); err != nil {
			return err
		}
	}

	if !o.rec.HasCheckpoint("version_committed") {
		commitMsg := fmt.Sprintf("chore: release %s", o.rec.TargetVersion)
		if err := retry.Do(ctx, o.deps.Budgets.For(retry.ClassGit), "commit version bump",
			func(ctx context.Context) error {
				return o.deps.Git.Commit(ctx, commitMsg, metadata.ManifestName, metadata.LockfileName)
			}); err != nil {
			return err
		}
		o.rec.AddCheckpoint("version_committed", nil)
		if err := o.saveRecord(); err != nil {
			return err
		}
	}

	if exists, err := o.deps.Git.TagExists(ctx, tag); err != nil {
		return err
	} else if !exists {
		if err := retry.Do(ctx, o.deps.Budgets.For(retry.ClassGit), "create tag",
			func(ctx context.Context) error {
				return o.deps.Git.CreateTag(ctx, tag, fmt.Sprintf("Release %s", o.rec.TargetVersion))
			}); err != nil {
			return err
		}
		o.rec.AddCheckpoint("tag_created", nil)
		if err := o.saveRecord(); err != nil {
			return err
		}
	}

	if !o.opts.NoPush && !o.rec.HasCheckpoint("pushed") {
		if err := retry.Do(ctx, o.deps.Budgets.For(retry.ClassGit), "push release branch",
			func(ctx context.Context) error {
				return o.deps.Git.Push(ctx, o.opts.Remote, tag, true)
			}); err != nil {
			return err
		}
		o.rec.AddCheckpoint("pushed", nil)
		return o.saveRecord()
	}
	return nil
}

func (o *Orchestrator) phaseCreateDraftRelease(ctx context.Context) error {
	if o.opts.NoPush || o.deps.Host == nil {
		log.WithPhase("CreateDraftRelease").Info().Msg("pushes disabled, skipping remote release")
		return nil
	}
	if o.rec.HostState != nil && o.rec.HostState.ReleaseID != 0 {
		return nil
	}

	tag := version.TagName(o.rec.TargetVersion)
	var rel *github.Release
	err := retry.Do(ctx, o.deps.Budgets.For(retry.ClassGitHub), "create draft release",
		func(ctx context.Context) error {
			existing, err := o.deps.Host.GetReleaseByTag(ctx, tag)
			if err == nil {
				if !existing.Draft {
					return retry.MarkFatal(fmt.Errorf(
						"version %s is already released (%s)", o.rec.TargetVersion, existing.URL))
				}
				rel = existing
				return nil
			}
			if !errors.Is(err, github.ErrReleaseNotFound) {
				return err
			}

			created, err := o.deps.Host.CreateDraftRelease(ctx, tag,
				fmt.Sprintf("%s %s", o.meta.Name, o.rec.TargetVersion), "")
			if err != nil {
				if errors.Is(err, github.ErrAlreadyExists) {
					// A racing leftover appeared; the cleaner owns conflicts.
					o.newConflictCleaner().Clean(ctx, o.rec.TargetVersion)
					return retry.MarkTransient(err)
				}
				return err
			}
			rel = created
			return nil
		})
	if err != nil {
		return o.hostError(err)
	}
	if rel == nil {
		// Only reachable when a host error was downgraded to a warning.
		return nil
	}

	o.rec.HostState = &types.HostState{
		Owner:          o.opts.Owner,
		Repo:           o.opts.Repo,
		ReleaseID:      rel.ID,
		URL:            rel.URL,
		Draft:          rel.Draft,
		UploadedAssets: []string{},
	}
	o.rec.AddCheckpoint("draft_release_created", nil)
	return o.saveRecord()
}

func (o *Orchestrator) phaseBuild(ctx context.Context) error {
	if o.rec.HasCheckpoint("built") {
		return nil
	}
	if err := o.deps.Builder.Build(ctx, o.workingTree); err != nil {
		return retry.MarkFatal(err)
	}
	o.rec.AddCheckpoint("built", nil)
	return o.saveRecord()
}

// bundleCheckpoint is the per-type checkpoint payload: the artifact paths.
type bundleCheckpoint struct {
	Paths []string `json:"paths"`
}

func (o *Orchestrator) phaseBundle(ctx context.Context) error {
	settings, err := o.bundleSettings()
	if err != nil {
		return err
	}

	for _, pkgType := range o.opts.PackageTypes {
		cpName := "bundle_" + string(pkgType)
		if o.rec.HasCheckpoint(cpName) {
			continue
		}
		logger := log.WithPlatform(string(pkgType))

		var paths []string
		if pkgType.NativeOnHost() || pkgType.NativeOnly() {
			artifact, err := o.deps.Registry.Run(ctx, pkgType, settings)
			if err != nil {
				return err
			}
			paths = artifact.Paths
			logger.Info().Str("checksum", artifact.Checksum).
				Int64("size", artifact.TotalSize).Msg("bundled")
		} else {
			if o.deps.Container == nil {
				return retry.MarkFatal(fmt.Errorf(
					"package type %q needs a container runtime on this host", pkgType))
			}
			paths, err = o.deps.Container.Bundle(ctx, pkgType)
			if err != nil {
				return err
			}
		}

		data, _ := json.Marshal(bundleCheckpoint{Paths: paths})
		o.rec.AddCheckpoint(cpName, data)
		if err := o.saveRecord(); err != nil {
			return err
		}
	}
	return nil
}

// bundledPaths collects every artifact path recorded by the bundle phase.
func (o *Orchestrator) bundledPaths() []string {
	var paths []string
	for _, cp := range o.rec.Checkpoints {
		if cp.Phase != types.PhaseBundle || cp.Data == nil {
			continue
		}
		var payload bundleCheckpoint
		if err := json.Unmarshal(cp.Data, &payload); err == nil {
			paths = append(paths, payload.Paths...)
		}
	}
	return paths
}

// recordSink persists uploaded asset names onto the release record.
type recordSink struct {
	o *Orchestrator
}

func (s recordSink) MarkUploaded(name string) error {
	if s.o.rec.HostState == nil {
		return nil
	}
	for _, existing := range s.o.rec.HostState.UploadedAssets {
		if existing == name {
			return nil
		}
	}
	s.o.rec.HostState.UploadedAssets = append(s.o.rec.HostState.UploadedAssets, name)
	return s.o.saveRecord()
}

func (o *Orchestrator) phaseUpload(ctx context.Context) error {
	if o.opts.NoPush || o.deps.Host == nil || o.rec.HostState == nil {
		log.WithPhase("Upload").Info().Msg("pushes disabled, skipping upload")
		return nil
	}

	uploader := upload.New(o.deps.Host, o.deps.Budgets, recordSink{o}, types.HostArch())
	_, err := uploader.Upload(ctx, o.rec.HostState.ReleaseID, o.bundledPaths())
	if err != nil {
		return o.hostError(err)
	}
	return nil
}

func (o *Orchestrator) phasePublishRelease(ctx context.Context) error {
	if o.opts.NoPush || o.deps.Host == nil || o.rec.HostState == nil {
		log.WithPhase("PublishRelease").Info().Msg("pushes disabled, skipping publish")
		return nil
	}
	if !o.rec.HostState.Draft && o.rec.HasCheckpoint("published") {
		return nil
	}

	err := retry.Do(ctx, o.deps.Budgets.For(retry.ClassPublish), "publish release",
		func(ctx context.Context) error {
			rel, err := o.deps.Host.PublishRelease(ctx, o.rec.HostState.ReleaseID)
			if err != nil {
				return err
			}
			o.rec.HostState.Draft = rel.Draft
			o.rec.HostState.URL = rel.URL
			return nil
		})
	if err != nil {
		return o.hostError(err)
	}

	o.rec.AddCheckpoint("published", nil)
	return o.saveRecord()
}

