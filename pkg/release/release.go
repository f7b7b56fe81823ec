package release

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cyrup-ai/kodegen-release/pkg/bundle"
	"github.com/cyrup-ai/kodegen-release/pkg/conflict"
	"github.com/cyrup-ai/kodegen-release/pkg/docker"
	"github.com/cyrup-ai/kodegen-release/pkg/git"
	"github.com/cyrup-ai/kodegen-release/pkg/github"
	"github.com/cyrup-ai/kodegen-release/pkg/inventory"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/metadata"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/state"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
	"github.com/cyrup-ai/kodegen-release/pkg/version"
)

// Exit codes: 0 full success, 1 success with warnings, >1 failure.
const (
	ExitSuccess      = 0
	ExitWithWarnings = 1
	ExitFailure      = 2
)

// Options are the user-chosen release parameters.
type Options struct {
	Bump                  types.BumpKind
	NoPush                bool
	RebuildImage          bool
	ContinueOnGitHubError bool
	Remote                string
	Owner                 string
	Repo                  string
	Limits                types.ContainerLimits
	PackageTypes          []types.PackageType
}

// BuildRunner compiles the package in release mode. The default shells out
// to the platform toolchain; tests substitute a stub.
type BuildRunner interface {
	Build(ctx context.Context, dir string) error
}

// CargoBuild is the production build runner.
type CargoBuild struct{}

func (CargoBuild) Build(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "cargo", "build", "--release")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cargo build: %w: %s", err, lastLines(string(out), 30))
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Deps are the orchestrator's collaborators, injectable for tests.
type Deps struct {
	Store     *state.Store
	Git       git.Client
	Host      github.Client // nil when pushes are disabled
	Bumper    *version.Bumper
	Builder   BuildRunner
	Registry  *bundle.Registry
	Container ContainerBundler // nil when every platform is native
	Inventory *inventory.Inventory
	Budgets   retry.Budgets
}

// ContainerBundler is the narrow containerized-build contract the
// orchestrator drives.
type ContainerBundler interface {
	Bundle(ctx context.Context, pkgType types.PackageType) ([]string, error)
}

// Orchestrator sequences the release phases against one working tree.
type Orchestrator struct {
	deps        Deps
	opts        Options
	workingTree string

	rec      *types.ReleaseRecord
	meta     *metadata.Package
	warnings int

	// preBranch is the branch checked out before the release started; the
	// rollback composition returns to it.
	preBranch string
}

// New creates an orchestrator for the given working tree.
func New(workingTree string, opts Options, deps Deps) *Orchestrator {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	return &Orchestrator{deps: deps, opts: opts, workingTree: workingTree}
}

// Run drives the release to a terminal state and returns the process exit
// code.
func (o *Orchestrator) Run(ctx context.Context) int {
	logger := log.WithComponent("orchestrator")

	if o.deps.Inventory != nil {
		if _, err := o.deps.Inventory.Sweep(); err != nil {
			logger.Warn().Err(err).Msg("inventory sweep failed")
		}
	}

	target, err := o.computeTargetVersion()
	if err != nil {
		logger.Error().Err(err).Msg("cannot determine target version")
		return ExitFailure
	}

	if err := o.loadOrCreateRecord(target); err != nil {
		logger.Error().Err(err).Msg("cannot initialize release record")
		return ExitFailure
	}
	logger.Info().Str("version", target).Str("phase", o.rec.CurrentPhase.String()).
		Str("release_id", o.rec.ReleaseID).Msg("release starting")

	if o.deps.Inventory != nil {
		if err := o.deps.Inventory.Register(o.workingTree, o.meta.Name, target); err != nil {
			logger.Warn().Err(err).Msg("could not register active-release entry")
		}
	}

	if err := o.runPhases(ctx); err != nil {
		o.rec.AddError(o.rec.CurrentPhase, err.Error(), retry.Recoverable(err))
		o.saveRecord()
		logger.Error().Err(err).Str("phase", o.rec.CurrentPhase.String()).
			Msg("release failed, rolling back")

		o.rollback(ctx)
		if o.deps.Inventory != nil {
			o.deps.Inventory.Clear()
		}
		fmt.Println(o.failureSummary(err))
		return ExitFailure
	}

	// Terminal success: purge the record and the inventory entry.
	o.rec.CurrentPhase = types.PhaseCompleted
	if err := o.deps.Store.Cleanup(); err != nil {
		logger.Warn().Err(err).Msg("could not remove state file")
		o.warnings++
	}
	if o.deps.Inventory != nil {
		if err := o.deps.Inventory.Clear(); err != nil {
			logger.Warn().Err(err).Msg("could not clear inventory entry")
			o.warnings++
		}
	}

	logger.Info().Str("version", target).Int("warnings", o.warnings).Msg("release complete")
	if o.warnings > 0 {
		return ExitWithWarnings
	}
	return ExitSuccess
}

// computeTargetVersion reads the manifest and applies the bump kind, or
// returns the manifest version unchanged when a resumable record already
// bumped it.
func (o *Orchestrator) computeTargetVersion() (string, error) {
	pkg, err := metadata.Read(o.workingTree)
	if err != nil {
		return "", retry.MarkFatal(err)
	}
	o.meta = pkg

	// A record whose target equals the current manifest version means the
	// bump already happened in a prior run; resume toward that target.
	if rec, err := o.deps.Store.Load(); err == nil && rec.TargetVersion == pkg.Version {
		return pkg.Version, nil
	}

	return version.Next(pkg.Version, o.opts.Bump)
}

// loadOrCreateRecord applies the resume rule: an existing record with a
// matching target version and accepted format resumes; anything else is
// discarded and a fresh record starts at Validation.
func (o *Orchestrator) loadOrCreateRecord(target string) error {
	logger := log.WithComponent("orchestrator")

	rec, err := o.deps.Store.Load()
	switch {
	case err == nil:
		if rec.TargetVersion == target && rec.Active() {
			logger.Info().Str("phase", rec.CurrentPhase.String()).
				Uint64("save_version", rec.SaveVersion).Msg("resuming prior release")
			o.rec = rec
			return nil
		}
		logger.Warn().Str("stale_target", rec.TargetVersion).Str("target", target).
			Msg("discarding stale release record")
		if err := o.deps.Store.Cleanup(); err != nil {
			return err
		}
	case errors.Is(err, state.ErrNotFound):
	default:
		var fe *state.FormatError
		if errors.As(err, &fe) {
			logger.Warn().Int("got", fe.Got).Int("want", fe.Want).
				Msg("discarding release record with unsupported format")
			if err := o.deps.Store.Cleanup(); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	releaseID := fmt.Sprintf("%s-%d-%s", target, time.Now().UTC().Unix(), uuid.NewString()[:8])
	o.rec = types.NewReleaseRecord(target, o.opts.Bump, releaseID, types.ReleaseConfig{
		NoPush:                o.opts.NoPush,
		RebuildImage:          o.opts.RebuildImage,
		GitHubRepo:            o.opts.Owner + "/" + o.opts.Repo,
		ContinueOnGitHubError: o.opts.ContinueOnGitHubError,
	})
	return o.saveRecord()
}

func (o *Orchestrator) saveRecord() error {
	if err := o.deps.Store.Save(o.rec); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("saving release record")
		return err
	}
	return nil
}

// advance moves the record to the next phase and persists the transition.
func (o *Orchestrator) advance(next types.Phase) error {
	o.rec.CurrentPhase = next
	return o.saveRecord()
}

// hostError applies --continue-on-github-error: remote-host failures can be
// downgraded to warnings.
func (o *Orchestrator) hostError(err error) error {
	if err == nil {
		return nil
	}
	if o.opts.ContinueOnGitHubError {
		log.WithComponent("orchestrator").Warn().Err(err).
			Msg("continuing past release-host error")
		o.warnings++
		return nil
	}
	return err
}

func (o *Orchestrator) failureSummary(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "release failed in phase %s: %v\n", o.rec.CurrentPhase, err)
	b.WriteString("recovery suggestions:\n")
	b.WriteString("  - re-run the same command to resume from the last checkpoint\n")
	if o.rec.HostState != nil && o.rec.HostState.URL != "" {
		fmt.Fprintf(&b, "  - inspect the draft release at %s\n", o.rec.HostState.URL)
	}
	var oom *docker.OOMError
	if errors.As(err, &oom) {
		b.WriteString("  - raise the container memory limit with --docker-memory\n")
	}
	b.WriteString("  - run `kodegen-release status` to inspect the saved state")
	return b.String()
}

// newConflictCleaner binds the cleaner to this orchestrator's collaborators.
func (o *Orchestrator) newConflictCleaner() *conflict.Cleaner {
	return conflict.New(o.deps.Git, o.deps.Host, o.opts.Remote, o.deps.Budgets, o.opts.NoPush)
}
