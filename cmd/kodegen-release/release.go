package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cyrup-ai/kodegen-release/pkg/bundle"
	"github.com/cyrup-ai/kodegen-release/pkg/docker"
	"github.com/cyrup-ai/kodegen-release/pkg/git"
	"github.com/cyrup-ai/kodegen-release/pkg/github"
	"github.com/cyrup-ai/kodegen-release/pkg/inventory"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/release"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/sign"
	"github.com/cyrup-ai/kodegen-release/pkg/state"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
	"github.com/cyrup-ai/kodegen-release/pkg/version"
	"github.com/cyrup-ai/kodegen-release/pkg/workspace"
)

var (
	flagMajor      bool
	flagMinor      bool
	flagPatch      bool
	flagPrerelease bool

	flagNoPush        bool
	flagRebuildImage  bool
	flagGitHubRepo    string
	flagContinueOnErr bool

	flagDockerMemory     string
	flagDockerMemorySwap string
	flagDockerCpus       string
	flagDockerPidsLimit  int

	flagTypes []string
)

var releaseCmd = &cobra.Command{
	Use:   "release <repo>",
	Short: "Run a full release of the given repository",
	Long: `Run a complete release: bump the version, clean conflicting remote
objects, build, bundle platform installers, upload them to the release
host, and publish.

The repository argument is a local path, owner/repo notation, or a full
HTTPS clone URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runRelease,
}

func init() {
	releaseCmd.Flags().BoolVar(&flagMajor, "major", false, "Bump the major version")
	releaseCmd.Flags().BoolVar(&flagMinor, "minor", false, "Bump the minor version")
	releaseCmd.Flags().BoolVar(&flagPatch, "patch", false, "Bump the patch version")
	releaseCmd.Flags().BoolVar(&flagPrerelease, "prerelease", false, "Bump or append a pre-release tag")

	releaseCmd.Flags().BoolVar(&flagNoPush, "no-push", false, "Suppress remote-push side effects (local dry run)")
	releaseCmd.Flags().BoolVar(&flagRebuildImage, "rebuild-image", false, "Force rebuild of the bundler image")
	releaseCmd.Flags().StringVar(&flagGitHubRepo, "github-repo", "", "Override the owner/repo remote coordinate")
	releaseCmd.Flags().BoolVar(&flagContinueOnErr, "continue-on-github-error", false, "Downgrade release-host errors to warnings")

	releaseCmd.Flags().StringVar(&flagDockerMemory, "docker-memory", "", "Container memory limit (e.g. 4g)")
	releaseCmd.Flags().StringVar(&flagDockerMemorySwap, "docker-memory-swap", "", "Container memory+swap limit (e.g. 6g)")
	releaseCmd.Flags().StringVar(&flagDockerCpus, "docker-cpus", "", "Container CPU limit (fractional)")
	releaseCmd.Flags().IntVar(&flagDockerPidsLimit, "docker-pids-limit", 0, "Container process-count limit")

	releaseCmd.Flags().StringSliceVar(&flagTypes, "types", nil,
		"Package types to build (deb, rpm, appimage, app, dmg, nsis); default: all buildable here")
}

func bumpKind() (types.BumpKind, error) {
	var kinds []types.BumpKind
	for flag, kind := range map[*bool]types.BumpKind{
		&flagMajor: types.BumpMajor, &flagMinor: types.BumpMinor,
		&flagPatch: types.BumpPatch, &flagPrerelease: types.BumpPrerelease,
	} {
		if *flag {
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("exactly one of --major, --minor, --patch, --prerelease is required")
	}
	return kinds[0], nil
}

func packageTypes() ([]types.PackageType, error) {
	if len(flagTypes) == 0 {
		// Default: everything buildable on or from this host.
		var out []types.PackageType
		for _, pt := range types.AllPackageTypes {
			if pt.NativeOnly() && !pt.NativeOnHost() {
				continue
			}
			// The raw .app only matters as an ingredient of the dmg.
			if pt == types.PackageApp {
				continue
			}
			out = append(out, pt)
		}
		return out, nil
	}

	var out []types.PackageType
	for _, raw := range flagTypes {
		pt, err := types.ParsePackageType(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := log.WithComponent("cli")

	bump, err := bumpKind()
	if err != nil {
		return err
	}
	pkgTypes, err := packageTypes()
	if err != nil {
		return err
	}
	limits, err := docker.LimitsFromFlags(flagDockerMemory, flagDockerMemorySwap,
		flagDockerCpus, flagDockerPidsLimit)
	if err != nil {
		return err
	}

	src, err := workspace.ParseSource(args[0])
	if err != nil {
		return err
	}
	if flagGitHubRepo != "" {
		parts := strings.SplitN(flagGitHubRepo, "/", 2)
		if len(parts) != 2 {
			return fmt.Errorf("--github-repo must be owner/repo, got %q", flagGitHubRepo)
		}
		src.Owner, src.Repo = parts[0], parts[1]
	}

	ws, err := workspace.Acquire(ctx, src)
	if err != nil {
		return err
	}
	if ws.IsTemp() {
		defer ws.Cleanup()
	}

	var host github.Client
	if !flagNoPush {
		if src.Owner == "" || src.Repo == "" {
			return fmt.Errorf("cannot determine the remote owner/repo; pass --github-repo")
		}
		apiClient, err := github.NewFromEnv(ctx, src.Owner, src.Repo)
		if err != nil {
			return err
		}
		host = apiClient
	}

	inv, err := inventory.Default()
	if err != nil {
		logger.Warn().Err(err).Msg("active-release inventory unavailable")
	}

	needsContainer := false
	for _, pt := range pkgTypes {
		if !pt.NativeOnHost() && !pt.NativeOnly() {
			needsContainer = true
		}
	}

	var container release.ContainerBundler
	if needsContainer {
		rt := docker.CLI{}
		if err := rt.Available(ctx); err != nil {
			return err
		}
		targetDir, err := ws.TargetDir()
		if err != nil {
			return err
		}
		if err := docker.EnsureImage(ctx, rt, ws.Root, flagRebuildImage); err != nil {
			return err
		}
		container = docker.NewBundler(rt, limits, ws.Root, targetDir)
	}

	deps := release.Deps{
		Store:     state.New(ws.Root, state.DefaultConfig()),
		Git:       git.New(ws.Root),
		Host:      host,
		Bumper:    version.NewBumper(ws.Root, nil),
		Builder:   release.CargoBuild{},
		Registry:  bundle.NewRegistry(sign.NewMacSigner(sign.MacConfigFromEnv()), sign.NewWinSigner(sign.WinConfigFromEnv())),
		Container: container,
		Inventory: inv,
		Budgets:   retry.LoadBudgets(),
	}
	defer deps.Store.Close()

	opts := release.Options{
		Bump:                  bump,
		NoPush:                flagNoPush,
		RebuildImage:          flagRebuildImage,
		ContinueOnGitHubError: flagContinueOnErr,
		Owner:                 src.Owner,
		Repo:                  src.Repo,
		Limits:                limits,
		PackageTypes:          pkgTypes,
	}

	code := release.New(ws.Root, opts, deps).Run(ctx)
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
