package release

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-release/pkg/bundle"
	"github.com/cyrup-ai/kodegen-release/pkg/github"
	"github.com/cyrup-ai/kodegen-release/pkg/inventory"
	"github.com/cyrup-ai/kodegen-release/pkg/metadata"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/state"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
	"github.com/cyrup-ai/kodegen-release/pkg/version"
)

// --- fakes ---------------------------------------------------------------

type fakeGit struct {
	mu             sync.Mutex
	branches       map[string]bool
	remoteBranches map[string]bool
	tags           map[string]bool
	remoteTags     map[string]bool
	current        string
	commits        []string
	pushes         int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		branches:       map[string]bool{"main": true},
		remoteBranches: map[string]bool{},
		tags:           map[string]bool{},
		remoteTags:     map[string]bool{},
		current:        "main",
	}
}

func (f *fakeGit) CurrentBranch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}
func (f *fakeGit) IsClean(context.Context) (bool, error) { return true, nil }
func (f *fakeGit) Checkout(_ context.Context, rev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = rev
	return nil
}
func (f *fakeGit) CreateBranch(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[name] = true
	f.current = name
	return nil
}
func (f *fakeGit) DeleteBranch(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches, name)
	return nil
}
func (f *fakeGit) DeleteRemoteBranch(_ context.Context, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.remoteBranches, name)
	return nil
}
func (f *fakeGit) BranchExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name], nil
}
func (f *fakeGit) RemoteBranchExists(_ context.Context, _, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteBranches[name], nil
}
func (f *fakeGit) CreateTag(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[name] = true
	return nil
}
func (f *fakeGit) DeleteTag(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tags, name)
	return nil
}
func (f *fakeGit) DeleteRemoteTag(_ context.Context, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.remoteTags, name)
	return nil
}
func (f *fakeGit) TagExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags[name], nil
}
func (f *fakeGit) RemoteTagExists(_ context.Context, _, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteTags[name], nil
}
func (f *fakeGit) Commit(_ context.Context, msg string, _ ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, msg)
	return nil
}
func (f *fakeGit) Push(_ context.Context, _, ref string, withTags bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	f.remoteBranches[ref] = true
	if withTags {
		for tag := range f.tags {
			f.remoteTags[tag] = true
		}
	}
	return nil
}
func (f *fakeGit) Remotes(context.Context) ([]string, error) { return []string{"origin"}, nil }
func (f *fakeGit) Merge(context.Context, string) error       { return nil }
func (f *fakeGit) AbortMerge(context.Context) error          { return nil }

type fakeHost struct {
	mu           sync.Mutex
	nextID       int64
	releases     map[string]*github.Release // by tag
	assets       map[int64][]github.Asset
	createFails  int // transient failures before create succeeds
	publishCount int
}

func newFakeHost() *fakeHost {
	return &fakeHost{nextID: 100, releases: map[string]*github.Release{}, assets: map[int64][]github.Asset{}}
}

func (f *fakeHost) GetReleaseByTag(_ context.Context, tag string) (*github.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rel, ok := f.releases[tag]; ok {
		cp := *rel
		return &cp, nil
	}
	return nil, github.ErrReleaseNotFound
}

func (f *fakeHost) CreateDraftRelease(_ context.Context, tag, name, _ string) (*github.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFails > 0 {
		f.createFails--
		return nil, retry.MarkTransient(fmt.Errorf("502 bad gateway"))
	}
	f.nextID++
	rel := &github.Release{ID: f.nextID, TagName: tag, Name: name, Draft: true,
		URL: "https://example.com/releases/" + tag}
	f.releases[tag] = rel
	cp := *rel
	return &cp, nil
}

func (f *fakeHost) PublishRelease(_ context.Context, id int64) (*github.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCount++
	for _, rel := range f.releases {
		if rel.ID == id {
			rel.Draft = false
			cp := *rel
			return &cp, nil
		}
	}
	return nil, github.ErrReleaseNotFound
}

func (f *fakeHost) DeleteRelease(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tag, rel := range f.releases {
		if rel.ID == id {
			delete(f.releases, tag)
			delete(f.assets, id)
			return nil
		}
	}
	return github.ErrReleaseNotFound
}

func (f *fakeHost) ListAssets(_ context.Context, id int64) ([]github.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]github.Asset(nil), f.assets[id]...), nil
}

func (f *fakeHost) UploadAsset(_ context.Context, id int64, path, _ string) (*github.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset := github.Asset{Name: filepath.Base(path), URL: "https://example.com/assets/" + filepath.Base(path)}
	f.assets[id] = append(f.assets[id], asset)
	return &asset, nil
}

func (f *fakeHost) DeleteTagRef(_ context.Context, tag string) error { return nil }

type fakeBuilder struct {
	binDir string
	fail   bool
	builds int
}

func (f *fakeBuilder) Build(_ context.Context, dir string) error {
	f.builds++
	if f.fail {
		return fmt.Errorf("compiler exploded")
	}
	if err := os.MkdirAll(f.binDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(f.binDir, "kodegen"), []byte("compiled binary payload"), 0o755)
}

type fakeToolchain struct{}

func (fakeToolchain) UpdateLockfile(_ context.Context, dir string) error {
	pkg, err := metadata.Read(dir)
	if err != nil {
		return err
	}
	lock := fmt.Sprintf("[[package]]\nname = %q\nversion = %q\n", pkg.Name, pkg.Version)
	return os.WriteFile(filepath.Join(dir, metadata.LockfileName), []byte(lock), 0o644)
}

// --- harness -------------------------------------------------------------

type harness struct {
	tree    string
	git     *fakeGit
	host    *fakeHost
	builder *fakeBuilder
	orch    *Orchestrator
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	tree := t.TempDir()
	manifest := "[package]\nname = \"kodegen\"\nversion = \"0.1.0\"\ndescription = \"Code generation toolkit\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(tree, metadata.ManifestName), []byte(manifest), 0o644))

	g := newFakeGit()
	h := newFakeHost()
	b := &fakeBuilder{binDir: filepath.Join(tree, "target", "release")}

	if opts.Bump == "" {
		opts.Bump = types.BumpPatch
	}
	if len(opts.PackageTypes) == 0 {
		opts.PackageTypes = []types.PackageType{types.PackageDeb}
	}
	opts.Owner = "cyrup-ai"
	opts.Repo = "kodegen"

	deps := Deps{
		Store:     state.New(tree, state.DefaultConfig()),
		Git:       g,
		Host:      h,
		Bumper:    version.NewBumper(tree, fakeToolchain{}),
		Builder:   b,
		Registry:  bundle.NewRegistry(nil, nil),
		Inventory: inventory.New(t.TempDir()),
		Budgets:   retry.LoadBudgets(),
	}
	return &harness{
		tree:    tree,
		git:     g,
		host:    h,
		builder: b,
		orch:    New(tree, opts, deps),
	}
}

// --- scenarios -----------------------------------------------------------

func TestFreshPatchRelease(t *testing.T) {
	h := newHarness(t, Options{})

	code := h.orch.Run(context.Background())
	assert.Equal(t, ExitSuccess, code)

	// Manifest and lockfile advanced to 0.1.1.
	pkg, err := metadata.Read(h.tree)
	require.NoError(t, err)
	assert.Equal(t, "0.1.1", pkg.Version)
	lock, err := os.ReadFile(filepath.Join(h.tree, metadata.LockfileName))
	require.NoError(t, err)
	assert.Contains(t, string(lock), `version = "0.1.1"`)

	// Remote release exists, published, with one asset.
	rel := h.host.releases["v0.1.1"]
	require.NotNil(t, rel)
	assert.False(t, rel.Draft)
	assert.Len(t, h.host.assets[rel.ID], 1)

	// Local tag and remote tag exist.
	assert.True(t, h.git.tags["v0.1.1"])
	assert.True(t, h.git.remoteTags["v0.1.1"])

	// State file is purged on success.
	assert.NoFileExists(t, filepath.Join(h.tree, state.StateFileName))
}

func TestResumeSkipsToPublish(t *testing.T) {
	// First run completes; the test then reverts the release to a draft and
	// writes a record at PublishRelease, as a crash after Upload would leave.
	h := newHarness(t, Options{})
	code := h.orch.Run(context.Background())
	require.Equal(t, ExitSuccess, code)
	require.Equal(t, 1, h.host.publishCount)

	// Simulate the crashed run: same record, phase Upload already done.
	rel := h.host.releases["v0.1.1"]
	rel.Draft = true

	store := state.New(h.tree, state.DefaultConfig())
	rec := types.NewReleaseRecord("0.1.1", types.BumpPatch, "rel-resume", types.ReleaseConfig{})
	rec.CurrentPhase = types.PhasePublishRelease
	rec.HostState = &types.HostState{
		Owner: "cyrup-ai", Repo: "kodegen", ReleaseID: rel.ID, Draft: true,
		UploadedAssets: []string{"kodegen_0.1.1_amd64.deb"},
	}
	require.NoError(t, store.Save(rec))
	store.Close()

	h2 := newHarness(t, Options{})
	h2.orch.workingTree = h.tree
	h2.orch.deps.Store = state.New(h.tree, state.DefaultConfig())
	h2.orch.deps.Host = h.host
	h2.orch.deps.Git = h.git

	code = h2.orch.Run(context.Background())
	assert.Equal(t, ExitSuccess, code)
	assert.False(t, h.host.releases["v0.1.1"].Draft, "resumed run publishes the draft")
	assert.Len(t, h.host.assets[rel.ID], 1, "no duplicate uploads on resume")
}

func TestEachPackageTypeUploadedOnce(t *testing.T) {
	h := newHarness(t, Options{PackageTypes: []types.PackageType{types.PackageDeb, types.PackageRpm}})
	code := h.orch.Run(context.Background())
	require.Equal(t, ExitSuccess, code)

	rel := h.host.releases["v0.1.1"]
	require.NotNil(t, rel)
	assert.Len(t, h.host.assets[rel.ID], 2, "one asset per package type, no duplicates")
}

func TestTagCollisionCleaned(t *testing.T) {
	h := newHarness(t, Options{})

	// Debris from a crashed prior run: tag + draft release, no state file.
	h.git.tags["v0.1.1"] = true
	h.git.remoteTags["v0.1.1"] = true
	h.host.releases["v0.1.1"] = &github.Release{ID: 55, TagName: "v0.1.1", Draft: true}

	code := h.orch.Run(context.Background())
	assert.Equal(t, ExitSuccess, code)

	rel := h.host.releases["v0.1.1"]
	require.NotNil(t, rel)
	assert.NotEqual(t, int64(55), rel.ID, "stale draft replaced by a fresh release")
	assert.False(t, rel.Draft)
}

func TestFatalBuildFailureRollsBack(t *testing.T) {
	h := newHarness(t, Options{})
	h.builder.fail = true

	code := h.orch.Run(context.Background())
	assert.Equal(t, ExitFailure, code)

	// Rollback: no release, no tags, no branches remain.
	assert.Empty(t, h.host.releases, "draft release deleted")
	assert.False(t, h.git.tags["v0.1.1"], "local tag deleted")
	assert.False(t, h.git.remoteTags["v0.1.1"], "remote tag deleted")
	assert.False(t, h.git.branches["v0.1.1"], "release branch deleted")
	assert.Equal(t, "main", h.git.current, "working tree back on the pre-release branch")

	// State file removed after rollback.
	assert.NoFileExists(t, filepath.Join(h.tree, state.StateFileName))
}

func TestAlreadyPublishedVersionIsFatal(t *testing.T) {
	h := newHarness(t, Options{})
	h.host.releases["v0.1.1"] = &github.Release{ID: 9, TagName: "v0.1.1", Draft: false,
		URL: "https://example.com/releases/v0.1.1"}

	code := h.orch.Run(context.Background())
	assert.Equal(t, ExitFailure, code)
	// The published release survives rollback untouched.
	require.NotNil(t, h.host.releases["v0.1.1"])
	assert.Equal(t, int64(9), h.host.releases["v0.1.1"].ID)
}

func TestTransientCreateReleaseRetries(t *testing.T) {
	h := newHarness(t, Options{})
	h.host.createFails = 2 // two 502s, then success

	code := h.orch.Run(context.Background())
	assert.Equal(t, ExitSuccess, code)
	require.NotNil(t, h.host.releases["v0.1.1"])
}

func TestNoPushSkipsRemoteEffects(t *testing.T) {
	h := newHarness(t, Options{NoPush: true})

	code := h.orch.Run(context.Background())
	assert.Equal(t, ExitSuccess, code)

	assert.Empty(t, h.host.releases, "no remote release in no-push mode")
	assert.Zero(t, h.git.pushes)
	assert.True(t, h.git.tags["v0.1.1"], "local tag still created")
}

func TestBuildPhaseIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	code := h.orch.Run(context.Background())
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, 1, h.builder.builds)

	// Replaying the phase finds the "built" checkpoint and does not rebuild.
	require.NoError(t, h.orch.phaseBuild(context.Background()))
	assert.Equal(t, 1, h.builder.builds)
}
