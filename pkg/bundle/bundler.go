package bundle

import (
	"context"
	"fmt"
	"runtime"

	"github.com/cyrup-ai/kodegen-release/pkg/patch"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/sign"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// Bundler is the per-platform artifact builder. Bundle returns one or more
// artifact paths; zero paths is a bundler bug surfaced by Run.
type Bundler interface {
	PackageType() types.PackageType
	Bundle(ctx context.Context, s *Settings) ([]string, error)
}

// Registry maps package types to their native bundlers.
type Registry struct {
	bundlers map[types.PackageType]Bundler
}

// NewRegistry wires the standard bundlers with the given signers.
func NewRegistry(mac sign.MacSigner, win sign.WinSigner) *Registry {
	r := &Registry{bundlers: map[types.PackageType]Bundler{}}
	for _, b := range []Bundler{
		DebBundler{},
		RpmBundler{},
		AppImageBundler{},
		AppBundler{Signer: mac},
		DmgBundler{Signer: mac},
		NsisBundler{Signer: win},
	} {
		r.bundlers[b.PackageType()] = b
	}
	return r
}

// Lookup returns the bundler for a package type.
func (r *Registry) Lookup(pkgType types.PackageType) (Bundler, error) {
	b, ok := r.bundlers[pkgType]
	if !ok {
		return nil, retry.MarkFatal(fmt.Errorf("no bundler registered for package type %q", pkgType))
	}
	return b, nil
}

// Run executes one bundler natively and validates its output against the
// common contract. Native-only formats on a foreign host are fatal.
func (r *Registry) Run(ctx context.Context, pkgType types.PackageType, s *Settings) (*types.BundledArtifact, error) {
	if pkgType.NativeOnly() && !pkgType.NativeOnHost() {
		return nil, retry.MarkFatal(fmt.Errorf(
			"package type %q can only be built on %s (current host: %s); containerized builds are not licensable for it",
			pkgType, pkgType.TargetOS(), runtime.GOOS))
	}

	b, err := r.Lookup(pkgType)
	if err != nil {
		return nil, err
	}
	paths, err := b.Bundle(ctx, s)
	if err != nil {
		return nil, err
	}
	return describeArtifact(pkgType, paths)
}

// patchStagedBinaries stamps already-staged binary copies with the package
// type. Runs before archiving and before any signing, since it alters bytes.
func patchStagedBinaries(paths []string, pkgType types.PackageType) error {
	for _, p := range paths {
		if err := patch.Apply(p, pkgType); err != nil {
			return err
		}
	}
	return nil
}
