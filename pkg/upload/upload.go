package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nozzle/throttler"

	"github.com/cyrup-ai/kodegen-release/pkg/github"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// maxConcurrentUploads bounds the upload fan-out.
const maxConcurrentUploads = 4

// RecordSink is the narrow view of the release record the uploader needs:
// it persists each uploaded filename so a resumed run can skip it.
type RecordSink interface {
	MarkUploaded(filename string) error
}

// Uploader streams artifacts to the release host, skipping whatever the
// remote already has.
type Uploader struct {
	host    github.Client
	budgets retry.Budgets
	sink    RecordSink
	arch    types.Arch
}

// New creates an uploader. sink may be nil when no record is kept (dry runs).
func New(host github.Client, budgets retry.Budgets, sink RecordSink, arch types.Arch) *Uploader {
	return &Uploader{host: host, budgets: budgets, sink: sink, arch: arch}
}

// Upload sends each artifact that is a non-empty regular file and is not yet
// on the release. The remote asset list, queried once up front, is the
// authoritative skip set. Returns the URLs of newly uploaded assets; calling
// twice with the same inputs returns an empty second result.
func (u *Uploader) Upload(ctx context.Context, releaseID int64, paths []string) ([]string, error) {
	logger := log.WithComponent("upload")

	assets, err := u.host.ListAssets(ctx, releaseID)
	if err != nil {
		return nil, fmt.Errorf("listing existing assets: %w", err)
	}
	existing := make(map[string]bool, len(assets))
	for _, a := range assets {
		existing[a.Name] = true
	}

	var pending []string
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stating artifact %s: %w", path, err)
		}
		if fi.IsDir() {
			// Bare .app bundles ride inside the DMG; never uploaded raw.
			logger.Debug().Str("path", path).Msg("skipping directory artifact")
			continue
		}
		if fi.Size() == 0 {
			return nil, fmt.Errorf("artifact %s is empty", path)
		}
		if existing[filepath.Base(path)] {
			logger.Info().Str("asset", filepath.Base(path)).Msg("asset already on release, skipping")
			continue
		}
		pending = append(pending, path)
	}
	if len(pending) == 0 {
		logger.Info().Msg("nothing to upload")
		return nil, nil
	}

	budget := u.budgets.For(retry.ClassUploads)

	var mu sync.Mutex
	var urls []string

	th := throttler.New(maxConcurrentUploads, len(pending))
	for _, path := range pending {
		go func(path string) {
			err := retry.Do(ctx, budget, "upload "+filepath.Base(path), func(ctx context.Context) error {
				asset, err := u.host.UploadAsset(ctx, releaseID, path, u.label(path))
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				urls = append(urls, asset.URL)
				if u.sink != nil {
					return u.sink.MarkUploaded(asset.Name)
				}
				return nil
			})
			th.Done(err)
		}(path)
		th.Throttle()
	}

	if th.Err() != nil {
		return urls, fmt.Errorf("uploading assets: %w", th.Err())
	}
	logger.Info().Int("count", len(urls)).Msg("uploaded release assets")
	return urls, nil
}

// label synthesizes the human-facing asset label from the artifact's target
// platform and architecture.
func (u *Uploader) label(path string) string {
	platform := platformForArtifact(path)
	return fmt.Sprintf("kodegen %s - %s", platform, u.arch)
}

func platformForArtifact(path string) types.Platform {
	switch {
	case strings.HasSuffix(path, ".deb"), strings.HasSuffix(path, ".rpm"),
		strings.HasSuffix(path, ".AppImage"):
		return types.PlatformLinux
	case strings.HasSuffix(path, ".dmg"):
		return types.PlatformMacOS
	case strings.HasSuffix(path, ".exe"), strings.HasSuffix(path, ".msi"):
		return types.PlatformWindows
	default:
		return types.PlatformLinux
	}
}
