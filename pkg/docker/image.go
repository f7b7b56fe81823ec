package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
)

// BuilderImageTag is the tag of the cross-platform bundler image.
const BuilderImageTag = "kodegen-bundler:latest"

// maxImageAge forces a rebuild so base-image security updates land.
const maxImageAge = 7 * 24 * time.Hour

// EnsureImage makes the builder image ready: it rebuilds when the image is
// missing, older than the staging Dockerfile, older than maxImageAge, or
// when force is set.
func EnsureImage(ctx context.Context, rt Runtime, dockerfileDir string, force bool) error {
	logger := log.WithComponent("docker")

	rebuild, reason, err := needsRebuild(ctx, rt, dockerfileDir, force)
	if err != nil {
		return err
	}
	if !rebuild {
		logger.Debug().Str("image", BuilderImageTag).Msg("builder image is current")
		return nil
	}

	logger.Info().Str("image", BuilderImageTag).Str("reason", reason).
		Msg("building bundler image")
	if err := rt.BuildImage(ctx, dockerfileDir, BuilderImageTag); err != nil {
		return fmt.Errorf("building bundler image: %w", err)
	}
	return nil
}

func needsRebuild(ctx context.Context, rt Runtime, dockerfileDir string, force bool) (bool, string, error) {
	if force {
		return true, "rebuild forced", nil
	}

	created, exists, err := rt.ImageCreated(ctx, BuilderImageTag)
	if err != nil {
		return false, "", err
	}
	if !exists {
		return true, "image missing", nil
	}

	if fi, err := os.Stat(filepath.Join(dockerfileDir, "Dockerfile")); err == nil {
		if fi.ModTime().After(created) {
			return true, "Dockerfile newer than image", nil
		}
	}

	if age := time.Since(created); age > maxImageAge {
		return true, fmt.Sprintf("image is %d days old", int(age.Hours()/24)), nil
	}
	return false, "", nil
}
