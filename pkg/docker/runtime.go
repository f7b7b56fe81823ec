package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/cyrup-ai/kodegen-release/pkg/retry"
)

const (
	// probeTimeout bounds the runtime availability check.
	probeTimeout = 5 * time.Second

	// buildTimeout bounds a builder-image rebuild.
	buildTimeout = 30 * time.Minute

	// runTimeout bounds one containerized bundle invocation.
	runTimeout = 20 * time.Minute

	// reapGrace is how long we wait for a killed child to exit.
	reapGrace = 10 * time.Second
)

// Runtime is the container-runtime collaborator contract.
type Runtime interface {
	// Available probes the runtime; the error carries a platform-specific
	// remediation message.
	Available(ctx context.Context) error

	// ImageCreated returns the image creation time. exists is false when the
	// image is missing.
	ImageCreated(ctx context.Context, tag string) (created time.Time, exists bool, err error)

	// BuildImage builds the tag from the Dockerfile directory.
	BuildImage(ctx context.Context, dir, tag string) error

	// InspectOOM reports whether the container was OOM-killed.
	InspectOOM(ctx context.Context, container string) (bool, error)

	// RemoveContainer force-removes a container; missing containers are fine.
	RemoveContainer(ctx context.Context, name string) error
}

// CLI implements Runtime over the docker binary.
type CLI struct{}

func (CLI) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "info", "--format", "{{.ServerVersion}}")
	if out, err := cmd.CombinedOutput(); err != nil {
		return retry.MarkFatal(fmt.Errorf("docker is not available: %w: %s\n%s",
			err, strings.TrimSpace(string(out)), dockerRemediation()))
	}
	return nil
}

// dockerRemediation names the platform-appropriate way to get docker running.
func dockerRemediation() string {
	switch runtime.GOOS {
	case "darwin":
		return "Start Docker Desktop (or `colima start`) and retry."
	case "windows":
		return "Start Docker Desktop and make sure the engine is running."
	default:
		return "Start the docker daemon (`sudo systemctl start docker`) and make sure your user is in the docker group."
	}
}

func (CLI) ImageCreated(ctx context.Context, tag string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "image", "inspect", "--format", "{{.Created}}", tag)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "No such image") {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("inspecting image %s: %w: %s",
			tag, err, strings.TrimSpace(stderr.String()))
	}

	created, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(stdout.String()))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing image creation time: %w", err)
	}
	return created, true, nil
}

func (CLI) BuildImage(ctx context.Context, dir, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "build", "-t", tag, dir)
	cmd.WaitDelay = reapGrace
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return retry.MarkFatal(fmt.Errorf("docker build timed out after %s", buildTimeout))
		}
		return fmt.Errorf("docker build: %w: %s", err, tail(string(out), 2000))
	}
	return nil
}

func (CLI) InspectOOM(ctx context.Context, container string) (bool, error) {
	cmd := exec.CommandContext(ctx, "docker", "inspect", "--format", "{{.State.OOMKilled}}", container)
	out, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

func (CLI) RemoveContainer(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(out), "No such container") {
			return nil
		}
		return fmt.Errorf("removing container %s: %w", name, err)
	}
	return nil
}

// tail returns the last n bytes of s for error context.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
