package docker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// oomExitCode is the SIGKILL exit code the kernel hands an OOM-killed child.
const oomExitCode = 137

// oomPhrases are the stderr substrings that indicate an OOM kill.
var oomPhrases = []string{
	"OOMKilled",
	"out of memory",
	"Out of memory",
	"oom-kill",
	"memory cgroup out of memory",
}

// OOMError is an actionable out-of-memory failure. Always fatal.
type OOMError struct {
	Limits     types.ContainerLimits
	HostMemory int64
	Signals    []string
}

func (e *OOMError) Error() string {
	var b strings.Builder
	b.WriteString("container ran out of memory during build\n")
	fmt.Fprintf(&b, "  detected via: %s\n", strings.Join(e.Signals, ", "))
	fmt.Fprintf(&b, "  memory limit: %d MB\n", e.Limits.MemoryBytes/mib)
	fmt.Fprintf(&b, "  memory+swap limit: %d MB\n", e.Limits.MemoryPlusSwapBytes/mib)
	if e.HostMemory > 0 {
		fmt.Fprintf(&b, "  host total memory: %d MB\n", e.HostMemory/mib)
	}
	b.WriteString("  raise the limit with --docker-memory (and --docker-memory-swap) and retry")
	return b.String()
}

// Bundler runs platform bundlers inside a locked-down container when the
// host cannot build the target natively.
type Bundler struct {
	rt        Runtime
	limits    types.ContainerLimits
	workspace string // host workspace, mounted read-only
	targetDir string // shared artifact directory
}

// NewBundler creates a container bundler for the given workspace.
func NewBundler(rt Runtime, limits types.ContainerLimits, workspace, targetDir string) *Bundler {
	return &Bundler{rt: rt, limits: limits, workspace: workspace, targetDir: targetDir}
}

// Bundle builds one package type in a container and returns the artifact
// paths after moving them into the shared target directory.
func (b *Bundler) Bundle(ctx context.Context, pkgType types.PackageType) ([]string, error) {
	if pkgType.NativeOnly() {
		return nil, retry.MarkFatal(fmt.Errorf(
			"package type %q cannot be built in a container; it requires a %s host",
			pkgType, pkgType.TargetOS()))
	}
	logger := log.WithPlatform(string(pkgType))

	// Each build writes into its own sibling target dir; results move to the
	// shared dir only on success, so concurrent builds never interfere.
	isolated, err := os.MkdirTemp(filepath.Dir(b.targetDir), ".kodegen-build-")
	if err != nil {
		return nil, fmt.Errorf("creating isolated target dir: %w", err)
	}
	defer os.RemoveAll(isolated)

	containerName := "kodegen-bundle-" + uuid.NewString()[:8]

	// Guard: the container must not outlive this call on any exit path.
	defer func() {
		if err := b.rt.RemoveContainer(context.Background(), containerName); err != nil {
			logger.Debug().Err(err).Str("container", containerName).Msg("container cleanup")
		}
	}()

	args := b.runArgs(containerName, isolated, pkgType)
	logger.Info().Str("container", containerName).Msg("running containerized bundler")

	exitCode, stderr, runErr := b.streamRun(ctx, logger, args)

	if oomSignals := b.oomSignals(ctx, exitCode, stderr, containerName); len(oomSignals) > 0 {
		return nil, retry.MarkFatal(&OOMError{
			Limits:     b.limits,
			HostMemory: HostTotalMemory(),
			Signals:    oomSignals,
		})
	}
	if runErr != nil {
		return nil, fmt.Errorf("containerized %s build: %w\nstderr:\n%s",
			pkgType, runErr, tail(stderr, 2000))
	}

	found, err := discoverArtifacts(isolated, pkgType)
	if err != nil {
		return nil, err
	}

	var moved []string
	for _, src := range found {
		dst := filepath.Join(b.targetDir, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("moving artifact into target dir: %w", err)
		}
		moved = append(moved, dst)
	}
	logger.Info().Strs("artifacts", moved).Msg("containerized build complete")
	return moved, nil
}

// runArgs assembles the docker run invocation with the hard constraints:
// dropped capabilities, no privilege escalation, read-only workspace, and
// the configured resource limits.
func (b *Bundler) runArgs(containerName, isolatedTarget string, pkgType types.PackageType) []string {
	args := []string{
		"run",
		"--name", containerName,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--memory", fmt.Sprintf("%d", b.limits.MemoryBytes),
		"--memory-swap", fmt.Sprintf("%d", b.limits.MemoryPlusSwapBytes),
		"--cpus", fmt.Sprintf("%g", b.limits.Cpus),
		"--pids-limit", fmt.Sprintf("%d", b.limits.PidCap),
		"-v", b.workspace + ":/workspace:ro",
		"-v", isolatedTarget + ":/target",
	}
	if runtime.GOOS != "windows" {
		args = append(args, "--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()))
	}
	args = append(args, BuilderImageTag,
		"kodegen-release", "bundle", "--types", string(pkgType), "--out", "/target")
	return args
}

// streamRun spawns docker, streams stdout line by line to the logger, and
// captures stderr. The child is SIGKILLed and reaped on timeout.
func (b *Bundler) streamRun(ctx context.Context, logger zerolog.Logger, args []string) (int, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", args...)
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = reapGrace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, "", err
	}
	if err := cmd.Start(); err != nil {
		return -1, "", fmt.Errorf("spawning docker: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Info().Msg(scanner.Text())
	}

	err = cmd.Wait()
	exitCode := cmd.ProcessState.ExitCode()
	if runCtx.Err() == context.DeadlineExceeded {
		return exitCode, stderr.String(),
			fmt.Errorf("containerized build timed out after %s", runTimeout)
	}
	return exitCode, stderr.String(), err
}

// oomSignals gathers the independent OOM indicators: exit code, stderr
// phrases, and the runtime inspect endpoint.
func (b *Bundler) oomSignals(ctx context.Context, exitCode int, stderr, containerName string) []string {
	var signals []string
	if exitCode == oomExitCode {
		signals = append(signals, "exit code 137")
	}
	for _, phrase := range oomPhrases {
		if strings.Contains(stderr, phrase) {
			signals = append(signals, fmt.Sprintf("stderr phrase %q", phrase))
			break
		}
	}
	if killed, err := b.rt.InspectOOM(ctx, containerName); err == nil && killed {
		signals = append(signals, "inspect OOMKilled=true")
	}
	return signals
}

// discoverArtifacts finds the platform-expected files in the isolated output
// tree and checks each is non-empty. AppImage tools sometimes emit
// extensionless files, so anything non-empty counts for that type.
func discoverArtifacts(dir string, pkgType types.PackageType) ([]string, error) {
	ext := "." + pkgType.Extension()
	var found []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return err
		}
		match := strings.HasSuffix(path, ext)
		if pkgType == types.PackageAppImage && !match {
			match = true
		}
		if !match {
			return nil
		}
		if info.Size() == 0 {
			return fmt.Errorf("container produced empty artifact %s", path)
		}
		found = append(found, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("container produced no %s artifacts under %s", ext, dir)
	}
	return found, nil
}
