package types

import "fmt"

const (
	// MinContainerMemory is the smallest memory limit accepted for builds.
	// Docker itself allows 4 MiB, but compilers need far more.
	MinContainerMemory = 512 * 1024 * 1024

	// MaxContainerMemory caps the limit at 1 TiB.
	MaxContainerMemory = 1024 * 1024 * 1024 * 1024

	// MinPidCap and MaxPidCap bound the container process count.
	MinPidCap = 10
	MaxPidCap = 1_000_000

	// MaxCpus bounds the fractional CPU limit.
	MaxCpus = 1024.0
)

// ContainerLimits are the resource caps applied to containerized bundler
// invocations.
type ContainerLimits struct {
	MemoryBytes         int64   `json:"memory_bytes"`
	MemoryPlusSwapBytes int64   `json:"memory_plus_swap_bytes"`
	Cpus                float64 `json:"cpus"`
	PidCap              int     `json:"pid_cap"`
}

// Validate checks every limit against its accepted range.
func (l ContainerLimits) Validate() error {
	if l.MemoryBytes < MinContainerMemory {
		return fmt.Errorf("memory limit too low: %d MB (minimum: 512 MB)", l.MemoryBytes/1024/1024)
	}
	if l.MemoryBytes > MaxContainerMemory {
		return fmt.Errorf("memory limit too high: %d MB (maximum: 1 TB)", l.MemoryBytes/1024/1024)
	}
	if l.MemoryPlusSwapBytes < l.MemoryBytes {
		return fmt.Errorf("memory+swap limit (%d) must be >= memory limit (%d)",
			l.MemoryPlusSwapBytes, l.MemoryBytes)
	}
	if l.Cpus <= 0 {
		return fmt.Errorf("cpu limit must be positive, got %g", l.Cpus)
	}
	if l.Cpus > MaxCpus {
		return fmt.Errorf("cpu limit too high: %g (maximum: 1024)", l.Cpus)
	}
	if l.PidCap < MinPidCap {
		return fmt.Errorf("pids limit too low: %d (minimum: 10)", l.PidCap)
	}
	if l.PidCap > MaxPidCap {
		return fmt.Errorf("pids limit too high: %d (maximum: 1000000)", l.PidCap)
	}
	return nil
}
