package docker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

const (
	mib = 1024 * 1024
	gib = 1024 * mib
)

// ParseMemory parses a docker-style memory flag: a plain number is MiB,
// with m/g suffixes accepted ("2048", "2048m", "2g").
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty memory value")
	}

	mult := int64(mib)
	switch {
	case strings.HasSuffix(s, "g"):
		mult = gib
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory value %q: %w", s, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("memory value must be positive, got %d", val)
	}
	return val * mult, nil
}

// DefaultLimits derives build limits from the host: half the physical RAM,
// clamped to [2 GiB, 8 GiB], swap equal to memory, 2 CPUs, 1000 pids.
func DefaultLimits() types.ContainerLimits {
	memBytes := int64(4 * gib)
	if vm, err := mem.VirtualMemory(); err == nil {
		memBytes = int64(vm.Total / 2)
		if memBytes < 2*gib {
			memBytes = 2 * gib
		}
		if memBytes > 8*gib {
			memBytes = 8 * gib
		}
	}
	return types.ContainerLimits{
		MemoryBytes:         memBytes,
		MemoryPlusSwapBytes: memBytes,
		Cpus:                2,
		PidCap:              1000,
	}
}

// LimitsFromFlags builds validated limits from the CLI flag values. Empty
// strings keep the host-derived defaults.
func LimitsFromFlags(memory, memorySwap, cpus string, pids int) (types.ContainerLimits, error) {
	limits := DefaultLimits()

	if memory != "" {
		v, err := ParseMemory(memory)
		if err != nil {
			return limits, fmt.Errorf("--docker-memory: %w", err)
		}
		limits.MemoryBytes = v
		if limits.MemoryPlusSwapBytes < v {
			limits.MemoryPlusSwapBytes = v
		}
	}
	if memorySwap != "" {
		v, err := ParseMemory(memorySwap)
		if err != nil {
			return limits, fmt.Errorf("--docker-memory-swap: %w", err)
		}
		limits.MemoryPlusSwapBytes = v
	}
	if cpus != "" {
		v, err := strconv.ParseFloat(cpus, 64)
		if err != nil {
			return limits, fmt.Errorf("--docker-cpus: invalid value %q", cpus)
		}
		limits.Cpus = v
	}
	if pids != 0 {
		limits.PidCap = pids
	}

	if err := limits.Validate(); err != nil {
		return limits, err
	}
	return limits, nil
}

// HostTotalMemory returns the machine's physical RAM in bytes, 0 if unknown.
func HostTotalMemory() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return int64(vm.Total)
}
