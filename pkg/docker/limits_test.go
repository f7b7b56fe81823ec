package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

func TestParseMemory(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"2048", 2048 * mib, false},
		{"2048m", 2048 * mib, false},
		{"4g", 4 * gib, false},
		{"4G", 4 * gib, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-1g", 0, true},
		{"0", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMemory(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestDefaultLimitsValid(t *testing.T) {
	limits := DefaultLimits()
	require.NoError(t, limits.Validate())
	assert.GreaterOrEqual(t, limits.MemoryBytes, int64(types.MinContainerMemory))
}

func TestLimitsFromFlags(t *testing.T) {
	limits, err := LimitsFromFlags("4g", "6g", "1.5", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(4*gib), limits.MemoryBytes)
	assert.Equal(t, int64(6*gib), limits.MemoryPlusSwapBytes)
	assert.Equal(t, 1.5, limits.Cpus)
	assert.Equal(t, 500, limits.PidCap)
}

func TestLimitsFromFlagsMemoryBelowMinimum(t *testing.T) {
	_, err := LimitsFromFlags("256m", "", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "512 MB")
}

func TestLimitsFromFlagsSwapBelowMemoryRejected(t *testing.T) {
	_, err := LimitsFromFlags("4g", "2g", "", 0)
	require.Error(t, err)
}

func TestLimitsFromFlagsSwapFollowsMemory(t *testing.T) {
	limits, err := LimitsFromFlags("16g", "", "", 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, limits.MemoryPlusSwapBytes, limits.MemoryBytes)
}

func TestLimitsFromFlagsPidBounds(t *testing.T) {
	_, err := LimitsFromFlags("", "", "", 5)
	require.Error(t, err)

	_, err = LimitsFromFlags("", "", "", 2_000_000)
	require.Error(t, err)
}

func TestLimitsFromFlagsCpuBounds(t *testing.T) {
	_, err := LimitsFromFlags("", "", "0", 0)
	require.Error(t, err)

	_, err = LimitsFromFlags("", "", "2000", 0)
	require.Error(t, err)
}
