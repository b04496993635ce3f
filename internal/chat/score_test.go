package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		total float64
		want  Level
	}{
		{1.0, LevelCritical},
		{0.8, LevelCritical},
		{0.7999, LevelHigh},
		{0.6, LevelHigh},
		{0.5999, LevelMedium},
		{0.4, LevelMedium},
		{0.3999, LevelLow},
		{0.2, LevelLow},
		{0.1999, LevelIgnore},
		{0.0, LevelIgnore},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.total), "total %v", tt.total)
	}
}

func TestLevelFor_PartitionIsMonotone(t *testing.T) {
	prev := LevelFor(0)
	for i := 1; i <= 1000; i++ {
		l := LevelFor(float64(i) / 1000)
		assert.GreaterOrEqual(t, int(l), int(prev))
		prev = l
	}
	assert.Equal(t, LevelCritical, prev)
}

func TestParseLevel(t *testing.T) {
	for _, l := range []Level{LevelIgnore, LevelLow, LevelMedium, LevelHigh, LevelCritical} {
		parsed, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	_, err := ParseLevel("urgent")
	assert.Error(t, err)

	var l Level
	require.NoError(t, l.UnmarshalText([]byte(" HIGH ")))
	assert.Equal(t, LevelHigh, l)
}

func TestLevel_AtLeast(t *testing.T) {
	assert.True(t, LevelCritical.AtLeast(LevelHigh))
	assert.True(t, LevelMedium.AtLeast(LevelMedium))
	assert.False(t, LevelLow.AtLeast(LevelMedium))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-0.5, 0, 1))
	assert.Equal(t, 1.0, Clamp(1.5, 0, 1))
	assert.Equal(t, 0.3, Clamp(0.3, 0, 1))
}
