package dryer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForScreen(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusReadyToStart, StatusForScreen(0))
	assert.Equal(t, StatusWarmingTrays, StatusForScreen(3))
	assert.Equal(t, StatusFreezing, StatusForScreen(4))
	assert.Equal(t, StatusDryingMaxTemp, StatusForScreen(6))
	assert.Equal(t, StatusTimeExpired, StatusForScreen(26))
}

func TestStatusForScreenUnknown(t *testing.T) {
	t.Parallel()

	// the lookup must be total: out-of-range numbers never panic
	assert.Equal(t, StatusUnknown, StatusForScreen(-1))
	assert.Equal(t, StatusUnknown, StatusForScreen(27))
	assert.Equal(t, StatusUnknown, StatusForScreen(9999))
}

func TestFlagSets(t *testing.T) {
	t.Parallel()

	// raw screen 4 with the default offset normalizes to 3, Warming Trays
	screen := 4 - DefaultScreenOffset
	assert.Equal(t, StatusWarmingTrays, StatusForScreen(screen))
	assert.True(t, IsRunning(screen))
	assert.False(t, IsDrying(screen))
	assert.False(t, IsFreezing(screen))
	assert.False(t, IsError(screen))

	assert.True(t, IsFreezing(4))
	assert.True(t, IsRunning(4))

	assert.True(t, IsDrying(5))
	assert.True(t, IsDrying(6))
	assert.False(t, IsDrying(7))

	for _, s := range []int{23, 24, 25, 26} {
		assert.True(t, IsError(s), "screen %d", s)
		assert.False(t, IsRunning(s), "screen %d", s)
	}

	// Preparing counts as running
	assert.True(t, IsRunning(18))
	// idle and complete screens do not
	assert.False(t, IsRunning(0))
	assert.False(t, IsRunning(8))
}
