package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/freezelink/freezelink/pkg/dryer"
)

func TestSessionNeedsRefresh(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := Session{RefreshAfter: now.Add(time.Minute)}
	assert.False(t, s.NeedsRefresh(now))
	assert.True(t, s.NeedsRefresh(now.Add(time.Minute)))
	assert.True(t, s.NeedsRefresh(now.Add(2*time.Minute)))
}

func TestSessionRefreshExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := Session{RefreshExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.RefreshExpired(now))
	assert.True(t, s.RefreshExpired(now.Add(time.Hour)))

	// a zero expiry means the cloud reported none; never treat as expired
	assert.False(t, (&Session{}).RefreshExpired(now))
}

func TestDeviceTopicPrefix(t *testing.T) {
	t.Parallel()

	owned := Device{ID: 1}
	shared := Device{ID: 2, Shared: true}
	assert.Equal(t, dryer.PrefixOwned, owned.TopicPrefix())
	assert.Equal(t, dryer.PrefixShared, shared.TopicPrefix())
}

func intp(v int) *int { return &v }

func TestSnapshotChanged(t *testing.T) {
	t.Parallel()

	watched := []string{dryer.FieldProgress}

	base := Snapshot{
		DeviceID: 1,
		Online:   true,
		Screen:   intp(3),
		Status:   dryer.StatusWarmingTrays,
		Running:  true,
		Fields:   map[string]interface{}{dryer.FieldProgress: 10.0},
	}

	assert.True(t, base.Changed(nil, watched), "first snapshot always changes")

	same := base
	same.Fields = map[string]interface{}{dryer.FieldProgress: 10.0}
	assert.False(t, same.Changed(&base, watched))

	// UpdatedAt alone must not count as a change
	later := same
	later.UpdatedAt = time.Now()
	assert.False(t, later.Changed(&base, watched))

	offline := base
	offline.Online = false
	assert.True(t, offline.Changed(&base, watched))

	moved := base
	moved.Screen = intp(4)
	moved.Status = dryer.StatusFreezing
	assert.True(t, moved.Changed(&base, watched))

	progressed := same
	progressed.Fields = map[string]interface{}{dryer.FieldProgress: 11.0}
	assert.True(t, progressed.Changed(&base, watched))

	// an unwatched field alone does not trigger
	unwatched := same
	unwatched.Fields = map[string]interface{}{
		dryer.FieldProgress:   10.0,
		dryer.FieldWifiSignal: -80.0,
	}
	assert.False(t, unwatched.Changed(&base, watched))

	noScreen := base
	noScreen.Screen = nil
	assert.True(t, noScreen.Changed(&base, watched))
}
