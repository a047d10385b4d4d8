package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezelink/freezelink/internal/broker"
	"github.com/freezelink/freezelink/internal/config"
	"github.com/freezelink/freezelink/internal/models"
	"github.com/freezelink/freezelink/pkg/dryer"
)

type fakePublisher struct {
	err      error
	topics   []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeStates struct {
	snaps map[int64]models.Snapshot
}

func (f *fakeStates) Snapshot(deviceID int64) (models.Snapshot, bool) {
	s, ok := f.snaps[deviceID]
	return s, ok
}

func snapshotOnScreen(deviceID int64, screen int) models.Snapshot {
	return models.Snapshot{DeviceID: deviceID, Screen: &screen}
}

func newTestDispatcher(pub *fakePublisher, states *fakeStates) *Dispatcher {
	devices := []*models.Device{
		{ID: 5, CustomerID: 77},
		{ID: 9, CustomerID: 12, Shared: true},
	}
	cfg := config.StateConfig{ScreenOffset: dryer.DefaultScreenOffset}
	return NewDispatcher(pub, states, cfg, devices)
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	states := &fakeStates{snaps: map[int64]models.Snapshot{5: snapshotOnScreen(5, 4)}}
	d := newTestDispatcher(pub, states)

	require.NoError(t, d.Dispatch(5, dryer.ActionEndBatch))

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "act/77/ed/5/cmd", pub.topics[0])
	// the wire carries the raw screen: normalized 4 plus offset 1
	assert.JSONEq(t, `{"sbp":{"scn":5,"btn":1}}`, string(pub.payloads[0]))
}

func TestDispatchSharedDevicePrefix(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	states := &fakeStates{snaps: map[int64]models.Snapshot{9: snapshotOnScreen(9, 0)}}
	d := newTestDispatcher(pub, states)

	require.NoError(t, d.Dispatch(9, dryer.ActionStart))
	require.Len(t, pub.topics, 1)
	assert.Equal(t, "group/12/ed/9/cmd", pub.topics[0])
}

func TestDispatchUnsupportedAction(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	// Ready to Start has no EndBatch button
	states := &fakeStates{snaps: map[int64]models.Snapshot{5: snapshotOnScreen(5, 0)}}
	d := newTestDispatcher(pub, states)

	err := d.Dispatch(5, dryer.ActionEndBatch)
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	assert.Empty(t, pub.topics, "nothing published on rejection")
}

func TestDispatchUnknownDevice(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(&fakePublisher{}, &fakeStates{})
	assert.ErrorIs(t, d.Dispatch(404, dryer.ActionStart), ErrUnknownDevice)
}

func TestDispatchNoScreenYet(t *testing.T) {
	t.Parallel()

	// a registered device with no telemetry yet has no screen to validate against
	states := &fakeStates{snaps: map[int64]models.Snapshot{5: {DeviceID: 5}}}
	d := newTestDispatcher(&fakePublisher{}, states)

	assert.ErrorIs(t, d.Dispatch(5, dryer.ActionStart), ErrNoScreen)
}

func TestDispatchNotConnected(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{err: broker.ErrNotConnected}
	states := &fakeStates{snaps: map[int64]models.Snapshot{5: snapshotOnScreen(5, 0)}}
	d := newTestDispatcher(pub, states)

	assert.ErrorIs(t, d.Dispatch(5, dryer.ActionStart), broker.ErrNotConnected)
}

func TestActions(t *testing.T) {
	t.Parallel()

	states := &fakeStates{snaps: map[int64]models.Snapshot{5: snapshotOnScreen(5, 7)}}
	d := newTestDispatcher(&fakePublisher{}, states)

	actions, err := d.Actions(5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dryer.ActionEndBatch, dryer.ActionExtraDryTime}, actions)
}

func TestBatchName(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	d := newTestDispatcher(pub, &fakeStates{})

	require.NoError(t, d.BatchName(5, "strawberries"))
	require.Len(t, pub.topics, 1)
	assert.Equal(t, "act/77/ed/5/cmd", pub.topics[0])
	assert.JSONEq(t, `{"bn":{"bn":"strawberries"}}`, string(pub.payloads[0]))
}
