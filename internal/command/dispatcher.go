package command

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freezelink/freezelink/internal/config"
	"github.com/freezelink/freezelink/internal/models"
	"github.com/freezelink/freezelink/pkg/dryer"
)

var (
	// ErrUnknownDevice is returned for a device the dispatcher has no record of.
	ErrUnknownDevice = errors.New("command: unknown device")
	// ErrUnsupportedAction is returned when the device's current screen has
	// no button bound to the requested action.
	ErrUnsupportedAction = errors.New("command: action not supported on current screen")
	// ErrNoScreen is returned before any telemetry has established the
	// device's screen, so no button mapping can be chosen.
	ErrNoScreen = errors.New("command: device screen unknown")
)

// Publisher publishes a payload to an MQTT topic. The broker connection
// satisfies this and reports its own not-connected condition.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// States reads the last derived snapshot for a device.
type States interface {
	Snapshot(deviceID int64) (models.Snapshot, bool)
}

// Dispatcher turns named actions into screen-scoped button presses and
// publishes them on the device's command topic. The device firmware only
// honors a button press whose screen matches what it is showing, so every
// dispatch is validated against the latest known screen first.
type Dispatcher struct {
	pub     Publisher
	states  States
	offset  int
	devices map[int64]*models.Device
}

// NewDispatcher creates a dispatcher over the given registered devices.
func NewDispatcher(pub Publisher, states States, cfg config.StateConfig, devices []*models.Device) *Dispatcher {
	byID := make(map[int64]*models.Device, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}
	return &Dispatcher{pub: pub, states: states, offset: cfg.ScreenOffset, devices: byID}
}

// Dispatch validates the action against the device's current screen and
// publishes the matching button press. Fire and forget; the only
// confirmation is the screen change arriving on the telemetry topic.
func (d *Dispatcher) Dispatch(deviceID int64, action string) error {
	dev, ok := d.devices[deviceID]
	if !ok {
		return ErrUnknownDevice
	}
	snap, ok := d.states.Snapshot(deviceID)
	if !ok || snap.Screen == nil {
		return ErrNoScreen
	}

	screen := *snap.Screen
	button, ok := dryer.ButtonFor(screen, action)
	if !ok {
		return fmt.Errorf("%w: %q on screen %d", ErrUnsupportedAction, action, screen)
	}

	payload, err := dryer.EncodeButtonPress(screen+d.offset, button)
	if err != nil {
		return fmt.Errorf("encode button press: %w", err)
	}
	if err := d.publish(dev, payload); err != nil {
		return err
	}
	log.Info().
		Int64("deviceId", deviceID).
		Str("action", action).
		Int("screen", screen).
		Int("button", button).
		Msg("Command dispatched")
	return nil
}

// Actions lists the actions the device's current screen supports.
func (d *Dispatcher) Actions(deviceID int64) ([]string, error) {
	if _, ok := d.devices[deviceID]; !ok {
		return nil, ErrUnknownDevice
	}
	snap, ok := d.states.Snapshot(deviceID)
	if !ok || snap.Screen == nil {
		return nil, ErrNoScreen
	}
	return dryer.ActionsForScreen(*snap.Screen), nil
}

// BatchName publishes a display-name update for the current batch.
func (d *Dispatcher) BatchName(deviceID int64, name string) error {
	dev, ok := d.devices[deviceID]
	if !ok {
		return ErrUnknownDevice
	}
	payload, err := dryer.EncodeBatchName(name)
	if err != nil {
		return fmt.Errorf("encode batch name: %w", err)
	}
	if err := d.publish(dev, payload); err != nil {
		return err
	}
	log.Info().Int64("deviceId", deviceID).Str("name", name).Msg("Batch name dispatched")
	return nil
}

// Preference publishes a device preference update.
func (d *Dispatcher) Preference(deviceID int64, key string, value interface{}) error {
	dev, ok := d.devices[deviceID]
	if !ok {
		return ErrUnknownDevice
	}
	payload, err := dryer.EncodePreference(key, value)
	if err != nil {
		return fmt.Errorf("encode preference: %w", err)
	}
	return d.publish(dev, payload)
}

func (d *Dispatcher) publish(dev *models.Device, payload []byte) error {
	topic := dryer.CommandTopic(dev.TopicPrefix(), dev.CustomerID, dev.ID)
	return d.pub.Publish(topic, payload)
}
