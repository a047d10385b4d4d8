package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freezelink/freezelink/internal/config"
	"github.com/freezelink/freezelink/internal/models"
	"github.com/freezelink/freezelink/pkg/dryer"
)

// WatchedFields are the raw (semantically named) fields whose changes are
// externally visible and therefore trigger a change notification.
var WatchedFields = []string{
	dryer.FieldScreen,
	dryer.FieldProgress,
	dryer.FieldTemperature,
	dryer.FieldVacuumPressure,
	dryer.FieldBatchName,
}

// Notifier receives a snapshot whenever a device's externally visible
// derived state changes.
type Notifier func(snap models.Snapshot)

type deliveryKind int

const (
	deliverFields deliveryKind = iota
	deliverPresence
	deliverStale
)

type delivery struct {
	kind     deliveryKind
	category dryer.Category
	fields   map[string]interface{}
	presence string
}

// Aggregator merges routed field deliveries into one canonical state per
// device and derives the status machine and flags after every merge. Each
// device has its own FIFO worker, so heavy merges never block the
// connection's read path and devices progress independently.
type Aggregator struct {
	cfg    config.StateConfig
	notify Notifier

	mu      sync.RWMutex
	devices map[int64]*deviceState
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

type deviceState struct {
	id    int64
	queue chan delivery

	mu        sync.RWMutex
	fields    map[string]interface{}
	unknown   map[string]interface{}
	updatedAt time.Time
	online    bool
	last      *models.Snapshot

	watchdog *time.Timer
}

// NewAggregator creates a state aggregator. notify may be nil.
func NewAggregator(cfg config.StateConfig, notify Notifier) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		notify:  notify,
		devices: make(map[int64]*deviceState),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Register creates the state and worker for a device. Registering the same
// device twice is a no-op; a DeviceState lives as long as the device does.
func (a *Aggregator) Register(deviceID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.devices[deviceID]; ok {
		return
	}

	ds := &deviceState{
		id:      deviceID,
		queue:   make(chan delivery, a.cfg.QueueSize),
		fields:  make(map[string]interface{}),
		unknown: make(map[string]interface{}),
	}
	ds.watchdog = time.AfterFunc(a.cfg.StalenessTimeout, func() {
		select {
		case ds.queue <- delivery{kind: deliverStale}:
		default:
			// queue backlog means messages are flowing; not stale
		}
	})
	a.devices[deviceID] = ds

	a.wg.Add(1)
	go a.worker(ds)
}

// Close stops all per-device workers and watchdogs
func (a *Aggregator) Close() {
	close(a.stopCh)
	a.mu.Lock()
	for _, ds := range a.devices {
		ds.watchdog.Stop()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// ApplyFields enqueues a routed field delivery for a device. Non-blocking;
// the delivery is dropped with a warning when the device's queue is full.
func (a *Aggregator) ApplyFields(deviceID int64, cat dryer.Category, fields map[string]interface{}) {
	ds := a.device(deviceID)
	if ds == nil {
		log.Debug().Int64("deviceId", deviceID).Msg("Delivery for unregistered device")
		return
	}
	select {
	case ds.queue <- delivery{kind: deliverFields, category: cat, fields: fields}:
	default:
		log.Warn().Int64("deviceId", deviceID).Msg("Device queue full, dropping delivery")
	}
}

// ApplyPresence fans an account-level presence token out to every device.
// The presence topic is account scoped; it carries no device identifier and
// its tokens never mark a device online by themselves.
func (a *Aggregator) ApplyPresence(token string) {
	a.mu.RLock()
	devices := make([]*deviceState, 0, len(a.devices))
	for _, ds := range a.devices {
		devices = append(devices, ds)
	}
	a.mu.RUnlock()

	for _, ds := range devices {
		select {
		case ds.queue <- delivery{kind: deliverPresence, presence: token}:
		default:
		}
	}
}

// Snapshot returns the last derived snapshot for a device
func (a *Aggregator) Snapshot(deviceID int64) (models.Snapshot, bool) {
	ds := a.device(deviceID)
	if ds == nil {
		return models.Snapshot{}, false
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.last == nil {
		return models.Snapshot{DeviceID: deviceID, Status: dryer.StatusUnknown}, true
	}
	return *ds.last, true
}

// Snapshots returns the last snapshot of every registered device
func (a *Aggregator) Snapshots() []models.Snapshot {
	a.mu.RLock()
	devices := make([]*deviceState, 0, len(a.devices))
	for _, ds := range a.devices {
		devices = append(devices, ds)
	}
	a.mu.RUnlock()

	snaps := make([]models.Snapshot, 0, len(devices))
	for _, ds := range devices {
		ds.mu.RLock()
		if ds.last != nil {
			snaps = append(snaps, *ds.last)
		} else {
			snaps = append(snaps, models.Snapshot{DeviceID: ds.id, Status: dryer.StatusUnknown})
		}
		ds.mu.RUnlock()
	}
	return snaps
}

func (a *Aggregator) device(id int64) *deviceState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.devices[id]
}

// worker processes one device's deliveries in arrival order
func (a *Aggregator) worker(ds *deviceState) {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		case d := <-ds.queue:
			a.process(ds, d)
		}
	}
}

func (a *Aggregator) process(ds *deviceState, d delivery) {
	now := a.now()

	ds.mu.Lock()
	switch d.kind {
	case deliverFields:
		known, unknown := dryer.MapFields(d.category, d.fields)
		for k, v := range known {
			ds.fields[k] = v
		}
		for k, v := range unknown {
			ds.unknown[k] = v
		}
		ds.updatedAt = now
		// any inbound message proves the device is alive
		ds.online = true
		ds.watchdog.Reset(a.cfg.StalenessTimeout)

	case deliverPresence:
		// the account presence topic carries listener announcements, and
		// the broker echoes this process's own keep-alive back on it. A
		// token proves a listener exists, not that the dryer does, so it
		// only stretches the watchdog of a device whose own traffic
		// already shows it online. Silent devices stay offline.
		if !ds.online || !recognizedPresence(d.presence) {
			ds.mu.Unlock()
			return
		}
		ds.updatedAt = now
		ds.watchdog.Reset(a.cfg.StalenessTimeout)

	case deliverStale:
		if !ds.online {
			ds.mu.Unlock()
			return
		}
		ds.online = false
		log.Info().Int64("deviceId", ds.id).Msg("Device went stale, marking offline")
	}

	snap := a.derive(ds, now)
	prev := ds.last
	ds.last = &snap
	ds.mu.Unlock()

	if a.notify != nil && snap.Changed(prev, WatchedFields) {
		a.notify(snap)
	}
}

// derive recomputes the snapshot from the merged fields. Caller holds ds.mu.
func (a *Aggregator) derive(ds *deviceState, now time.Time) models.Snapshot {
	snap := models.Snapshot{
		DeviceID:  ds.id,
		UpdatedAt: ds.updatedAt,
		Online:    ds.online,
		Status:    dryer.StatusUnknown,
		Fields:    copyMap(ds.fields),
		Unknown:   copyMap(ds.unknown),
	}

	raw, ok := asInt(ds.fields[dryer.FieldScreen])
	if !ok {
		return snap
	}

	screen := raw - a.cfg.ScreenOffset
	snap.Screen = &screen
	snap.Status = dryer.StatusForScreen(screen)
	snap.Running = ds.online && dryer.IsRunning(screen)
	snap.Freezing = ds.online && dryer.IsFreezing(screen)
	snap.Drying = ds.online && dryer.IsDrying(screen)
	snap.Error = ds.online && dryer.IsError(screen)
	return snap
}

func recognizedPresence(token string) bool {
	return token == dryer.PresenceTokenOn || token == dryer.PresenceTokenContinue
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// asInt coerces the numeric types a JSON decode can produce
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
