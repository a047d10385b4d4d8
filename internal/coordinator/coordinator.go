package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/freezelink/freezelink/internal/broker"
	"github.com/freezelink/freezelink/internal/cloud"
	"github.com/freezelink/freezelink/internal/command"
	"github.com/freezelink/freezelink/internal/config"
	"github.com/freezelink/freezelink/internal/integration"
	"github.com/freezelink/freezelink/internal/models"
	"github.com/freezelink/freezelink/internal/router"
	"github.com/freezelink/freezelink/internal/session"
	"github.com/freezelink/freezelink/internal/state"
)

// Coordinator wires the cloud session, the broker connection, routing,
// state aggregation and command dispatch for one account, and owns their
// lifecycles. It is also the backend behind the local REST API.
type Coordinator struct {
	cfg *config.Config
	api *cloud.Client

	sessions  *session.Manager
	conn      *broker.Conn
	agg       *state.Aggregator
	router    *router.Router
	dispatch  *command.Dispatcher
	forwarder *integration.Forwarder

	mu      sync.RWMutex
	devices map[int64]*models.Device
}

// New creates a coordinator for the configured account.
func New(cfg *config.Config) *Coordinator {
	api := cloud.NewClient(cfg.Cloud, cfg.Account)
	return &Coordinator{
		cfg:      cfg,
		api:      api,
		sessions: session.NewManager(api),
		devices:  make(map[int64]*models.Device),
	}
}

// Run authenticates, discovers devices, connects to the broker and then
// keeps session refresh and the connection alive until ctx is cancelled.
// Returns cloud.ErrSessionExpired when re-authentication is needed and
// automatic refresh can no longer help.
func (c *Coordinator) Run(ctx context.Context) error {
	sess, err := c.sessions.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	log.Info().
		Str("email", sess.Email).
		Int64("customerId", sess.CustomerID).
		Msg("Authenticated with cloud")

	devices, err := c.api.ListDryers(ctx, sess.AccessToken)
	if err != nil {
		return fmt.Errorf("list dryers: %w", err)
	}
	if len(devices) == 0 {
		log.Warn().Msg("Account has no freeze dryers")
	}

	c.mu.Lock()
	for i := range devices {
		d := devices[i]
		// a dryer shared into this account carries its owner's customer id
		d.Shared = d.CustomerID != 0 && d.CustomerID != sess.CustomerID
		devices[i] = d
		c.devices[d.ID] = &d
		log.Info().
			Int64("deviceId", d.ID).
			Str("serial", d.Serial).
			Str("name", d.Name).
			Bool("shared", d.Shared).
			Msg("Discovered freeze dryer")
	}
	c.mu.Unlock()

	forwarder, err := integration.NewForwarder(c.cfg.NATS, sess.CustomerID)
	if err != nil {
		return fmt.Errorf("integration: %w", err)
	}
	defer forwarder.Close()

	agg := state.NewAggregator(c.cfg.State, c.notifyChanged)
	defer agg.Close()

	conn := broker.NewConn(c.cfg.Broker, sess.Email, sess.CustomerID, sess.AccessToken)
	c.sessions.OnRotate(func(s *models.Session) {
		conn.UpdateCredentials(s.AccessToken)
	})

	rt := router.New(conn, agg, sess.CustomerID)
	for _, d := range devices {
		agg.Register(d.ID)
		if err := rt.RegisterDevice(d); err != nil {
			return fmt.Errorf("register device %d: %w", d.ID, err)
		}
	}

	dispatch := command.NewDispatcher(conn, agg, c.cfg.State, c.deviceList())

	// publish the wired components, the REST backend may already be serving
	c.mu.Lock()
	c.forwarder = forwarder
	c.agg = agg
	c.conn = conn
	c.router = rt
	c.dispatch = dispatch
	c.mu.Unlock()

	subscriber := integration.NewSubscriber(forwarder, dispatch)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.sessions.Run(ctx) })
	g.Go(func() error { return conn.Run(ctx) })
	g.Go(func() error { return subscriber.Start(ctx) })

	log.Info().Msg("Coordinator running")
	return g.Wait()
}

func (c *Coordinator) notifyChanged(snap models.Snapshot) {
	log.Debug().
		Int64("deviceId", snap.DeviceID).
		Str("status", string(snap.Status)).
		Bool("online", snap.Online).
		Msg("Device state changed")
	c.applyNameUpdate(snap)
	c.mu.RLock()
	forwarder := c.forwarder
	c.mu.RUnlock()
	forwarder.StateChanged(snap)
}

// applyNameUpdate reflects a dryer_name field delivery onto the device record
func (c *Coordinator) applyNameUpdate(snap models.Snapshot) {
	name, ok := snap.Fields["dryer_name"].(string)
	if !ok || name == "" {
		return
	}
	c.mu.Lock()
	if d, found := c.devices[snap.DeviceID]; found && d.Name != name {
		d.Name = name
	}
	c.mu.Unlock()
}

func (c *Coordinator) deviceList() []*models.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ===== api.Backend =====

// Devices lists the discovered devices in stable order. Records are
// copied under the lock; name updates keep mutating the originals.
func (c *Coordinator) Devices() []models.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Device returns a copy of one discovered device
func (c *Coordinator) Device(id int64) (models.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[id]
	if !ok {
		return models.Device{}, false
	}
	return *d, true
}

// Snapshot returns the latest derived state for a device
func (c *Coordinator) Snapshot(deviceID int64) (models.Snapshot, bool) {
	c.mu.RLock()
	agg := c.agg
	c.mu.RUnlock()
	if agg == nil {
		return models.Snapshot{}, false
	}
	return agg.Snapshot(deviceID)
}

// Dispatch sends a named action to a device
func (c *Coordinator) Dispatch(deviceID int64, action string) error {
	dispatch, err := c.dispatcher()
	if err != nil {
		return err
	}
	return dispatch.Dispatch(deviceID, action)
}

// Actions lists the actions a device's current screen accepts
func (c *Coordinator) Actions(deviceID int64) ([]string, error) {
	dispatch, err := c.dispatcher()
	if err != nil {
		return nil, err
	}
	return dispatch.Actions(deviceID)
}

// SetBatchName publishes a batch display-name update
func (c *Coordinator) SetBatchName(deviceID int64, name string) error {
	dispatch, err := c.dispatcher()
	if err != nil {
		return err
	}
	return dispatch.BatchName(deviceID, name)
}

func (c *Coordinator) dispatcher() (*command.Dispatcher, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dispatch == nil {
		return nil, broker.ErrNotConnected
	}
	return c.dispatch, nil
}

// Session returns the current cloud session
func (c *Coordinator) Session() (models.Session, bool) {
	sess := c.sessions.Current()
	if sess == nil {
		return models.Session{}, false
	}
	return *sess, true
}

// BrokerState reports the connection state machine's current state
func (c *Coordinator) BrokerState() string {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return string(broker.StateDisconnected)
	}
	return string(conn.State())
}
