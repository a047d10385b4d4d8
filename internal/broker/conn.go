package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"

	"github.com/freezelink/freezelink/internal/config"
	"github.com/freezelink/freezelink/pkg/dryer"
)

// State is the connection lifecycle state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
	StateClosed       State = "closed"
)

// Sentinel errors
var (
	ErrNotConnected = errors.New("broker not connected")
	ErrClosed       = errors.New("broker closed")
)

// errRotate tears down a healthy connection to pick up a new credential
var errRotate = errors.New("credential rotation")

// Handler receives inbound messages. Handlers run on the client's network
// dispatch path and must return quickly.
type Handler func(topic string, payload []byte)

// Conn maintains the single messaging-channel connection for an account.
// The transport authenticates with the account email as identity and the
// current access credential as secret; the broker keeps no durable session
// state, so every reconnect resubscribes everything.
type Conn struct {
	cfg        config.BrokerConfig
	email      string
	customerID int64

	mu     sync.Mutex
	state  State
	client mqtt.Client
	secret string
	subs   map[string]Handler

	lostCh   chan error
	rotateCh chan struct{}

	// test seam: paho client construction
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewConn creates a connection manager. secret is the initial access
// credential; Run must be called to bring the connection up.
func NewConn(cfg config.BrokerConfig, email string, customerID int64, secret string) *Conn {
	return &Conn{
		cfg:        cfg,
		email:      email,
		customerID: customerID,
		state:      StateDisconnected,
		secret:     secret,
		subs:       make(map[string]Handler),
		lostCh:     make(chan error, 1),
		rotateCh:   make(chan struct{}, 1),
		newClient:  mqtt.NewClient,
	}
}

// State returns the current connection state
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// UpdateCredentials installs a rotated access credential and forces a
// reconnect so the live connection authenticates with it immediately,
// rather than waiting for the broker to reject the stale one.
func (c *Conn) UpdateCredentials(secret string) {
	c.mu.Lock()
	changed := secret != c.secret
	c.secret = secret
	c.mu.Unlock()

	if !changed {
		return
	}
	log.Info().Msg("Access credential rotated, forcing reconnect")
	select {
	case c.rotateCh <- struct{}{}:
	default:
	}
}

// Subscribe registers a topic pattern. The subscription is applied to the
// live connection if one exists and re-applied after every reconnect.
func (c *Conn) Subscribe(pattern string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[pattern] = handler
	client, state := c.client, c.state
	c.mu.Unlock()

	if state == StateConnected {
		return c.subscribeOne(client, pattern, handler)
	}
	return nil
}

// Unsubscribe removes a topic pattern
func (c *Conn) Unsubscribe(pattern string) {
	c.mu.Lock()
	delete(c.subs, pattern)
	client, state := c.client, c.state
	c.mu.Unlock()

	if state == StateConnected {
		client.Unsubscribe(pattern)
	}
}

// Publish sends a payload at QoS 0, fire-and-forget. No acknowledgment is
// awaited; delivery is at most once.
func (c *Conn) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	client, state := c.client, c.state
	c.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrClosed
	case StateConnected:
		client.Publish(topic, 0, false, payload)
		return nil
	default:
		return ErrNotConnected
	}
}

// Run owns the connection until ctx is canceled: connect, stay up, back off
// on failure, rotate on credential change. All state transitions happen here.
func (c *Conn) Run(ctx context.Context) error {
	retry := &backoff.Backoff{
		Min:    c.cfg.BackoffMin,
		Max:    c.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		if err := ctx.Err(); err != nil {
			c.close()
			return err
		}

		c.setState(StateConnecting)
		client, err := c.connect()
		if err != nil {
			d := retry.Duration()
			log.Warn().Err(err).Dur("retryIn", d).Msg("Broker connect failed")
			c.setState(StateBackoff)
			select {
			case <-ctx.Done():
				c.close()
				return ctx.Err()
			case <-time.After(d):
			}
			continue
		}

		c.mu.Lock()
		c.client = client
		c.state = StateConnected
		c.mu.Unlock()
		connectedAt := time.Now()
		log.Info().Str("broker", c.cfg.BrokerURL()).Msg("Broker connected")

		c.resubscribe(client)
		c.publishOn(client)

		err = c.stayConnected(ctx, client)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.close()
			return err
		}

		// a connection that survived the grace period resets the streak
		if time.Since(connectedAt) >= c.cfg.GracePeriod {
			retry.Reset()
		}
		if errors.Is(err, errRotate) {
			// deliberate teardown, reconnect with the new secret right away
			continue
		}
		c.setState(StateBackoff)
		d := retry.Duration()
		log.Warn().Err(err).Dur("retryIn", d).Msg("Broker connection lost")
		select {
		case <-ctx.Done():
			c.close()
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// stayConnected blocks while the connection is healthy. It returns a
// non-context error on connection loss and a context error on shutdown.
// Credential rotation tears the connection down deliberately.
func (c *Conn) stayConnected(ctx context.Context, client mqtt.Client) error {
	ticker := time.NewTicker(c.cfg.OnInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			client.Disconnect(250)
			return ctx.Err()

		case err := <-c.lostCh:
			return err

		case <-c.rotateCh:
			client.Disconnect(250)
			return errRotate

		case <-ticker.C:
			// dryers stop pushing telemetry unless a listener keeps
			// announcing itself
			c.publishOn(client)
		}
	}
}

func (c *Conn) connect() (mqtt.Client, error) {
	c.mu.Lock()
	secret := c.secret
	c.mu.Unlock()

	clientID := fmt.Sprintf("%d-fl-%s", c.customerID, uuid.NewString()[:6])
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL()).
		SetClientID(clientID).
		SetUsername(c.email).
		SetPassword(secret).
		SetKeepAlive(c.cfg.Keepalive).
		SetPingTimeout(c.cfg.ConnectTimeout).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case c.lostCh <- err:
		default:
		}
	})

	client := c.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect timeout after %s", c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// drain any loss signal left over from the previous connection
	select {
	case <-c.lostCh:
	default:
	}
	return client, nil
}

func (c *Conn) resubscribe(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for p, h := range c.subs {
		subs[p] = h
	}
	c.mu.Unlock()

	for pattern, handler := range subs {
		if err := c.subscribeOne(client, pattern, handler); err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("Resubscribe failed")
		}
	}
}

func (c *Conn) subscribeOne(client mqtt.Client, pattern string, handler Handler) error {
	token := client.Subscribe(pattern, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribe %s: timeout", pattern)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	log.Debug().Str("pattern", pattern).Msg("Subscribed")
	return nil
}

// publishOn announces this client on the presence topic so devices keep
// sending telemetry.
func (c *Conn) publishOn(client mqtt.Client) {
	topic := dryer.PresenceTopic(dryer.PrefixOwned, c.customerID)
	client.Publish(topic, 0, false, dryer.PresenceTokenOn)
	log.Debug().Str("topic", topic).Msg("Published presence keep-alive")
}

func (c *Conn) close() {
	c.mu.Lock()
	client := c.client
	c.state = StateClosed
	c.client = nil
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	log.Info().Msg("Broker closed")
}
