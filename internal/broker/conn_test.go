package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezelink/freezelink/internal/config"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishRecord struct {
	topic   string
	payload string
}

type fakeClient struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connectErr   error
	connected    bool
	subscribed   []string
	published    []publishRecord
	disconnected bool
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return &fakeToken{err: f.connectErr}
	}
	f.connected = true
	return &fakeToken{}
}

func (f *fakeClient) Disconnect(quiesce uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	}
	f.mu.Lock()
	f.published = append(f.published, publishRecord{topic, body})
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, topic)
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return &fakeToken{} }

func (f *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (f *fakeClient) subs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakeClient) pubs() []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishRecord(nil), f.published...)
}

// factory hands out fake clients and keeps them for inspection
type factory struct {
	mu          sync.Mutex
	clients     []*fakeClient
	connectErrs []error // consumed one per construction
}

func (f *factory) newClient(opts *mqtt.ClientOptions) mqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{opts: opts}
	if len(f.connectErrs) > 0 {
		c.connectErr = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	f.clients = append(f.clients, c)
	return c
}

func (f *factory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *factory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		Host:           "broker.test",
		Port:           8883,
		Keepalive:      time.Second,
		ConnectTimeout: 100 * time.Millisecond,
		BackoffMin:     5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
		GracePeriod:    time.Minute,
		OnInterval:     time.Hour,
	}
}

func newTestConn(f *factory) *Conn {
	c := NewConn(testBrokerConfig(), "user@example.com", 77, "secret-1")
	c.newClient = f.newClient
	return c
}

func waitState(t *testing.T, c *Conn, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		2*time.Second, 2*time.Millisecond, "state %s", want)
}

func TestPublishBeforeConnect(t *testing.T) {
	t.Parallel()

	c := newTestConn(&factory{})
	assert.ErrorIs(t, c.Publish("t", []byte("x")), ErrNotConnected)
}

func TestRunConnectsSubscribesAndAnnounces(t *testing.T) {
	t.Parallel()

	f := &factory{}
	c := newTestConn(f)
	require.NoError(t, c.Subscribe("act/77/ed/+/m/telemetry", func(string, []byte) {}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitState(t, c, StateConnected)

	client := f.client(0)
	assert.Equal(t, "user@example.com", client.opts.Username)
	assert.Equal(t, "secret-1", client.opts.Password)
	assert.True(t, strings.HasPrefix(client.opts.ClientID, "77-fl-"))
	assert.False(t, client.opts.AutoReconnect, "reconnect policy is ours, not paho's")
	assert.True(t, client.opts.CleanSession)

	assert.Contains(t, client.subs(), "act/77/ed/+/m/telemetry")

	// connecting announces the listener on the presence topic
	pubs := client.pubs()
	require.NotEmpty(t, pubs)
	assert.Equal(t, "act/77/on", pubs[0].topic)
	assert.Equal(t, "on", pubs[0].payload)

	// live publish goes through
	require.NoError(t, c.Publish("act/77/ed/5/cmd", []byte("{}")))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Publish("t", nil), ErrClosed)
}

func TestRunRetriesFailedConnect(t *testing.T) {
	t.Parallel()

	f := &factory{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	c := newTestConn(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// two failures, then the third client connects
	waitState(t, c, StateConnected)
	assert.Equal(t, 3, f.count())
}

func TestRunReconnectsOnConnectionLost(t *testing.T) {
	t.Parallel()

	f := &factory{}
	c := newTestConn(f)
	require.NoError(t, c.Subscribe("act/77/on", func(string, []byte) {}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitState(t, c, StateConnected)
	first := f.client(0)

	// simulate the transport dropping
	first.opts.OnConnectionLost(first, errors.New("EOF"))

	require.Eventually(t, func() bool {
		return f.count() >= 2 && c.State() == StateConnected
	}, 2*time.Second, 2*time.Millisecond)

	// the replacement connection re-applied the subscription
	assert.Contains(t, f.client(1).subs(), "act/77/on")
}

func TestCredentialRotationReconnects(t *testing.T) {
	t.Parallel()

	f := &factory{}
	c := newTestConn(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitState(t, c, StateConnected)

	c.UpdateCredentials("secret-2")

	require.Eventually(t, func() bool {
		return f.count() >= 2 && c.State() == StateConnected
	}, 2*time.Second, 2*time.Millisecond)

	assert.True(t, f.client(0).disconnected, "old connection torn down deliberately")
	assert.Equal(t, "secret-2", f.client(1).opts.Password)

	// rotating to the same secret is a no-op
	count := f.count()
	c.UpdateCredentials("secret-2")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, f.count())
}

func TestKeepAliveAnnouncements(t *testing.T) {
	t.Parallel()

	cfg := testBrokerConfig()
	cfg.OnInterval = 10 * time.Millisecond

	f := &factory{}
	c := NewConn(cfg, "user@example.com", 77, "secret-1")
	c.newClient = f.newClient

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitState(t, c, StateConnected)
	client := f.client(0)

	require.Eventually(t, func() bool {
		n := 0
		for _, p := range client.pubs() {
			if p.topic == "act/77/on" && p.payload == "on" {
				n++
			}
		}
		return n >= 3
	}, 2*time.Second, 2*time.Millisecond, "presence is re-announced periodically")
}

func TestSubscribeWhileConnected(t *testing.T) {
	t.Parallel()

	f := &factory{}
	c := newTestConn(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitState(t, c, StateConnected)

	require.NoError(t, c.Subscribe("group/77/on", func(string, []byte) {}))
	assert.Contains(t, f.client(0).subs(), "group/77/on")
}

func TestBrokerURL(t *testing.T) {
	t.Parallel()

	cfg := testBrokerConfig()
	assert.Equal(t, fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port), cfg.BrokerURL())
}
