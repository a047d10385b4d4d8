package integration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/freezelink/freezelink/internal/config"
	"github.com/freezelink/freezelink/internal/models"
)

// Forwarder publishes derived-state change events to NATS so downstream
// consumers (dashboards, automations, recorders) get push updates without
// touching the upstream broker. Fire and forget; a NATS outage is logged
// and never disturbs state aggregation.
type Forwarder struct {
	nc         *nats.Conn
	customerID int64
}

// NewForwarder connects to NATS. An empty URL disables forwarding and
// returns a nil Forwarder, which is safe to use.
func NewForwarder(cfg config.NATSConfig, customerID int64) (*Forwarder, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("NATS forwarder connected")
	return &Forwarder{nc: nc, customerID: customerID}, nil
}

// StateChanged publishes a snapshot to the device's state subject. Satisfies
// the aggregator's notifier signature.
func (f *Forwarder) StateChanged(snap models.Snapshot) {
	if f == nil {
		return
	}

	event := stateEvent{
		Type:       "state",
		CustomerID: f.customerID,
		Snapshot:   snap,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal state event")
		return
	}

	subject := fmt.Sprintf("freezelink.account.%d.device.%d.state", f.customerID, snap.DeviceID)
	if err := f.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish state event")
		return
	}
	log.Debug().Int64("deviceId", snap.DeviceID).Str("subject", subject).Msg("State event forwarded")
}

// Close flushes pending publishes and closes the connection.
func (f *Forwarder) Close() {
	if f == nil || f.nc == nil {
		return
	}
	if err := f.nc.Flush(); err != nil {
		log.Warn().Err(err).Msg("NATS flush on close")
	}
	f.nc.Close()
}

type stateEvent struct {
	Type       string          `json:"type"`
	CustomerID int64           `json:"customerId"`
	Snapshot   models.Snapshot `json:"snapshot"`
	Timestamp  time.Time       `json:"timestamp"`
}
