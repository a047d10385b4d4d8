package router

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/freezelink/freezelink/internal/models"
	"github.com/freezelink/freezelink/pkg/dryer"
)

// Broker is the slice of the connection manager the router needs
type Broker interface {
	Subscribe(pattern string, handler func(topic string, payload []byte)) error
	Unsubscribe(pattern string)
}

// Sink consumes routed messages. Implementations must not block; the router
// runs on the connection's dispatch path.
type Sink interface {
	ApplyFields(deviceID int64, cat dryer.Category, fields map[string]interface{})
	ApplyPresence(token string)
}

// Router subscribes to the account's topic patterns and demultiplexes inbound
// messages by topic. Decoding is category-driven: data categories carry keyed
// JSON, presence carries a plain-text token. Malformed payloads are logged
// and dropped without disturbing the connection.
type Router struct {
	broker     Broker
	sink       Sink
	customerID int64

	mu       sync.Mutex
	prefixes map[string]bool
	devices  map[int64]bool
}

// New creates a topic router for one account
func New(broker Broker, sink Sink, customerID int64) *Router {
	return &Router{
		broker:     broker,
		sink:       sink,
		customerID: customerID,
		prefixes:   make(map[string]bool),
		devices:    make(map[int64]bool),
	}
}

// RegisterDevice makes the router accept messages for a device, subscribing
// the category patterns for its prefix on first use. Patterns use a
// single-level wildcard for the device segment, so one subscription per
// category covers every device under a prefix.
func (r *Router) RegisterDevice(d models.Device) error {
	prefix := d.TopicPrefix()

	r.mu.Lock()
	r.devices[d.ID] = true
	first := !r.prefixes[prefix]
	r.prefixes[prefix] = true
	r.mu.Unlock()

	if !first {
		return nil
	}

	for _, cat := range dryer.DataCategories {
		pattern := dryer.DataPattern(prefix, r.customerID, cat)
		if err := r.broker.Subscribe(pattern, r.handleMessage); err != nil {
			return err
		}
	}
	return r.broker.Subscribe(dryer.PresenceTopic(prefix, r.customerID), r.handleMessage)
}

// UnregisterDevice stops routing for a device. Prefix-level subscriptions
// stay up; messages for unknown devices are dropped in handleMessage.
func (r *Router) UnregisterDevice(deviceID int64) {
	r.mu.Lock()
	delete(r.devices, deviceID)
	r.mu.Unlock()
}

// handleMessage routes one inbound message
func (r *Router) handleMessage(topic string, payload []byte) {
	ref, err := dryer.ParseTopic(topic)
	if err != nil {
		log.Debug().Str("topic", topic).Msg("Unhandled topic")
		return
	}

	if ref.Category == dryer.CategoryPresence {
		token := strings.TrimSpace(string(payload))
		log.Debug().Str("token", token).Msg("Presence update")
		r.sink.ApplyPresence(token)
		return
	}

	r.mu.Lock()
	known := r.devices[ref.DeviceID]
	r.mu.Unlock()
	if !known {
		log.Debug().Int64("deviceId", ref.DeviceID).Str("topic", topic).Msg("Message for unknown device")
		return
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		log.Warn().
			Str("topic", topic).
			Str("category", string(ref.Category)).
			Msg("Failed to decode payload, dropping")
		return
	}

	r.sink.ApplyFields(ref.DeviceID, ref.Category, fields)
}
