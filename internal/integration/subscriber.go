package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// CommandSink dispatches actions to devices. The command dispatcher
// satisfies this.
type CommandSink interface {
	Dispatch(deviceID int64, action string) error
	BatchName(deviceID int64, name string) error
}

// Subscriber accepts command requests over NATS so downstream consumers can
// drive devices through the same bus they receive state events on. One
// subject per device, device ID taken from the subject.
type Subscriber struct {
	nc         *nats.Conn
	sink       CommandSink
	customerID int64
	subs       []*nats.Subscription
}

// NewSubscriber creates a command intake over the forwarder's connection.
// A nil forwarder (NATS disabled) yields a nil Subscriber, safe to run.
func NewSubscriber(f *Forwarder, sink CommandSink) *Subscriber {
	if f == nil {
		return nil
	}
	return &Subscriber{nc: f.nc, sink: sink, customerID: f.customerID}
}

// Start subscribes and blocks until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	if s == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	subject := fmt.Sprintf("freezelink.account.%d.device.*.command", s.customerID)
	sub, err := s.nc.Subscribe(subject, s.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	s.subs = append(s.subs, sub)

	log.Info().Str("subject", subject).Msg("NATS command intake started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	return ctx.Err()
}

// handleCommand dispatches one command request
func (s *Subscriber) handleCommand(msg *nats.Msg) {
	deviceID, err := deviceIDFromSubject(msg.Subject)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Invalid command subject")
		return
	}

	var req struct {
		Action    string `json:"action,omitempty"`
		BatchName string `json:"batchName,omitempty"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Error().Err(err).Int64("deviceId", deviceID).Msg("Failed to unmarshal command request")
		return
	}

	switch {
	case req.Action != "":
		err = s.sink.Dispatch(deviceID, req.Action)
	case req.BatchName != "":
		err = s.sink.BatchName(deviceID, req.BatchName)
	default:
		log.Warn().Int64("deviceId", deviceID).Msg("Command request names no action")
		return
	}
	if err != nil {
		log.Error().
			Err(err).
			Int64("deviceId", deviceID).
			Str("action", req.Action).
			Msg("Command request rejected")
		return
	}

	log.Info().
		Int64("deviceId", deviceID).
		Str("action", req.Action).
		Msg("Command request dispatched")
}

// deviceIDFromSubject extracts the device segment of
// freezelink.account.<cid>.device.<did>.command
func deviceIDFromSubject(subject string) (int64, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 6 {
		return 0, fmt.Errorf("unexpected subject shape %q", subject)
	}
	return strconv.ParseInt(parts[4], 10, 64)
}
