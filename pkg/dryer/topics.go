package dryer

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes: "act" for devices owned by the account, "group" for
// devices shared into it.
const (
	PrefixOwned  = "act"
	PrefixShared = "group"
)

// CommandSuffix is the trailing segment of a device's command topic
const CommandSuffix = "cmd"

// TopicRef is a parsed inbound topic
type TopicRef struct {
	Prefix     string
	CustomerID int64
	DeviceID   int64
	Category   Category
}

// DataPattern returns the subscription pattern for one message category
// across all of an account's devices. The device segment is a single-level
// wildcard; the broker keeps no durable subscription state, so these are
// re-sent on every reconnect.
func DataPattern(prefix string, customerID int64, cat Category) string {
	return fmt.Sprintf("%s/%d/ed/+/m/%s", prefix, customerID, cat)
}

// DataTopic returns the concrete data topic for one device and category
func DataTopic(prefix string, customerID, deviceID int64, cat Category) string {
	return fmt.Sprintf("%s/%d/ed/%d/m/%s", prefix, customerID, deviceID, cat)
}

// CommandTopic returns the topic commands for a device are published on
func CommandTopic(prefix string, customerID, deviceID int64) string {
	return fmt.Sprintf("%s/%d/ed/%d/%s", prefix, customerID, deviceID, CommandSuffix)
}

// PresenceTopic returns the account-level presence topic. Its payload is a
// plain-text token, not JSON.
func PresenceTopic(prefix string, customerID int64) string {
	return fmt.Sprintf("%s/%d/on", prefix, customerID)
}

// ParseTopic parses an inbound topic into its reference parts.
// Recognized shapes:
//
//	{prefix}/{customerID}/ed/{deviceID}/m/{category}
//	{prefix}/{customerID}/on
func ParseTopic(topic string) (TopicRef, error) {
	parts := strings.Split(topic, "/")

	if len(parts) == 3 && parts[2] == "on" {
		cid, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return TopicRef{}, fmt.Errorf("invalid customer id in topic %q", topic)
		}
		return TopicRef{Prefix: parts[0], CustomerID: cid, Category: CategoryPresence}, nil
	}

	if len(parts) == 6 && parts[2] == "ed" && parts[4] == "m" {
		cid, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return TopicRef{}, fmt.Errorf("invalid customer id in topic %q", topic)
		}
		did, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return TopicRef{}, fmt.Errorf("invalid device id in topic %q", topic)
		}
		return TopicRef{
			Prefix:     parts[0],
			CustomerID: cid,
			DeviceID:   did,
			Category:   Category(parts[5]),
		}, nil
	}

	return TopicRef{}, fmt.Errorf("unrecognized topic %q", topic)
}
