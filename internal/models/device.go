package models

import (
	"time"

	"github.com/freezelink/freezelink/pkg/dryer"
)

// Device represents a registered freeze dryer. Immutable after discovery
// except for Name, which follows name-update messages.
type Device struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customerId"`
	Serial     string    `json:"serial"`
	CPUSerial  string    `json:"cpuSerial"`
	Firmware   string    `json:"firmware"`
	Hardware   string    `json:"hardware"`
	Model      string    `json:"model"`
	Name       string    `json:"name"`
	Shelves    int       `json:"shelves"`
	Shared     bool      `json:"shared"`
	ListedAt   time.Time `json:"listedAt"`
}

// TopicPrefix returns the topic prefix this device's messages arrive under
func (d *Device) TopicPrefix() string {
	if d.Shared {
		return dryer.PrefixShared
	}
	return dryer.PrefixOwned
}
