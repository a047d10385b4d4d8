package models

import (
	"reflect"
	"time"

	"github.com/freezelink/freezelink/pkg/dryer"
)

// Snapshot is the externally visible derived state of one device. Fields
// carries semantically named values; Unknown carries raw keys the schema
// mapping does not cover yet, preserved so no observed data is lost.
type Snapshot struct {
	DeviceID  int64        `json:"deviceId"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Online    bool         `json:"online"`
	Screen    *int         `json:"screen,omitempty"`
	Status    dryer.Status `json:"status"`
	Running   bool         `json:"running"`
	Freezing  bool         `json:"freezing"`
	Drying    bool         `json:"drying"`
	Error     bool         `json:"error"`

	Fields  map[string]interface{} `json:"fields"`
	Unknown map[string]interface{} `json:"unknown,omitempty"`
}

// Changed reports whether any externally visible derived field or a watched
// raw field differs from prev. Used to suppress redundant downstream updates.
func (s *Snapshot) Changed(prev *Snapshot, watched []string) bool {
	if prev == nil {
		return true
	}
	if s.Online != prev.Online ||
		s.Status != prev.Status ||
		s.Running != prev.Running ||
		s.Freezing != prev.Freezing ||
		s.Drying != prev.Drying ||
		s.Error != prev.Error {
		return true
	}
	if (s.Screen == nil) != (prev.Screen == nil) {
		return true
	}
	if s.Screen != nil && *s.Screen != *prev.Screen {
		return true
	}
	for _, name := range watched {
		if !reflect.DeepEqual(s.Fields[name], prev.Fields[name]) {
			return true
		}
	}
	return false
}
