package dryer

import "encoding/json"

// Action names accepted by the command dispatcher. Each screen exposes a
// subset of these, mirroring the buttons physically present on that screen.
const (
	ActionStart        = "StartBatch"
	ActionContinue     = "Continue"
	ActionCancel       = "Cancel"
	ActionEndBatch     = "EndBatch"
	ActionDone         = "Done"
	ActionDefrost      = "Defrost"
	ActionStopDefrost  = "StopDefrost"
	ActionExtraDryTime = "ExtraDryTime"
)

// screenActions maps a normalized screen number to the actions valid on it
// and the button index each action presses. Screens not listed accept no
// remote actions.
var screenActions = map[int]map[string]int{
	0:  {ActionStart: 0, ActionDefrost: 1},          // Ready to Start
	1:  {ActionContinue: 0, ActionCancel: 1},        // Load Trays
	2:  {ActionContinue: 0, ActionCancel: 1},        // Rotate Trays
	3:  {ActionEndBatch: 1},                         // Warming Trays
	4:  {ActionEndBatch: 1},                         // Freezing
	5:  {ActionEndBatch: 1},                         // Drying (Heating)
	6:  {ActionEndBatch: 1},                         // Drying (Max Temp)
	7:  {ActionEndBatch: 1, ActionExtraDryTime: 0},  // Extra Dry Time
	8:  {ActionDone: 0},                             // Batch Complete
	9:  {ActionDone: 0},                             // Remove Trays
	10: {ActionStopDefrost: 0},                      // Defrosting
	11: {ActionDone: 0},                             // Defrosted
	18: {ActionCancel: 1},                           // Preparing
}

// ButtonFor resolves an action against the action table for a normalized
// screen number. ok is false when the action is not available on that screen.
func ButtonFor(screen int, action string) (button int, ok bool) {
	actions, ok := screenActions[screen]
	if !ok {
		return 0, false
	}
	button, ok = actions[action]
	return button, ok
}

// ActionsForScreen lists the actions available on a normalized screen number
func ActionsForScreen(screen int) []string {
	actions := screenActions[screen]
	out := make([]string, 0, len(actions))
	for name := range actions {
		out = append(out, name)
	}
	return out
}

// ButtonPress is the simulated-button-press command body. The screen number
// is the device's raw (unnormalized) indexing; the button index addresses the
// physical layout on that screen.
type ButtonPress struct {
	Screen int `json:"scn"`
	Button int `json:"btn"`
}

// BatchNameUpdate is the batch-naming command body
type BatchNameUpdate struct {
	Name string `json:"bn"`
}

// Preference is the preference-update command body
type Preference struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}

// Command envelopes tag the body with a namespace prefix identifying the
// command family. Exactly one field is set.
type envelope struct {
	ButtonPress *ButtonPress     `json:"sbp,omitempty"`
	BatchName   *BatchNameUpdate `json:"bn,omitempty"`
	Preference  *Preference      `json:"pref,omitempty"`
}

// EncodeButtonPress marshals a simulated-button-press command payload
func EncodeButtonPress(rawScreen, button int) ([]byte, error) {
	return json.Marshal(envelope{ButtonPress: &ButtonPress{Screen: rawScreen, Button: button}})
}

// EncodeBatchName marshals a batch-naming command payload
func EncodeBatchName(name string) ([]byte, error) {
	return json.Marshal(envelope{BatchName: &BatchNameUpdate{Name: name}})
}

// EncodePreference marshals a preference-update command payload
func EncodePreference(key string, value interface{}) ([]byte, error) {
	return json.Marshal(envelope{Preference: &Preference{Key: key, Value: value}})
}
