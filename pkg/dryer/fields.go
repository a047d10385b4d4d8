package dryer

// Category identifies the message type encoded in the topic's last segment.
// It decides how the payload is decoded: data categories carry keyed JSON,
// the presence category carries a short plain-text token.
type Category string

const (
	CategoryTelemetry    Category = "telemetry"
	CategorySystem       Category = "system"
	CategoryNameUpdate   Category = "name-update"
	CategoryBatchSummary Category = "batch-summary"
	CategoryPresence     Category = "presence"
)

// DataCategories are the per-device categories subscribed under the m/ segment
var DataCategories = []Category{
	CategoryTelemetry,
	CategorySystem,
	CategoryNameUpdate,
	CategoryBatchSummary,
}

// Presence payload tokens observed on the wire
const (
	PresenceTokenOn       = "on"
	PresenceTokenContinue = "continue"
)

// Semantic field names. Raw payload keys are short, undocumented
// abbreviations; these are the names the rest of the system speaks.
const (
	FieldScreen          = "screen"
	FieldTemperature     = "temperature"
	FieldVacuumPressure  = "vacuum_pressure"
	FieldBatchElapsed    = "batch_elapsed"
	FieldPhaseElapsed    = "phase_elapsed"
	FieldProgress        = "progress"
	FieldWifiSignal      = "wifi_signal"
	FieldBatchName       = "batch_name"
	FieldFirmwareVersion = "firmware_version"
	FieldMode            = "mode"
	FieldShelves         = "shelves"
	FieldDefrostFlag     = "defrost_flag"
	FieldDryProcess      = "dry_process"
	FieldBatchFlag       = "batch_flag"
	FieldBatchCount      = "batch_count"
	FieldAdapterName     = "adapter_name"
	FieldConfigKey       = "config_key"
	FieldPowerCycle      = "power_during_cycle"
	FieldPowerMode       = "power_during_mode"
	FieldBatchID         = "batch_id"
	FieldBatchRuntime    = "batch_runtime"
	FieldDryerName       = "dryer_name"
)

// telemetryKeys maps raw telemetry payload keys to semantic names.
// The schema is empirically observed; keys missing here are kept verbatim
// in the unknown-field map, never dropped.
var telemetryKeys = map[string]string{
	"screen": FieldScreen,
	"temp":   FieldTemperature,
	"mt":     FieldVacuumPressure,
	"els":    FieldBatchElapsed,
	"eps":    FieldPhaseElapsed,
	"pct":    FieldProgress,
	"rssi":   FieldWifiSignal,
	"bn":     FieldBatchName,
	"V":      FieldFirmwareVersion,
	"m":      FieldMode,
	"f":      FieldShelves,
	"df":     FieldDefrostFlag,
	"dps":    FieldDryProcess,
	"bf":     FieldBatchFlag,
	"aName":  FieldAdapterName,
	"cfg":    FieldConfigKey,
	"pdc":    FieldPowerCycle,
	"pdm":    FieldPowerMode,
}

// systemKeys maps raw system payload keys to semantic names
var systemKeys = map[string]string{
	"bc":   FieldBatchCount,
	"V":    FieldFirmwareVersion,
	"rssi": FieldWifiSignal,
}

// nameUpdateKeys maps raw name-update payload keys to semantic names
var nameUpdateKeys = map[string]string{
	"name": FieldDryerName,
	"dn":   FieldDryerName,
}

// batchSummaryKeys maps raw batch-summary payload keys to semantic names
var batchSummaryKeys = map[string]string{
	"bn":  FieldBatchName,
	"bid": FieldBatchID,
	"els": FieldBatchRuntime,
}

var categoryKeys = map[Category]map[string]string{
	CategoryTelemetry:    telemetryKeys,
	CategorySystem:       systemKeys,
	CategoryNameUpdate:   nameUpdateKeys,
	CategoryBatchSummary: batchSummaryKeys,
}

// MapFields splits a raw keyed payload into known fields (renamed to their
// semantic names) and unknown fields (raw key preserved).
func MapFields(cat Category, raw map[string]interface{}) (known, unknown map[string]interface{}) {
	known = make(map[string]interface{}, len(raw))
	unknown = make(map[string]interface{})
	keys := categoryKeys[cat]
	for k, v := range raw {
		if name, ok := keys[k]; ok {
			known[name] = v
		} else {
			unknown[k] = v
		}
	}
	return known, unknown
}
