package dryer

// Status represents the derived operating status of a freeze dryer
type Status string

const (
	StatusReadyToStart     Status = "Ready to Start"
	StatusLoadTrays        Status = "Load Trays"
	StatusRotateTrays      Status = "Rotate Trays"
	StatusWarmingTrays     Status = "Warming Trays"
	StatusFreezing         Status = "Freezing"
	StatusDryingHeating    Status = "Drying (Heating)"
	StatusDryingMaxTemp    Status = "Drying (Max Temp)"
	StatusExtraDryTime     Status = "Extra Dry Time"
	StatusBatchComplete    Status = "Batch Complete"
	StatusRemoveTrays      Status = "Remove Trays"
	StatusDefrosting       Status = "Defrosting"
	StatusDefrosted        Status = "Defrosted"
	StatusSystemSetup      Status = "System Setup"
	StatusTimeSetup        Status = "Time Setup"
	StatusFactorySetup     Status = "Factory Setup"
	StatusTesting          Status = "Testing"
	StatusSettings         Status = "Settings"
	StatusRestarting       Status = "Restarting"
	StatusPreparing        Status = "Preparing"
	StatusSetup            Status = "Setup"
	StatusWelcome          Status = "Welcome"
	StatusAuthorizing      Status = "Authorizing"
	StatusRecipeCreation   Status = "Recipe Creation"
	StatusVacuumFailure    Status = "Unable to Achieve Vacuum"
	StatusNotCooling       Status = "Freeze Dryer Not Cooling"
	StatusNotDetectingHeat Status = "Not Detecting Heat"
	StatusTimeExpired      Status = "Time Expired"
	StatusUnknown          Status = "Unknown"
)

// DefaultScreenOffset is the constant by which the screen number a device
// reports differs from the panel's nominal numbering. Verified against one
// model/firmware combination; overridable via configuration.
const DefaultScreenOffset = 1

// screenStatus maps normalized screen numbers to statuses
var screenStatus = map[int]Status{
	0:  StatusReadyToStart,
	1:  StatusLoadTrays,
	2:  StatusRotateTrays,
	3:  StatusWarmingTrays,
	4:  StatusFreezing,
	5:  StatusDryingHeating,
	6:  StatusDryingMaxTemp,
	7:  StatusExtraDryTime,
	8:  StatusBatchComplete,
	9:  StatusRemoveTrays,
	10: StatusDefrosting,
	11: StatusDefrosted,
	12: StatusSystemSetup,
	13: StatusTimeSetup,
	14: StatusFactorySetup,
	15: StatusTesting,
	16: StatusSettings,
	17: StatusRestarting,
	18: StatusPreparing,
	19: StatusSetup,
	20: StatusWelcome,
	21: StatusAuthorizing,
	22: StatusRecipeCreation,
	23: StatusVacuumFailure,
	24: StatusNotCooling,
	25: StatusNotDetectingHeat,
	26: StatusTimeExpired,
}

// Screen number sets for the derived boolean flags
var (
	runningScreens  = map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 18: true}
	freezingScreens = map[int]bool{4: true}
	dryingScreens   = map[int]bool{5: true, 6: true}
	errorScreens    = map[int]bool{23: true, 24: true, 25: true, 26: true}
)

// StatusForScreen returns the status for a normalized screen number.
// The lookup is total: numbers outside the known range yield StatusUnknown.
func StatusForScreen(screen int) Status {
	if s, ok := screenStatus[screen]; ok {
		return s
	}
	return StatusUnknown
}

// IsRunning reports whether a normalized screen number indicates an active batch
func IsRunning(screen int) bool { return runningScreens[screen] }

// IsFreezing reports whether a normalized screen number is in the freeze phase
func IsFreezing(screen int) bool { return freezingScreens[screen] }

// IsDrying reports whether a normalized screen number is in a drying phase
func IsDrying(screen int) bool { return dryingScreens[screen] }

// IsError reports whether a normalized screen number is an error screen
func IsError(screen int) bool { return errorScreens[screen] }
