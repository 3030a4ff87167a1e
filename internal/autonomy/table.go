package autonomy

import "github.com/lazypower/aide/internal/domain"

// baseLevels is the static per-action default. Unlisted actions default to confirm_simple.
var baseLevels = map[string]domain.AutonomyLevel{
	// read-only
	"getWeather":        domain.LevelAutoApprove,
	"getTime":           domain.LevelAutoApprove,
	"getCalendarEvents": domain.LevelAutoApprove,
	"searchMemory":      domain.LevelAutoApprove,
	"getDeviceState":    domain.LevelAutoApprove,
	"recall":            domain.LevelAutoApprove,

	// low impact, local
	"setTimer":      domain.LevelAnnounce,
	"setReminder":   domain.LevelAnnounce,
	"turnOnLights":  domain.LevelAnnounce,
	"turnOffLights": domain.LevelAnnounce,
	"setBrightness": domain.LevelAnnounce,
	"remember":      domain.LevelAnnounce,

	"playMusic":           domain.LevelConfirmSimple,
	"setVolume":           domain.LevelConfirmSimple,
	"setThermostat":       domain.LevelConfirmSimple,
	"createCalendarEvent": domain.LevelConfirmSimple,
	"announce":            domain.LevelConfirmSimple,

	// external or irreversible
	"sendMessage":         domain.LevelConfirmDetailed,
	"sendEmail":           domain.LevelConfirmDetailed,
	"unlockDoor":          domain.LevelConfirmDetailed,
	"deleteCalendarEvent": domain.LevelConfirmDetailed,
	"makePurchase":        domain.LevelConfirmDetailed,
	"deleteMemory":        domain.LevelConfirmDetailed,
}

// noisyActions make sound and are gated in focus and dnd modes.
var noisyActions = map[string]bool{
	"playMusic": true,
	"announce":  true,
	"setVolume": true,
}

// nightActions escalate from announce to confirm_simple at night.
var nightActions = map[string]bool{
	"setTimer":      true,
	"setReminder":   true,
	"turnOnLights":  true,
	"turnOffLights": true,
	"setBrightness": true,
	"playMusic":     true,
	"setVolume":     true,
	"announce":      true,
}

// BaseLevel returns the static default for an action.
func BaseLevel(action string) domain.AutonomyLevel {
	if l, ok := baseLevels[action]; ok {
		return l
	}
	return domain.LevelConfirmSimple
}
