package engine

import (
	"time"
)

// EventType captures lifecycle notifications emitted by the launch manager
// and its reaper.
type EventType string

const (
	EventTypeLaunched     EventType = "launched"
	EventTypeLaunchFailed EventType = "launch_failed"
	EventTypeStopping     EventType = "stopping"
	EventTypeKilled       EventType = "killed"
	EventTypeEscalated    EventType = "escalated"
	EventTypeExited       EventType = "exited"
	EventTypeBoot         EventType = "boot"
	EventTypeGagged       EventType = "gagged"
	EventTypeUngagged     EventType = "ungagged"
	EventTypeDrained      EventType = "drained"
)

// Event represents a single lifecycle notification.
type Event struct {
	Timestamp time.Time
	Product   string
	App       string
	PID       int
	Level     int
	Type      EventType
	Outcome   Outcome
	Message   string
	Reason    string
	Err       error
}

const (
	ReasonUntracked    = "untracked"
	ReasonUndiscovered = "pid_not_discovered"
	ReasonGagged       = "launching_disabled"
	ReasonCooperative  = "cooperative"
	ReasonForced       = "forced"
	ReasonSelfExit     = "self_exit"
	ReasonGraceExpired = "grace_expired"
	ReasonStartup      = "startup"
	ReasonOneShot      = "one_shot"
	ReasonShutdown     = "shutdown"
)

// sendEvent never blocks; events are dropped when the consumer falls behind.
func sendEvent(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case events <- ev:
	default:
	}
}
