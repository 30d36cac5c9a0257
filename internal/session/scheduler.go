package session

import (
	"time"

	"github.com/livecap/livecapd/internal/config"
	"github.com/livecap/livecapd/internal/engine"
)

// Trigger identifies why a restart decision is being requested.
type Trigger int

const (
	TriggerEnded Trigger = iota
	TriggerError
	TriggerActivityTimeout
	TriggerPeriodicRefresh
	TriggerVisibilityRestored
)

func (t Trigger) String() string {
	switch t {
	case TriggerEnded:
		return "ended"
	case TriggerError:
		return "error"
	case TriggerActivityTimeout:
		return "activity-timeout"
	case TriggerPeriodicRefresh:
		return "periodic-refresh"
	case TriggerVisibilityRestored:
		return "visibility-restored"
	default:
		return "unknown"
	}
}

// Action is the outcome class of a restart decision.
type Action int

const (
	// ActionNone leaves the session as it is; no timer is armed.
	ActionNone Action = iota
	// ActionRestart resumes recognition, optionally after Delay and
	// optionally recreating the engine instance first.
	ActionRestart
	// ActionStop ends the session permanently; only permission-class
	// errors produce it.
	ActionStop
)

// Decision is what the scheduler tells the controller to do.
type Decision struct {
	Action   Action
	Delay    time.Duration
	Recreate bool
}

// Policy holds the restart tuning. Backoff grows linearly with the
// consecutive-failure count and is capped low: the failure mode being guarded
// against is a restart storm against a rate-limited service, and the counter
// resets on any successful start.
type Policy struct {
	BaseEndDelay      time.Duration
	EndDelayCap       time.Duration
	BaseErrorDelay    time.Duration
	ErrorDelayCap     time.Duration
	RecreateThreshold int
}

func DefaultPolicy() Policy {
	return Policy{
		BaseEndDelay:      500 * time.Millisecond,
		EndDelayCap:       3 * time.Second,
		BaseErrorDelay:    time.Second,
		ErrorDelayCap:     5 * time.Second,
		RecreateThreshold: 5,
	}
}

func PolicyFromConfig(cfg config.SessionConfig) Policy {
	return Policy{
		BaseEndDelay:      time.Duration(cfg.BaseEndDelayMS) * time.Millisecond,
		EndDelayCap:       time.Duration(cfg.EndDelayCapMS) * time.Millisecond,
		BaseErrorDelay:    time.Duration(cfg.BaseErrorDelayMS) * time.Millisecond,
		ErrorDelayCap:     time.Duration(cfg.ErrorDelayCapMS) * time.Millisecond,
		RecreateThreshold: cfg.RecreateThreshold,
	}
}

// Decide maps a trigger onto a restart decision. It is a pure function of
// its inputs; the controller owns all state.
func (p Policy) Decide(trigger Trigger, errorKind string, failures int, listening, autoRestart bool) Decision {
	if !listening {
		return Decision{Action: ActionNone}
	}

	switch trigger {
	case TriggerEnded:
		if !autoRestart {
			return Decision{Action: ActionNone}
		}
		return Decision{Action: ActionRestart, Delay: backoff(p.BaseEndDelay, p.EndDelayCap, failures)}

	case TriggerError:
		if engine.Classify(errorKind) == engine.ClassPermission {
			return Decision{Action: ActionStop}
		}
		if !autoRestart {
			return Decision{Action: ActionNone}
		}
		// The current error counts toward the recreate threshold; the
		// backoff delay uses the count of completed cycles.
		return Decision{
			Action:   ActionRestart,
			Delay:    backoff(p.BaseErrorDelay, p.ErrorDelayCap, failures),
			Recreate: failures+1 > p.RecreateThreshold,
		}

	case TriggerActivityTimeout, TriggerPeriodicRefresh:
		return Decision{Action: ActionRestart, Recreate: true}

	case TriggerVisibilityRestored:
		return Decision{Action: ActionRestart}
	}

	return Decision{Action: ActionNone}
}

func backoff(base, cap time.Duration, failures int) time.Duration {
	d := base * time.Duration(failures+1)
	if d > cap {
		return cap
	}
	return d
}
