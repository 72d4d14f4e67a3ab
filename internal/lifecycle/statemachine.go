package lifecycle

import (
	"errors"
	"fmt"

	"liveclass-service/internal/models"
)

// Trigger identifies which of the three racing sources of truth asked
// for a transition.
type Trigger string

const (
	TriggerWebhook  Trigger = "webhook"
	TriggerPoll     Trigger = "poll"
	TriggerOperator Trigger = "operator"
)

var ErrInvalidTransition = errors.New("invalid session transition")

// allowedTransitions encodes the session lifecycle:
// Scheduled -> Live -> Completed, with Cancelled reachable from any
// non-terminal state. Completed and Cancelled are absorbing.
var allowedTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionScheduled: {models.SessionLive, models.SessionCompleted, models.SessionCancelled},
	models.SessionLive:      {models.SessionCompleted, models.SessionCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to models.SessionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome of planning a transition against the current state.
type Outcome int

const (
	// OutcomeApply means the transition is legal and should be attempted
	// as a conditional update with the observed state as guard.
	OutcomeApply Outcome = iota
	// OutcomeNoop means the session is already at (or beyond) the target;
	// the trigger is a duplicate or late event and is silently absorbed.
	OutcomeNoop
	// OutcomeReject means the transition is illegal from the current
	// state and the trigger is reporting something inconsistent.
	OutcomeReject
)

// Plan decides how a requested transition relates to the observed state.
// It is pure so the compare-and-set discipline can be tested away from
// any storage.
func Plan(current, target models.SessionStatus) Outcome {
	if current == target {
		return OutcomeNoop
	}
	if current.IsTerminal() {
		// Late duplicates against a finished session are expected with
		// three independent triggers; never an error, never a regression.
		return OutcomeNoop
	}
	if CanTransition(current, target) {
		return OutcomeApply
	}
	return OutcomeReject
}

// TargetForEvent maps a provider webhook event type onto the lifecycle
// state it implies. Informational events map to no transition.
func TargetForEvent(eventType string) (models.SessionStatus, bool) {
	switch eventType {
	case models.EventSessionStarted:
		return models.SessionLive, true
	case models.EventSessionEnded:
		return models.SessionCompleted, true
	default:
		return "", false
	}
}

func rejectError(current, target models.SessionStatus, trigger Trigger) error {
	return fmt.Errorf("%w: %s -> %s (trigger %s)", ErrInvalidTransition, current, target, trigger)
}
