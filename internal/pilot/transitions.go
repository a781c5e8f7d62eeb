package pilot

import (
	"fmt"

	"github.com/source-vetting/internal/models"
)

// transitions lists the allowed next states for every lifecycle state.
// Nothing leads back to SUBMITTED.
var transitions = map[models.Status][]models.Status{
	models.StatusSubmitted: {
		models.StatusValidating,
		models.StatusRejected, // withdrawn before validation
	},
	models.StatusValidating: {
		models.StatusRejected,
		models.StatusManualReviewPending,
		models.StatusApprovedForPilot,
	},
	models.StatusManualReviewPending: {
		models.StatusApprovedForPilot,
		models.StatusRejected,
	},
	models.StatusApprovedForPilot: {
		models.StatusPilotActive,
	},
	models.StatusPilotActive: {
		models.StatusPilotEvaluation,
	},
	models.StatusPilotEvaluation: {
		models.StatusApprovedForProduction,
		models.StatusPilotExtended,
		models.StatusRejected,
		models.StatusPilotActive, // evaluation deferred for insufficient data
	},
	models.StatusPilotExtended: {
		models.StatusPilotActive,
	},
	models.StatusApprovedForProduction: {
		models.StatusProductionActive,
	},
	models.StatusProductionActive: {
		models.StatusSuspended,
	},
	models.StatusRejected: {
		models.StatusDeprecated,
	},
}

// CanTransition reports whether the lifecycle allows moving from one state to another
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable in one step from s
func NextStates(s models.Status) []models.Status {
	return append([]models.Status(nil), transitions[s]...)
}

// step is one status change applied as part of a transition chain
type step struct {
	from, to models.Status
}

// chain builds the consecutive steps from → via... and validates each of them
func chain(from models.Status, to ...models.Status) ([]step, error) {
	steps := make([]step, 0, len(to))
	cur := from
	for _, next := range to {
		if !CanTransition(cur, next) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
		}
		steps = append(steps, step{from: cur, to: next})
		cur = next
	}
	return steps, nil
}
