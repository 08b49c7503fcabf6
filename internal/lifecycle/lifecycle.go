// Package lifecycle holds the pure permission checks of the engine: the
// event status graph and the mutation gate. Neither performs I/O.
package lifecycle

import (
	"fmt"

	"gatherline/internal/domain"
)

// Action tags the mutation kinds subject to the gate.
type Action string

const (
	ActionCreateItem   Action = "createItem"
	ActionEditItem     Action = "editItem"
	ActionDeleteItem   Action = "deleteItem"
	ActionAssignItem   Action = "assignItem"
	ActionAddPerson    Action = "addPerson"
	ActionRemovePerson Action = "removePerson"

	// Team mutations follow the same stage rules as the item actions above.
	ActionCreateTeam Action = "createTeam"
	ActionEditTeam   Action = "editTeam"
	ActionDeleteTeam Action = "deleteTeam"

	// ActionUpdateEvent is outside the stage gate: detail edits stay legal
	// while FROZEN because they record reality (guest count, dietary needs)
	// rather than restructure the plan, and the dismissal rescan depends on
	// them landing. Only COMPLETE denies it, and the engine checks that
	// directly.
	ActionUpdateEvent Action = "updateEvent"
)

// TransitionError reports a lifecycle move not present in the status graph.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	if e.From == domain.StatusComplete {
		return fmt.Sprintf("event is COMPLETE; no further transitions are allowed (requested %s)", e.To)
	}
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// MutationError reports a gate denial for an action in the current stage.
type MutationError struct {
	Stage  string
	Action Action
}

func (e MutationError) Error() string {
	if e.Stage == domain.StatusConfirming && e.Action == ActionDeleteItem {
		return fmt.Sprintf("%s not permitted in stage %s: critical items cannot be deleted while confirming", e.Action, e.Stage)
	}
	return fmt.Sprintf("%s not permitted in stage %s", e.Action, e.Stage)
}

// transitions is the fixed adjacency table. A stage maps to the set of
// stages it may move to. COMPLETE maps to nothing: it is terminal with no
// exceptions, including COMPLETE -> COMPLETE.
var transitions = map[string]map[string]bool{
	domain.StatusDraft: {
		domain.StatusConfirming: true,
	},
	domain.StatusConfirming: {
		domain.StatusFrozen: true,
	},
	domain.StatusFrozen: {
		domain.StatusConfirming: true,
		domain.StatusComplete:   true,
	},
	domain.StatusComplete: {},
}

// CanTransition reports whether from -> to is an edge of the status graph.
// A no-op from == to is legal only for stages that still have an outgoing
// edge, so COMPLETE rejects even COMPLETE -> COMPLETE. Callers are
// responsible for the freeze readiness check on CONFIRMING -> FROZEN and for
// requiring an override reason on FROZEN -> CONFIRMING; those need data the
// graph does not have.
func CanTransition(from, to string) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	if from == to {
		return len(targets) > 0
	}
	return targets[to]
}

// CheckTransition returns a TransitionError when the move is not legal.
func CheckTransition(from, to string) error {
	if !CanTransition(from, to) {
		return TransitionError{From: from, To: to}
	}
	return nil
}

// CanMutate reports whether an action is permitted in the given stage.
// critical only matters for deleteItem. Rules, in precedence order:
// COMPLETE denies everything, FROZEN denies everything, CONFIRMING denies
// deleting critical items, DRAFT allows everything.
func CanMutate(stage string, action Action, critical bool) bool {
	switch stage {
	case domain.StatusComplete, domain.StatusFrozen:
		return false
	case domain.StatusConfirming:
		if action == ActionDeleteItem && critical {
			return false
		}
		return true
	case domain.StatusDraft:
		return true
	default:
		return false
	}
}

// CheckMutation returns a MutationError when the gate denies the action.
func CheckMutation(stage string, action Action, critical bool) error {
	if !CanMutate(stage, action, critical) {
		return MutationError{Stage: stage, Action: action}
	}
	return nil
}
