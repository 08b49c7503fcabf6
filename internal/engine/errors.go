package engine

import "fmt"

// OverrideReasonError means an unfreeze was attempted without the required
// human-supplied reason. Nothing is written when this is returned.
type OverrideReasonError struct{}

func (OverrideReasonError) Error() string {
	return "unfreezing requires a reason"
}

// FreezeGateError means the freeze readiness gate found gaps.
type FreezeGateError struct {
	Unassigned int
	Declined   int
}

func (e FreezeGateError) Error() string {
	return fmt.Sprintf("event is not ready to freeze: %d items unassigned, %d declined", e.Unassigned, e.Declined)
}

// RepairError means the denormalized item status could not be recomputed,
// typically because the item vanished mid-transaction. The whole transaction
// is rolled back when this is returned.
type RepairError struct {
	ItemID string
}

func (e RepairError) Error() string {
	return fmt.Sprintf("consistency repair failed: item %s no longer exists", e.ItemID)
}

// AckValidationError reports which acknowledgement rule was violated.
type AckValidationError struct {
	Rule    string
	Message string
}

func (e AckValidationError) Error() string {
	return fmt.Sprintf("acknowledgement invalid (%s): %s", e.Rule, e.Message)
}
