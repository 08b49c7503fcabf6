// Package audit appends immutable records of state-changing actions. The
// writer exposes Append only; there is no update or delete, so the log is
// append-only by construction.
package audit

import (
	"context"
	"database/sql"
	"time"
)

// Action kinds recorded by the engine.
const (
	ActionStatusChange        = "STATUS_CHANGE"
	ActionOverrideUnfreeze    = "OVERRIDE_UNFREEZE"
	ActionCreateEvent         = "CREATE_EVENT"
	ActionUpdateEvent         = "UPDATE_EVENT"
	ActionCreateTeam          = "CREATE_TEAM"
	ActionEditTeam            = "EDIT_TEAM"
	ActionDeleteTeam          = "DELETE_TEAM"
	ActionCreateItem          = "CREATE_ITEM"
	ActionEditItem            = "EDIT_ITEM"
	ActionDeleteItem          = "DELETE_ITEM"
	ActionAssignItem          = "ASSIGN_ITEM"
	ActionUnassignItem        = "UNASSIGN_ITEM"
	ActionRespondAssignment   = "RESPOND_ASSIGNMENT"
	ActionAddPerson           = "ADD_PERSON"
	ActionRemovePerson        = "REMOVE_PERSON"
	ActionDismissConflict     = "DISMISS_CONFLICT"
	ActionReopenConflict      = "REOPEN_CONFLICT"
	ActionResolveConflict     = "RESOLVE_CONFLICT"
	ActionDelegateConflict    = "DELEGATE_CONFLICT"
	ActionAcknowledgeConflict = "ACKNOWLEDGE_CONFLICT"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry is one semantic action. A single logical operation may append
// several entries, each independently meaningful.
type Entry struct {
	EventID    string
	ActorID    string
	Action     string
	EntityKind string
	EntityID   string
	Detail     string
}

// Append writes the entry inside the caller's transaction so the record
// commits or rolls back together with the mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_entries(ts,event_id,actor_id,action,entity_kind,entity_id,detail) VALUES (?,?,?,?,?,?,?)`,
		ts, e.EventID, e.ActorID, e.Action, e.EntityKind, nullable(e.EntityID), nullable(e.Detail))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
