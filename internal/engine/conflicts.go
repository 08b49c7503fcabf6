package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gatherline/internal/audit"
	"gatherline/internal/domain"
	"gatherline/internal/repo"
)

// ConflictRecordOptions carries a finding produced by an external detector.
type ConflictRecordOptions struct {
	ID       string
	EventID  string
	Type     string
	Severity string
	Summary  string
	Inputs   []domain.ConflictInput
}

// RecordConflict stores a detected finding as OPEN. Detection itself happens
// elsewhere; the engine only owns the finding's lifecycle, so no audit entry
// is written here.
func (e Engine) RecordConflict(ctx context.Context, opts ConflictRecordOptions) (domain.Conflict, error) {
	switch opts.Severity {
	case domain.SeverityCritical, domain.SeveritySignificant, domain.SeverityAdvisory:
	default:
		return domain.Conflict{}, fmt.Errorf("invalid severity %q", opts.Severity)
	}
	if e.Config != nil && len(e.Config.Conflicts.Types) > 0 {
		if _, ok := e.Config.Conflicts.Types[opts.Type]; !ok {
			return domain.Conflict{}, fmt.Errorf("unknown conflict type %q", opts.Type)
		}
	}
	for _, in := range opts.Inputs {
		switch in.EntityKind {
		case "event", "item", "team":
		default:
			return domain.Conflict{}, fmt.Errorf("invalid input entity kind %q", in.EntityKind)
		}
		if in.FieldPath == "" {
			return domain.Conflict{}, errors.New("input field path is required")
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conflict{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetEventTx(ctx, tx, opts.EventID); err != nil {
		return domain.Conflict{}, err
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	c := domain.Conflict{
		ID:         id,
		EventID:    opts.EventID,
		Type:       opts.Type,
		Severity:   opts.Severity,
		Status:     domain.ConflictOpen,
		Summary:    opts.Summary,
		Inputs:     opts.Inputs,
		DetectedAt: now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertConflictTx(ctx, tx, c); err != nil {
		return domain.Conflict{}, fmt.Errorf("insert conflict: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Conflict{}, err
	}
	return c, nil
}

// DismissConflict marks a finding DISMISSED and freezes a snapshot of its
// input values. Any later drift of those values reopens the finding.
func (e Engine) DismissConflict(ctx context.Context, conflictID, actorID string) (domain.Conflict, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conflict{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetConflictTx(ctx, tx, conflictID)
	if err != nil {
		return c, err
	}
	if c.Status == domain.ConflictDismissed {
		return c, nil
	}
	if c.Status == domain.ConflictResolved {
		return c, fmt.Errorf("conflict %s is already resolved", c.ID)
	}
	now := e.nowString()
	// Re-snapshot the inputs so drift is measured against the state the
	// dismisser saw, not the state at detection time.
	for i, in := range c.Inputs {
		v, _, err := e.resolveInput(ctx, tx, c.EventID, in)
		if err != nil {
			return c, err
		}
		c.Inputs[i].Value = v
	}
	if err := e.Repo.ResetConflictInputsTx(ctx, tx, c.ID, c.Inputs, now); err != nil {
		return c, err
	}
	if err := e.Repo.UpdateConflictStatusTx(ctx, tx, c.ID, domain.ConflictDismissed, &now, now); err != nil {
		return c, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: c.EventID, ActorID: actorID, Action: audit.ActionDismissConflict,
		EntityKind: "conflict", EntityID: c.ID, Detail: c.Type,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	c.Status = domain.ConflictDismissed
	c.DismissedAt = &now
	c.UpdatedAt = now
	return c, nil
}

func (e Engine) ResolveConflict(ctx context.Context, conflictID, actorID string) (domain.Conflict, error) {
	return e.setConflictStatus(ctx, conflictID, domain.ConflictResolved, audit.ActionResolveConflict, actorID)
}

func (e Engine) DelegateConflict(ctx context.Context, conflictID, actorID string) (domain.Conflict, error) {
	return e.setConflictStatus(ctx, conflictID, domain.ConflictDelegated, audit.ActionDelegateConflict, actorID)
}

// ReopenConflict manually returns a finding to OPEN, clearing any dismissal
// snapshot timestamp.
func (e Engine) ReopenConflict(ctx context.Context, conflictID, actorID string) (domain.Conflict, error) {
	return e.setConflictStatus(ctx, conflictID, domain.ConflictOpen, audit.ActionReopenConflict, actorID)
}

func (e Engine) setConflictStatus(ctx context.Context, conflictID, status, action, actorID string) (domain.Conflict, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conflict{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetConflictTx(ctx, tx, conflictID)
	if err != nil {
		return c, err
	}
	if c.Status == status {
		return c, nil
	}
	now := e.nowString()
	if err := e.Repo.UpdateConflictStatusTx(ctx, tx, c.ID, status, nil, now); err != nil {
		return c, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: c.EventID, ActorID: actorID, Action: action,
		EntityKind: "conflict", EntityID: c.ID, Detail: c.Type,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	c.Status = status
	c.DismissedAt = nil
	c.UpdatedAt = now
	return c, nil
}

// AcknowledgeOptions is a host's formal acceptance of a critical finding.
type AcknowledgeOptions struct {
	ConflictID      string
	ImpactStatement string
	Understood      bool
	MitigationType  string
	Visibility      string
	ActorID         string
}

// Acknowledge records a new ACTIVE acknowledgement for a CRITICAL conflict,
// supersedes the previous one if present, and moves the conflict to
// ACKNOWLEDGED. Validation failures carry the rule that rejected them.
func (e Engine) Acknowledge(ctx context.Context, opts AcknowledgeOptions) (domain.Acknowledgement, error) {
	if !opts.Understood {
		return domain.Acknowledgement{}, AckValidationError{Rule: "understood", Message: "acknowledgement requires an explicit understood confirmation"}
	}
	switch opts.Visibility {
	case domain.VisibilityHosts, domain.VisibilityCoordinators, domain.VisibilityParticipants:
	default:
		return domain.Acknowledgement{}, AckValidationError{Rule: "visibility", Message: fmt.Sprintf("invalid visibility %q", opts.Visibility)}
	}
	if e.Config == nil || !e.Config.HasMitigationType(opts.MitigationType) {
		return domain.Acknowledgement{}, AckValidationError{Rule: "mitigationType", Message: fmt.Sprintf("mitigation type %q is not in the catalog", opts.MitigationType)}
	}
	if err := e.checkImpactStatement(opts.ImpactStatement); err != nil {
		return domain.Acknowledgement{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Acknowledgement{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetConflictTx(ctx, tx, opts.ConflictID)
	if err != nil {
		return domain.Acknowledgement{}, err
	}
	if c.Severity != domain.SeverityCritical {
		return domain.Acknowledgement{}, AckValidationError{Rule: "severity", Message: "only CRITICAL conflicts take acknowledgements"}
	}
	now := e.nowString()
	a := domain.Acknowledgement{
		ID:              uuid.New().String(),
		ConflictID:      c.ID,
		Status:          domain.AckActive,
		ImpactStatement: opts.ImpactStatement,
		Understood:      opts.Understood,
		MitigationType:  opts.MitigationType,
		Visibility:      opts.Visibility,
		CreatedBy:       opts.ActorID,
		CreatedAt:       now,
	}
	prev, err := e.Repo.ActiveAcknowledgementTx(ctx, tx, c.ID)
	switch {
	case err == nil:
		if err := e.Repo.SupersedeAcknowledgementTx(ctx, tx, prev.ID); err != nil {
			return domain.Acknowledgement{}, err
		}
		a.SupersedesID = &prev.ID
	case errors.Is(err, repo.ErrNotFound):
	default:
		return domain.Acknowledgement{}, err
	}
	if err := e.Repo.InsertAcknowledgementTx(ctx, tx, a); err != nil {
		return domain.Acknowledgement{}, fmt.Errorf("insert acknowledgement: %w", err)
	}
	if c.Status != domain.ConflictAcknowledged {
		if err := e.Repo.UpdateConflictStatusTx(ctx, tx, c.ID, domain.ConflictAcknowledged, nil, now); err != nil {
			return domain.Acknowledgement{}, err
		}
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: c.EventID, ActorID: opts.ActorID, Action: audit.ActionAcknowledgeConflict,
		EntityKind: "conflict", EntityID: c.ID, Detail: opts.MitigationType,
	}); err != nil {
		return domain.Acknowledgement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Acknowledgement{}, err
	}
	return a, nil
}

// checkImpactStatement enforces length plus a keyword heuristic: the text has
// to mention either an affected party or a mitigation action.
func (e Engine) checkImpactStatement(s string) error {
	min := 40
	if e.Config != nil && e.Config.Acknowledgement.MinImpactLength > 0 {
		min = e.Config.Acknowledgement.MinImpactLength
	}
	if len(strings.TrimSpace(s)) < min {
		return AckValidationError{Rule: "impactLength", Message: fmt.Sprintf("impact statement must be at least %d characters", min)}
	}
	if e.Config == nil {
		return nil
	}
	lower := strings.ToLower(s)
	for _, kw := range e.Config.Acknowledgement.PartyKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return nil
		}
	}
	for _, kw := range e.Config.Acknowledgement.MitigationKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return nil
		}
	}
	return AckValidationError{Rule: "impactContent", Message: "impact statement must name an affected party or a mitigation"}
}

// RescanConflicts reevaluates every dismissed conflict of an event against
// current data and reopens the ones whose inputs drifted. Mutating
// operations run the same scan inside their own transactions; this entry
// point exists for external callers and the CLI.
func (e Engine) RescanConflicts(ctx context.Context, eventID, actorID string) ([]string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetEventTx(ctx, tx, eventID); err != nil {
		return nil, err
	}
	reopened, err := e.reevaluateDismissed(ctx, tx, eventID, actorID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return reopened, nil
}

// reevaluateDismissed walks dismissed conflicts and reopens any whose input
// snapshot no longer matches the stored data. A conflict with no inputs is
// never reopened automatically. A missing entity or field counts as drift.
func (e Engine) reevaluateDismissed(ctx context.Context, tx *sql.Tx, eventID, actorID string) ([]string, error) {
	dismissed, err := e.Repo.ListDismissedConflictsTx(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	var reopened []string
	for _, c := range dismissed {
		if len(c.Inputs) == 0 {
			continue
		}
		drifted := false
		var cause domain.ConflictInput
		var current any
		for _, in := range c.Inputs {
			v, found, err := e.resolveInput(ctx, tx, c.EventID, in)
			if err != nil {
				return nil, err
			}
			if !found || !jsonEqual(in.Value, v) {
				drifted, cause, current = true, in, v
				break
			}
		}
		if !drifted {
			continue
		}
		now := e.nowString()
		if err := e.Repo.UpdateConflictStatusTx(ctx, tx, c.ID, domain.ConflictOpen, nil, now); err != nil {
			return nil, err
		}
		if err := e.appendAudit(ctx, tx, audit.Entry{
			EventID: c.EventID, ActorID: actorID, Action: audit.ActionReopenConflict,
			EntityKind: "conflict", EntityID: c.ID,
			Detail: fmt.Sprintf("%s %s changed", cause.EntityKind, cause.FieldPath),
		}); err != nil {
			return nil, err
		}
		e.logger().Printf("conflict %s reopened: %s %s changed %v -> %v",
			c.ID, cause.EntityKind, cause.FieldPath, cause.Value, current)
		reopened = append(reopened, c.ID)
	}
	return reopened, nil
}

// resolveInput reads the current value behind an input tuple. The bool is
// false when the entity no longer exists or the path misses.
func (e Engine) resolveInput(ctx context.Context, tx *sql.Tx, eventID string, in domain.ConflictInput) (any, bool, error) {
	var fields map[string]any
	switch in.EntityKind {
	case "event":
		id := eventID
		if in.EntityID != nil {
			id = *in.EntityID
		}
		ev, err := e.Repo.GetEventTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		fields = eventFields(ev)
	case "item":
		if in.EntityID == nil {
			return nil, false, nil
		}
		it, err := e.Repo.GetItemTx(ctx, tx, *in.EntityID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		fields = itemFields(it)
	case "team":
		if in.EntityID == nil {
			return nil, false, nil
		}
		t, err := e.Repo.GetTeamTx(ctx, tx, *in.EntityID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		fields = teamFields(t)
	default:
		return nil, false, fmt.Errorf("unknown input entity kind %q", in.EntityKind)
	}
	return walkPath(fields, in.FieldPath)
}

func eventFields(ev domain.Event) map[string]any {
	dietary := map[string]any{}
	for k, v := range ev.Dietary {
		dietary[k] = v
	}
	return map[string]any{
		"title":      ev.Title,
		"status":     ev.Status,
		"guestCount": ev.GuestCount,
		"venue":      ev.Venue,
		"dietary":    dietary,
		"equipment":  ev.Equipment,
	}
}

func itemFields(it domain.Item) map[string]any {
	f := map[string]any{
		"name":     it.Name,
		"category": it.Category,
		"quantity": it.Quantity,
		"critical": it.Critical,
		"status":   it.Status,
	}
	if it.DueAt != nil {
		f["dueAt"] = *it.DueAt
	}
	return f
}

func teamFields(t domain.Team) map[string]any {
	f := map[string]any{
		"name": t.Name,
	}
	if t.CoordinatorID != nil {
		f["coordinatorId"] = *t.CoordinatorID
	}
	return f
}

// walkPath descends a dotted field path through nested maps.
func walkPath(fields map[string]any, path string) (any, bool, error) {
	cur := any(fields)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		cur, ok = m[part]
		if !ok {
			return nil, false, nil
		}
	}
	return cur, true, nil
}

// jsonEqual compares two values by their JSON form, which normalizes the
// numeric types that differ between a stored snapshot and a live read.
func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}
