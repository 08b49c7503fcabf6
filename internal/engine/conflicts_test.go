package engine_test

import (
	"errors"
	"testing"

	"gatherline/internal/domain"
	"gatherline/internal/engine"
)

func seedConflict(t *testing.T, env testEnv, severity string, inputs []domain.ConflictInput) domain.Conflict {
	t.Helper()
	c, err := env.Engine.RecordConflict(env.Ctx, engine.ConflictRecordOptions{
		EventID:  "evt-1",
		Type:     "quantity.shortfall",
		Severity: severity,
		Summary:  "4 salads for 20 guests",
		Inputs:   inputs,
	})
	if err != nil {
		t.Fatalf("record conflict: %v", err)
	}
	return c
}

func TestDismissedConflictReopensOnInputDrift(t *testing.T) {
	env := newTestEnv(t)
	c := seedConflict(t, env, domain.SeveritySignificant, []domain.ConflictInput{
		{EntityKind: "event", FieldPath: "guestCount", Value: 20},
	})
	if _, err := env.Engine.DismissConflict(env.Ctx, c.ID, "host-1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	// touching a field outside the inputs keeps it dismissed
	venue := "town hall"
	if _, err := env.Engine.UpdateEventDetails(env.Ctx, engine.EventUpdateOptions{
		EventID: "evt-1", Venue: &venue, ActorID: "host-1",
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetConflict(env.Ctx, c.ID)
	if got.Status != domain.ConflictDismissed {
		t.Fatalf("venue change should not reopen, status=%s", got.Status)
	}
	// changing the snapshotted field reopens
	count := 25
	if _, err := env.Engine.UpdateEventDetails(env.Ctx, engine.EventUpdateOptions{
		EventID: "evt-1", GuestCount: &count, ActorID: "host-1",
	}); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetConflict(env.Ctx, c.ID)
	if got.Status != domain.ConflictOpen || got.DismissedAt != nil {
		t.Fatalf("expected reopened conflict, got %+v", got)
	}
	if countAudit(t, env, "REOPEN_CONFLICT") != 1 {
		t.Fatalf("expected one REOPEN_CONFLICT entry")
	}
}

func TestDismissalSnapshotUsesDismissalTimeValues(t *testing.T) {
	env := newTestEnv(t)
	// detected against 20 guests, but the count moves to 25 before dismissal
	c := seedConflict(t, env, domain.SeveritySignificant, []domain.ConflictInput{
		{EntityKind: "event", FieldPath: "guestCount", Value: 20},
	})
	count := 25
	if _, err := env.Engine.UpdateEventDetails(env.Ctx, engine.EventUpdateOptions{
		EventID: "evt-1", GuestCount: &count, ActorID: "host-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DismissConflict(env.Ctx, c.ID, "host-1"); err != nil {
		t.Fatal(err)
	}
	// re-asserting the value seen at dismissal time is not drift
	if _, err := env.Engine.UpdateEventDetails(env.Ctx, engine.EventUpdateOptions{
		EventID: "evt-1", GuestCount: &count, ActorID: "host-1",
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetConflict(env.Ctx, c.ID)
	if got.Status != domain.ConflictDismissed {
		t.Fatalf("expected dismissed, got %s", got.Status)
	}
}

func TestDismissedConflictReopensOnItemDrift(t *testing.T) {
	env := newTestEnv(t)
	_, item := seedTeamAndItem(t, env)
	c := seedConflict(t, env, domain.SeveritySignificant, []domain.ConflictInput{
		{EntityKind: "item", EntityID: &item.ID, FieldPath: "quantity", Value: 4},
	})
	if _, err := env.Engine.DismissConflict(env.Ctx, c.ID, "host-1"); err != nil {
		t.Fatal(err)
	}
	qty := 8
	if _, err := env.Engine.EditItem(env.Ctx, engine.ItemUpdateOptions{
		ItemID: item.ID, Quantity: &qty, ActorID: "host-1",
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetConflict(env.Ctx, c.ID)
	if got.Status != domain.ConflictOpen {
		t.Fatalf("expected reopened after item edit, got %s", got.Status)
	}
}

func TestDeletedInputEntityCountsAsDrift(t *testing.T) {
	env := newTestEnv(t)
	_, item := seedTeamAndItem(t, env)
	c := seedConflict(t, env, domain.SeveritySignificant, []domain.ConflictInput{
		{EntityKind: "item", EntityID: &item.ID, FieldPath: "quantity", Value: 4},
	})
	if _, err := env.Engine.DismissConflict(env.Ctx, c.ID, "host-1"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteItem(env.Ctx, item.ID, "host-1"); err != nil {
		t.Fatal(err)
	}
	reopened, err := env.Engine.RescanConflicts(env.Ctx, "evt-1", "host-1")
	if err != nil || len(reopened) != 1 || reopened[0] != c.ID {
		t.Fatalf("expected one reopened conflict, got %v %v", reopened, err)
	}
}

func TestConflictWithoutInputsNeverAutoReopens(t *testing.T) {
	env := newTestEnv(t)
	c := seedConflict(t, env, domain.SeverityAdvisory, nil)
	if _, err := env.Engine.DismissConflict(env.Ctx, c.ID, "host-1"); err != nil {
		t.Fatal(err)
	}
	count := 99
	if _, err := env.Engine.UpdateEventDetails(env.Ctx, engine.EventUpdateOptions{
		EventID: "evt-1", GuestCount: &count, ActorID: "host-1",
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetConflict(env.Ctx, c.ID)
	if got.Status != domain.ConflictDismissed {
		t.Fatalf("inputless conflict should stay dismissed, got %s", got.Status)
	}
}

func TestAcknowledgeValidation(t *testing.T) {
	env := newTestEnv(t)
	crit := seedConflict(t, env, domain.SeverityCritical, nil)
	soft := seedConflict(t, env, domain.SeverityAdvisory, nil)
	statement := "The vegan guests will have nothing to eat unless we arrange a backup dish"

	var ve engine.AckValidationError
	cases := []struct {
		name string
		rule string
		opts engine.AcknowledgeOptions
	}{
		{"not understood", "understood", engine.AcknowledgeOptions{
			ConflictID: crit.ID, ImpactStatement: statement,
			MitigationType: "ALTERNATIVE_SOURCE", Visibility: domain.VisibilityHosts, ActorID: "host-1",
		}},
		{"bad visibility", "visibility", engine.AcknowledgeOptions{
			ConflictID: crit.ID, ImpactStatement: statement, Understood: true,
			MitigationType: "ALTERNATIVE_SOURCE", Visibility: "EVERYONE", ActorID: "host-1",
		}},
		{"unknown mitigation", "mitigationType", engine.AcknowledgeOptions{
			ConflictID: crit.ID, ImpactStatement: statement, Understood: true,
			MitigationType: "WISHFUL_THINKING", Visibility: domain.VisibilityHosts, ActorID: "host-1",
		}},
		{"too short", "impactLength", engine.AcknowledgeOptions{
			ConflictID: crit.ID, ImpactStatement: "too short", Understood: true,
			MitigationType: "ALTERNATIVE_SOURCE", Visibility: domain.VisibilityHosts, ActorID: "host-1",
		}},
		{"no party or mitigation", "impactContent", engine.AcknowledgeOptions{
			ConflictID: crit.ID, ImpactStatement: "this statement is long enough but names nobody and no fix at all", Understood: true,
			MitigationType: "ALTERNATIVE_SOURCE", Visibility: domain.VisibilityHosts, ActorID: "host-1",
		}},
		{"not critical", "severity", engine.AcknowledgeOptions{
			ConflictID: soft.ID, ImpactStatement: statement, Understood: true,
			MitigationType: "ALTERNATIVE_SOURCE", Visibility: domain.VisibilityHosts, ActorID: "host-1",
		}},
	}
	for _, tc := range cases {
		_, err := env.Engine.Acknowledge(env.Ctx, tc.opts)
		if !errors.As(err, &ve) || ve.Rule != tc.rule {
			t.Fatalf("%s: expected rule %s, got %v", tc.name, tc.rule, err)
		}
	}
}

func TestAcknowledgeSupersedeChain(t *testing.T) {
	env := newTestEnv(t)
	c := seedConflict(t, env, domain.SeverityCritical, nil)
	statement := "Guests with allergies are exposed; we will purchase a certified substitute"

	first, err := env.Engine.Acknowledge(env.Ctx, engine.AcknowledgeOptions{
		ConflictID: c.ID, ImpactStatement: statement, Understood: true,
		MitigationType: "ALTERNATIVE_SOURCE", Visibility: domain.VisibilityHosts, ActorID: "host-1",
	})
	if err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if first.Status != domain.AckActive || first.SupersedesID != nil {
		t.Fatalf("unexpected first ack: %+v", first)
	}
	got, _ := env.Engine.Repo.GetConflict(env.Ctx, c.ID)
	if got.Status != domain.ConflictAcknowledged {
		t.Fatalf("conflict should be acknowledged, got %s", got.Status)
	}

	second, err := env.Engine.Acknowledge(env.Ctx, engine.AcknowledgeOptions{
		ConflictID: c.ID, ImpactStatement: statement, Understood: true,
		MitigationType: "REDUCE_SCOPE", Visibility: domain.VisibilityCoordinators, ActorID: "host-1",
	})
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if second.SupersedesID == nil || *second.SupersedesID != first.ID {
		t.Fatalf("second ack should supersede first: %+v", second)
	}
	acks, err := env.Engine.Repo.ListAcknowledgements(env.Ctx, c.ID)
	if err != nil || len(acks) != 2 {
		t.Fatalf("expected 2 acks, got %d %v", len(acks), err)
	}
	active := 0
	for _, a := range acks {
		if a.Status == domain.AckActive {
			active++
			if a.ID != second.ID {
				t.Fatalf("wrong active ack: %s", a.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active ack, got %d", active)
	}
}

func TestManualReopenClearsDismissal(t *testing.T) {
	env := newTestEnv(t)
	c := seedConflict(t, env, domain.SeveritySignificant, []domain.ConflictInput{
		{EntityKind: "event", FieldPath: "guestCount", Value: 20},
	})
	if _, err := env.Engine.DismissConflict(env.Ctx, c.ID, "host-1"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.ReopenConflict(env.Ctx, c.ID, "host-1")
	if err != nil || got.Status != domain.ConflictOpen || got.DismissedAt != nil {
		t.Fatalf("reopen: %+v %v", got, err)
	}
	stored, _ := env.Engine.Repo.GetConflict(env.Ctx, c.ID)
	if stored.DismissedAt != nil {
		t.Fatalf("dismissed_at should be cleared")
	}
}
