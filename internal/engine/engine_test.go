package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatherline/internal/config"
	"gatherline/internal/db"
	"gatherline/internal/domain"
	"gatherline/internal/engine"
	"gatherline/internal/lifecycle"
	"gatherline/internal/migrate"
	"gatherline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("evt-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateEvent(ctx, engine.EventCreateOptions{
		ID:         "evt-1",
		Title:      "Summer picnic",
		GuestCount: 20,
		Venue:      "riverside park",
		HostID:     "host-1",
		ActorID:    "host-1",
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func seedTeamAndItem(t *testing.T, env testEnv) (domain.Team, domain.Item) {
	t.Helper()
	team, err := env.Engine.CreateTeam(env.Ctx, engine.TeamCreateOptions{
		EventID: "evt-1", Name: "Food", ActorID: "host-1",
	})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	item, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{
		TeamID: team.ID, Name: "Salad", Quantity: 4, ActorID: "host-1",
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return team, item
}

func countAudit(t *testing.T, env testEnv, action string) int {
	t.Helper()
	row := env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM audit_entries WHERE action = ?`, action)
	var n int
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	ev, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusConfirming, "", "host-1")
	if err != nil || ev.Status != domain.StatusConfirming {
		t.Fatalf("to confirming: %v", err)
	}
	// skipping a stage is rejected
	_, err = env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusComplete, "", "host-1")
	var te lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected transition error, got %v", err)
	}
	// same-status transition is accepted without writing anything
	before := countAudit(t, env, "STATUS_CHANGE")
	if _, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusConfirming, "", "host-1"); err != nil {
		t.Fatalf("idempotent transition: %v", err)
	}
	if got := countAudit(t, env, "STATUS_CHANGE"); got != before {
		t.Fatalf("idempotent transition wrote audit: %d -> %d", before, got)
	}
}

func TestCompleteRejectsFurtherRequests(t *testing.T) {
	env := newTestEnv(t)
	for _, to := range []string{domain.StatusConfirming, domain.StatusFrozen, domain.StatusComplete} {
		if _, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", to, "", "host-1"); err != nil {
			t.Fatalf("to %s: %v", to, err)
		}
	}
	// COMPLETE is terminal with no idempotent exception: even another
	// COMPLETE request is rejected, and nothing is written.
	before := countAudit(t, env, "STATUS_CHANGE")
	var te lifecycle.TransitionError
	for _, to := range []string{domain.StatusDraft, domain.StatusConfirming, domain.StatusFrozen, domain.StatusComplete} {
		_, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", to, "", "host-1")
		if !errors.As(err, &te) {
			t.Fatalf("COMPLETE -> %s: expected transition error, got %v", to, err)
		}
	}
	if got := countAudit(t, env, "STATUS_CHANGE"); got != before {
		t.Fatalf("rejected transitions wrote audit: %d -> %d", before, got)
	}
	// detail edits are denied as a mutation, not as a transition
	title := "Autumn picnic"
	_, err := env.Engine.UpdateEventDetails(env.Ctx, engine.EventUpdateOptions{EventID: "evt-1", Title: &title, ActorID: "host-1"})
	var me lifecycle.MutationError
	if !errors.As(err, &me) || me.Stage != domain.StatusComplete {
		t.Fatalf("expected mutation error editing a COMPLETE event, got %v", err)
	}
}

func TestAuditTimestampsFollowEngineClock(t *testing.T) {
	env := newTestEnv(t)
	seedTeamAndItem(t, env)
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT ts FROM audit_entries`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			t.Fatal(err)
		}
		if ts != "2026-06-01T12:00:00Z" {
			t.Fatalf("audit entry not on the test clock: %s", ts)
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestFreezeGate(t *testing.T) {
	env := newTestEnv(t)
	_, item := seedTeamAndItem(t, env)
	if _, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusConfirming, "", "host-1"); err != nil {
		t.Fatal(err)
	}
	// unassigned item blocks the freeze
	_, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusFrozen, "", "host-1")
	var fg engine.FreezeGateError
	if !errors.As(err, &fg) || fg.Unassigned != 1 {
		t.Fatalf("expected freeze gate with 1 unassigned, got %v", err)
	}
	if _, err := env.Engine.AddPerson(env.Ctx, engine.PersonAddOptions{
		EventID: "evt-1", PersonID: "p-1", Role: domain.RoleParticipant, ActorID: "host-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignItem(env.Ctx, item.ID, "p-1", "host-1"); err != nil {
		t.Fatal(err)
	}
	// a declined assignment blocks too
	if _, err := env.Engine.RespondAssignment(env.Ctx, item.ID, "p-1", domain.ResponseDeclined, "p-1"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusFrozen, "", "host-1")
	if !errors.As(err, &fg) || fg.Declined != 1 || fg.Unassigned != 0 {
		t.Fatalf("expected freeze gate with 1 declined, got %v", err)
	}
	if _, err := env.Engine.RespondAssignment(env.Ctx, item.ID, "p-1", domain.ResponseAccepted, "p-1"); err != nil {
		t.Fatal(err)
	}
	ready, err := env.Engine.FreezeReadiness(env.Ctx, "evt-1")
	if err != nil || !ready.Ready {
		t.Fatalf("expected ready, got %+v %v", ready, err)
	}
	ev, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusFrozen, "", "host-1")
	if err != nil || ev.Status != domain.StatusFrozen || !ev.Locked {
		t.Fatalf("freeze: %v", err)
	}
}

func TestUnfreezeRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusConfirming, "", "host-1")
	if _, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusFrozen, "", "host-1"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusConfirming, "  ", "host-1")
	var re engine.OverrideReasonError
	if !errors.As(err, &re) {
		t.Fatalf("expected override reason error, got %v", err)
	}
	if _, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusConfirming, "caterer cancelled", "host-1"); err != nil {
		t.Fatalf("unfreeze with reason: %v", err)
	}
	if countAudit(t, env, "OVERRIDE_UNFREEZE") != 1 {
		t.Fatalf("expected one override entry")
	}
}

func TestMutationGateOnFrozenEvent(t *testing.T) {
	env := newTestEnv(t)
	team, item := seedTeamAndItem(t, env)
	_, _ = env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusConfirming, "", "host-1")
	_, _ = env.Engine.AddPerson(env.Ctx, engine.PersonAddOptions{EventID: "evt-1", PersonID: "p-1", Role: domain.RoleParticipant, ActorID: "host-1"})
	_, _ = env.Engine.AssignItem(env.Ctx, item.ID, "p-1", "host-1")
	_, _ = env.Engine.RespondAssignment(env.Ctx, item.ID, "p-1", domain.ResponseAccepted, "p-1")
	if _, err := env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusFrozen, "", "host-1"); err != nil {
		t.Fatal(err)
	}
	var me lifecycle.MutationError
	if _, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{TeamID: team.ID, Name: "Bread", ActorID: "host-1"}); !errors.As(err, &me) {
		t.Fatalf("expected mutation error creating item, got %v", err)
	}
	if err := env.Engine.DeleteItem(env.Ctx, item.ID, "host-1"); !errors.As(err, &me) {
		t.Fatalf("expected mutation error deleting item, got %v", err)
	}
	// responses still land while frozen
	if _, err := env.Engine.RespondAssignment(env.Ctx, item.ID, "p-1", domain.ResponseDeclined, "p-1"); err != nil {
		t.Fatalf("respond while frozen: %v", err)
	}
}

func TestCriticalItemDeletionInConfirming(t *testing.T) {
	env := newTestEnv(t)
	team, _ := seedTeamAndItem(t, env)
	crit, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{
		TeamID: team.ID, Name: "Grill", Critical: true, ActorID: "host-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.TransitionStatus(env.Ctx, "evt-1", domain.StatusConfirming, "", "host-1")
	var me lifecycle.MutationError
	if err := env.Engine.DeleteItem(env.Ctx, crit.ID, "host-1"); !errors.As(err, &me) {
		t.Fatalf("expected critical deletion blocked, got %v", err)
	}
	// editing the critical item is still allowed
	newName := "Gas grill"
	if _, err := env.Engine.EditItem(env.Ctx, engine.ItemUpdateOptions{ItemID: crit.ID, Name: &newName, ActorID: "host-1"}); err != nil {
		t.Fatalf("edit critical in confirming: %v", err)
	}
}

func TestAssignmentRepairsItemStatus(t *testing.T) {
	env := newTestEnv(t)
	_, item := seedTeamAndItem(t, env)
	_, _ = env.Engine.AddPerson(env.Ctx, engine.PersonAddOptions{EventID: "evt-1", PersonID: "p-1", Role: domain.RoleParticipant, ActorID: "host-1"})
	got, err := env.Engine.AssignItem(env.Ctx, item.ID, "p-1", "host-1")
	if err != nil || got.Status != domain.ItemAssigned {
		t.Fatalf("assign: %v status=%s", err, got.Status)
	}
	stored, err := env.Engine.Repo.GetItem(env.Ctx, item.ID)
	if err != nil || stored.Status != domain.ItemAssigned || stored.Assignment == nil {
		t.Fatalf("stored item not repaired: %+v %v", stored, err)
	}
	got, err = env.Engine.UnassignItem(env.Ctx, item.ID, "host-1")
	if err != nil || got.Status != domain.ItemUnassigned {
		t.Fatalf("unassign: %v", err)
	}
	stored, _ = env.Engine.Repo.GetItem(env.Ctx, item.ID)
	if stored.Status != domain.ItemUnassigned || stored.Assignment != nil {
		t.Fatalf("stored item not repaired after unassign: %+v", stored)
	}
}

func TestRespondAssignmentIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, item := seedTeamAndItem(t, env)
	_, _ = env.Engine.AddPerson(env.Ctx, engine.PersonAddOptions{EventID: "evt-1", PersonID: "p-1", Role: domain.RoleParticipant, ActorID: "host-1"})
	_, _ = env.Engine.AssignItem(env.Ctx, item.ID, "p-1", "host-1")
	if _, err := env.Engine.RespondAssignment(env.Ctx, item.ID, "p-1", domain.ResponseAccepted, "p-1"); err != nil {
		t.Fatal(err)
	}
	before := countAudit(t, env, "RESPOND_ASSIGNMENT")
	if _, err := env.Engine.RespondAssignment(env.Ctx, item.ID, "p-1", domain.ResponseAccepted, "p-1"); err != nil {
		t.Fatalf("repeat response: %v", err)
	}
	if got := countAudit(t, env, "RESPOND_ASSIGNMENT"); got != before {
		t.Fatalf("repeat response wrote audit: %d -> %d", before, got)
	}
	// a different person cannot answer
	if _, err := env.Engine.RespondAssignment(env.Ctx, item.ID, "p-2", domain.ResponseDeclined, "p-2"); err == nil {
		t.Fatalf("expected ownership rejection")
	}
}

func TestRemovePersonReleasesAssignments(t *testing.T) {
	env := newTestEnv(t)
	team, item1 := seedTeamAndItem(t, env)
	item2, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{TeamID: team.ID, Name: "Drinks", ActorID: "host-1"})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.AddPerson(env.Ctx, engine.PersonAddOptions{EventID: "evt-1", PersonID: "p-1", Role: domain.RoleParticipant, ActorID: "host-1"})
	_, _ = env.Engine.AssignItem(env.Ctx, item1.ID, "p-1", "host-1")
	_, _ = env.Engine.AssignItem(env.Ctx, item2.ID, "p-1", "host-1")

	unassignsBefore := countAudit(t, env, "UNASSIGN_ITEM")
	if err := env.Engine.RemovePerson(env.Ctx, "evt-1", "p-1", "host-1"); err != nil {
		t.Fatalf("remove person: %v", err)
	}
	if countAudit(t, env, "REMOVE_PERSON") != 1 {
		t.Fatalf("expected one REMOVE_PERSON entry")
	}
	if got := countAudit(t, env, "UNASSIGN_ITEM") - unassignsBefore; got != 2 {
		t.Fatalf("expected 2 UNASSIGN_ITEM entries, got %d", got)
	}
	for _, id := range []string{item1.ID, item2.ID} {
		it, err := env.Engine.Repo.GetItem(env.Ctx, id)
		if err != nil || it.Status != domain.ItemUnassigned || it.Assignment != nil {
			t.Fatalf("item %s not released: %+v %v", id, it, err)
		}
	}
	if _, err := env.Engine.Repo.GetMembership(env.Ctx, "evt-1", "p-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("membership should be gone, got %v", err)
	}
}
