package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatherline/internal/config"
	"gatherline/internal/db"
	"gatherline/internal/domain"
	"gatherline/internal/migrate"
)

// Exercises the repair step directly: when the item row is gone by the time
// the status write runs, the repair reports it and the surrounding
// transaction rolls back whole.
func TestRepairFailsWhenItemVanishes(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	e := New(conn, config.Default("evt-1"))
	e.Now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := e.CreateEvent(ctx, EventCreateOptions{ID: "evt-1", Title: "Summer picnic", HostID: "host-1", ActorID: "host-1"}); err != nil {
		t.Fatal(err)
	}
	team, err := e.CreateTeam(ctx, TeamCreateOptions{EventID: "evt-1", Name: "Food", ActorID: "host-1"})
	if err != nil {
		t.Fatal(err)
	}
	item, err := e.CreateItem(ctx, ItemCreateOptions{TeamID: team.ID, Name: "Salad", ActorID: "host-1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddPerson(ctx, PersonAddOptions{EventID: "evt-1", PersonID: "p-1", Role: domain.RoleParticipant, ActorID: "host-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AssignItem(ctx, item.ID, "p-1", "host-1"); err != nil {
		t.Fatal(err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE item_id=?`, item.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id=?`, item.ID); err != nil {
		t.Fatal(err)
	}
	err = e.repairItemStatus(ctx, tx, item.ID)
	var re RepairError
	if !errors.As(err, &re) || re.ItemID != item.ID {
		t.Fatalf("expected repair error for %s, got %v", item.ID, err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	// the rollback discarded the deletes along with the failed repair
	stored, err := e.Repo.GetItem(ctx, item.ID)
	if err != nil || stored.Status != domain.ItemAssigned || stored.Assignment == nil {
		t.Fatalf("item should be untouched after rollback: %+v %v", stored, err)
	}
}
