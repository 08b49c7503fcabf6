package repo_test

import (
	"context"
	"errors"
	"testing"

	"gatherline/internal/db"
	"gatherline/internal/domain"
	"gatherline/internal/migrate"
	"gatherline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestUpdateEventStatusVersionGuard(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	ev := domain.Event{
		ID: "evt-1", Title: "Summer picnic", Status: domain.StatusDraft,
		CreatedAt: "2026-06-01T12:00:00Z", UpdatedAt: "2026-06-01T12:00:00Z",
	}
	if err := r.InsertEventTx(ctx, tx, ev); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateEventStatusTx(ctx, tx, ev.ID, domain.StatusConfirming, false, 0, "2026-06-01T12:01:00Z"); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// the same read version again loses the race
	err = r.UpdateEventStatusTx(ctx, tx, ev.ID, domain.StatusFrozen, true, 0, "2026-06-01T12:02:00Z")
	if !errors.Is(err, repo.ErrStaleVersion) {
		t.Fatalf("expected stale version, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	// the losing write left nothing behind
	got, err := r.GetEvent(ctx, ev.ID)
	if err != nil || got.Status != domain.StatusConfirming || got.Version != 1 {
		t.Fatalf("event after guarded update: %+v %v", got, err)
	}
}
