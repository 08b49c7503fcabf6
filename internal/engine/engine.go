// Package engine is the lifecycle and consistency core. Every mutation runs
// gate-check, mutation, consistency repair and audit append inside a single
// transaction against the shared store.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"gatherline/internal/audit"
	"gatherline/internal/config"
	"gatherline/internal/domain"
	"gatherline/internal/lifecycle"
	"gatherline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// appendAudit writes through the audit writer on the engine's clock, so
// entries carry the same timestamps as the rows they describe.
func (e Engine) appendAudit(ctx context.Context, tx *sql.Tx, entry audit.Entry) error {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, entry)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// --- events ---

// EventCreateOptions are parameters for creating an event.
type EventCreateOptions struct {
	ID         string
	Title      string
	GuestCount int
	Venue      string
	Dietary    map[string]int
	Equipment  []string
	HostID     string
	HostName   string
	ActorID    string
}

func (e Engine) CreateEvent(ctx context.Context, opts EventCreateOptions) (domain.Event, error) {
	if opts.Title == "" {
		return domain.Event{}, errors.New("title is required")
	}
	if opts.HostID == "" {
		return domain.Event{}, errors.New("host is required")
	}
	id := opts.ID
	now := e.nowString()
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.Title+"|"+now)).String()
	}
	ev := domain.Event{
		ID:         id,
		Title:      opts.Title,
		Status:     domain.StatusDraft,
		GuestCount: opts.GuestCount,
		Venue:      opts.Venue,
		Dietary:    opts.Dietary,
		Equipment:  opts.Equipment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertEventTx(ctx, tx, ev); err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}
	hostName := opts.HostName
	if hostName == "" {
		hostName = opts.HostID
	}
	if err := e.Repo.EnsurePersonTx(ctx, tx, domain.Person{ID: opts.HostID, Name: hostName, CreatedAt: now}); err != nil {
		return domain.Event{}, fmt.Errorf("ensure host: %w", err)
	}
	if err := e.Repo.UpsertMembershipTx(ctx, tx, domain.Membership{
		PersonID: opts.HostID,
		EventID:  ev.ID,
		Role:     domain.RoleHost,
	}); err != nil {
		return domain.Event{}, fmt.Errorf("add host membership: %w", err)
	}
	if err := e.Repo.UpsertEventConfigTx(ctx, tx, ev.ID, config.Default(ev.ID)); err != nil {
		return domain.Event{}, fmt.Errorf("seed event config: %w", err)
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: opts.ActorID, Action: audit.ActionCreateEvent,
		EntityKind: "event", EntityID: ev.ID, Detail: ev.Title,
	}); err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

// EventUpdateOptions carries partial updates to conflict-input attributes.
type EventUpdateOptions struct {
	EventID    string
	Title      *string
	GuestCount *int
	Venue      *string
	Dietary    map[string]int
	Equipment  []string
	ActorID    string
}

// UpdateEventDetails edits the attributes conflict findings are computed
// from and rescans dismissed conflicts inside the same transaction.
func (e Engine) UpdateEventDetails(ctx context.Context, opts EventUpdateOptions) (domain.Event, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetEventTx(ctx, tx, opts.EventID)
	if err != nil {
		return ev, err
	}
	if ev.Status == domain.StatusComplete {
		return ev, lifecycle.MutationError{Stage: ev.Status, Action: lifecycle.ActionUpdateEvent}
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return ev, errors.New("title cannot be empty")
		}
		ev.Title = *opts.Title
	}
	if opts.GuestCount != nil {
		ev.GuestCount = *opts.GuestCount
	}
	if opts.Venue != nil {
		ev.Venue = *opts.Venue
	}
	if opts.Dietary != nil {
		ev.Dietary = opts.Dietary
	}
	if opts.Equipment != nil {
		ev.Equipment = opts.Equipment
	}
	ev.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateEventDetailsTx(ctx, tx, ev); err != nil {
		return ev, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: opts.ActorID, Action: audit.ActionUpdateEvent,
		EntityKind: "event", EntityID: ev.ID,
	}); err != nil {
		return ev, err
	}
	if _, err := e.reevaluateDismissed(ctx, tx, ev.ID, opts.ActorID); err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	return ev, nil
}

// TransitionStatus moves an event through the lifecycle graph. The
// confirming->frozen edge re-derives readiness from the assignments relation
// inside the same transaction; frozen->confirming requires a reason and
// appends an OVERRIDE_UNFREEZE entry beyond the STATUS_CHANGE one. The write
// is guarded by the version read at the start, so concurrent transitions
// cannot double-apply side effects.
func (e Engine) TransitionStatus(ctx context.Context, eventID, to, reason, actorID string) (domain.Event, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetEventTx(ctx, tx, eventID)
	if err != nil {
		return ev, err
	}
	// Graph check first: COMPLETE rejects every request, including another
	// COMPLETE. Only then does a same-status request become a silent no-op.
	if err := lifecycle.CheckTransition(ev.Status, to); err != nil {
		return ev, err
	}
	if ev.Status == to {
		// Idempotent acceptance; not a transition worth auditing.
		return ev, nil
	}
	override := ev.Status == domain.StatusFrozen && to == domain.StatusConfirming
	if override && strings.TrimSpace(reason) == "" {
		return ev, OverrideReasonError{}
	}
	if ev.Status == domain.StatusConfirming && to == domain.StatusFrozen {
		unassigned, declined, err := e.Repo.CountFreezeGapsTx(ctx, tx, ev.ID)
		if err != nil {
			return ev, err
		}
		if unassigned+declined > 0 {
			return ev, FreezeGateError{Unassigned: unassigned, Declined: declined}
		}
	}
	from := ev.Status
	locked := to == domain.StatusFrozen || to == domain.StatusComplete
	now := e.nowString()
	if err := e.Repo.UpdateEventStatusTx(ctx, tx, ev.ID, to, locked, ev.Version, now); err != nil {
		return ev, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: actorID, Action: audit.ActionStatusChange,
		EntityKind: "event", EntityID: ev.ID, Detail: from + " -> " + to,
	}); err != nil {
		return ev, err
	}
	if override {
		if err := e.appendAudit(ctx, tx, audit.Entry{
			EventID: ev.ID, ActorID: actorID, Action: audit.ActionOverrideUnfreeze,
			EntityKind: "event", EntityID: ev.ID, Detail: reason,
		}); err != nil {
			return ev, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	ev.Status = to
	ev.Locked = locked
	ev.Version++
	ev.UpdatedAt = now
	return ev, nil
}

// FreezeReadiness answers whether the event may freeze, by direct count over
// the assignments relation. The denormalized item status plays no part.
func (e Engine) FreezeReadiness(ctx context.Context, eventID string) (domain.FreezeReadiness, error) {
	if _, err := e.Repo.GetEvent(ctx, eventID); err != nil {
		return domain.FreezeReadiness{}, err
	}
	unassigned, declined, err := e.Repo.CountFreezeGaps(ctx, eventID)
	if err != nil {
		return domain.FreezeReadiness{}, err
	}
	return domain.FreezeReadiness{
		Ready:      unassigned+declined == 0,
		Unassigned: unassigned,
		Declined:   declined,
	}, nil
}

// --- teams ---

type TeamCreateOptions struct {
	ID            string
	EventID       string
	Name          string
	CoordinatorID *string
	ActorID       string
}

func (e Engine) CreateTeam(ctx context.Context, opts TeamCreateOptions) (domain.Team, error) {
	if opts.Name == "" {
		return domain.Team{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetEventTx(ctx, tx, opts.EventID)
	if err != nil {
		return domain.Team{}, err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionCreateTeam, false); err != nil {
		return domain.Team{}, err
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Team{
		ID:            id,
		EventID:       ev.ID,
		Name:          opts.Name,
		CoordinatorID: opts.CoordinatorID,
		CreatedAt:     now,
	}
	if err := e.Repo.InsertTeamTx(ctx, tx, t); err != nil {
		return domain.Team{}, fmt.Errorf("insert team: %w", err)
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: opts.ActorID, Action: audit.ActionCreateTeam,
		EntityKind: "team", EntityID: t.ID, Detail: t.Name,
	}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

type TeamUpdateOptions struct {
	TeamID        string
	Name          *string
	CoordinatorID *string
	ActorID       string
}

func (e Engine) UpdateTeam(ctx context.Context, opts TeamUpdateOptions) (domain.Team, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTeamTx(ctx, tx, opts.TeamID)
	if err != nil {
		return t, err
	}
	ev, err := e.Repo.GetEventTx(ctx, tx, t.EventID)
	if err != nil {
		return t, err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionEditTeam, false); err != nil {
		return t, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return t, errors.New("name cannot be empty")
		}
		t.Name = *opts.Name
	}
	if opts.CoordinatorID != nil {
		if *opts.CoordinatorID == "" {
			t.CoordinatorID = nil
		} else {
			t.CoordinatorID = opts.CoordinatorID
		}
	}
	if err := e.Repo.UpdateTeamTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: opts.ActorID, Action: audit.ActionEditTeam,
		EntityKind: "team", EntityID: t.ID, Detail: t.Name,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

func (e Engine) DeleteTeam(ctx context.Context, teamID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTeamTx(ctx, tx, teamID)
	if err != nil {
		return err
	}
	ev, err := e.Repo.GetEventTx(ctx, tx, t.EventID)
	if err != nil {
		return err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionDeleteTeam, false); err != nil {
		return err
	}
	if err := e.Repo.DeleteTeamTx(ctx, tx, teamID); err != nil {
		return err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: actorID, Action: audit.ActionDeleteTeam,
		EntityKind: "team", EntityID: t.ID, Detail: t.Name,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- items ---

type ItemCreateOptions struct {
	ID       string
	TeamID   string
	Name     string
	Category string
	Quantity int
	Critical bool
	DueAt    *string
	ActorID  string
}

func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (domain.Item, error) {
	if opts.Name == "" {
		return domain.Item{}, errors.New("name is required")
	}
	if opts.Quantity <= 0 {
		opts.Quantity = 1
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTeamTx(ctx, tx, opts.TeamID)
	if err != nil {
		return domain.Item{}, err
	}
	ev, err := e.Repo.GetEventTx(ctx, tx, t.EventID)
	if err != nil {
		return domain.Item{}, err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionCreateItem, false); err != nil {
		return domain.Item{}, err
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	it := domain.Item{
		ID:        id,
		TeamID:    t.ID,
		Name:      opts.Name,
		Category:  opts.Category,
		Quantity:  opts.Quantity,
		Critical:  opts.Critical,
		Status:    domain.ItemUnassigned,
		DueAt:     opts.DueAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: opts.ActorID, Action: audit.ActionCreateItem,
		EntityKind: "item", EntityID: it.ID, Detail: it.Name,
	}); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

type ItemUpdateOptions struct {
	ItemID   string
	Name     *string
	Category *string
	Quantity *int
	Critical *bool
	DueAt    *string
	ActorID  string
}

func (e Engine) EditItem(ctx context.Context, opts ItemUpdateOptions) (domain.Item, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, opts.ItemID)
	if err != nil {
		return it, err
	}
	t, err := e.Repo.GetTeamTx(ctx, tx, it.TeamID)
	if err != nil {
		return it, err
	}
	ev, err := e.Repo.GetEventTx(ctx, tx, t.EventID)
	if err != nil {
		return it, err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionEditItem, it.Critical); err != nil {
		return it, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return it, errors.New("name cannot be empty")
		}
		it.Name = *opts.Name
	}
	if opts.Category != nil {
		it.Category = *opts.Category
	}
	if opts.Quantity != nil {
		if *opts.Quantity <= 0 {
			return it, errors.New("quantity must be positive")
		}
		it.Quantity = *opts.Quantity
	}
	if opts.Critical != nil {
		it.Critical = *opts.Critical
	}
	if opts.DueAt != nil {
		if *opts.DueAt == "" {
			it.DueAt = nil
		} else {
			it.DueAt = opts.DueAt
		}
	}
	it.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return it, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: opts.ActorID, Action: audit.ActionEditItem,
		EntityKind: "item", EntityID: it.ID, Detail: it.Name,
	}); err != nil {
		return it, err
	}
	if _, err := e.reevaluateDismissed(ctx, tx, ev.ID, opts.ActorID); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

func (e Engine) DeleteItem(ctx context.Context, itemID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return err
	}
	t, err := e.Repo.GetTeamTx(ctx, tx, it.TeamID)
	if err != nil {
		return err
	}
	ev, err := e.Repo.GetEventTx(ctx, tx, t.EventID)
	if err != nil {
		return err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionDeleteItem, it.Critical); err != nil {
		return err
	}
	if err := e.Repo.DeleteItemTx(ctx, tx, itemID); err != nil {
		return err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: actorID, Action: audit.ActionDeleteItem,
		EntityKind: "item", EntityID: it.ID, Detail: it.Name,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- assignments ---

// AssignItem commits a person to an item. The paired repair of the
// denormalized item status runs in the same transaction.
func (e Engine) AssignItem(ctx context.Context, itemID, personID, actorID string) (domain.Item, error) {
	if personID == "" {
		return domain.Item{}, errors.New("person is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return it, err
	}
	t, err := e.Repo.GetTeamTx(ctx, tx, it.TeamID)
	if err != nil {
		return it, err
	}
	ev, err := e.Repo.GetEventTx(ctx, tx, t.EventID)
	if err != nil {
		return it, err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionAssignItem, false); err != nil {
		return it, err
	}
	if it.Assignment != nil && it.Assignment.PersonID == personID {
		// Already assigned to this person; nothing to do.
		return it, nil
	}
	now := e.nowString()
	a := domain.Assignment{
		ItemID:    it.ID,
		PersonID:  personID,
		Response:  domain.ResponsePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.UpsertAssignmentTx(ctx, tx, a); err != nil {
		return it, fmt.Errorf("upsert assignment: %w", err)
	}
	if err := e.repairItemStatus(ctx, tx, it.ID); err != nil {
		return it, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: actorID, Action: audit.ActionAssignItem,
		EntityKind: "item", EntityID: it.ID, Detail: fmt.Sprintf("%s -> %s", it.Name, personID),
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	it.Status = domain.ItemAssigned
	it.Assignment = &a
	return it, nil
}

func (e Engine) UnassignItem(ctx context.Context, itemID, actorID string) (domain.Item, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return it, err
	}
	t, err := e.Repo.GetTeamTx(ctx, tx, it.TeamID)
	if err != nil {
		return it, err
	}
	ev, err := e.Repo.GetEventTx(ctx, tx, t.EventID)
	if err != nil {
		return it, err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionAssignItem, false); err != nil {
		return it, err
	}
	if it.Assignment == nil {
		return it, nil
	}
	if err := e.Repo.DeleteAssignmentTx(ctx, tx, it.ID); err != nil {
		return it, err
	}
	if err := e.repairItemStatus(ctx, tx, it.ID); err != nil {
		return it, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: actorID, Action: audit.ActionUnassignItem,
		EntityKind: "item", EntityID: it.ID, Detail: fmt.Sprintf("%s was held by %s", it.Name, it.Assignment.PersonID),
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	it.Status = domain.ItemUnassigned
	it.Assignment = nil
	return it, nil
}

// RespondAssignment records a participant's accept or decline. This path is
// deliberately outside the mutation gate so participants can still answer
// after the plan freezes. Submitting the same response twice is a no-op: no
// audit entry, no repair.
func (e Engine) RespondAssignment(ctx context.Context, itemID, personID, response, actorID string) (domain.Assignment, error) {
	switch response {
	case domain.ResponsePending, domain.ResponseAccepted, domain.ResponseDeclined:
	default:
		return domain.Assignment{}, fmt.Errorf("invalid response %q", response)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, itemID)
	if err != nil {
		return a, err
	}
	if a.PersonID != personID {
		return a, fmt.Errorf("assignment is held by a different person")
	}
	if a.Response == response {
		return a, nil
	}
	now := e.nowString()
	if err := e.Repo.UpdateAssignmentResponseTx(ctx, tx, itemID, response, now); err != nil {
		return a, err
	}
	eventID, err := e.Repo.EventIDForItemTx(ctx, tx, itemID)
	if err != nil {
		return a, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: eventID, ActorID: actorID, Action: audit.ActionRespondAssignment,
		EntityKind: "item", EntityID: itemID, Detail: a.Response + " -> " + response,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	a.Response = response
	a.UpdatedAt = now
	return a, nil
}

// repairItemStatus recomputes the denormalized item status from assignment
// existence. The response value is irrelevant here: the column mirrors
// whether an assignment row exists, nothing more.
func (e Engine) repairItemStatus(ctx context.Context, tx *sql.Tx, itemID string) error {
	status := domain.ItemUnassigned
	_, err := e.Repo.GetAssignmentTx(ctx, tx, itemID)
	switch {
	case err == nil:
		status = domain.ItemAssigned
	case errors.Is(err, repo.ErrNotFound):
	default:
		return err
	}
	ok, err := e.Repo.SetItemStatusTx(ctx, tx, itemID, status, e.nowString())
	if err != nil {
		return err
	}
	if !ok {
		return RepairError{ItemID: itemID}
	}
	return nil
}

// --- people ---

type PersonAddOptions struct {
	EventID  string
	PersonID string
	Name     string
	Phone    string
	Role     string
	TeamID   *string
	ActorID  string
}

func (e Engine) AddPerson(ctx context.Context, opts PersonAddOptions) (domain.Membership, error) {
	if opts.PersonID == "" {
		return domain.Membership{}, errors.New("person id is required")
	}
	switch opts.Role {
	case domain.RoleHost, domain.RoleCoordinator, domain.RoleParticipant:
	default:
		return domain.Membership{}, fmt.Errorf("invalid role %q", opts.Role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Membership{}, err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetEventTx(ctx, tx, opts.EventID)
	if err != nil {
		return domain.Membership{}, err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionAddPerson, false); err != nil {
		return domain.Membership{}, err
	}
	now := e.nowString()
	name := opts.Name
	if name == "" {
		name = opts.PersonID
	}
	if err := e.Repo.EnsurePersonTx(ctx, tx, domain.Person{ID: opts.PersonID, Name: name, Phone: opts.Phone, CreatedAt: now}); err != nil {
		return domain.Membership{}, err
	}
	m := domain.Membership{
		PersonID: opts.PersonID,
		EventID:  ev.ID,
		Role:     opts.Role,
		TeamID:   opts.TeamID,
	}
	if err := e.Repo.UpsertMembershipTx(ctx, tx, m); err != nil {
		return domain.Membership{}, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: opts.ActorID, Action: audit.ActionAddPerson,
		EntityKind: "person", EntityID: opts.PersonID, Detail: opts.Role,
	}); err != nil {
		return domain.Membership{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Membership{}, err
	}
	return m, nil
}

// RemovePerson drops a membership and releases every assignment the person
// held, one UNASSIGN_ITEM entry per item after the REMOVE_PERSON entry. Each
// release repairs the owning item's status before the transaction commits.
func (e Engine) RemovePerson(ctx context.Context, eventID, personID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetEventTx(ctx, tx, eventID)
	if err != nil {
		return err
	}
	if err := lifecycle.CheckMutation(ev.Status, lifecycle.ActionRemovePerson, false); err != nil {
		return err
	}
	held, err := e.Repo.ItemsAssignedToTx(ctx, tx, ev.ID, personID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteMembershipTx(ctx, tx, ev.ID, personID); err != nil {
		return err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		EventID: ev.ID, ActorID: actorID, Action: audit.ActionRemovePerson,
		EntityKind: "person", EntityID: personID, Detail: fmt.Sprintf("held %d assignments", len(held)),
	}); err != nil {
		return err
	}
	for _, itemID := range held {
		if err := e.Repo.DeleteAssignmentTx(ctx, tx, itemID); err != nil {
			return err
		}
		if err := e.repairItemStatus(ctx, tx, itemID); err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, audit.Entry{
			EventID: ev.ID, ActorID: actorID, Action: audit.ActionUnassignItem,
			EntityKind: "item", EntityID: itemID, Detail: fmt.Sprintf("released by removal of %s", personID),
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}
