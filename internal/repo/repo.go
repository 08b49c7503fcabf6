package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatherline/internal/config"
	"gatherline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleVersion means an optimistic version check failed: the event was
// transitioned concurrently between read and write.
var ErrStaleVersion = errors.New("event version is stale; reload and retry")

func marshalJSON(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

// --- events ---

const eventColumns = `id,title,status,locked,guest_count,venue,dietary_json,equipment_json,version,created_at,updated_at`

func (r Repo) InsertEventTx(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(id,title,status,locked,guest_count,venue,dietary_json,equipment_json,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Title, e.Status, e.Locked, e.GuestCount, nullable(e.Venue),
		marshalJSON(e.Dietary), marshalJSON(e.Equipment), e.Version, e.CreatedAt, e.UpdatedAt)
	return err
}

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	var venue, dietary, equipment sql.NullString
	err := scan(&e.ID, &e.Title, &e.Status, &e.Locked, &e.GuestCount, &venue, &dietary, &equipment, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if venue.Valid {
		e.Venue = venue.String
	}
	if dietary.Valid && dietary.String != "" {
		_ = json.Unmarshal([]byte(dietary.String), &e.Dietary)
	}
	if equipment.Valid && equipment.String != "" {
		_ = json.Unmarshal([]byte(equipment.String), &e.Equipment)
	}
	return e, nil
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id)
	return scanEvent(row.Scan)
}

func (r Repo) GetEventTx(ctx context.Context, tx *sql.Tx, id string) (domain.Event, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id)
	return scanEvent(row.Scan)
}

func (r Repo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) SingleEvent(ctx context.Context) (domain.Event, error) {
	events, err := r.ListEvents(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	if len(events) == 0 {
		return domain.Event{}, ErrNotFound
	}
	if len(events) > 1 {
		return domain.Event{}, fmt.Errorf("multiple events exist; specify --event")
	}
	return events[0], nil
}

func (r Repo) UpdateEventDetailsTx(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	res, err := tx.ExecContext(ctx, `UPDATE events SET title=?, guest_count=?, venue=?, dietary_json=?, equipment_json=?, updated_at=? WHERE id=?`,
		e.Title, e.GuestCount, nullable(e.Venue), marshalJSON(e.Dietary), marshalJSON(e.Equipment), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEventStatusTx flips the lifecycle stage guarded by the version the
// caller read. Zero rows affected means a concurrent transition won.
func (r Repo) UpdateEventStatusTx(ctx context.Context, tx *sql.Tx, id, status string, locked bool, fromVersion int64, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE events SET status=?, locked=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		status, locked, updatedAt, id, fromVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleVersion
	}
	return nil
}

// --- event configs ---

func (r Repo) UpsertEventConfig(ctx context.Context, eventID string, cfg *config.Config) error {
	return upsertEventConfig(ctx, r.DB, nil, eventID, cfg)
}

func (r Repo) UpsertEventConfigTx(ctx context.Context, tx *sql.Tx, eventID string, cfg *config.Config) error {
	return upsertEventConfig(ctx, nil, tx, eventID, cfg)
}

func upsertEventConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, eventID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Event.ID = eventID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO event_configs(event_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(event_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, eventID, string(payload), now, now)
	return err
}

func (r Repo) GetEventConfig(ctx context.Context, eventID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM event_configs WHERE event_id=?`, eventID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Event.ID == "" {
		cfg.Event.ID = eventID
	}
	return &cfg, cfg.Validate()
}

// --- teams ---

func (r Repo) InsertTeamTx(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,event_id,name,coordinator_id,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.EventID, t.Name, nullableStringPtr(t.CoordinatorID), t.CreatedAt)
	return err
}

func scanTeam(scan func(dest ...any) error) (domain.Team, error) {
	var t domain.Team
	var coordinator sql.NullString
	err := scan(&t.ID, &t.EventID, &t.Name, &coordinator, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if coordinator.Valid {
		t.CoordinatorID = &coordinator.String
	}
	return t, nil
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,event_id,name,coordinator_id,created_at FROM teams WHERE id=?`, id)
	return scanTeam(row.Scan)
}

func (r Repo) GetTeamTx(ctx context.Context, tx *sql.Tx, id string) (domain.Team, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,event_id,name,coordinator_id,created_at FROM teams WHERE id=?`, id)
	return scanTeam(row.Scan)
}

func (r Repo) ListTeams(ctx context.Context, eventID string) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,event_id,name,coordinator_id,created_at FROM teams WHERE event_id=? ORDER BY created_at ASC, id ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		t, err := scanTeam(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTeamTx(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	res, err := tx.ExecContext(ctx, `UPDATE teams SET name=?, coordinator_id=? WHERE id=?`,
		t.Name, nullableStringPtr(t.CoordinatorID), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTeamTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- items ---

const itemColumns = `i.id,i.team_id,i.name,i.category,i.quantity,i.critical,i.status,i.due_at,i.created_at,i.updated_at,
a.person_id,a.response,a.created_at,a.updated_at`

const itemSelect = `SELECT ` + itemColumns + ` FROM items i LEFT JOIN assignments a ON a.item_id=i.id`

func scanItem(scan func(dest ...any) error) (domain.Item, error) {
	var it domain.Item
	var category, dueAt sql.NullString
	var personID, response, aCreated, aUpdated sql.NullString
	err := scan(&it.ID, &it.TeamID, &it.Name, &category, &it.Quantity, &it.Critical, &it.Status, &dueAt, &it.CreatedAt, &it.UpdatedAt,
		&personID, &response, &aCreated, &aUpdated)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if category.Valid {
		it.Category = category.String
	}
	if dueAt.Valid {
		it.DueAt = &dueAt.String
	}
	if personID.Valid {
		it.Assignment = &domain.Assignment{
			ItemID:    it.ID,
			PersonID:  personID.String,
			Response:  response.String,
			CreatedAt: aCreated.String,
			UpdatedAt: aUpdated.String,
		}
	}
	return it, nil
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO items(id,team_id,name,category,quantity,critical,status,due_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.TeamID, it.Name, nullable(it.Category), it.Quantity, it.Critical, it.Status, nullableStringPtr(it.DueAt), it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	row := r.DB.QueryRowContext(ctx, itemSelect+` WHERE i.id=?`, id)
	return scanItem(row.Scan)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.Item, error) {
	row := tx.QueryRowContext(ctx, itemSelect+` WHERE i.id=?`, id)
	return scanItem(row.Scan)
}

type ItemFilters struct {
	EventID string
	TeamID  string
	Status  string
	Limit   int
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.Item, error) {
	var clauses []string
	var args []any
	if f.EventID != "" {
		clauses = append(clauses, "i.team_id IN (SELECT id FROM teams WHERE event_id=?)")
		args = append(args, f.EventID)
	}
	if f.TeamID != "" {
		clauses = append(clauses, "i.team_id=?")
		args = append(args, f.TeamID)
	}
	if f.Status != "" {
		clauses = append(clauses, "i.status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := itemSelect + where + ` ORDER BY i.created_at ASC, i.id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	res, err := tx.ExecContext(ctx, `UPDATE items SET name=?, category=?, quantity=?, critical=?, due_at=?, updated_at=? WHERE id=?`,
		it.Name, nullable(it.Category), it.Quantity, it.Critical, nullableStringPtr(it.DueAt), it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteItemTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetItemStatusTx rewrites the denormalized status and reports whether the
// item row still exists.
func (r Repo) SetItemStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE items SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// EventIDForItemTx resolves the owning event of an item through its team.
func (r Repo) EventIDForItemTx(ctx context.Context, tx *sql.Tx, itemID string) (string, error) {
	var eventID string
	err := tx.QueryRowContext(ctx, `SELECT t.event_id FROM items i JOIN teams t ON t.id=i.team_id WHERE i.id=?`, itemID).Scan(&eventID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return eventID, err
}

// --- assignments ---

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, itemID string) (domain.Assignment, error) {
	var a domain.Assignment
	err := tx.QueryRowContext(ctx, `SELECT item_id,person_id,response,created_at,updated_at FROM assignments WHERE item_id=?`, itemID).
		Scan(&a.ItemID, &a.PersonID, &a.Response, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) UpsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(item_id,person_id,response,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(item_id) DO UPDATE SET person_id=excluded.person_id, response=excluded.response, updated_at=excluded.updated_at`,
		a.ItemID, a.PersonID, a.Response, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) DeleteAssignmentTx(ctx context.Context, tx *sql.Tx, itemID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE item_id=?`, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateAssignmentResponseTx(ctx context.Context, tx *sql.Tx, itemID, response, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET response=?, updated_at=? WHERE item_id=?`, response, updatedAt, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ItemsAssignedToTx lists item ids a person holds assignments for within an
// event, in stable order.
func (r Repo) ItemsAssignedToTx(ctx context.Context, tx *sql.Tx, eventID, personID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT a.item_id FROM assignments a
JOIN items i ON i.id=a.item_id
JOIN teams t ON t.id=i.team_id
WHERE t.event_id=? AND a.person_id=?
ORDER BY a.item_id ASC`, eventID, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountFreezeGapsTx counts, by direct query over the assignments relation,
// items without an assignment row and items whose assignment is DECLINED.
// The denormalized items.status column is deliberately not consulted.
func (r Repo) CountFreezeGapsTx(ctx context.Context, tx *sql.Tx, eventID string) (unassigned, declined int, err error) {
	err = tx.QueryRowContext(ctx, `SELECT
COUNT(CASE WHEN a.item_id IS NULL THEN 1 END),
COUNT(CASE WHEN a.response='DECLINED' THEN 1 END)
FROM items i
JOIN teams t ON t.id=i.team_id
LEFT JOIN assignments a ON a.item_id=i.id
WHERE t.event_id=?`, eventID).Scan(&unassigned, &declined)
	return unassigned, declined, err
}

// CountFreezeGaps is the read-path variant used for status displays.
func (r Repo) CountFreezeGaps(ctx context.Context, eventID string) (unassigned, declined int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT
COUNT(CASE WHEN a.item_id IS NULL THEN 1 END),
COUNT(CASE WHEN a.response='DECLINED' THEN 1 END)
FROM items i
JOIN teams t ON t.id=i.team_id
LEFT JOIN assignments a ON a.item_id=i.id
WHERE t.event_id=?`, eventID).Scan(&unassigned, &declined)
	return unassigned, declined, err
}

// --- persons and memberships ---

func (r Repo) EnsurePersonTx(ctx context.Context, tx *sql.Tx, p domain.Person) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO persons(id,name,phone,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO NOTHING`, p.ID, p.Name, nullable(p.Phone), p.CreatedAt)
	return err
}

func (r Repo) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	var p domain.Person
	var phone sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,phone,created_at FROM persons WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &phone, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if phone.Valid {
		p.Phone = phone.String
	}
	return p, err
}

func (r Repo) UpsertMembershipTx(ctx context.Context, tx *sql.Tx, m domain.Membership) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO person_events(person_id,event_id,role,team_id) VALUES (?,?,?,?)
ON CONFLICT(person_id,event_id) DO UPDATE SET role=excluded.role, team_id=excluded.team_id`,
		m.PersonID, m.EventID, m.Role, nullableStringPtr(m.TeamID))
	return err
}

func (r Repo) DeleteMembershipTx(ctx context.Context, tx *sql.Tx, eventID, personID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM person_events WHERE event_id=? AND person_id=?`, eventID, personID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMembership(ctx context.Context, eventID, personID string) (domain.Membership, error) {
	var m domain.Membership
	var teamID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT person_id,event_id,role,team_id FROM person_events WHERE event_id=? AND person_id=?`, eventID, personID).
		Scan(&m.PersonID, &m.EventID, &m.Role, &teamID)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if teamID.Valid {
		m.TeamID = &teamID.String
	}
	return m, err
}

func (r Repo) ListMemberships(ctx context.Context, eventID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT person_id,event_id,role,team_id FROM person_events WHERE event_id=? ORDER BY person_id ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		var teamID sql.NullString
		if err := rows.Scan(&m.PersonID, &m.EventID, &m.Role, &teamID); err != nil {
			return nil, err
		}
		if teamID.Valid {
			m.TeamID = &teamID.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- audit log (read side) ---

type AuditFilters struct {
	EventID    string
	Action     string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     int64
}

func (r Repo) ListAuditEntries(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EventID != "" {
		clauses = append(clauses, "event_id=?")
		args = append(args, f.EventID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,event_id,actor_id,action,entity_kind,entity_id,detail FROM audit_entries %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var a domain.AuditEntry
		var entityID, detail sql.NullString
		if err := rows.Scan(&a.ID, &a.TS, &a.EventID, &a.ActorID, &a.Action, &a.EntityKind, &entityID, &detail); err != nil {
			return nil, err
		}
		if entityID.Valid {
			a.EntityID = entityID.String
		}
		if detail.Valid {
			a.Detail = detail.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
