package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"gatherline/internal/domain"
)

const conflictColumns = `id,event_id,type,severity,status,summary,inputs_json,detected_at,dismissed_at,updated_at`

func scanConflict(scan func(dest ...any) error) (domain.Conflict, error) {
	var c domain.Conflict
	var summary, inputs, dismissedAt sql.NullString
	err := scan(&c.ID, &c.EventID, &c.Type, &c.Severity, &c.Status, &summary, &inputs, &c.DetectedAt, &dismissedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if summary.Valid {
		c.Summary = summary.String
	}
	if inputs.Valid && inputs.String != "" {
		_ = json.Unmarshal([]byte(inputs.String), &c.Inputs)
	}
	if dismissedAt.Valid {
		c.DismissedAt = &dismissedAt.String
	}
	return c, nil
}

func (r Repo) InsertConflictTx(ctx context.Context, tx *sql.Tx, c domain.Conflict) error {
	var inputs any
	if len(c.Inputs) > 0 {
		b, err := json.Marshal(c.Inputs)
		if err != nil {
			return err
		}
		inputs = string(b)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO conflicts(id,event_id,type,severity,status,summary,inputs_json,detected_at,dismissed_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.EventID, c.Type, c.Severity, c.Status, nullable(c.Summary), inputs, c.DetectedAt, nullableStringPtr(c.DismissedAt), c.UpdatedAt)
	return err
}

func (r Repo) GetConflict(ctx context.Context, id string) (domain.Conflict, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id=?`, id)
	return scanConflict(row.Scan)
}

func (r Repo) GetConflictTx(ctx context.Context, tx *sql.Tx, id string) (domain.Conflict, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id=?`, id)
	return scanConflict(row.Scan)
}

type ConflictFilters struct {
	EventID  string
	Status   string
	Severity string
}

func (r Repo) ListConflicts(ctx context.Context, f ConflictFilters) ([]domain.Conflict, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EventID != "" {
		clauses = append(clauses, "event_id=?")
		args = append(args, f.EventID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, `SELECT `+conflictColumns+` FROM conflicts `+where+` ORDER BY detected_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListDismissedConflictsTx loads the dismissal-reset scan's working set.
func (r Repo) ListDismissedConflictsTx(ctx context.Context, tx *sql.Tx, eventID string) ([]domain.Conflict, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE event_id=? AND status='DISMISSED' ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateConflictStatusTx sets the status and dismissal timestamp. dismissedAt
// nil clears the column.
func (r Repo) UpdateConflictStatusTx(ctx context.Context, tx *sql.Tx, id, status string, dismissedAt *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE conflicts SET status=?, dismissed_at=?, updated_at=? WHERE id=?`,
		status, nullableStringPtr(dismissedAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetConflictInputsTx replaces the recorded input snapshot, used when a
// detector re-evaluates a finding.
func (r Repo) ResetConflictInputsTx(ctx context.Context, tx *sql.Tx, id string, inputs []domain.ConflictInput, updatedAt string) error {
	b, err := json.Marshal(inputs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE conflicts SET inputs_json=?, updated_at=? WHERE id=?`, string(b), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- acknowledgements ---

const ackColumns = `id,conflict_id,status,supersedes_id,impact_statement,understood,mitigation_type,visibility,created_by,created_at`

func scanAck(scan func(dest ...any) error) (domain.Acknowledgement, error) {
	var a domain.Acknowledgement
	var supersedes sql.NullString
	err := scan(&a.ID, &a.ConflictID, &a.Status, &supersedes, &a.ImpactStatement, &a.Understood, &a.MitigationType, &a.Visibility, &a.CreatedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if supersedes.Valid {
		a.SupersedesID = &supersedes.String
	}
	return a, nil
}

func (r Repo) InsertAcknowledgementTx(ctx context.Context, tx *sql.Tx, a domain.Acknowledgement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO acknowledgements(id,conflict_id,status,supersedes_id,impact_statement,understood,mitigation_type,visibility,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ConflictID, a.Status, nullableStringPtr(a.SupersedesID), a.ImpactStatement, a.Understood, a.MitigationType, a.Visibility, a.CreatedBy, a.CreatedAt)
	return err
}

// ActiveAcknowledgementTx returns the current ACTIVE head of the chain.
func (r Repo) ActiveAcknowledgementTx(ctx context.Context, tx *sql.Tx, conflictID string) (domain.Acknowledgement, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+ackColumns+` FROM acknowledgements WHERE conflict_id=? AND status='ACTIVE'`, conflictID)
	return scanAck(row.Scan)
}

// SupersedeAcknowledgementTx flips a row to SUPERSEDED; the row itself is
// never deleted so the chain stays queryable.
func (r Repo) SupersedeAcknowledgementTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE acknowledgements SET status='SUPERSEDED' WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAcknowledgements(ctx context.Context, conflictID string) ([]domain.Acknowledgement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ackColumns+` FROM acknowledgements WHERE conflict_id=? ORDER BY created_at DESC, id DESC`, conflictID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Acknowledgement
	for rows.Next() {
		a, err := scanAck(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
