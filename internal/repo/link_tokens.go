package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gatherline/internal/domain"
)

// HashLinkToken returns a stable SHA-256 hex digest for a share-link token.
func HashLinkToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// InsertLinkToken stores a hashed link token. TokenHash must already contain
// the hashed value.
func (r Repo) InsertLinkToken(ctx context.Context, tx *sql.Tx, lt domain.LinkToken) error {
	if lt.ID == "" {
		return errors.New("id required")
	}
	if lt.PersonID == "" {
		return errors.New("person_id required")
	}
	if lt.EventID == "" {
		return errors.New("event_id required")
	}
	if lt.TokenHash == "" {
		return errors.New("token_hash required")
	}
	if lt.CreatedAt == "" {
		lt.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO link_tokens(id, token_hash, person_id, event_id, created_at) VALUES (?,?,?,?,?)`,
		lt.ID, lt.TokenHash, lt.PersonID, lt.EventID, lt.CreatedAt)
	return err
}

// GetLinkTokenByHash resolves a share link to its person and event.
func (r Repo) GetLinkTokenByHash(ctx context.Context, hash string) (domain.LinkToken, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, token_hash, person_id, event_id, created_at FROM link_tokens WHERE token_hash=? LIMIT 1`, hash)
	var lt domain.LinkToken
	err := row.Scan(&lt.ID, &lt.TokenHash, &lt.PersonID, &lt.EventID, &lt.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.LinkToken{}, ErrNotFound
	}
	return lt, err
}

// DeleteLinkToken revokes a link token by ID.
func (r Repo) DeleteLinkToken(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM link_tokens WHERE id=?`, id)
	return err
}
