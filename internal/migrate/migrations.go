// Package migrate brings the workspace database up to the current schema.
// Steps live in embedded sql files named NNNN_label.sql and run in one
// transaction, so a half-applied schema never survives a failure.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type step struct {
	version int
	file    string
	stmts   string
}

func loadSteps() ([]step, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	seen := map[int]string{}
	var steps []step
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("schema step %s: want NNNN_label.sql", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("schema step %s: bad version prefix %q", entry.Name(), prefix)
		}
		if prior, dup := seen[version]; dup {
			return nil, fmt.Errorf("schema version %d defined twice: %s and %s", version, prior, entry.Name())
		}
		seen[version] = entry.Name()
		data, err := schemaFS.ReadFile("sql/" + entry.Name())
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{version: version, file: entry.Name(), stmts: string(data)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// Migrate applies every schema step newer than the stored version. Safe to
// call on every startup; an up-to-date database is a no-op.
func Migrate(db *sql.DB) error {
	steps, err := loadSteps()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL, applied_at TEXT NOT NULL);`); err != nil {
		return fmt.Errorf("ensure schema_version: %w", err)
	}
	current := 0
	switch err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current); err {
	case nil:
	case sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(version, applied_at) VALUES (0, ?)`, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
	default:
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if _, err := tx.Exec(s.stmts); err != nil {
			return fmt.Errorf("apply %s: %w", s.file, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?, applied_at=?`, s.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record version %d: %w", s.version, err)
		}
		current = s.version
	}
	return tx.Commit()
}
