package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var publicationTables = []string{
	`CREATE TABLE IF NOT EXISTS publication_locks (
		lock_key   TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS publication_audit (
		id            TEXT PRIMARY KEY,
		content_id    TEXT NOT NULL,
		platform      TEXT NOT NULL,
		requester_id  TEXT NOT NULL DEFAULT '',
		attempt       INTEGER NOT NULL,
		status        TEXT NOT NULL,
		error_message TEXT,
		post_url      TEXT,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS publication_audit_content_idx ON publication_audit (content_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS platform_credentials (
		platform     TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		chat_id      TEXT,
		group_id     TEXT,
		account_id   TEXT,
		page_id      TEXT,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
}

// EnsurePublicationSchema creates the lease, audit and credential tables and
// adds columns introduced after the first release. Safe to call at startup.
func EnsurePublicationSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, ddl := range publicationTables {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating publication schema failed: %w", err)
		}
	}

	checks := []struct {
		table  string
		column string
		ddl    string
	}{
		{"publication_audit", "error_kind", "ALTER TABLE publication_audit ADD COLUMN error_kind TEXT"},
	}

	for _, c := range checks {
		exists, err := columnExists(ctx, db, c.table, c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s failed: %w", c.table, c.column, err)
			}
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
