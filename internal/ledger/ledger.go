// Package ledger keeps a SQLite history of ingestion attempts.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/yvan/internal/models"
)

// Status is the outcome of one ingestion attempt.
type Status string

const (
	StatusIngested Status = "ingested"
	StatusNoText   Status = "no_text"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Record is one ingestion attempt.
type Record struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Path       string         `json:"path"`
	SHA256     string         `json:"sha256"`
	IndexID    string         `json:"index_id,omitempty"`
	ChunkCount int            `json:"chunk_count"`
	Note       string         `json:"note,omitempty"`
	Trigger    models.Trigger `json:"trigger"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Ledger stores Records in SQLite.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path. Parent directories are created if needed.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingestions (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		path TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		index_id TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		triggered_by TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ingestions_created_at ON ingestions(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "ingestions", "index_id", `TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	_, err := db.Exec(`
	DROP INDEX IF EXISTS idx_ingestions_sha256;
	CREATE INDEX IF NOT EXISTS idx_ingestions_index_sha256 ON ingestions(index_id, sha256);
	`)
	return err
}

// addColumnIfMissing upgrades ledgers created before column existed.
func addColumnIfMissing(db *sql.DB, table, column, decl string) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

// Record inserts r, assigning its ID and CreatedAt when unset.
func (l *Ledger) Record(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO ingestions (id, source, path, sha256, index_id, chunk_count, note, triggered_by, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.Path, r.SHA256, r.IndexID, r.ChunkCount, r.Note, string(r.Trigger), string(r.Status), r.Error, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record ingestion: %w", err)
	}
	return nil
}

// HasDigest reports whether a file with this SHA-256 was already ingested into
// the index with the given ID (with or without a text layer). Failed and
// skipped attempts, and ingestions into any other index, do not count.
func (l *Ledger) HasDigest(ctx context.Context, indexID, sha256 string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingestions WHERE index_id = ? AND sha256 = ? AND status IN (?, ?)`,
		indexID, sha256, string(StatusIngested), string(StatusNoText),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query digest: %w", err)
	}
	return n > 0, nil
}

// List returns records newest first.
func (l *Ledger) List(ctx context.Context, offset, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, source, path, sha256, index_id, chunk_count, note, triggered_by, status, error, created_at
		 FROM ingestions ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list ingestions: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var trigger, status string
		if err := rows.Scan(&r.ID, &r.Source, &r.Path, &r.SHA256, &r.IndexID, &r.ChunkCount, &r.Note,
			&trigger, &status, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Trigger = models.Trigger(trigger)
		r.Status = Status(status)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of records with any of the given statuses, or all records when none are given.
func (l *Ledger) Count(ctx context.Context, statuses ...Status) (int64, error) {
	query := `SELECT COUNT(*) FROM ingestions`
	args := make([]any, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for i, s := range statuses {
			args[i] = string(s)
		}
	}
	var n int64
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ingestions: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
