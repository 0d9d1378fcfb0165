// Package journal stores a history of document imports in PostgreSQL.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metrics"
	"github.com/repodrop/repodrop/internal/upload"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// Store is a PostgreSQL import journal.
type Store struct {
	db *sql.DB
}

// Entry is one stored import.
type Entry struct {
	ID int64 `json:"id"`
	upload.Record
}

// New opens the database and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema files in name order.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		logging.Info("running migration", zap.String("file", f))
		content, err := migrations.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}
	return nil
}

// Record stores one import outcome.
func (s *Store) Record(ctx context.Context, rec upload.Record) error {
	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("journal_insert", time.Since(start))
	}()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imports (repo_id, folder_path, parent_entry_id, entry_id, document_name, template, size_bytes, success, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.RepoID, rec.FolderPath, rec.ParentEntryID, rec.EntryID, rec.DocumentName,
		rec.Template, rec.Size, rec.Success, rec.Error, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

// Recent returns the latest imports, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("journal_recent", time.Since(start))
	}()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo_id, folder_path, parent_entry_id, entry_id, document_name, template, size_bytes, success, error, created_at
		 FROM imports ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query imports: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RepoID, &e.FolderPath, &e.ParentEntryID, &e.EntryID,
			&e.DocumentName, &e.Template, &e.Size, &e.Success, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
