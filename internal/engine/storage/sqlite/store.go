// Package sqlite is the SQLite-backed content store. Authoring tools write
// through Upsert/Delete; the runtime reads through LoadAll.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roguebench/roguebench/internal/engine/content"
	"github.com/roguebench/roguebench/internal/engine/storage/sqlite/migrations"
	"github.com/roguebench/roguebench/internal/platform/errors"
	"github.com/roguebench/roguebench/internal/platform/storage/sqlitemigrate"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is a SQLite-backed content store.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens (creating if needed) a content store at the provided path and
// applies pending migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.ContentFS, "content"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying database handle. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadAll returns every stored record ordered by id.
func (s *Store) LoadAll(ctx context.Context) ([]content.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT id, name, kind, data, version, updated_at FROM definitions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query definitions: %w", err)
	}
	defer rows.Close()

	var records []content.Record
	for rows.Next() {
		var rec content.Record
		var data string
		var updatedAt int64
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Kind, &data, &rec.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan definition row: %w", err)
		}
		rec.Data = []byte(data)
		rec.UpdatedAt = fromMillis(updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate definition rows: %w", err)
	}
	return records, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (content.Record, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, name, kind, data, version, updated_at FROM definitions WHERE id = ?", id)

	var rec content.Record
	var data string
	var updatedAt int64
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Kind, &data, &rec.Version, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return content.Record{}, errors.WithMetadata(errors.CodeNotFound,
				fmt.Sprintf("definition %q not found", id),
				map[string]string{"id": id})
		}
		return content.Record{}, fmt.Errorf("scan definition row: %w", err)
	}
	rec.Data = []byte(data)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// Upsert inserts or replaces a record by id. The stored version increments
// on every update so registries can tell entries apart across reloads.
func (s *Store) Upsert(ctx context.Context, rec content.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if len(rec.Data) == 0 {
		return fmt.Errorf("record data is required")
	}
	kind := rec.Kind
	if kind == "" {
		kind = "state_machine"
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO definitions (id, name, kind, data, version, updated_at)
VALUES (?, ?, ?, ?, 1, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    kind = excluded.kind,
    data = excluded.data,
    version = definitions.version + 1,
    updated_at = excluded.updated_at`,
		rec.ID, rec.Name, kind, string(rec.Data), toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("upsert definition %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a record by id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.sqlDB.ExecContext(ctx, "DELETE FROM definitions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete definition %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete definition %s: %w", id, err)
	}
	return affected > 0, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	row := s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM definitions")
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count definitions: %w", err)
	}
	return count, nil
}
