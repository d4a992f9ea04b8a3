package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLite implements Store as a single `blobs` table in one SQLite file.
// This is the flat key/value platform analogue: nested blob paths are kept
// verbatim in the key column, no directories exist.
type SQLite struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLite opens (or creates) the database file and ensures the blobs table.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "yarnstash.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		path TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Driver reports the backend identifier.
func (s *SQLite) Driver() Driver { return DriverSQLite }

// Read selects the payload for the key.
func (s *SQLite) Read(ctx context.Context, p string) ([]byte, bool, error) {
	key, err := sanitizePath(p)
	if err != nil {
		return nil, false, err
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT payload FROM blobs WHERE path = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select blob: %w", err)
	}
	return data, true, nil
}

// Write upserts the payload.
func (s *SQLite) Write(ctx context.Context, p string, data []byte) error {
	key, err := sanitizePath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs(path,payload) VALUES(?,?) ON CONFLICT(path) DO UPDATE SET payload=excluded.payload`,
		key, data); err != nil {
		return fmt.Errorf("upsert blob: %w", err)
	}
	return nil
}

// Delete removes the row if present.
func (s *SQLite) Delete(ctx context.Context, p string) error {
	key, err := sanitizePath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE path = ?`, key); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// List selects all keys and filters by prefix in Go; the table holds one
// user's stash, so scanning the key column stays cheap.
func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM blobs ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan blob path: %w", err)
		}
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Rename rewrites the key inside one transaction, replacing any target row.
func (s *SQLite) Rename(ctx context.Context, oldPath, newPath string) (retErr error) {
	oldKey, err := sanitizePath(oldPath)
	if err != nil {
		return err
	}
	newKey, err := sanitizePath(newPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE path = ?`, newKey); err != nil {
		retErr = fmt.Errorf("clear rename target: %w", err)
		return retErr
	}
	res, err := tx.ExecContext(ctx, `UPDATE blobs SET path = ? WHERE path = ?`, newKey, oldKey)
	if err != nil {
		retErr = fmt.Errorf("rename blob: %w", err)
		return retErr
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		retErr = fmt.Errorf("rename %s: %w", oldPath, fs.ErrNotExist)
		return retErr
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Path returns the configured database file path.
func (s *SQLite) Path() string { return s.path }
