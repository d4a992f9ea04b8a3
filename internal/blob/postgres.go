package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const defaultPostgresDSN = "postgres://localhost/yarnstash?sslmode=disable"

// Postgres implements Store as a `blobs` table in a Postgres database, for
// installs that sync through a self-hosted server instead of a bucket. Same
// table shape as the SQLite driver.
type Postgres struct {
	db *sql.DB
	mu sync.Mutex
}

// NewPostgres opens the database with the given DSN (falling back to a local
// default), pings it, and ensures the blobs table.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS blobs (
		path TEXT PRIMARY KEY,
		payload BYTEA NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Driver reports the backend identifier.
func (s *Postgres) Driver() Driver { return DriverPostgres }

// Read selects the payload for the key.
func (s *Postgres) Read(ctx context.Context, p string) ([]byte, bool, error) {
	key, err := sanitizePath(p)
	if err != nil {
		return nil, false, err
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT payload FROM blobs WHERE path = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select blob: %w", err)
	}
	return data, true, nil
}

// Write upserts the payload.
func (s *Postgres) Write(ctx context.Context, p string, data []byte) error {
	key, err := sanitizePath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs(path,payload) VALUES($1,$2) ON CONFLICT(path) DO UPDATE SET payload=excluded.payload`,
		key, data); err != nil {
		return fmt.Errorf("upsert blob: %w", err)
	}
	return nil
}

// Delete removes the row if present.
func (s *Postgres) Delete(ctx context.Context, p string) error {
	key, err := sanitizePath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE path = $1`, key); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// List selects all keys and filters by prefix in Go.
func (s *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
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
func (s *Postgres) Rename(ctx context.Context, oldPath, newPath string) (retErr error) {
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
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE path = $1`, newKey); err != nil {
		retErr = fmt.Errorf("clear rename target: %w", err)
		return retErr
	}
	res, err := tx.ExecContext(ctx, `UPDATE blobs SET path = $1 WHERE path = $2`, newKey, oldKey)
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
func (s *Postgres) Close() error { return s.db.Close() }

// DB exposes the underlying handle for integration testing hooks.
func (s *Postgres) DB() *sql.DB { return s.db }
