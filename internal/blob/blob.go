// Package blob provides the path-addressed byte storage abstraction the
// stash core reads and writes through, with one driver per host platform.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Driver identifies a concrete storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores blobs under a local directory (desktop).
	DriverFilesystem Driver = "fs"
	// DriverMemory keeps blobs in process memory (tests).
	DriverMemory Driver = "memory"
	// DriverS3 targets an S3 / MinIO compatible bucket (cross-device sync).
	DriverS3 Driver = "s3"
	// DriverSQLite stores blobs as rows in a single SQLite file
	// (app-private flat key/value storage).
	DriverSQLite Driver = "sqlite"
	// DriverPostgres stores blobs in a Postgres table (self-hosted sync).
	DriverPostgres Driver = "postgres"
)

// Store is the narrow contract every backend implements. Paths may contain
// nested segments; flat backends encode the nesting directly in the key.
// There is no ordering guarantee across paths and no concurrent-writer
// protection beyond last-write-wins per path.
type Store interface {
	// Read returns the blob content, or ok=false when the path is absent.
	Read(ctx context.Context, path string) (data []byte, ok bool, err error)
	// Write stores content at path, replacing any previous blob.
	Write(ctx context.Context, path string, data []byte) error
	// Delete removes the blob. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error
	// List returns the paths of all blobs starting with prefix, ascending.
	List(ctx context.Context, prefix string) ([]string, error)
	// Rename moves a blob to a new path, replacing any blob already there.
	Rename(ctx context.Context, oldPath, newPath string) error
	// Driver reports the configured backend.
	Driver() Driver
}

// sanitizePath normalizes separators and rejects traversal and absolute
// paths so a key can never escape a driver's namespace.
func sanitizePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("invalid absolute path %q", p)
	}
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid path traversal in %q", p)
	}
	return clean, nil
}
