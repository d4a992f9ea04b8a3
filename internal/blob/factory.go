package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects a Store implementation using environment variables.
//
//	YARNSTASH_BLOB_DRIVER: fs|memory|s3|sqlite|postgres (default fs)
//	YARNSTASH_BLOB_FS_ROOT: directory root when driver=fs (default ./stashdata)
//	YARNSTASH_BLOB_SQLITE_PATH: database file when driver=sqlite
//	YARNSTASH_BLOB_PG_DSN: connection string when driver=postgres
//	(S3-specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("YARNSTASH_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("YARNSTASH_BLOB_FS_ROOT"))
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverSQLite:
		return NewSQLite(os.Getenv("YARNSTASH_BLOB_SQLITE_PATH"))
	case DriverPostgres:
		return NewPostgres(ctx, os.Getenv("YARNSTASH_BLOB_PG_DSN"))
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
