package blob

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreContract(t *testing.T) {
	store, err := NewSQLite(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Driver() != DriverSQLite {
		t.Fatalf("expected sqlite driver")
	}
	exerciseStore(t, store)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	ctx := context.Background()

	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if err := store.Write(ctx, "files/stash.json", []byte(`{"schema":2}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	data, ok, err := reopened.Read(ctx, "files/stash.json")
	if err != nil || !ok || string(data) != `{"schema":2}` {
		t.Fatalf("content lost across reopen: ok=%v err=%v %q", ok, err, data)
	}
}
