package stash

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"yarnstash/internal/archive"
	"yarnstash/internal/blob"
	"yarnstash/pkg/domain"
)

// failingStore wraps a Store and fails writes on demand, to exercise the
// import failure paths after the backup phase.
type failingStore struct {
	blob.Store
	failWrites bool
}

func (f *failingStore) Write(ctx context.Context, path string, data []byte) error {
	if f.failWrites {
		return fmt.Errorf("disk full")
	}
	return f.Store.Write(ctx, path, data)
}

func TestExportImportRoundTrip(t *testing.T) {
	repo, store := newTestRepo(t)
	seedRepo(t, repo)
	ctx := context.Background()

	image := []byte{0x89, 'P', 'N', 'G', 0x00}
	if err := store.Write(ctx, "files/images/yarn-1.png", image); err != nil {
		t.Fatalf("write image: %v", err)
	}
	orch := NewOrchestrator(repo)
	buf, err := orch.ExportArchive(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// Import into a fresh, empty store.
	otherStore := blob.NewMemory()
	otherRepo := New(otherStore, WithClock(testClock()))
	if _, err := otherRepo.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	otherOrch := NewOrchestrator(otherRepo, WithOrchestratorClock(testClock()))
	backup, err := otherOrch.ImportArchive(ctx, buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if backup != "" {
		t.Fatalf("expected no backup importing into empty store, got %q", backup)
	}
	snap := otherRepo.Snapshot()
	if len(snap.Yarns) != 1 || len(snap.Projects) != 1 || len(snap.Usages) != 1 {
		t.Fatalf("unexpected imported snapshot: %+v", snap)
	}
	got, ok, err := otherStore.Read(ctx, "files/images/yarn-1.png")
	if err != nil || !ok {
		t.Fatalf("image missing after import: %v %v", ok, err)
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("image corrupted: %v", got)
	}
	if otherOrch.State() != PhaseIdle {
		t.Fatalf("phase = %q, want idle", otherOrch.State())
	}
}

func TestImportArchiveBacksUpPreviousNamespace(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedRepo(t, repo)
	ctx := context.Background()

	other, otherStore := newTestRepo(t)
	if err := other.SaveYarn(ctx, domain.Yarn{ID: 9, Name: "Linen", Amount: 10}); err != nil {
		t.Fatalf("save: %v", err)
	}
	buf, err := NewOrchestrator(repo).ExportArchive(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	orch := NewOrchestrator(other, WithOrchestratorClock(testClock()))
	backup, err := orch.ImportArchive(ctx, buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.HasPrefix(backup, "files-") {
		t.Fatalf("unexpected backup prefix %q", backup)
	}
	// The previous document is intact under the backup prefix.
	moved, err := otherStore.List(ctx, backup+"/")
	if err != nil {
		t.Fatalf("list backup: %v", err)
	}
	if len(moved) == 0 {
		t.Fatalf("backup prefix empty")
	}
	raw, ok, err := otherStore.Read(ctx, backup+"/"+DocumentName)
	if err != nil || !ok {
		t.Fatalf("backup document missing: %v %v", ok, err)
	}
	if !bytes.Contains(raw, []byte("Linen")) {
		t.Fatalf("backup does not hold previous data: %s", raw)
	}
	// The live namespace holds the imported data.
	snap := other.Snapshot()
	if len(snap.Yarns) != 1 || snap.Yarns[0].Name != "Merino" {
		t.Fatalf("unexpected snapshot after import: %+v", snap)
	}
	// A later export must not drag the backup along.
	buf2, err := orch.ExportArchive(ctx)
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	entries, err := archive.Unpack(buf2)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Path, backup) {
			t.Fatalf("export contains backup path %q", e.Path)
		}
	}
}

func TestImportArchiveRejectsArchiveWithoutDocument(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedRepo(t, repo)
	ctx := context.Background()

	before := repo.Snapshot()
	orch := NewOrchestrator(repo)

	// Garbage is rejected in the validating phase.
	var impErr ImportError
	if _, err := orch.ImportArchive(ctx, []byte("not an archive")); !errors.As(err, &impErr) {
		t.Fatalf("expected ImportError, got %v", err)
	}
	if impErr.Phase != PhaseValidating || impErr.Backup != "" {
		t.Fatalf("unexpected failure detail: %+v", impErr)
	}

	// So is a well-formed archive that carries no document.
	buf, err := archive.Pack([]archive.Entry{{Path: "images/a.png", Data: []byte{1}}})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if _, err := orch.ImportArchive(ctx, buf); !errors.As(err, &impErr) {
		t.Fatalf("expected ImportError, got %v", err)
	}
	var vErr domain.ValidationError
	if !errors.As(impErr.Err, &vErr) {
		t.Fatalf("expected ValidationError cause, got %v", impErr.Err)
	}

	after := repo.Snapshot()
	if len(after.Yarns) != len(before.Yarns) {
		t.Fatal("state changed after rejected import")
	}
}

// rawArchive builds an archive buffer directly in the wire format, without
// the codec's path checks, simulating a hostile or corrupted file.
func rawArchive(t *testing.T, entries []archive.Entry) []byte {
	t.Helper()
	var body bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	uv := func(v uint64) { body.Write(tmp[:binary.PutUvarint(tmp[:], v)]) }
	uv(uint64(len(entries)))
	for _, e := range entries {
		uv(uint64(len(e.Path)))
		body.WriteString(e.Path)
		uv(uint64(len(e.Data)))
		body.Write(e.Data)
	}
	var out bytes.Buffer
	out.WriteString("YSA1")
	out.WriteByte(1)
	enc, err := zstd.NewWriter(&out)
	if err != nil {
		t.Fatalf("init compressor: %v", err)
	}
	if _, err := enc.Write(body.Bytes()); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return out.Bytes()
}

func TestImportArchiveCannotWriteOutsideNamespace(t *testing.T) {
	repo, store := newTestRepo(t)
	seedRepo(t, repo)
	ctx := context.Background()

	document, ok, err := repo.RawDocument(ctx)
	if err != nil || !ok {
		t.Fatalf("raw document: %v %v", ok, err)
	}
	// A valid document plus an entry aimed at the backup prefix the import
	// itself would create under the deterministic clock.
	buf := rawArchive(t, []archive.Entry{
		{Path: DocumentName, Data: document},
		{Path: "../files-20260314-090001/stash.json", Data: []byte("clobbered")},
	})
	before, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	orch := NewOrchestrator(repo, WithOrchestratorClock(testClock()))
	var impErr ImportError
	if _, err := orch.ImportArchive(ctx, buf); !errors.As(err, &impErr) {
		t.Fatalf("expected ImportError, got %v", err)
	}
	if impErr.Phase != PhaseValidating {
		t.Fatalf("phase = %q, want validating", impErr.Phase)
	}
	after, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("store changed after rejected import: %v vs %v", before, after)
	}
	for _, p := range after {
		if !strings.HasPrefix(p, "files/") {
			t.Fatalf("blob escaped the namespace: %s", p)
		}
	}
}

func TestImportArchiveFailureAfterBackupRetainsBackup(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedRepo(t, repo)
	ctx := context.Background()
	buf, err := NewOrchestrator(repo).ExportArchive(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	mem := blob.NewMemory()
	flaky := &failingStore{Store: mem}
	target := New(flaky, WithClock(testClock()))
	if _, err := target.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := target.SaveYarn(ctx, domain.Yarn{ID: 9, Name: "Linen", Amount: 10}); err != nil {
		t.Fatalf("save: %v", err)
	}

	flaky.failWrites = true
	orch := NewOrchestrator(target, WithOrchestratorClock(testClock()))
	_, err = orch.ImportArchive(ctx, buf)
	var impErr ImportError
	if !errors.As(err, &impErr) {
		t.Fatalf("expected ImportError, got %v", err)
	}
	if impErr.Phase != PhaseReplacing {
		t.Fatalf("phase = %q, want replacing", impErr.Phase)
	}
	if impErr.Backup == "" {
		t.Fatal("expected backup prefix in failure report")
	}
	if !strings.Contains(impErr.Error(), impErr.Backup) {
		t.Fatalf("error does not name the backup: %v", impErr)
	}
	// The backed-up previous state is still readable.
	flaky.failWrites = false
	raw, ok, err := mem.Read(ctx, impErr.Backup+"/"+DocumentName)
	if err != nil || !ok {
		t.Fatalf("backup lost: %v %v", ok, err)
	}
	if !bytes.Contains(raw, []byte("Linen")) {
		t.Fatalf("backup does not hold previous data: %s", raw)
	}
	if orch.State() != PhaseIdle {
		t.Fatalf("phase = %q, want idle after failure", orch.State())
	}
}
