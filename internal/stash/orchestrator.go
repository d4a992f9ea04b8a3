package stash

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"yarnstash/internal/archive"
	"yarnstash/internal/blob"
	"yarnstash/pkg/domain"
)

// Phase is the orchestrator's import state. Transitions run strictly
// Idle → Validating → BackingUp → Replacing → Idle; a failure in any phase
// returns to Idle with the partially completed work reported, never undone.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseBackingUp  Phase = "backing_up"
	PhaseReplacing  Phase = "replacing"
)

// ImportError reports an import failure together with where the procedure
// stopped and which backup prefix (if any) holds the previous state. The
// backup is never deleted automatically: a failure after the backup phase is
// recoverable by hand from that prefix.
type ImportError struct {
	Phase  Phase
	Backup string
	Err    error
}

func (e ImportError) Error() string {
	if e.Backup != "" {
		return fmt.Sprintf("import failed while %s (previous data retained under %s/): %v", e.Phase, e.Backup, e.Err)
	}
	return fmt.Sprintf("import failed while %s: %v", e.Phase, e.Err)
}

func (e ImportError) Unwrap() error { return e.Err }

// Orchestrator drives whole-stash export and import through the archive
// codec. Export walks the live namespace into one compressed buffer; import
// validates the candidate, moves the live namespace aside into a
// timestamped backup prefix, then writes the archive's entries in its place.
type Orchestrator struct {
	mu      sync.Mutex
	store   blob.Store
	repo    *Repository
	logger  zerolog.Logger
	metrics MetricsRecorder
	clock   Clock
	phase   Phase
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger attaches a structured logger.
func WithOrchestratorLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithOrchestratorMetrics attaches an operation metrics recorder.
func WithOrchestratorMetrics(rec MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = rec }
}

// WithOrchestratorClock overrides the time source used for backup prefixes.
func WithOrchestratorClock(clock Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewOrchestrator builds an orchestrator over the repository's store and
// namespace.
func NewOrchestrator(repo *Repository, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:  repo.store,
		repo:   repo,
		logger: zerolog.Nop(),
		clock:  func() time.Time { return time.Now().UTC() },
		phase:  PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports the current import phase.
func (o *Orchestrator) State() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) observe(ctx context.Context, operation string, start time.Time, err error) {
	if o.metrics != nil {
		o.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
}

// ExportArchive packs every blob under the live namespace into a single
// archive buffer. Paths inside the archive are relative to the namespace,
// so the document travels as "stash.json". Timestamped backup prefixes live
// outside the namespace and are never included.
func (o *Orchestrator) ExportArchive(ctx context.Context) ([]byte, error) {
	start := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := o.exportLocked(ctx)
	o.observe(ctx, "export_archive", start, err)
	return data, err
}

func (o *Orchestrator) exportLocked(ctx context.Context) ([]byte, error) {
	ns := o.repo.Namespace()
	paths, err := o.store.List(ctx, ns+"/")
	if err != nil {
		return nil, domain.IOError{Op: "list", Path: ns, Err: err}
	}
	entries := make([]archive.Entry, 0, len(paths))
	for _, p := range paths {
		data, ok, err := o.store.Read(ctx, p)
		if err != nil {
			return nil, domain.IOError{Op: "read", Path: p, Err: err}
		}
		if !ok {
			continue // raced with a delete, skip
		}
		entries = append(entries, archive.Entry{
			Path: strings.TrimPrefix(p, ns+"/"),
			Data: data,
		})
	}
	buf, err := archive.Pack(entries)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Int("entries", len(entries)).Int("bytes", len(buf)).Msg("exported stash archive")
	return buf, nil
}

// ImportArchive replaces the live namespace with the archive's contents.
// The embedded document is validated before anything is touched; the
// previous namespace survives under the returned backup prefix ("" when the
// namespace was empty). A failure after the backup phase leaves that prefix
// in place for manual recovery.
func (o *Orchestrator) ImportArchive(ctx context.Context, data []byte) (backup string, err error) {
	start := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() { o.phase = PhaseIdle }()

	backup, err = o.importLocked(ctx, data)
	o.observe(ctx, "import_archive", start, err)
	return backup, err
}

func (o *Orchestrator) importLocked(ctx context.Context, data []byte) (string, error) {
	o.phase = PhaseValidating
	entries, err := archive.Unpack(data)
	if err != nil {
		return "", ImportError{Phase: PhaseValidating, Err: err}
	}
	var document []byte
	for _, e := range entries {
		if e.Path == DocumentName {
			document = e.Data
			break
		}
	}
	if document == nil {
		return "", ImportError{Phase: PhaseValidating, Err: domain.ValidationError{
			Reason: fmt.Sprintf("archive contains no %s", DocumentName),
		}}
	}
	snap, err := o.repo.decodeAndCheck(document)
	if err != nil {
		return "", ImportError{Phase: PhaseValidating, Err: err}
	}

	o.phase = PhaseBackingUp
	ns := o.repo.Namespace()
	backupPrefix := fmt.Sprintf("%s-%s", ns, o.clock().Format(backupTimestamp))
	live, err := o.store.List(ctx, ns+"/")
	if err != nil {
		return "", ImportError{Phase: PhaseBackingUp, Err: domain.IOError{Op: "list", Path: ns, Err: err}}
	}
	moved := false
	for _, p := range live {
		rel := strings.TrimPrefix(p, ns+"/")
		if err := o.store.Rename(ctx, p, backupPrefix+"/"+rel); err != nil {
			backup := ""
			if moved {
				backup = backupPrefix
			}
			return backup, ImportError{Phase: PhaseBackingUp, Backup: backup,
				Err: domain.IOError{Op: "rename", Path: p, Err: err}}
		}
		moved = true
	}
	backup := ""
	if moved {
		backup = backupPrefix
	}

	o.phase = PhaseReplacing
	for _, e := range entries {
		if err := o.store.Write(ctx, ns+"/"+e.Path, e.Data); err != nil {
			return backup, ImportError{Phase: PhaseReplacing, Backup: backup,
				Err: domain.IOError{Op: "write", Path: ns + "/" + e.Path, Err: err}}
		}
	}
	o.repo.mu.Lock()
	o.repo.snapshot = snap
	o.repo.mu.Unlock()
	o.logger.Info().
		Int("entries", len(entries)).
		Str("backup", backup).
		Msg("imported stash archive")
	return backup, nil
}
