package stash

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"yarnstash/internal/blob"
	"yarnstash/pkg/domain"
)

const (
	// DefaultNamespace is the blob prefix holding the live document and its
	// sibling assets. Backups made during an import move to a timestamped
	// sibling prefix so they never end up inside a later export.
	DefaultNamespace = "files"
	// DocumentName is the stash document's file name within the namespace.
	DocumentName = "stash.json"
	// backupTimestamp is the layout for backup file and prefix names.
	backupTimestamp = "20060102-150405"
)

// Clock supplies the current time; injectable for deterministic tests.
type Clock func() time.Time

// Repository owns the in-memory snapshot of the stash document and persists
// every mutation as a whole-document rewrite through a blob store. The held
// snapshot keeps soft-deleted records so they survive round trips; all
// accessors expose the live (filtered) view.
type Repository struct {
	mu        sync.Mutex
	store     blob.Store
	namespace string
	policy    domain.AllocationPolicy
	logger    zerolog.Logger
	metrics   MetricsRecorder
	clock     Clock
	snapshot  domain.Snapshot
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

// WithMetrics attaches an operation metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(r *Repository) { r.metrics = rec }
}

// WithClock overrides the time source used for modification stamps and
// backup names.
func WithClock(clock Clock) Option {
	return func(r *Repository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithAllocationPolicy selects how availability treats over-committed yarns.
func WithAllocationPolicy(policy domain.AllocationPolicy) Option {
	return func(r *Repository) { r.policy = policy }
}

// WithNamespace overrides the blob prefix the repository lives under.
func WithNamespace(namespace string) Option {
	return func(r *Repository) {
		namespace = strings.Trim(namespace, "/")
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

// New constructs a repository over the given store. Call Load before any
// other operation.
func New(store blob.Store, opts ...Option) *Repository {
	r := &Repository{
		store:     store,
		namespace: DefaultNamespace,
		logger:    zerolog.Nop(),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Namespace returns the blob prefix the repository lives under.
func (r *Repository) Namespace() string { return r.namespace }

// DocumentPath returns the full blob path of the stash document.
func (r *Repository) DocumentPath() string { return r.namespace + "/" + DocumentName }

func (r *Repository) observe(ctx context.Context, operation string, start time.Time, err error) {
	if r.metrics != nil {
		r.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
}

// Load reads, decodes, normalizes and validates the document, then installs
// it as the working snapshot. An absent or empty document loads as an empty
// stash; a document that fails decoding or validation loads nothing and the
// previous snapshot (if any) stays in place.
func (r *Repository) Load(ctx context.Context) (domain.Snapshot, error) {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.loadLocked(ctx)
	r.observe(ctx, "load", start, err)
	if err != nil {
		return domain.Snapshot{}, err
	}
	r.snapshot = snap
	live := domain.FilterDeleted(snap)
	r.logger.Info().
		Int("yarns", len(live.Yarns)).
		Int("projects", len(live.Projects)).
		Int("patterns", len(live.Patterns)).
		Int("usages", len(live.Usages)).
		Msg("loaded stash document")
	return live, nil
}

func (r *Repository) loadLocked(ctx context.Context) (domain.Snapshot, error) {
	raw, ok, err := r.store.Read(ctx, r.DocumentPath())
	if err != nil {
		return domain.Snapshot{}, domain.IOError{Op: "read", Path: r.DocumentPath(), Err: err}
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		r.logger.Info().Str("path", r.DocumentPath()).Msg("no stash document, starting empty")
		return domain.Snapshot{}, nil
	}
	return r.decodeAndCheck(raw)
}

// decodeAndCheck runs the full read-side pipeline on raw document bytes.
func (r *Repository) decodeAndCheck(raw []byte) (domain.Snapshot, error) {
	snap, err := DecodeDocument(raw)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap = domain.Normalize(snap)
	if err := domain.Validate(snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Snapshot returns a deep copy of the live view.
func (r *Repository) Snapshot() domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.FilterDeleted(r.snapshot)
}

// persistLocked writes next as the new document, taking a timestamped backup
// of the current document first, and installs next as the working snapshot
// only after the write succeeds.
func (r *Repository) persistLocked(ctx context.Context, next domain.Snapshot) error {
	raw, err := EncodeDocument(next)
	if err != nil {
		return fmt.Errorf("encode stash document: %w", err)
	}
	if _, err := r.backupLocked(ctx); err != nil {
		return err
	}
	if err := r.store.Write(ctx, r.DocumentPath(), raw); err != nil {
		return domain.IOError{Op: "write", Path: r.DocumentPath(), Err: err}
	}
	r.snapshot = next
	return nil
}

// backupLocked copies the current document to a timestamped sibling. Returns
// the backup file name, or "" when there is no document to back up.
func (r *Repository) backupLocked(ctx context.Context) (string, error) {
	raw, ok, err := r.store.Read(ctx, r.DocumentPath())
	if err != nil {
		return "", domain.IOError{Op: "read", Path: r.DocumentPath(), Err: err}
	}
	if !ok {
		return "", nil
	}
	name := fmt.Sprintf("stash-%s.json", r.clock().Format(backupTimestamp))
	path := r.namespace + "/" + name
	if err := r.store.Write(ctx, path, raw); err != nil {
		return "", domain.IOError{Op: "write", Path: path, Err: err}
	}
	r.logger.Debug().Str("backup", name).Msg("backed up stash document")
	return name, nil
}

// Backup copies the current document to a timestamped sibling without
// touching the live document. Returns "" when no document exists yet.
func (r *Repository) Backup(ctx context.Context) (string, error) {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	name, err := r.backupLocked(ctx)
	r.observe(ctx, "backup", start, err)
	return name, err
}

// ListBackups returns the timestamped document backups in the namespace,
// ascending by name (which is ascending by creation time).
func (r *Repository) ListBackups(ctx context.Context) ([]string, error) {
	paths, err := r.store.List(ctx, r.namespace+"/stash-")
	if err != nil {
		return nil, domain.IOError{Op: "list", Path: r.namespace, Err: err}
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimPrefix(p, r.namespace+"/")
		if strings.HasPrefix(name, "stash-") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// RestoreFromBackup replaces the live document with the named backup. The
// backup's content goes through the same validation as an import, and the
// document being replaced is backed up first, so a restore is never lossy.
func (r *Repository) RestoreFromBackup(ctx context.Context, name string) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.restoreLocked(ctx, name)
	r.observe(ctx, "restore_backup", start, err)
	return err
}

func (r *Repository) restoreLocked(ctx context.Context, name string) error {
	path := r.namespace + "/" + name
	raw, ok, err := r.store.Read(ctx, path)
	if err != nil {
		return domain.IOError{Op: "read", Path: path, Err: err}
	}
	if !ok {
		return fmt.Errorf("backup %s does not exist", name)
	}
	if err := r.importLocked(ctx, raw); err != nil {
		return err
	}
	r.logger.Info().Str("backup", name).Msg("restored stash document from backup")
	return nil
}

// ImportDocument replaces the live document with raw. The candidate is
// decoded, normalized and validated before anything is touched; then the
// current document is backed up, the raw bytes are written verbatim, and
// the validated snapshot becomes the working state. A failed import leaves
// the store and snapshot exactly as they were.
func (r *Repository) ImportDocument(ctx context.Context, raw []byte) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.importLocked(ctx, raw)
	r.observe(ctx, "import_document", start, err)
	return err
}

func (r *Repository) importLocked(ctx context.Context, raw []byte) error {
	snap, err := r.decodeAndCheck(raw)
	if err != nil {
		return err
	}
	if _, err := r.backupLocked(ctx); err != nil {
		return err
	}
	if err := r.store.Write(ctx, r.DocumentPath(), raw); err != nil {
		return domain.IOError{Op: "write", Path: r.DocumentPath(), Err: err}
	}
	r.snapshot = snap
	return nil
}

// RawDocument returns the stored document bytes verbatim, for export.
func (r *Repository) RawDocument(ctx context.Context) ([]byte, bool, error) {
	raw, ok, err := r.store.Read(ctx, r.DocumentPath())
	if err != nil {
		return nil, false, domain.IOError{Op: "read", Path: r.DocumentPath(), Err: err}
	}
	return raw, ok, nil
}

// NewYarn mints an unsaved yarn with a fresh id. When nameTemplate contains
// %d the id is substituted; an empty template yields "Yarn %d".
func (r *Repository) NewYarn(nameTemplate string) domain.Yarn {
	r.mu.Lock()
	defer r.mu.Unlock()
	taken := make(map[int]bool, len(r.snapshot.Yarns))
	for _, y := range r.snapshot.Yarns {
		taken[y.ID] = true
	}
	id := domain.NewID(taken)
	return domain.Yarn{ID: id, Name: expandName(nameTemplate, "Yarn %d", id), Modified: r.clock()}
}

// NewProject mints an unsaved project with a fresh id.
func (r *Repository) NewProject(nameTemplate string) domain.Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	taken := make(map[int]bool, len(r.snapshot.Projects))
	for _, p := range r.snapshot.Projects {
		taken[p.ID] = true
	}
	id := domain.NewID(taken)
	return domain.Project{ID: id, Name: expandName(nameTemplate, "Project %d", id), Modified: r.clock()}
}

// NewPattern mints an unsaved pattern with a fresh id.
func (r *Repository) NewPattern(nameTemplate string) domain.Pattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	taken := make(map[int]bool, len(r.snapshot.Patterns))
	for _, p := range r.snapshot.Patterns {
		taken[p.ID] = true
	}
	id := domain.NewID(taken)
	return domain.Pattern{ID: id, Name: expandName(nameTemplate, "Pattern %d", id), Modified: r.clock()}
}

func expandName(template, fallback string, id int) string {
	if template == "" {
		template = fallback
	}
	if strings.Contains(template, "%d") {
		return fmt.Sprintf(template, id)
	}
	return template
}

// SaveYarn inserts or replaces the yarn with the same id. Saving over a
// soft-deleted record revives it.
func (r *Repository) SaveYarn(ctx context.Context, yarn domain.Yarn) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	err := func() error {
		if strings.TrimSpace(yarn.Name) == "" {
			return domain.ValidationError{Reason: fmt.Sprintf("yarn %d has a blank name", yarn.ID)}
		}
		yarn.Deleted = false
		yarn.Modified = r.clock()
		next := r.snapshot.Clone()
		replaced := false
		for i := range next.Yarns {
			if next.Yarns[i].ID == yarn.ID {
				next.Yarns[i] = yarn
				replaced = true
				break
			}
		}
		if !replaced {
			next.Yarns = append(next.Yarns, yarn)
		}
		return r.persistLocked(ctx, next)
	}()
	r.observe(ctx, "save_yarn", start, err)
	if err == nil {
		r.logger.Info().Int("id", yarn.ID).Msg("saved yarn")
	}
	return err
}

// SaveProject inserts or replaces the project with the same id. A pattern
// reference must resolve to a live pattern.
func (r *Repository) SaveProject(ctx context.Context, project domain.Project) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	err := func() error {
		if strings.TrimSpace(project.Name) == "" {
			return domain.ValidationError{Reason: fmt.Sprintf("project %d has a blank name", project.ID)}
		}
		if project.PatternID != nil {
			if _, ok := domain.FilterDeleted(r.snapshot).FindPattern(*project.PatternID); !ok {
				return domain.ErrNotFound{Entity: domain.EntityPattern, ID: *project.PatternID}
			}
		}
		project.Deleted = false
		project.Modified = r.clock()
		next := r.snapshot.Clone()
		replaced := false
		for i := range next.Projects {
			if next.Projects[i].ID == project.ID {
				next.Projects[i] = project
				replaced = true
				break
			}
		}
		if !replaced {
			next.Projects = append(next.Projects, project)
		}
		return r.persistLocked(ctx, next)
	}()
	r.observe(ctx, "save_project", start, err)
	if err == nil {
		r.logger.Info().Int("id", project.ID).Msg("saved project")
	}
	return err
}

// SavePattern inserts or replaces the pattern with the same id.
func (r *Repository) SavePattern(ctx context.Context, pattern domain.Pattern) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	err := func() error {
		if strings.TrimSpace(pattern.Name) == "" {
			return domain.ValidationError{Reason: fmt.Sprintf("pattern %d has a blank name", pattern.ID)}
		}
		pattern.Deleted = false
		pattern.Modified = r.clock()
		next := r.snapshot.Clone()
		replaced := false
		for i := range next.Patterns {
			if next.Patterns[i].ID == pattern.ID {
				next.Patterns[i] = pattern
				replaced = true
				break
			}
		}
		if !replaced {
			next.Patterns = append(next.Patterns, pattern)
		}
		return r.persistLocked(ctx, next)
	}()
	r.observe(ctx, "save_pattern", start, err)
	if err == nil {
		r.logger.Info().Int("id", pattern.ID).Msg("saved pattern")
	}
	return err
}

// SetPatternPDF attaches or clears the generated document asset reference
// on a pattern.
func (r *Repository) SetPatternPDF(ctx context.Context, patternID int, pdfID *int) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	err := func() error {
		next := r.snapshot.Clone()
		for i := range next.Patterns {
			if next.Patterns[i].ID == patternID && !next.Patterns[i].Deleted {
				if pdfID == nil {
					next.Patterns[i].PDFID = nil
				} else {
					v := *pdfID
					next.Patterns[i].PDFID = &v
				}
				next.Patterns[i].Modified = r.clock()
				return r.persistLocked(ctx, next)
			}
		}
		return domain.ErrNotFound{Entity: domain.EntityPattern, ID: patternID}
	}()
	r.observe(ctx, "set_pattern_pdf", start, err)
	return err
}

// DeleteYarn soft-deletes the yarn and removes its usage rows.
func (r *Repository) DeleteYarn(ctx context.Context, id int) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	err := func() error {
		next := r.snapshot.Clone()
		found := false
		for i := range next.Yarns {
			if next.Yarns[i].ID == id && !next.Yarns[i].Deleted {
				next.Yarns[i].Deleted = true
				next.Yarns[i].Modified = r.clock()
				found = true
				break
			}
		}
		if !found {
			return domain.ErrNotFound{Entity: domain.EntityYarn, ID: id}
		}
		kept := next.Usages[:0]
		for _, u := range next.Usages {
			if u.YarnID != id {
				kept = append(kept, u)
			}
		}
		next.Usages = kept
		return r.persistLocked(ctx, next)
	}()
	r.observe(ctx, "delete_yarn", start, err)
	if err == nil {
		r.logger.Info().Int("id", id).Msg("deleted yarn")
	}
	return err
}

// DeleteProject soft-deletes the project and removes its usage rows.
func (r *Repository) DeleteProject(ctx context.Context, id int) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	err := func() error {
		next := r.snapshot.Clone()
		found := false
		for i := range next.Projects {
			if next.Projects[i].ID == id && !next.Projects[i].Deleted {
				next.Projects[i].Deleted = true
				next.Projects[i].Modified = r.clock()
				found = true
				break
			}
		}
		if !found {
			return domain.ErrNotFound{Entity: domain.EntityProject, ID: id}
		}
		kept := next.Usages[:0]
		for _, u := range next.Usages {
			if u.ProjectID != id {
				kept = append(kept, u)
			}
		}
		next.Usages = kept
		return r.persistLocked(ctx, next)
	}()
	r.observe(ctx, "delete_project", start, err)
	if err == nil {
		r.logger.Info().Int("id", id).Msg("deleted project")
	}
	return err
}

// DeletePattern soft-deletes the pattern and clears any live project's
// reference to it.
func (r *Repository) DeletePattern(ctx context.Context, id int) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	err := func() error {
		next := r.snapshot.Clone()
		found := false
		for i := range next.Patterns {
			if next.Patterns[i].ID == id && !next.Patterns[i].Deleted {
				next.Patterns[i].Deleted = true
				next.Patterns[i].Modified = r.clock()
				found = true
				break
			}
		}
		if !found {
			return domain.ErrNotFound{Entity: domain.EntityPattern, ID: id}
		}
		for i := range next.Projects {
			if next.Projects[i].PatternID != nil && *next.Projects[i].PatternID == id {
				next.Projects[i].PatternID = nil
				next.Projects[i].Modified = r.clock()
			}
		}
		return r.persistLocked(ctx, next)
	}()
	r.observe(ctx, "delete_pattern", start, err)
	if err == nil {
		r.logger.Info().Int("id", id).Msg("deleted pattern")
	}
	return err
}

// SetAssignments atomically replaces every usage row of the project with the
// given yarn-id-to-amount map. Non-positive amounts mean "no row"; other
// projects' rows are untouched. All referenced yarns must exist.
func (r *Repository) SetAssignments(ctx context.Context, projectID int, amounts map[int]int) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	err := func() error {
		live := domain.FilterDeleted(r.snapshot)
		if _, ok := live.FindProject(projectID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityProject, ID: projectID}
		}
		yarnIDs := make([]int, 0, len(amounts))
		for yarnID := range amounts {
			if _, ok := live.FindYarn(yarnID); !ok {
				return domain.ErrNotFound{Entity: domain.EntityYarn, ID: yarnID}
			}
			yarnIDs = append(yarnIDs, yarnID)
		}
		sort.Ints(yarnIDs)

		next := r.snapshot.Clone()
		kept := next.Usages[:0]
		for _, u := range next.Usages {
			if u.ProjectID != projectID {
				kept = append(kept, u)
			}
		}
		next.Usages = kept
		now := r.clock()
		for _, yarnID := range yarnIDs {
			if amounts[yarnID] <= 0 {
				continue
			}
			next.Usages = append(next.Usages, domain.Usage{
				ProjectID: projectID,
				YarnID:    yarnID,
				Amount:    amounts[yarnID],
				Modified:  now,
			})
		}
		return r.persistLocked(ctx, next)
	}()
	r.observe(ctx, "set_assignments", start, err)
	if err == nil {
		r.logger.Info().Int("project", projectID).Int("yarns", len(amounts)).Msg("replaced assignments")
	}
	return err
}

// Available reports how much of the yarn remains un-committed under the
// repository's allocation policy. See domain.Available for the exclusion
// semantics.
func (r *Repository) Available(yarnID int, excludeProjectID *int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Available(domain.FilterDeleted(r.snapshot), yarnID, excludeProjectID, r.policy)
}
