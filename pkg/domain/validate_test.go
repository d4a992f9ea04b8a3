package domain

import (
	"errors"
	"testing"
)

func intPtr(v int) *int { return &v }

func validSnapshot() Snapshot {
	return Snapshot{
		Yarns: []Yarn{
			{ID: 1, Name: "Merino DK", Amount: 100},
			{ID: 2, Name: "Cotton 4ply", Amount: 50},
		},
		Patterns: []Pattern{{ID: 10, Name: "Plain socks"}},
		Projects: []Project{
			{ID: 100, Name: "Winter socks", PatternID: intPtr(10)},
			{ID: 101, Name: "Scarf"},
		},
		Usages: []Usage{
			{ProjectID: 100, YarnID: 1, Amount: 30},
			{ProjectID: 101, YarnID: 1, Amount: 20},
		},
	}
}

func TestValidateAcceptsConsistentSnapshot(t *testing.T) {
	if err := Validate(validSnapshot()); err != nil {
		t.Fatalf("expected valid snapshot, got %v", err)
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	s := validSnapshot()
	s.Yarns = append(s.Yarns, Yarn{ID: 1, Name: "Copy"})
	var verr ValidationError
	if err := Validate(s); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate yarn id, got %v", err)
	}

	s = validSnapshot()
	s.Projects = append(s.Projects, Project{ID: 100, Name: "Copy"})
	if err := Validate(s); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate project id, got %v", err)
	}

	s = validSnapshot()
	s.Patterns = append(s.Patterns, Pattern{ID: 10, Name: "Copy"})
	if err := Validate(s); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate pattern id, got %v", err)
	}
}

func TestValidateBlankNames(t *testing.T) {
	s := validSnapshot()
	s.Yarns[0].Name = "   "
	if err := Validate(s); err == nil {
		t.Fatalf("expected blank yarn name error")
	}

	s = validSnapshot()
	s.Projects[1].Name = ""
	if err := Validate(s); err == nil {
		t.Fatalf("expected blank project name error")
	}

	s = validSnapshot()
	s.Patterns[0].Name = "\t"
	if err := Validate(s); err == nil {
		t.Fatalf("expected blank pattern name error")
	}
}

func TestValidateDanglingReferences(t *testing.T) {
	s := validSnapshot()
	s.Projects[0].PatternID = intPtr(999)
	if err := Validate(s); err == nil {
		t.Fatalf("expected dangling pattern reference error")
	}

	s = validSnapshot()
	s.Usages = append(s.Usages, Usage{ProjectID: 100, YarnID: 999, Amount: 5})
	if err := Validate(s); err == nil {
		t.Fatalf("expected dangling yarn reference error")
	}

	s = validSnapshot()
	s.Usages = append(s.Usages, Usage{ProjectID: 999, YarnID: 1, Amount: 5})
	if err := Validate(s); err == nil {
		t.Fatalf("expected dangling project reference error")
	}
}

func TestValidateRejectsUsageOnSoftDeletedTarget(t *testing.T) {
	s := validSnapshot()
	s.Yarns[0].Deleted = true
	if err := Validate(s); err == nil {
		t.Fatalf("expected error for usage referencing soft-deleted yarn")
	}
}

func TestValidateRejectsPatternReferenceToSoftDeletedPattern(t *testing.T) {
	s := validSnapshot()
	s.Patterns[0].Deleted = true
	if err := Validate(s); err == nil {
		t.Fatalf("expected error for project referencing soft-deleted pattern")
	}
}

func TestNormalizeUsageDeDupLastWins(t *testing.T) {
	s := validSnapshot()
	s.Usages = []Usage{
		{ProjectID: 100, YarnID: 1, Amount: 30},
		{ProjectID: 101, YarnID: 1, Amount: 20},
		{ProjectID: 100, YarnID: 1, Amount: 45},
	}
	out := Normalize(s)
	if len(out.Usages) != 2 {
		t.Fatalf("expected 2 usages after de-dup, got %d", len(out.Usages))
	}
	if got := AssignedInProject(out, 1, 100); got != 45 {
		t.Fatalf("expected later duplicate to win with 45, got %d", got)
	}
	if got := AssignedInProject(out, 1, 101); got != 20 {
		t.Fatalf("expected unrelated usage untouched, got %d", got)
	}
}

func TestNormalizeDropsNonPositiveAmounts(t *testing.T) {
	s := validSnapshot()
	s.Usages = []Usage{
		{ProjectID: 100, YarnID: 1, Amount: 0},
		{ProjectID: 100, YarnID: 2, Amount: -3},
		{ProjectID: 101, YarnID: 2, Amount: 7},
	}
	out := Normalize(s)
	if len(out.Usages) != 1 {
		t.Fatalf("expected only the positive usage to survive, got %d", len(out.Usages))
	}
	if out.Usages[0].YarnID != 2 || out.Usages[0].ProjectID != 101 {
		t.Fatalf("unexpected surviving usage %+v", out.Usages[0])
	}
}

func TestNormalizeLeavesDuplicateEntityIDsAlone(t *testing.T) {
	s := validSnapshot()
	s.Yarns = append(s.Yarns, Yarn{ID: 1, Name: "Duplicate"})
	out := Normalize(s)
	if len(out.Yarns) != 3 {
		t.Fatalf("normalize must not drop entities, got %d yarns", len(out.Yarns))
	}
}

func TestFilterDeleted(t *testing.T) {
	s := validSnapshot()
	s.Yarns[1].Deleted = true
	s.Patterns[0].Deleted = true
	out := FilterDeleted(s)
	if len(out.Yarns) != 1 {
		t.Fatalf("expected 1 live yarn, got %d", len(out.Yarns))
	}
	if len(out.Patterns) != 0 {
		t.Fatalf("expected no live patterns, got %d", len(out.Patterns))
	}
	if len(out.Projects) != 2 || len(out.Usages) != 2 {
		t.Fatalf("unrelated collections must be untouched")
	}
}
