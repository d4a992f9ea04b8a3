package domain

import "strings"

// Validate checks the snapshot against the document invariants: unique
// primary ids per collection, non-blank names, and pattern references and
// usage rows pointing at existing, non-deleted targets. The first violation
// found is returned as a ValidationError.
//
// Duplicate primary ids are a hard failure rather than something to resolve
// silently: dropping one of two records that share an id could destroy user
// data, so the decision is left to the caller.
func Validate(s Snapshot) error {
	yarnIDs := make(map[int]bool, len(s.Yarns))
	for _, y := range s.Yarns {
		if yarnIDs[y.ID] {
			return validationf("duplicate yarn id %d", y.ID)
		}
		yarnIDs[y.ID] = true
		if strings.TrimSpace(y.Name) == "" {
			return validationf("yarn %d has a blank name", y.ID)
		}
	}

	patternIDs := make(map[int]bool, len(s.Patterns))
	livePatterns := make(map[int]bool, len(s.Patterns))
	for _, p := range s.Patterns {
		if patternIDs[p.ID] {
			return validationf("duplicate pattern id %d", p.ID)
		}
		patternIDs[p.ID] = true
		if !p.Deleted {
			livePatterns[p.ID] = true
		}
		if strings.TrimSpace(p.Name) == "" {
			return validationf("pattern %d has a blank name", p.ID)
		}
	}

	projectIDs := make(map[int]bool, len(s.Projects))
	for _, p := range s.Projects {
		if projectIDs[p.ID] {
			return validationf("duplicate project id %d", p.ID)
		}
		projectIDs[p.ID] = true
		if strings.TrimSpace(p.Name) == "" {
			return validationf("project %d has a blank name", p.ID)
		}
		if p.PatternID != nil && !livePatterns[*p.PatternID] {
			return validationf("project %d refers to non-existent pattern %d", p.ID, *p.PatternID)
		}
	}

	// Usage rows must point at live records. Soft-deleted targets count as
	// absent: their usages are cascaded out at delete time, so a reference
	// to one means the document was corrupted or merged badly.
	liveYarns := make(map[int]bool, len(s.Yarns))
	for _, y := range s.Yarns {
		if !y.Deleted {
			liveYarns[y.ID] = true
		}
	}
	liveProjects := make(map[int]bool, len(s.Projects))
	for _, p := range s.Projects {
		if !p.Deleted {
			liveProjects[p.ID] = true
		}
	}
	for _, u := range s.Usages {
		if !liveYarns[u.YarnID] {
			return validationf("usage refers to non-existent yarn %d", u.YarnID)
		}
		if !liveProjects[u.ProjectID] {
			return validationf("usage refers to non-existent project %d", u.ProjectID)
		}
	}
	return nil
}

// Normalize enforces usage uniqueness: when several rows share a
// (projectId, yarnId) pair the last-encountered row wins, preserving the
// original order of the survivors. Rows with a non-positive amount are
// dropped entirely; a zero allocation is represented by absence. Entity
// collections are returned untouched — duplicate primary ids are Validate's
// business, not Normalize's.
func Normalize(s Snapshot) Snapshot {
	out := s.Clone()

	type pair struct{ projectID, yarnID int }
	last := make(map[pair]int, len(out.Usages))
	for i, u := range out.Usages {
		last[pair{u.ProjectID, u.YarnID}] = i
	}
	kept := out.Usages[:0]
	for i, u := range out.Usages {
		if u.Amount <= 0 {
			continue
		}
		if last[pair{u.ProjectID, u.YarnID}] != i {
			continue
		}
		kept = append(kept, u)
	}
	out.Usages = kept
	return out
}

// FilterDeleted drops soft-deleted records from the working snapshot.
// Runs after Validate so that a dangling reference is reported rather than
// masked by the filter.
func FilterDeleted(s Snapshot) Snapshot {
	out := Snapshot{}
	for _, y := range s.Yarns {
		if !y.Deleted {
			out.Yarns = append(out.Yarns, cloneYarn(y))
		}
	}
	for _, p := range s.Projects {
		if !p.Deleted {
			out.Projects = append(out.Projects, cloneProject(p))
		}
	}
	for _, p := range s.Patterns {
		if !p.Deleted {
			out.Patterns = append(out.Patterns, clonePattern(p))
		}
	}
	out.Usages = append(out.Usages, s.Usages...)
	return out
}
