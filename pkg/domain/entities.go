// Package domain defines the persistent entities, validation and allocation
// primitives for the yarn stash document store.
package domain

import (
	"encoding/json"
	"time"
)

// EntityType identifies the kind of record stored in the stash document.
type EntityType string

// Supported entity type identifiers used in errors and persistence buckets.
const (
	// EntityYarn identifies a stocked material record.
	EntityYarn EntityType = "yarn"
	// EntityProject identifies a piece of work consuming materials.
	EntityProject EntityType = "project"
	// EntityPattern identifies an instructional document record.
	EntityPattern EntityType = "pattern"
	// EntityUsage identifies a committed material-to-project allocation.
	EntityUsage EntityType = "usage"
)

// ProjectStatus is derived from a project's start/end dates and never stored.
type ProjectStatus string

// Project lifecycle states: no start date yet, started, finished.
const (
	StatusPlanning   ProjectStatus = "planning"
	StatusInProgress ProjectStatus = "in_progress"
	StatusFinished   ProjectStatus = "finished"
)

// Yarn is a stocked crafting material with a finite on-hand quantity.
// Amount is unit-agnostic (grams or meters depending on the user setting).
type Yarn struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	Color         string    `json:"color,omitempty"`
	Brand         string    `json:"brand,omitempty"`
	Amount        int       `json:"amount"`
	ColorLot      string    `json:"colorLot,omitempty"`
	StoragePlace  string    `json:"storagePlace,omitempty"`
	URL           string    `json:"url,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	GramsPerBall  *int      `json:"gramsPerBall,omitempty"`
	MetersPerBall *int      `json:"metersPerBall,omitempty"`
	DateAdded     string    `json:"dateAdded,omitempty"`
	Modified      time.Time `json:"modified,omitzero"`
	Deleted       bool      `json:"deleted,omitempty"`
}

// UnmarshalJSON accepts the legacy "date" field as an alias for dateAdded.
func (y *Yarn) UnmarshalJSON(data []byte) error {
	type alias Yarn
	aux := struct {
		*alias
		LegacyDate string `json:"date"`
	}{alias: (*alias)(y)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if y.DateAdded == "" && aux.LegacyDate != "" {
		y.DateAdded = aux.LegacyDate
	}
	return nil
}

// Project is a piece of work that consumes quantities of one or more yarns.
type Project struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	PatternID  *int      `json:"patternId,omitempty"`
	StartDate  string    `json:"startDate,omitempty"`
	EndDate    string    `json:"endDate,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	NeedleSize string    `json:"needleSize,omitempty"`
	Size       string    `json:"size,omitempty"`
	Gauge      *int      `json:"gauge,omitempty"`
	MadeFor    string    `json:"madeFor,omitempty"`
	RowCount   int       `json:"rowCount,omitempty"`
	URL        string    `json:"url,omitempty"`
	Modified   time.Time `json:"modified,omitzero"`
	Deleted    bool      `json:"deleted,omitempty"`
}

// UnmarshalJSON accepts the legacy single "date" field as an alias for startDate.
func (p *Project) UnmarshalJSON(data []byte) error {
	type alias Project
	aux := struct {
		*alias
		LegacyDate string `json:"date"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p.StartDate == "" && aux.LegacyDate != "" {
		p.StartDate = aux.LegacyDate
	}
	return nil
}

// Status derives the project lifecycle state from its dates.
func (p Project) Status() ProjectStatus {
	switch {
	case p.EndDate != "":
		return StatusFinished
	case p.StartDate != "":
		return StatusInProgress
	default:
		return StatusPlanning
	}
}

// Pattern is an optional instructional document attached to projects.
// PDFID references a generated document asset stored alongside the document.
type Pattern struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Creator  string    `json:"creator,omitempty"`
	Gauge    string    `json:"gauge,omitempty"`
	Category string    `json:"category,omitempty"`
	PDFID    *int      `json:"pdfId,omitempty"`
	Modified time.Time `json:"modified,omitzero"`
	Deleted  bool      `json:"deleted,omitempty"`
}

// Usage commits an amount of one yarn to one project. Identity is the
// (ProjectID, YarnID) pair; at most one row exists per pair and Amount is
// always positive in a normalized snapshot.
type Usage struct {
	ProjectID int       `json:"projectId"`
	YarnID    int       `json:"yarnId"`
	Amount    int       `json:"amount"`
	Modified  time.Time `json:"modified,omitzero"`
}

// Snapshot is the full in-memory copy of all four entity collections.
// It is replaced wholesale on load and mutation, never patched in place.
type Snapshot struct {
	Yarns    []Yarn    `json:"yarns"`
	Projects []Project `json:"projects"`
	Patterns []Pattern `json:"patterns"`
	Usages   []Usage   `json:"usages"`
}

func cloneYarn(y Yarn) Yarn {
	cp := y
	cp.GramsPerBall = cloneIntPtr(y.GramsPerBall)
	cp.MetersPerBall = cloneIntPtr(y.MetersPerBall)
	return cp
}

func cloneProject(p Project) Project {
	cp := p
	cp.PatternID = cloneIntPtr(p.PatternID)
	cp.Gauge = cloneIntPtr(p.Gauge)
	return cp
}

func clonePattern(p Pattern) Pattern {
	cp := p
	cp.PDFID = cloneIntPtr(p.PDFID)
	return cp
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// Clone returns a deep copy of the snapshot so that callers can hold it
// across suspensions without observing later mutations.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{}
	if s.Yarns != nil {
		out.Yarns = make([]Yarn, 0, len(s.Yarns))
		for _, y := range s.Yarns {
			out.Yarns = append(out.Yarns, cloneYarn(y))
		}
	}
	if s.Projects != nil {
		out.Projects = make([]Project, 0, len(s.Projects))
		for _, p := range s.Projects {
			out.Projects = append(out.Projects, cloneProject(p))
		}
	}
	if s.Patterns != nil {
		out.Patterns = make([]Pattern, 0, len(s.Patterns))
		for _, p := range s.Patterns {
			out.Patterns = append(out.Patterns, clonePattern(p))
		}
	}
	if s.Usages != nil {
		out.Usages = append([]Usage(nil), s.Usages...)
	}
	return out
}

// FindYarn returns the yarn with the given id.
func (s Snapshot) FindYarn(id int) (Yarn, bool) {
	for _, y := range s.Yarns {
		if y.ID == id {
			return cloneYarn(y), true
		}
	}
	return Yarn{}, false
}

// FindProject returns the project with the given id.
func (s Snapshot) FindProject(id int) (Project, bool) {
	for _, p := range s.Projects {
		if p.ID == id {
			return cloneProject(p), true
		}
	}
	return Project{}, false
}

// FindPattern returns the pattern with the given id.
func (s Snapshot) FindPattern(id int) (Pattern, bool) {
	for _, p := range s.Patterns {
		if p.ID == id {
			return clonePattern(p), true
		}
	}
	return Pattern{}, false
}

// UsagesForProject returns all usage rows committed to the given project.
func (s Snapshot) UsagesForProject(projectID int) []Usage {
	var out []Usage
	for _, u := range s.Usages {
		if u.ProjectID == projectID {
			out = append(out, u)
		}
	}
	return out
}

// UsagesForYarn returns all usage rows drawing from the given yarn.
func (s Snapshot) UsagesForYarn(yarnID int) []Usage {
	var out []Usage
	for _, u := range s.Usages {
		if u.YarnID == yarnID {
			out = append(out, u)
		}
	}
	return out
}
