// Package stash implements the document repository, the import/export
// orchestrator and the settings manager around the single-file JSON stash
// document.
package stash

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"yarnstash/pkg/domain"
)

// SchemaVersion tags documents written by this generation of the code.
// Version 1 documents (no tag, lean fields, usages as a flat map) are still
// readable; they are rewritten as version 2 on the next save.
const SchemaVersion = 2

// document is the on-disk shape of the stash file.
type document struct {
	Schema   int              `json:"schema,omitempty"`
	Yarns    []domain.Yarn    `json:"yarns"`
	Projects []domain.Project `json:"projects"`
	Patterns []domain.Pattern `json:"patterns"`
	Usages   usageList        `json:"usages"`
}

// usageList reads both usage encodings: the canonical array of rows, and
// the legacy schema-1 flat object keyed "yarnId,projectId". It always
// writes the array form.
type usageList []domain.Usage

func (u usageList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]domain.Usage(u))
}

func (u *usageList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var flat map[string]int
		if err := json.Unmarshal(trimmed, &flat); err != nil {
			return err
		}
		// Deterministic order for the decoded rows; the map carries at
		// most one entry per pair so ordering cannot change last-wins.
		keys := make([]string, 0, len(flat))
		for key := range flat {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		rows := make([]domain.Usage, 0, len(flat))
		for _, key := range keys {
			yarnID, projectID, ok := parseUsageKey(key)
			if !ok {
				continue // unparsable legacy key, dropped as the old reader did
			}
			rows = append(rows, domain.Usage{ProjectID: projectID, YarnID: yarnID, Amount: flat[key]})
		}
		*u = rows
		return nil
	}
	var rows []domain.Usage
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	*u = rows
	return nil
}

// parseUsageKey splits a legacy "yarnId,projectId" key.
func parseUsageKey(key string) (yarnID, projectID int, ok bool) {
	parts := strings.Split(key, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	yarnID, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	projectID, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return yarnID, projectID, true
}

// DecodeDocument parses raw document bytes into a snapshot. Malformed JSON
// is reported as a DecodeError; no normalization or validation happens here.
func DecodeDocument(raw []byte) (domain.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Snapshot{}, domain.DecodeError{Cause: err}
	}
	return domain.Snapshot{
		Yarns:    doc.Yarns,
		Projects: doc.Projects,
		Patterns: doc.Patterns,
		Usages:   doc.Usages,
	}, nil
}

// EncodeDocument serializes a snapshot as an indented, schema-tagged
// document. Collections are always present as arrays, never null, so every
// reader of the file sees the same shape.
func EncodeDocument(s domain.Snapshot) ([]byte, error) {
	doc := document{
		Schema:   SchemaVersion,
		Yarns:    s.Yarns,
		Projects: s.Projects,
		Patterns: s.Patterns,
		Usages:   usageList(s.Usages),
	}
	if doc.Yarns == nil {
		doc.Yarns = []domain.Yarn{}
	}
	if doc.Projects == nil {
		doc.Projects = []domain.Project{}
	}
	if doc.Patterns == nil {
		doc.Patterns = []domain.Pattern{}
	}
	if doc.Usages == nil {
		doc.Usages = usageList{}
	}
	return json.MarshalIndent(doc, "", "  ")
}
