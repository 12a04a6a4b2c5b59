// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EntityRecord is the on-disk shape of one entity.json element (§6
// Outputs, §3 attributes).
type EntityRecord struct {
	ID                ID           `json:"id"`
	Kind              EntityKind   `json:"kind"`
	Name              string       `json:"name"`
	SourceFile        string       `json:"source_file"`
	Path              string       `json:"path,omitempty"`
	Scope             string       `json:"scope"`
	DeclaredType      string       `json:"declared_type,omitempty"`
	IsFunctionPointer bool         `json:"is_function_pointer,omitempty"`
	Role              VariableRole `json:"role,omitempty"`
	StartLine         int          `json:"start_line"`
	StartCol          int          `json:"start_col"`
	EndLine           int          `json:"end_line"`
	EndCol            int          `json:"end_col"`
}

// RelationRecord is the on-disk shape of one relation.json element.
type RelationRecord struct {
	Head              ID           `json:"head"`
	Tail              ID           `json:"tail"`
	Type              RelationKind `json:"type"`
	ContextVarID      ID           `json:"context_var_id,omitempty"`
	VisibilityChecked bool         `json:"visibility_checked,omitempty"`
}

// IndexSnapshot is the sidecar document the incremental engine reads
// back on the next run: every index named in §3, serialized in a form
// that round-trips through NewIndices/Indices.Add.
type IndexSnapshot struct {
	Entities []EntityRecord `json:"entities"`
	NextID   ID             `json:"next_id"`
	// LastSHA is the git HEAD this snapshot was built against, empty when
	// the source tree isn't a git repository. Run reads it back as the
	// base of the next incremental git diff instead of always comparing
	// against the empty tree.
	LastSHA string `json:"last_sha,omitempty"`
}

// Store accumulates relations as they are produced and applies the
// composite-key dedup described in §4.6 before serialization.
type Store struct {
	entities  []Entity
	relations []Relation
	seen      map[dedupKey]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{seen: make(map[dedupKey]bool)}
}

// AddEntities appends entities in the order given (directory-walk order,
// per §5's ordering guarantee).
func (s *Store) AddEntities(entities ...Entity) {
	s.entities = append(s.entities, entities...)
}

// AddRelations appends relations that pass the composite-key dedup: the
// first occurrence of (head, tail, kind, context_var) wins, preserving
// insertion order so that same-file, high-priority resolutions are
// retained (§4.6).
func (s *Store) AddRelations(relations ...Relation) {
	for _, r := range relations {
		k := r.key()
		if s.seen[k] {
			continue
		}
		s.seen[k] = true
		s.relations = append(s.relations, r)
	}
}

// Entities returns the accumulated entity list.
func (s *Store) Entities() []Entity { return s.entities }

// Relations returns the deduplicated relation list.
func (s *Store) Relations() []Relation { return s.relations }

// Write persists entity.json, relation.json, and the index snapshot to
// outputDir (§6 Outputs). lastSHA is the git HEAD this result was built
// against ("" when the source tree isn't a git repository), carried
// forward so the next incremental run's git delta has a base to diff
// from instead of the empty tree.
func (s *Store) Write(outputDir string, indices *Indices, lastSHA string) error {
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeJSON(filepath.Join(outputDir, "entity.json"), toEntityRecords(s.entities)); err != nil {
		return fmt.Errorf("write entity.json: %w", err)
	}
	if err := writeJSON(filepath.Join(outputDir, "relation.json"), toRelationRecords(s.relations)); err != nil {
		return fmt.Errorf("write relation.json: %w", err)
	}

	snapshot := IndexSnapshot{
		Entities: toEntityRecords(indices.AllEntities()),
		NextID:   indices.MaxID() + 1,
		LastSHA:  lastSHA,
	}
	if err := writeJSON(filepath.Join(outputDir, "index_snapshot.json"), snapshot); err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a previously written index snapshot, returning a
// populated Indices, the resume point for the id counter, and the git
// SHA it was last built against. A missing snapshot is not an error: it
// means no prior run exists, and the incremental engine should fall back
// to a full extraction.
func LoadSnapshot(outputDir string) (*Indices, ID, string, error) {
	path := filepath.Join(outputDir, "index_snapshot.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndices(), 0, "", nil
		}
		return nil, 0, "", fmt.Errorf("read index snapshot: %w", err)
	}

	var snapshot IndexSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, 0, "", fmt.Errorf("parse index snapshot: %w", err)
	}

	indices := NewIndices()
	for _, rec := range snapshot.Entities {
		indices.Add(fromEntityRecord(rec))
	}
	return indices, snapshot.NextID, snapshot.LastSHA, nil
}

// LoadRelations reads a previously written relation.json, used by the
// incremental engine to partition prior relations per §4.7 step 2. A
// missing file yields an empty list.
func LoadRelations(outputDir string) ([]Relation, error) {
	path := filepath.Join(outputDir, "relation.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read relation.json: %w", err)
	}
	var records []RelationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse relation.json: %w", err)
	}
	relations := make([]Relation, 0, len(records))
	for _, rec := range records {
		relations = append(relations, Relation{
			Head:              rec.Head,
			Tail:              rec.Tail,
			Kind:              rec.Type,
			ContextVar:        rec.ContextVarID,
			VisibilityChecked: rec.VisibilityChecked,
		})
	}
	return relations, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}

func toEntityRecords(entities []Entity) []EntityRecord {
	records := make([]EntityRecord, 0, len(entities))
	for _, e := range entities {
		records = append(records, EntityRecord{
			ID: e.ID, Kind: e.Kind, Name: e.Name,
			SourceFile: e.SourceFile, Path: e.Path, Scope: e.Scope,
			DeclaredType: e.DeclaredType, IsFunctionPointer: e.IsFunctionPointer, Role: e.Role,
			StartLine: e.StartLine, StartCol: e.StartCol,
			EndLine: e.EndLine, EndCol: e.EndCol,
		})
	}
	return records
}

func fromEntityRecord(r EntityRecord) Entity {
	return Entity{
		ID: r.ID, Kind: r.Kind, Name: r.Name,
		SourceFile: r.SourceFile, Path: r.Path, Scope: r.Scope,
		DeclaredType: r.DeclaredType, IsFunctionPointer: r.IsFunctionPointer, Role: r.Role,
		StartLine: r.StartLine, StartCol: r.StartCol,
		EndLine: r.EndLine, EndCol: r.EndCol,
	}
}

func toRelationRecords(relations []Relation) []RelationRecord {
	records := make([]RelationRecord, 0, len(relations))
	for _, r := range relations {
		records = append(records, RelationRecord{
			Head: r.Head, Tail: r.Tail, Type: r.Kind,
			ContextVarID: r.ContextVar, VisibilityChecked: r.VisibilityChecked,
		})
	}
	return records
}
