package mapping

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no mapping is declared for a source table.
var ErrNotFound = errors.New("mapping not found")

// ConflictPolicy decides what happens when a transformed record's identity
// already exists in the target table.
type ConflictPolicy string

const (
	// UpdateExisting merges mapped values into the existing row and leaves
	// target-only bookkeeping columns untouched. Default; makes re-runs
	// idempotent.
	UpdateExisting ConflictPolicy = "UPDATE_EXISTING"
	// SkipExisting leaves the existing row alone and counts the record as
	// skipped.
	SkipExisting ConflictPolicy = "SKIP_EXISTING"
	// FailOnExisting treats an existing row as a constraint violation and
	// fails the table.
	FailOnExisting ConflictPolicy = "FAIL_ON_EXISTING"
)

func (p ConflictPolicy) valid() bool {
	switch p {
	case UpdateExisting, SkipExisting, FailOnExisting:
		return true
	}
	return false
}

// FieldMapping moves one source field into one target column.
//
// Three shapes are legal:
//   - source and target set: the field is carried over, optionally transformed.
//   - source set, target empty: the field is deliberately dropped.
//   - source empty, target set: a target-only column filled from Default.
type FieldMapping struct {
	Source    string     `yaml:"source,omitempty" json:"source,omitempty"`
	Target    string     `yaml:"target,omitempty" json:"target,omitempty"`
	Transform *Transform `yaml:"transform,omitempty" json:"transform,omitempty"`
	// Default supplies the value for target-only required columns that have
	// no source counterpart.
	Default any `yaml:"default,omitempty" json:"default,omitempty"`
}

// Dropped reports whether the mapping declares a deprecated source field
// that does not carry over.
func (f *FieldMapping) Dropped() bool {
	return f.Source != "" && f.Target == ""
}

// TargetOnly reports whether the mapping fills a target column with a
// constant instead of a source field.
func (f *FieldMapping) TargetOnly() bool {
	return f.Source == "" && f.Target != ""
}

// DerivedSpec explodes repeated slot columns of one source row into child
// rows of a different target table. Each non-null slot yields one row
// carrying the parent identity, the slot's 0-based position and the slot
// value. Positions count declaration order, not non-null order, so row
// identities are stable across runs.
type DerivedSpec struct {
	TargetTable string `yaml:"target_table" json:"target_table"`
	// ParentKey maps each parent identity field into the child column that
	// stores it. Sources must be primary key fields of the parent mapping.
	ParentKey []FieldMapping `yaml:"parent_key" json:"parent_key"`
	// IndexField is the child column receiving the slot position.
	IndexField string `yaml:"index_field" json:"index_field"`
	// ValueField is the child column receiving the slot value.
	ValueField string `yaml:"value_field" json:"value_field"`
	// Slots are the source columns to explode, in slot order.
	Slots     []string   `yaml:"slots" json:"slots"`
	Transform *Transform `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// KeyFields returns the child columns forming a derived row's identity:
// the parent key columns plus the slot index column.
func (d *DerivedSpec) KeyFields() []string {
	fields := make([]string, 0, len(d.ParentKey)+1)
	for _, pk := range d.ParentKey {
		fields = append(fields, pk.Target)
	}
	return append(fields, d.IndexField)
}

// TableMapping declares how one source table migrates into one target table.
type TableMapping struct {
	SourceTable string `yaml:"source_table" json:"source_table"`
	TargetTable string `yaml:"target_table" json:"target_table"`
	// PrimaryKey lists the source fields forming row identity, composite
	// keys in key order.
	PrimaryKey []string `yaml:"primary_key" json:"primary_key"`
	// SortKey orders extraction. Defaults to PrimaryKey. Rows whose first
	// sort field is NULL are read after all others.
	SortKey        []string       `yaml:"sort_key,omitempty" json:"sort_key,omitempty"`
	ConflictPolicy ConflictPolicy `yaml:"conflict_policy,omitempty" json:"conflict_policy,omitempty"`
	// DependsOn names source tables whose mappings must commit before this
	// one, typically because the target rows reference their output.
	DependsOn []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Fields    []FieldMapping `yaml:"fields" json:"fields"`
	Derived   []DerivedSpec  `yaml:"derived,omitempty" json:"derived,omitempty"`
}

// FieldForSource returns the field mapping declared for a source field.
func (m *TableMapping) FieldForSource(source string) (*FieldMapping, bool) {
	for i := range m.Fields {
		if m.Fields[i].Source == source {
			return &m.Fields[i], true
		}
	}
	return nil, false
}

// TargetKey returns the target columns the primary key fields map to, in
// key order.
func (m *TableMapping) TargetKey() ([]string, error) {
	key := make([]string, 0, len(m.PrimaryKey))
	for _, pk := range m.PrimaryKey {
		f, ok := m.FieldForSource(pk)
		if !ok || f.Target == "" {
			return nil, fmt.Errorf("primary key field %q of %s has no target mapping", pk, m.SourceTable)
		}
		key = append(key, f.Target)
	}
	return key, nil
}

// SourceFields returns every source column the mapping reads, in
// declaration order with duplicates removed: mapped fields, primary key,
// sort key and derived slot and parent key columns.
func (m *TableMapping) SourceFields() []string {
	seen := make(map[string]bool)
	var fields []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			fields = append(fields, name)
		}
	}
	for _, f := range m.Fields {
		if !f.TargetOnly() && !f.Dropped() {
			add(f.Source)
		}
	}
	for _, pk := range m.PrimaryKey {
		add(pk)
	}
	for _, sk := range m.SortKey {
		add(sk)
	}
	for _, d := range m.Derived {
		for _, pk := range d.ParentKey {
			add(pk.Source)
		}
		for _, slot := range d.Slots {
			add(slot)
		}
	}
	return fields
}

// Registry is the full set of declared table mappings. Mappings are static,
// versioned data: every rename, drop and derivation is an explicit,
// reviewable declaration, never inferred from the schemas.
type Registry struct {
	Version int            `yaml:"version" json:"version"`
	Tables  []TableMapping `yaml:"tables" json:"tables"`
}

// TableMapping returns the mapping declared for the given source table.
func (r *Registry) TableMapping(sourceTable string) (*TableMapping, error) {
	for i := range r.Tables {
		if r.Tables[i].SourceTable == sourceTable {
			return &r.Tables[i], nil
		}
	}
	return nil, fmt.Errorf("%w: source table %q", ErrNotFound, sourceTable)
}

// Normalize fills in defaults: conflict policy and sort key.
func (r *Registry) Normalize() {
	for i := range r.Tables {
		t := &r.Tables[i]
		if t.ConflictPolicy == "" {
			t.ConflictPolicy = UpdateExisting
		}
		if len(t.SortKey) == 0 {
			t.SortKey = append([]string(nil), t.PrimaryKey...)
		}
	}
}
