package mapping

import (
	"fmt"
	"strings"

	"github.com/allthingslinux/schemaport/introspect"
)

// Issue is one problem found while validating the registry. Issues are
// collected and returned, never thrown; the caller decides whether errors
// block the run.
type Issue struct {
	Type     string `json:"type"`
	Table    string `json:"table,omitempty"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

func (i Issue) String() string {
	var b strings.Builder
	b.WriteString(i.Severity)
	b.WriteString(": ")
	if i.Table != "" {
		b.WriteString(i.Table)
		if i.Field != "" {
			b.WriteString("." + i.Field)
		}
		b.WriteString(": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// HasBlocking reports whether any issue is severe enough to abort a run.
func HasBlocking(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Check validates the registry's internal consistency without touching a
// database: declarations are complete, policies and transforms are known,
// key fields are mapped, dependencies point at declared mappings.
func (r *Registry) Check() []Issue {
	var issues []Issue
	add := func(severity, typ, table, field, format string, args ...any) {
		issues = append(issues, Issue{
			Type:     typ,
			Table:    table,
			Field:    field,
			Message:  fmt.Sprintf(format, args...),
			Severity: severity,
		})
	}

	sources := make(map[string]bool)
	targets := make(map[string]string)
	for i := range r.Tables {
		m := &r.Tables[i]

		if m.SourceTable == "" {
			add(SeverityError, "table", "", "", "mapping #%d has no source_table", i+1)
			continue
		}
		if sources[m.SourceTable] {
			add(SeverityError, "table", m.SourceTable, "", "source table mapped more than once")
		}
		sources[m.SourceTable] = true

		if m.TargetTable == "" {
			add(SeverityError, "table", m.SourceTable, "", "mapping has no target_table")
		} else if prev, ok := targets[m.TargetTable]; ok {
			add(SeverityWarning, "table", m.SourceTable, "",
				"target table %s is also written by the %s mapping", m.TargetTable, prev)
		} else {
			targets[m.TargetTable] = m.SourceTable
		}

		if len(m.PrimaryKey) == 0 {
			add(SeverityError, "primary_key", m.SourceTable, "", "mapping declares no primary key fields")
		}
		if m.ConflictPolicy != "" && !m.ConflictPolicy.valid() {
			add(SeverityError, "conflict_policy", m.SourceTable, "",
				"unknown conflict policy %q", m.ConflictPolicy)
		}

		targetSeen := make(map[string]bool)
		for j := range m.Fields {
			f := &m.Fields[j]
			if f.Source == "" && f.Target == "" {
				add(SeverityError, "field", m.SourceTable, "", "field mapping #%d names neither source nor target", j+1)
				continue
			}
			if f.Target != "" {
				if targetSeen[f.Target] {
					add(SeverityError, "field", m.SourceTable, f.Target, "target column mapped more than once")
				}
				targetSeen[f.Target] = true
			}
			if f.TargetOnly() && f.Default == nil {
				add(SeverityError, "field", m.SourceTable, f.Target,
					"target-only column needs a default value")
			}
			if f.Dropped() && f.Transform != nil {
				add(SeverityWarning, "field", m.SourceTable, f.Source,
					"transform on a dropped field has no effect")
			}
			if f.Transform != nil {
				if err := f.Transform.Validate(); err != nil {
					add(SeverityError, "transform", m.SourceTable, f.Source, "%v", err)
				}
			}
		}

		for _, pk := range m.PrimaryKey {
			f, ok := m.FieldForSource(pk)
			if !ok || f.Target == "" {
				add(SeverityError, "primary_key", m.SourceTable, pk,
					"primary key field is not mapped to a target column")
			}
		}

		for _, dep := range m.DependsOn {
			if dep == m.SourceTable {
				add(SeverityError, "depends_on", m.SourceTable, "", "mapping depends on itself")
				continue
			}
			if _, err := r.TableMapping(dep); err != nil {
				add(SeverityError, "depends_on", m.SourceTable, "",
					"depends on %q, which has no mapping", dep)
			}
		}

		pkSet := make(map[string]bool, len(m.PrimaryKey))
		for _, pk := range m.PrimaryKey {
			pkSet[pk] = true
		}
		for di := range m.Derived {
			d := &m.Derived[di]
			if d.TargetTable == "" {
				add(SeverityError, "derived", m.SourceTable, "", "derived spec #%d has no target_table", di+1)
			}
			if len(d.Slots) == 0 {
				add(SeverityError, "derived", m.SourceTable, d.TargetTable, "derived spec declares no slot columns")
			}
			if d.IndexField == "" || d.ValueField == "" {
				add(SeverityError, "derived", m.SourceTable, d.TargetTable,
					"derived spec needs both index_field and value_field")
			}
			if len(d.ParentKey) == 0 {
				add(SeverityError, "derived", m.SourceTable, d.TargetTable,
					"derived spec carries no parent key columns")
			}
			for _, pk := range d.ParentKey {
				if pk.Source == "" || pk.Target == "" {
					add(SeverityError, "derived", m.SourceTable, d.TargetTable,
						"parent key entries need both source and target")
					continue
				}
				if !pkSet[pk.Source] {
					add(SeverityError, "derived", m.SourceTable, pk.Source,
						"parent key source %q is not a primary key field of %s", pk.Source, m.SourceTable)
				}
			}
			if d.Transform != nil {
				if err := d.Transform.Validate(); err != nil {
					add(SeverityError, "transform", m.SourceTable, d.TargetTable, "%v", err)
				}
			}
		}
	}

	return issues
}

// ValidateAgainst cross-checks the registry with a live source schema
// report: every declared source field must exist, and transforms should
// agree with the column types they read.
func (r *Registry) ValidateAgainst(report *introspect.SchemaReport) []Issue {
	issues := r.Check()
	add := func(severity, typ, table, field, format string, args ...any) {
		issues = append(issues, Issue{
			Type:     typ,
			Table:    table,
			Field:    field,
			Message:  fmt.Sprintf(format, args...),
			Severity: severity,
		})
	}

	for i := range r.Tables {
		m := &r.Tables[i]
		table, ok := report.Table(m.SourceTable)
		if !ok {
			add(SeverityError, "source_table", m.SourceTable, "",
				"table does not exist in the source schema")
			continue
		}

		for j := range m.Fields {
			f := &m.Fields[j]
			if f.Source == "" {
				continue
			}
			col, ok := table.Column(f.Source)
			if !ok {
				if f.Dropped() {
					add(SeverityWarning, "source_field", m.SourceTable, f.Source,
						"dropped field no longer exists in the source")
				} else {
					add(SeverityError, "source_field", m.SourceTable, f.Source,
						"mapped field does not exist in the source table")
				}
				continue
			}
			if f.Transform != nil && f.Transform.TextOnly() && !isTextType(col.DataType) {
				add(SeverityWarning, "transform", m.SourceTable, f.Source,
					"%s transform on non-text column (%s)", f.Transform.Kind, col.DataType)
			}
		}

		for _, pk := range m.PrimaryKey {
			col, ok := table.Column(pk)
			if !ok {
				add(SeverityError, "primary_key", m.SourceTable, pk,
					"primary key field does not exist in the source table")
				continue
			}
			if col.Nullable {
				add(SeverityWarning, "primary_key", m.SourceTable, pk,
					"identity field is nullable in the source; rows with NULL will be skipped")
			}
		}

		for _, sk := range m.SortKey {
			if _, ok := table.Column(sk); !ok {
				add(SeverityError, "sort_key", m.SourceTable, sk,
					"sort key field does not exist in the source table")
			}
		}

		for di := range m.Derived {
			d := &m.Derived[di]
			for _, slot := range d.Slots {
				if _, ok := table.Column(slot); !ok {
					add(SeverityError, "derived", m.SourceTable, slot,
						"slot column does not exist in the source table")
				}
			}
		}
	}

	return issues
}

func isTextType(dataType string) bool {
	t := strings.ToLower(dataType)
	for _, marker := range []string{"char", "text", "clob", "string", "enum", "uuid", "json"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
