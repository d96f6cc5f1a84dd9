package validate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/allthingslinux/schemaport/dialect"
	"github.com/allthingslinux/schemaport/extract"
	"github.com/allthingslinux/schemaport/mapping"
)

// FieldDiff is one mapped field whose target value does not match what the
// source row transforms to.
type FieldDiff struct {
	Table    string `json:"table"`
	Identity string `json:"identity"`
	Field    string `json:"field"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
}

// ForeignKeyIssue is a target-declared foreign key with orphaned child rows.
type ForeignKeyIssue struct {
	Table     string `json:"table"`
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
	Orphans   int64  `json:"orphans"`
}

// TableValidation is the outcome for one target table.
type TableValidation struct {
	SourceTable string `json:"source_table"`
	TargetTable string `json:"target_table"`
	SourceCount int64  `json:"source_count"`
	// ExpectedCount is what a complete migration yields: source rows with
	// a full identity for main tables, the non-null slot total for
	// derived tables.
	ExpectedCount int64             `json:"expected_count"`
	TargetCount   int64             `json:"target_count"`
	CountMatch    bool              `json:"count_match"`
	ForeignKeys   []ForeignKeyIssue `json:"foreign_key_issues,omitempty"`
	FieldDiffs    []FieldDiff       `json:"field_diffs,omitempty"`
}

// Report is the full validation outcome across every mapped table.
type Report struct {
	RanAt  time.Time         `json:"ran_at"`
	Tables []TableValidation `json:"tables"`
}

// Clean reports whether every table matched on count, integrity, and
// sampled field values.
func (r *Report) Clean() bool {
	for _, t := range r.Tables {
		if !t.CountMatch || len(t.ForeignKeys) > 0 || len(t.FieldDiffs) > 0 {
			return false
		}
	}
	return true
}

const defaultSampleSize = 3

// Validator compares a committed migration against its source. All of its
// queries are reads; neither database is ever mutated.
type Validator struct {
	Source        *sql.DB
	Target        *sql.DB
	SourceDialect dialect.Dialect
	TargetDialect dialect.Dialect
	SourceSchema  string
	TargetSchema  string
	Registry      *mapping.Registry
	// SampleSize is how many rows per table get field-level comparison,
	// spread evenly from the first to the last row of the extraction
	// order.
	SampleSize int
	Logger     *slog.Logger
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

func (v *Validator) sampleSize() int {
	if v.SampleSize > 0 {
		return v.SampleSize
	}
	return defaultSampleSize
}

func (v *Validator) extractor() *extract.Extractor {
	return &extract.Extractor{
		DB:      v.Source,
		Dialect: v.SourceDialect,
		Schema:  v.SourceSchema,
		Logger:  v.logger(),
	}
}

// Run validates every mapped table: row counts, foreign keys declared on
// the target tables, and sampled field equality.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RanAt: time.Now().UTC()}

	byTarget := make(map[string]*TableValidation)
	for i := range v.Registry.Tables {
		tm := &v.Registry.Tables[i]
		tv, derived, err := v.validateTable(ctx, tm)
		if err != nil {
			return nil, err
		}
		report.Tables = append(report.Tables, *tv)
		report.Tables = append(report.Tables, derived...)
	}
	for i := range report.Tables {
		byTarget[report.Tables[i].TargetTable] = &report.Tables[i]
	}

	if err := v.checkForeignKeys(ctx, byTarget); err != nil {
		return nil, err
	}
	return report, nil
}

func (v *Validator) validateTable(ctx context.Context, tm *mapping.TableMapping) (*TableValidation, []TableValidation, error) {
	src := v.SourceDialect.QualifyTable(v.SourceSchema, tm.SourceTable)

	var sourceCount int64
	if err := v.Source.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+src).Scan(&sourceCount); err != nil {
		return nil, nil, fmt.Errorf("counting source %s: %w", tm.SourceTable, err)
	}

	identityCond := make([]string, len(tm.PrimaryKey))
	for i, pk := range tm.PrimaryKey {
		identityCond[i] = v.SourceDialect.Quote(pk) + " IS NOT NULL"
	}
	withIdentity := strings.Join(identityCond, " AND ")

	var expected int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", src, withIdentity)
	if err := v.Source.QueryRowContext(ctx, query).Scan(&expected); err != nil {
		return nil, nil, fmt.Errorf("counting migratable rows of %s: %w", tm.SourceTable, err)
	}

	tv := &TableValidation{
		SourceTable:   tm.SourceTable,
		TargetTable:   tm.TargetTable,
		SourceCount:   sourceCount,
		ExpectedCount: expected,
	}
	tv.TargetCount = v.countTarget(ctx, tm.TargetTable)
	tv.CountMatch = tv.TargetCount == tv.ExpectedCount

	diffs, err := v.sampleFields(ctx, tm, sourceCount)
	if err != nil {
		return nil, nil, err
	}
	tv.FieldDiffs = diffs

	var derived []TableValidation
	for i := range tm.Derived {
		d := &tm.Derived[i]
		dv, err := v.validateDerived(ctx, tm, d, src, withIdentity, sourceCount)
		if err != nil {
			return nil, nil, err
		}
		derived = append(derived, *dv)
	}
	return tv, derived, nil
}

func (v *Validator) validateDerived(ctx context.Context, tm *mapping.TableMapping, d *mapping.DerivedSpec, src, withIdentity string, sourceCount int64) (*TableValidation, error) {
	terms := make([]string, len(d.Slots))
	for i, slot := range d.Slots {
		terms[i] = fmt.Sprintf("CASE WHEN %s IS NOT NULL THEN 1 ELSE 0 END", v.SourceDialect.Quote(slot))
	}
	query := fmt.Sprintf("SELECT SUM(%s) FROM %s WHERE %s",
		strings.Join(terms, " + "), src, withIdentity)

	var expected sql.NullInt64
	if err := v.Source.QueryRowContext(ctx, query).Scan(&expected); err != nil {
		return nil, fmt.Errorf("counting slot values of %s: %w", tm.SourceTable, err)
	}

	dv := &TableValidation{
		SourceTable:   tm.SourceTable,
		TargetTable:   d.TargetTable,
		SourceCount:   sourceCount,
		ExpectedCount: expected.Int64,
	}
	dv.TargetCount = v.countTarget(ctx, d.TargetTable)
	dv.CountMatch = dv.TargetCount == dv.ExpectedCount
	return dv, nil
}

// countTarget returns -1 when the table cannot be counted, which makes the
// count mismatch visible instead of failing the whole validation.
func (v *Validator) countTarget(ctx context.Context, table string) int64 {
	var n int64
	query := "SELECT COUNT(*) FROM " + v.TargetDialect.QualifyTable(v.TargetSchema, table)
	if err := v.Target.QueryRowContext(ctx, query).Scan(&n); err != nil {
		v.logger().Warn("counting target table failed", slog.String("table", table), slog.Any("error", err))
		return -1
	}
	return n
}

// sampleFields re-transforms a deterministic spread of source rows and
// compares every mapped field, including derived records, against the rows
// actually in the target.
func (v *Validator) sampleFields(ctx context.Context, tm *mapping.TableMapping, sourceCount int64) ([]FieldDiff, error) {
	if sourceCount == 0 {
		return nil, nil
	}
	ex := v.extractor()

	var diffs []FieldDiff
	for _, offset := range sampleOffsets(sourceCount, v.sampleSize()) {
		raw, ok, err := ex.SampleRow(ctx, tm, offset)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		product, skip := extract.TransformRow(raw, tm)
		if skip != nil {
			// The run skipped this row too; there is nothing to compare.
			continue
		}
		d, err := v.compareRecord(ctx, &product.Record)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, d...)
		for i := range product.Derived {
			d, err := v.compareRecord(ctx, &product.Derived[i])
			if err != nil {
				return nil, err
			}
			diffs = append(diffs, d...)
		}
	}
	return diffs, nil
}

// sampleOffsets spreads n offsets evenly across [0, total), always
// including the first and last row.
func sampleOffsets(total int64, n int) []int {
	if total <= 0 {
		return nil
	}
	if int64(n) > total {
		n = int(total)
	}
	if n <= 1 {
		return []int{0}
	}
	seen := make(map[int]bool, n)
	offsets := make([]int, 0, n)
	for i := 0; i < n; i++ {
		off := int(int64(i) * (total - 1) / int64(n-1))
		if !seen[off] {
			seen[off] = true
			offsets = append(offsets, off)
		}
	}
	sort.Ints(offsets)
	return offsets
}

func (v *Validator) compareRecord(ctx context.Context, r *extract.Record) ([]FieldDiff, error) {
	d := v.TargetDialect
	table := d.QualifyTable(v.TargetSchema, r.Table)

	where := make([]string, len(r.Key))
	for i, k := range r.Key {
		where[i] = fmt.Sprintf("%s = %s", d.Quote(k), d.Placeholder(i))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(dialect.QuoteAll(r.Columns, d.Quote), ", "),
		table, strings.Join(where, " AND "))

	identity := recordIdentity(r)
	values := make([]any, len(r.Columns))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	err := v.Target.QueryRowContext(ctx, query, r.KeyValues()...).Scan(ptrs...)
	if err == sql.ErrNoRows {
		return []FieldDiff{{
			Table:    r.Table,
			Identity: identity,
			Field:    "*",
			Expected: "row present",
			Actual:   "row missing",
		}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading target row of %s: %w", r.Table, err)
	}

	var diffs []FieldDiff
	for i, col := range r.Columns {
		if equalValue(r.Values[col], values[i]) {
			continue
		}
		diffs = append(diffs, FieldDiff{
			Table:    r.Table,
			Identity: identity,
			Field:    col,
			Expected: r.Values[col],
			Actual:   values[i],
		})
	}
	return diffs, nil
}

// checkForeignKeys counts orphans for every foreign key declared on the
// migrated target tables.
func (v *Validator) checkForeignKeys(ctx context.Context, byTarget map[string]*TableValidation) error {
	d := v.TargetDialect
	names := make([]string, 0, len(byTarget))
	for name := range byTarget {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fks, err := d.ForeignKeys(ctx, v.Target, v.TargetSchema, name)
		if err != nil {
			v.logger().Warn("reading target foreign keys failed", slog.String("table", name), slog.Any("error", err))
			continue
		}
		for _, fk := range fks {
			child := d.QualifyTable(v.TargetSchema, name)
			parent := d.QualifyTable(v.TargetSchema, fk.RefTable)
			query := fmt.Sprintf(
				"SELECT COUNT(*) FROM %s c LEFT JOIN %s p ON c.%s = p.%s WHERE c.%s IS NOT NULL AND p.%s IS NULL",
				child, parent,
				d.Quote(fk.Column), d.Quote(fk.RefColumn),
				d.Quote(fk.Column), d.Quote(fk.RefColumn))
			var orphans int64
			if err := v.Target.QueryRowContext(ctx, query).Scan(&orphans); err != nil {
				return fmt.Errorf("checking foreign key %s.%s: %w", name, fk.Column, err)
			}
			if orphans == 0 {
				continue
			}
			byTarget[name].ForeignKeys = append(byTarget[name].ForeignKeys, ForeignKeyIssue{
				Table:     name,
				Column:    fk.Column,
				RefTable:  fk.RefTable,
				RefColumn: fk.RefColumn,
				Orphans:   orphans,
			})
		}
	}
	return nil
}

func recordIdentity(r *extract.Record) string {
	parts := make([]string, len(r.Key))
	for i, k := range r.Key {
		parts[i] = fmt.Sprintf("%s=%v", k, r.Values[k])
	}
	return strings.Join(parts, ", ")
}
