package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/allthingslinux/schemaport/dialect"
	"github.com/allthingslinux/schemaport/extract"
	"github.com/allthingslinux/schemaport/mapping"
)

// tableWriter applies one table's conflict policy inside the table's
// transaction. Writes are lookup-then-write: the target row is fetched by
// primary key first, so an update touches only the mapped non-key columns
// and leaves target-side bookkeeping columns alone.
type tableWriter struct {
	tx     *sql.Tx
	d      dialect.Dialect
	schema string
	policy mapping.ConflictPolicy
	plans  map[string]*writePlan
}

// writePlan caches the three statements for one target table. Column sets
// are fixed per mapping, so the plan is built once from the first record.
type writePlan struct {
	exists string
	insert string
	update string
	cols   []string
	nonKey []string
}

func newTableWriter(tx *sql.Tx, d dialect.Dialect, schema string, policy mapping.ConflictPolicy) *tableWriter {
	return &tableWriter{
		tx:     tx,
		d:      d,
		schema: schema,
		policy: policy,
		plans:  make(map[string]*writePlan),
	}
}

func (w *tableWriter) planFor(r *extract.Record) *writePlan {
	if p, ok := w.plans[r.Table]; ok {
		return p
	}
	p := buildWritePlan(w.d, w.schema, r)
	w.plans[r.Table] = p
	return p
}

func buildWritePlan(d dialect.Dialect, schema string, r *extract.Record) *writePlan {
	table := d.QualifyTable(schema, r.Table)
	key := make(map[string]bool, len(r.Key))
	for _, k := range r.Key {
		key[k] = true
	}
	var nonKey []string
	for _, c := range r.Columns {
		if !key[c] {
			nonKey = append(nonKey, c)
		}
	}

	where := make([]string, len(r.Key))
	forUpdate := make([]string, len(r.Key))
	for i, k := range r.Key {
		where[i] = fmt.Sprintf("%s = %s", d.Quote(k), d.Placeholder(i))
		forUpdate[i] = fmt.Sprintf("%s = %s", d.Quote(k), d.Placeholder(len(nonKey)+i))
	}

	p := &writePlan{
		cols:   r.Columns,
		nonKey: nonKey,
		exists: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, strings.Join(where, " AND ")),
		insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table,
			strings.Join(dialect.QuoteAll(r.Columns, d.Quote), ", "),
			dialect.GeneratePlaceholders(len(r.Columns), d.Placeholder)),
	}
	if len(nonKey) > 0 {
		set := make([]string, len(nonKey))
		for i, c := range nonKey {
			set[i] = fmt.Sprintf("%s = %s", d.Quote(c), d.Placeholder(i))
		}
		p.update = fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			table, strings.Join(set, ", "), strings.Join(forUpdate, " AND "))
	}
	return p
}

// write persists one product: the main record first, then its derived
// records, so parent rows exist before children that reference them.
func (w *tableWriter) write(ctx context.Context, p *extract.Product) (written, skipped int64, err error) {
	n, s, err := w.writeRecord(ctx, &p.Record)
	written += n
	skipped += s
	if err != nil {
		return written, skipped, err
	}
	for i := range p.Derived {
		n, s, err := w.writeRecord(ctx, &p.Derived[i])
		written += n
		skipped += s
		if err != nil {
			return written, skipped, err
		}
	}
	return written, skipped, nil
}

func (w *tableWriter) writeRecord(ctx context.Context, r *extract.Record) (int64, int64, error) {
	plan := w.planFor(r)

	var count int
	if err := w.tx.QueryRowContext(ctx, plan.exists, r.KeyValues()...).Scan(&count); err != nil {
		return 0, 0, fmt.Errorf("looking up existing row in %s: %w", r.Table, err)
	}
	if count == 0 {
		if _, err := w.tx.ExecContext(ctx, plan.insert, valuesFor(r, plan.cols)...); err != nil {
			return 0, 0, fmt.Errorf("inserting into %s: %w", r.Table, err)
		}
		return 1, 0, nil
	}

	switch w.policy {
	case mapping.SkipExisting:
		return 0, 1, nil
	case mapping.FailOnExisting:
		return 0, 0, fmt.Errorf("%w: %s (%s)", ErrExists, r.Table, recordIdentity(r))
	default:
		if plan.update == "" {
			// Every mapped column is a key column; the row already
			// matches.
			return 1, 0, nil
		}
		args := append(valuesFor(r, plan.nonKey), r.KeyValues()...)
		if _, err := w.tx.ExecContext(ctx, plan.update, args...); err != nil {
			return 0, 0, fmt.Errorf("updating %s: %w", r.Table, err)
		}
		return 1, 0, nil
	}
}

func valuesFor(r *extract.Record, cols []string) []any {
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = r.Values[c]
	}
	return vals
}

func recordIdentity(r *extract.Record) string {
	parts := make([]string, len(r.Key))
	for i, k := range r.Key {
		parts[i] = fmt.Sprintf("%s=%v", k, r.Values[k])
	}
	return strings.Join(parts, ", ")
}
