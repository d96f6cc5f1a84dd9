package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string   { return "sqlite" }
func (d *SQLiteDialect) Driver() string { return "sqlite" }

// SQLite databases are single-schema.
func (d *SQLiteDialect) DefaultSchema() string { return "" }

func (d *SQLiteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d *SQLiteDialect) QualifyTable(schema, table string) string {
	return d.Quote(table)
}

func (d *SQLiteDialect) Placeholder(index int) string {
	return "?"
}

func (d *SQLiteDialect) NullsLast(expr string) string {
	return expr + " NULLS LAST"
}

func (d *SQLiteDialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (d *SQLiteDialect) Tables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (d *SQLiteDialect) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, type, "notnull", dflt_value, pk
		FROM pragma_table_info(?)
		ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col        Column
			notNull    int
			colDefault sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.DataType, &notNull, &colDefault, &col.PKSeq); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.Nullable = notNull == 0
		if colDefault.Valid {
			col.Default = &colDefault.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A lone INTEGER PRIMARY KEY aliases the rowid and can never hold
	// NULL, even when declared without NOT NULL. Composite keys keep
	// SQLite's permissive behavior.
	pkCount, pkIdx := 0, -1
	for i := range cols {
		if cols[i].PKSeq > 0 {
			pkCount++
			pkIdx = i
		}
	}
	if pkCount == 1 && strings.EqualFold(cols[pkIdx].DataType, "INTEGER") {
		cols[pkIdx].Nullable = false
	}
	return cols, nil
}

func (d *SQLiteDialect) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, "table", "from", "to", on_update, on_delete
		FROM pragma_foreign_key_list(?)
		ORDER BY id, seq`, table)
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var (
			fk     ForeignKey
			id     int
			refCol sql.NullString
		)
		if err := rows.Scan(&id, &fk.RefTable, &fk.Column, &refCol, &fk.OnUpdate, &fk.OnDelete); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		// SQLite does not name foreign keys; synthesize a stable one.
		fk.Name = fmt.Sprintf("fk_%s_%d", table, id)
		if refCol.Valid {
			fk.RefColumn = refCol.String
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (d *SQLiteDialect) Indexes(ctx context.Context, db *sql.DB, schema, table string) ([]Index, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, "unique"
		FROM pragma_index_list(?)
		WHERE origin <> 'pk'
		ORDER BY name`, table)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var (
			idx    Index
			unique int
		)
		if err := rows.Scan(&idx.Name, &unique); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		idx.Unique = unique == 1
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range indexes {
		cols, err := d.indexColumns(ctx, db, indexes[i].Name)
		if err != nil {
			return nil, err
		}
		indexes[i].Columns = cols
	}
	return indexes, nil
}

func (d *SQLiteDialect) indexColumns(ctx context.Context, db *sql.DB, index string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index)
	if err != nil {
		return nil, fmt.Errorf("querying index columns: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning index column: %w", err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}
