package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type MysqlDialect struct{}

func (d *MysqlDialect) Name() string   { return "mysql" }
func (d *MysqlDialect) Driver() string { return "mysql" }

// MySQL has no schema distinct from the database; the DSN selects it.
func (d *MysqlDialect) DefaultSchema() string { return "" }

func (d *MysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (d *MysqlDialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.Quote(table)
	}
	return d.Quote(schema) + "." + d.Quote(table)
}

func (d *MysqlDialect) Placeholder(index int) string {
	return "?"
}

func (d *MysqlDialect) NullsLast(expr string) string {
	// MySQL sorts NULL first on ASC; the IS NULL term flips that.
	return fmt.Sprintf("(%s IS NULL), %s", expr, expr)
}

func (d *MysqlDialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

// schemaOrCurrent lets the current database stand in when no schema is configured.
func (d *MysqlDialect) schemaOrCurrent(ctx context.Context, db *sql.DB, schema string) (string, error) {
	if schema != "" {
		return schema, nil
	}
	var current sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&current); err != nil {
		return "", fmt.Errorf("resolving current database: %w", err)
	}
	if !current.Valid || current.String == "" {
		return "", fmt.Errorf("no database selected in DSN")
	}
	return current.String, nil
}

func (d *MysqlDialect) Tables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	schema, err := d.schemaOrCurrent(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
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

func (d *MysqlDialect) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	schema, err := d.schemaOrCurrent(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			COALESCE(kcu.ordinal_position, 0) AS pk_seq
		FROM information_schema.columns c
		LEFT JOIN information_schema.key_column_usage kcu
			ON kcu.table_schema = c.table_schema
			AND kcu.table_name = c.table_name
			AND kcu.column_name = c.column_name
			AND kcu.constraint_name = 'PRIMARY'
		WHERE c.table_schema = ? AND c.table_name = ?
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col        Column
			isNullable string
			colDefault sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.DataType, &isNullable, &colDefault, &col.PKSeq); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.Nullable = isNullable == "YES"
		if colDefault.Valid {
			col.Default = &colDefault.String
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (d *MysqlDialect) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error) {
	schema, err := d.schemaOrCurrent(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT
			kcu.constraint_name,
			kcu.column_name,
			kcu.referenced_table_name,
			kcu.referenced_column_name,
			rc.delete_rule,
			rc.update_rule
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
			ON rc.constraint_schema = kcu.table_schema
			AND rc.constraint_name = kcu.constraint_name
		WHERE kcu.table_schema = ? AND kcu.table_name = ?
			AND kcu.referenced_table_name IS NOT NULL
		ORDER BY kcu.constraint_name, kcu.ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Name, &fk.Column, &fk.RefTable, &fk.RefColumn, &fk.OnDelete, &fk.OnUpdate); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (d *MysqlDialect) Indexes(ctx context.Context, db *sql.DB, schema, table string) ([]Index, error) {
	schema, err := d.schemaOrCurrent(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT index_name, column_name, non_unique
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND index_name <> 'PRIMARY'
		ORDER BY index_name, seq_in_index`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var (
			name      string
			column    string
			nonUnique int
		)
		if err := rows.Scan(&name, &column, &nonUnique); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column)
			continue
		}
		indexes = append(indexes, Index{Name: name, Columns: []string{column}, Unique: nonUnique == 0})
	}
	return indexes, rows.Err()
}
