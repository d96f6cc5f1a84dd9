package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type PostgresDialect struct{}

func (d *PostgresDialect) Name() string          { return "postgres" }
func (d *PostgresDialect) Driver() string        { return "pgx" }
func (d *PostgresDialect) DefaultSchema() string { return "public" }

func (d *PostgresDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d *PostgresDialect) QualifyTable(schema, table string) string {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	return d.Quote(schema) + "." + d.Quote(table)
}

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index+1)
}

func (d *PostgresDialect) NullsLast(expr string) string {
	return expr + " NULLS LAST"
}

func (d *PostgresDialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (d *PostgresDialect) Tables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
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

func (d *PostgresDialect) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			COALESCE(pk.ordinal_position, 0) AS pk_seq
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, kcu.ordinal_position
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = $1
				AND tc.table_name = $2
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
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

func (d *PostgresDialect) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error) {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_name AS references_table,
			ccu.column_name AS references_column,
			COALESCE(rc.delete_rule, ''),
			COALESCE(rc.update_rule, '')
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		LEFT JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position`, schema, table)
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

func (d *PostgresDialect) Indexes(ctx context.Context, db *sql.DB, schema, table string) ([]Index, error) {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT
			i.indexname,
			array_to_string(array_agg(a.attname ORDER BY a.attnum), ',') AS column_names,
			x.indisunique
		FROM pg_indexes i
		JOIN pg_class c ON c.relname = i.indexname
		JOIN pg_index x ON x.indexrelid = c.oid
		JOIN pg_attribute a ON a.attrelid = x.indrelid AND a.attnum = ANY(x.indkey)
		WHERE i.schemaname = $1 AND i.tablename = $2 AND NOT x.indisprimary
		GROUP BY i.indexname, x.indisunique
		ORDER BY i.indexname`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var (
			idx     Index
			columns string
		)
		if err := rows.Scan(&idx.Name, &columns, &idx.Unique); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		idx.Columns = splitColumnList(columns)
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func splitColumnList(list string) []string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
