package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type MSSQLDialect struct{}

func (d *MSSQLDialect) Name() string          { return "sqlserver" }
func (d *MSSQLDialect) Driver() string        { return "sqlserver" }
func (d *MSSQLDialect) DefaultSchema() string { return "dbo" }

func (d *MSSQLDialect) Quote(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func (d *MSSQLDialect) QualifyTable(schema, table string) string {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	return d.Quote(schema) + "." + d.Quote(table)
}

func (d *MSSQLDialect) Placeholder(index int) string {
	return fmt.Sprintf("@p%d", index+1)
}

func (d *MSSQLDialect) NullsLast(expr string) string {
	return fmt.Sprintf("CASE WHEN %s IS NULL THEN 1 ELSE 0 END, %s", expr, expr)
}

// LimitOffset requires the query to carry an ORDER BY.
func (d *MSSQLDialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (d *MSSQLDialect) Tables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, schema)
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

func (d *MSSQLDialect) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.IS_NULLABLE,
			c.COLUMN_DEFAULT,
			COALESCE(pk.ORDINAL_POSITION, 0) AS pk_seq
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT kcu.COLUMN_NAME, kcu.ORDINAL_POSITION
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
				ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
				AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
				AND tc.TABLE_SCHEMA = @p1
				AND tc.TABLE_NAME = @p2
		) pk ON pk.COLUMN_NAME = c.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`, schema, table)
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

func (d *MSSQLDialect) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error) {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT
			rc.CONSTRAINT_NAME,
			kcu.COLUMN_NAME,
			ref.TABLE_NAME AS REFERENCES_TABLE,
			ref.COLUMN_NAME AS REFERENCES_COLUMN,
			rc.DELETE_RULE,
			rc.UPDATE_RULE
		FROM INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
			AND kcu.CONSTRAINT_SCHEMA = rc.CONSTRAINT_SCHEMA
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ref
			ON ref.CONSTRAINT_NAME = rc.UNIQUE_CONSTRAINT_NAME
			AND ref.CONSTRAINT_SCHEMA = rc.UNIQUE_CONSTRAINT_SCHEMA
			AND ref.ORDINAL_POSITION = kcu.ORDINAL_POSITION
		WHERE kcu.TABLE_SCHEMA = @p1 AND kcu.TABLE_NAME = @p2
		ORDER BY rc.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`, schema, table)
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

func (d *MSSQLDialect) Indexes(ctx context.Context, db *sql.DB, schema, table string) ([]Index, error) {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT i.name, c.name, i.is_unique
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.object_id = OBJECT_ID(@p1) AND i.is_primary_key = 0 AND i.name IS NOT NULL
		ORDER BY i.name, ic.key_ordinal`, schema+"."+table)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var (
			name   string
			column string
			unique bool
		)
		if err := rows.Scan(&name, &column, &unique); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column)
			continue
		}
		indexes = append(indexes, Index{Name: name, Columns: []string{column}, Unique: unique})
	}
	return indexes, rows.Err()
}
