package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type OracleDialect struct{}

func (d *OracleDialect) Name() string   { return "oracle" }
func (d *OracleDialect) Driver() string { return "oracle" }

// Oracle scopes metadata to the connected user; USER_* views need no schema.
func (d *OracleDialect) DefaultSchema() string { return "" }

// Unquoted identifiers fold to upper case, which is how the USER_* views
// report them. Quoting would make names case sensitive.
func (d *OracleDialect) Quote(ident string) string {
	return strings.ToUpper(ident)
}

func (d *OracleDialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.Quote(table)
	}
	return d.Quote(schema) + "." + d.Quote(table)
}

func (d *OracleDialect) Placeholder(index int) string {
	return fmt.Sprintf(":%d", index+1)
}

func (d *OracleDialect) NullsLast(expr string) string {
	return expr + " NULLS LAST"
}

func (d *OracleDialect) LimitOffset(limit, offset int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (d *OracleDialect) Tables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT TABLE_NAME FROM USER_TABLES ORDER BY TABLE_NAME`)
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

func (d *OracleDialect) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			t.COLUMN_NAME,
			t.DATA_TYPE,
			t.NULLABLE,
			t.DATA_DEFAULT,
			COALESCE(p.POSITION, 0) AS PK_SEQ
		FROM USER_TAB_COLUMNS t
		LEFT JOIN (
			SELECT cc.COLUMN_NAME, cc.POSITION
			FROM USER_CONS_COLUMNS cc
			JOIN USER_CONSTRAINTS uc ON cc.CONSTRAINT_NAME = uc.CONSTRAINT_NAME
			WHERE uc.CONSTRAINT_TYPE = 'P' AND cc.TABLE_NAME = :1
		) p ON p.COLUMN_NAME = t.COLUMN_NAME
		WHERE t.TABLE_NAME = :2
		ORDER BY t.COLUMN_ID`, d.Quote(table), d.Quote(table))
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col        Column
			nullable   string
			colDefault sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &colDefault, &col.PKSeq); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.Nullable = nullable == "Y"
		if colDefault.Valid {
			trimmed := strings.TrimSpace(colDefault.String)
			col.Default = &trimmed
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (d *OracleDialect) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			c.CONSTRAINT_NAME,
			cc.COLUMN_NAME,
			r.TABLE_NAME AS REF_TABLE,
			rcc.COLUMN_NAME AS REF_COLUMN,
			c.DELETE_RULE
		FROM USER_CONSTRAINTS c
		JOIN USER_CONS_COLUMNS cc
			ON c.CONSTRAINT_NAME = cc.CONSTRAINT_NAME
		JOIN USER_CONSTRAINTS r
			ON c.R_CONSTRAINT_NAME = r.CONSTRAINT_NAME
		JOIN USER_CONS_COLUMNS rcc
			ON r.CONSTRAINT_NAME = rcc.CONSTRAINT_NAME
			AND cc.POSITION = rcc.POSITION
		WHERE c.CONSTRAINT_TYPE = 'R' AND c.TABLE_NAME = :1
		ORDER BY c.CONSTRAINT_NAME, cc.POSITION`, d.Quote(table))
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Name, &fk.Column, &fk.RefTable, &fk.RefColumn, &fk.OnDelete); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		// Oracle has no ON UPDATE action.
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (d *OracleDialect) Indexes(ctx context.Context, db *sql.DB, schema, table string) ([]Index, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT i.INDEX_NAME, ic.COLUMN_NAME, i.UNIQUENESS
		FROM USER_INDEXES i
		JOIN USER_IND_COLUMNS ic ON ic.INDEX_NAME = i.INDEX_NAME
		LEFT JOIN USER_CONSTRAINTS uc
			ON uc.INDEX_NAME = i.INDEX_NAME AND uc.CONSTRAINT_TYPE = 'P'
		WHERE i.TABLE_NAME = :1 AND uc.CONSTRAINT_NAME IS NULL
		ORDER BY i.INDEX_NAME, ic.COLUMN_POSITION`, d.Quote(table))
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var (
			name       string
			column     string
			uniqueness string
		)
		if err := rows.Scan(&name, &column, &uniqueness); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column)
			continue
		}
		indexes = append(indexes, Index{Name: name, Columns: []string{column}, Unique: uniqueness == "UNIQUE"})
	}
	return indexes, rows.Err()
}
