package introspect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/allthingslinux/schemaport/dialect"
)

var (
	// ErrConnectivity reports that the database could not be reached at all.
	ErrConnectivity = errors.New("database unreachable")
	// ErrIntrospection reports that metadata queries failed or returned
	// something unusable.
	ErrIntrospection = errors.New("schema introspection failed")
)

// SchemaReport is the full description of one live schema.
type SchemaReport struct {
	Dialect string            `json:"dialect"`
	Schema  string            `json:"schema,omitempty"`
	Tables  []TableDescriptor `json:"tables"`
}

// TableDescriptor describes one table: columns in ordinal order, declared
// foreign keys, and secondary indexes.
type TableDescriptor struct {
	Name        string               `json:"name"`
	Columns     []dialect.Column     `json:"columns"`
	ForeignKeys []dialect.ForeignKey `json:"foreign_keys,omitempty"`
	Indexes     []dialect.Index      `json:"indexes,omitempty"`
}

// Table returns the descriptor for the named table.
func (r *SchemaReport) Table(name string) (*TableDescriptor, bool) {
	for i := range r.Tables {
		if r.Tables[i].Name == name {
			return &r.Tables[i], true
		}
	}
	return nil, false
}

// Column returns the descriptor for the named column.
func (t *TableDescriptor) Column(name string) (*dialect.Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PrimaryKey returns the primary key column names in key order, empty when
// the table has none.
func (t *TableDescriptor) PrimaryKey() []string {
	var pk []dialect.Column
	for _, c := range t.Columns {
		if c.PKSeq > 0 {
			pk = append(pk, c)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].PKSeq < pk[j].PKSeq })
	names := make([]string, len(pk))
	for i, c := range pk {
		names[i] = c.Name
	}
	return names
}

// Inspect reads the complete table layout of the given schema.
func Inspect(ctx context.Context, db *sql.DB, d dialect.Dialect, schema string) (*SchemaReport, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	tableNames, err := d.Tables(ctx, db, schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospection, err)
	}

	report := &SchemaReport{Dialect: d.Name(), Schema: schema}
	for _, tableName := range tableNames {
		columns, err := d.Columns(ctx, db, schema, tableName)
		if err != nil {
			return nil, fmt.Errorf("%w: getting columns for table %s: %v", ErrIntrospection, tableName, err)
		}

		foreignKeys, err := d.ForeignKeys(ctx, db, schema, tableName)
		if err != nil {
			return nil, fmt.Errorf("%w: getting foreign keys for table %s: %v", ErrIntrospection, tableName, err)
		}

		indexes, err := d.Indexes(ctx, db, schema, tableName)
		if err != nil {
			return nil, fmt.Errorf("%w: getting indexes for table %s: %v", ErrIntrospection, tableName, err)
		}

		report.Tables = append(report.Tables, TableDescriptor{
			Name:        tableName,
			Columns:     columns,
			ForeignKeys: foreignKeys,
			Indexes:     indexes,
		})
	}

	return report, nil
}
