package dialect

import (
	"context"
	"database/sql"
)

// Column describes one column of a live table.
type Column struct {
	Name     string  `json:"name"`
	DataType string  `json:"data_type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
	// PKSeq is the 1-based position of the column inside the table's
	// primary key, 0 when the column is not part of it.
	PKSeq int `json:"pk_seq,omitempty"`
}

// ForeignKey describes one declared reference from a live table to another.
type ForeignKey struct {
	Name      string `json:"name,omitempty"`
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
	OnDelete  string `json:"on_delete,omitempty"`
	OnUpdate  string `json:"on_update,omitempty"`
}

// Index describes a secondary index on a live table.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Dialect abstracts database-specific SQL and metadata access.
type Dialect interface {
	// Name is the canonical dialect name (postgres, mysql, sqlserver, oracle, sqlite).
	Name() string
	// Driver is the database/sql driver name to open connections with.
	Driver() string
	DefaultSchema() string

	// Query Generation
	Quote(ident string) string
	QualifyTable(schema, table string) string
	Placeholder(index int) string // Returns ?, $1, @p1, :1 etc.
	// NullsLast returns ORDER BY terms sorting NULL values after everything else.
	NullsLast(expr string) string
	LimitOffset(limit, offset int) string

	// Metadata Readers (Schema Introspection)
	Tables(ctx context.Context, db *sql.DB, schema string) ([]string, error)
	Columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error)
	ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error)
	Indexes(ctx context.Context, db *sql.DB, schema, table string) ([]Index, error)
}
