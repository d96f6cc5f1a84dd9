package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/allthingslinux/schemaport/dialect"
)

// Conn bundles an open handle with the dialect that understands it and the
// schema queries should target.
type Conn struct {
	DB      *sql.DB
	Dialect dialect.Dialect
	Schema  string
}

func (c *Conn) Close() error {
	return c.DB.Close()
}

// DetectEngine names the engine a DSN belongs to. An explicit engine name
// wins over detection; detection looks at the DSN's scheme and the
// driver-specific markers each engine's connection strings carry.
func DetectEngine(engine, dsn string) (string, error) {
	if engine != "" {
		return engine, nil
	}
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"),
		strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "sslmode="):
		return "postgres", nil
	case strings.HasPrefix(lower, "sqlserver://"),
		strings.Contains(lower, "server="):
		return "sqlserver", nil
	case strings.HasPrefix(lower, "oracle://"):
		return "oracle", nil
	case strings.Contains(lower, "@tcp("),
		strings.Contains(lower, "@unix("):
		return "mysql", nil
	case lower == ":memory:",
		strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"),
		strings.HasSuffix(lower, ".sqlite"),
		strings.HasSuffix(lower, ".sqlite3"):
		return "sqlite", nil
	}
	return "", fmt.Errorf("cannot detect engine from DSN; set an explicit engine")
}

// Open resolves the dialect, connects, and verifies the connection with a
// ping. An empty schema falls back to the engine's default.
func Open(ctx context.Context, engine, dsn, schema string) (*Conn, error) {
	name, err := DetectEngine(engine, dsn)
	if err != nil {
		return nil, err
	}
	d, err := dialect.ForName(name)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", d.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", d.Name(), err)
	}

	if schema == "" {
		schema = d.DefaultSchema()
	}
	return &Conn{DB: db, Dialect: d, Schema: schema}, nil
}
