package database

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"
)

func TestDetectEngine(t *testing.T) {
	cases := []struct {
		engine string
		dsn    string
		want   string
	}{
		{"", "postgres://app:secret@db:5432/legacy", "postgres"},
		{"", "postgresql://db/legacy", "postgres"},
		{"", "host=db user=app sslmode=disable", "postgres"},
		{"", "sqlserver://sa:secret@db?database=legacy", "sqlserver"},
		{"", "server=db;user id=sa;database=legacy", "sqlserver"},
		{"", "oracle://app:secret@db:1521/XEPDB1", "oracle"},
		{"", "app:secret@tcp(db:3306)/legacy?parseTime=true", "mysql"},
		{"", ":memory:", "sqlite"},
		{"", "file:lily.db?mode=ro", "sqlite"},
		{"", "./legacy.sqlite3", "sqlite"},
		{"oracle", "weird-dsn", "oracle"},
	}
	for _, tc := range cases {
		got, err := DetectEngine(tc.engine, tc.dsn)
		if err != nil {
			t.Errorf("DetectEngine(%q, %q) failed: %v", tc.engine, tc.dsn, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DetectEngine(%q, %q) = %s, want %s", tc.engine, tc.dsn, got, tc.want)
		}
	}
}

func TestDetectEngineUnknown(t *testing.T) {
	if _, err := DetectEngine("", "something-opaque"); err == nil {
		t.Fatal("expected detection failure for opaque DSN")
	}
}

func TestOpenSQLite(t *testing.T) {
	conn, err := Open(context.Background(), "", ":memory:", "")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if conn.Dialect.Name() != "sqlite" {
		t.Errorf("expected sqlite dialect, got %s", conn.Dialect.Name())
	}
	if conn.Schema != conn.Dialect.DefaultSchema() {
		t.Errorf("expected default schema %q, got %q", conn.Dialect.DefaultSchema(), conn.Schema)
	}
	if _, err := conn.DB.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Errorf("connection unusable: %v", err)
	}
}

func TestOpenUnknownEngine(t *testing.T) {
	if _, err := Open(context.Background(), "mongodb", "mongodb://db", ""); err == nil {
		t.Fatal("expected error for unsupported engine")
	}
}
