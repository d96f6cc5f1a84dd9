package introspect

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/allthingslinux/schemaport/dialect"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInspect(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ddl := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			total REAL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	report, err := Inspect(ctx, db, &dialect.SQLiteDialect{}, "")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if report.Dialect != "sqlite" {
		t.Errorf("Dialect = %q", report.Dialect)
	}
	if len(report.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(report.Tables))
	}

	orders, ok := report.Table("orders")
	if !ok {
		t.Fatal("orders table missing from report")
	}
	if got := orders.PrimaryKey(); len(got) != 1 || got[0] != "id" {
		t.Errorf("orders primary key = %v", got)
	}
	if len(orders.ForeignKeys) != 1 || orders.ForeignKeys[0].RefTable != "users" {
		t.Errorf("orders foreign keys = %+v", orders.ForeignKeys)
	}

	userID, ok := orders.Column("user_id")
	if !ok {
		t.Fatal("user_id column missing")
	}
	if userID.Nullable {
		t.Error("user_id should be NOT NULL")
	}

	if _, ok := report.Table("payments"); ok {
		t.Error("unexpected table in report")
	}
}

func TestInspectCompositeKeyOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Key order differs from column order on purpose.
	_, err := db.ExecContext(ctx, `CREATE TABLE settings (
		value TEXT,
		key TEXT NOT NULL,
		tenant TEXT NOT NULL,
		PRIMARY KEY (tenant, key)
	)`)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	report, err := Inspect(ctx, db, &dialect.SQLiteDialect{}, "")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	settings, ok := report.Table("settings")
	if !ok {
		t.Fatal("settings table missing")
	}
	pk := settings.PrimaryKey()
	if len(pk) != 2 || pk[0] != "tenant" || pk[1] != "key" {
		t.Errorf("primary key order = %v, want [tenant key]", pk)
	}
}

func TestInspectConnectivityError(t *testing.T) {
	// A file path that cannot be created forces the open to fail on ping.
	db, err := sql.Open("sqlite", "file:/nonexistent-dir/nope.db?mode=ro")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = Inspect(context.Background(), db, &dialect.SQLiteDialect{}, "")
	if !errors.Is(err, ErrConnectivity) {
		t.Errorf("expected ErrConnectivity, got %v", err)
	}
}
