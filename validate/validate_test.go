package validate

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/allthingslinux/schemaport/dialect"
	"github.com/allthingslinux/schemaport/mapping"
	"github.com/allthingslinux/schemaport/migrate"
)

func newMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func validationRegistry() *mapping.Registry {
	reg := &mapping.Registry{
		Version: 1,
		Tables: []mapping.TableMapping{
			{
				SourceTable: "legacy_users",
				TargetTable: "accounts",
				PrimaryKey:  []string{"user_id"},
				SortKey:     []string{"joined"},
				Fields: []mapping.FieldMapping{
					{Source: "user_id", Target: "id"},
					{Source: "user_name", Target: "username", Transform: &mapping.Transform{Kind: mapping.KindTrim}},
					{Source: "email_address", Target: "email", Transform: &mapping.Transform{Kind: mapping.KindLower}},
					{Target: "source_system", Default: "legacy"},
				},
				Derived: []mapping.DerivedSpec{{
					TargetTable: "account_phones",
					ParentKey:   []mapping.FieldMapping{{Source: "user_id", Target: "account_id"}},
					IndexField:  "slot",
					ValueField:  "phone_number",
					Slots:       []string{"phone1", "phone2"},
				}},
			},
			{
				SourceTable: "legacy_orders",
				TargetTable: "purchases",
				PrimaryKey:  []string{"order_id"},
				SortKey:     []string{"ordered_at"},
				DependsOn:   []string{"legacy_users"},
				Fields: []mapping.FieldMapping{
					{Source: "order_id", Target: "id"},
					{Source: "user_id", Target: "account_id"},
					{Source: "amount", Target: "total", Transform: &mapping.Transform{Kind: mapping.KindCast, To: mapping.CastFloat}},
				},
			},
		},
	}
	reg.Normalize()
	return reg
}

// newValidatedPair builds a migrator and a validator over the same pair of
// in-memory databases.
func newValidatedPair(t *testing.T) (*migrate.Migrator, *Validator) {
	t.Helper()
	source := newMemoryDB(t)
	target := newMemoryDB(t)

	mustExec(t, source, `CREATE TABLE legacy_users (
		user_id INTEGER,
		user_name TEXT,
		email_address TEXT,
		phone1 TEXT,
		phone2 TEXT,
		joined TEXT
	)`)
	mustExec(t, source, `CREATE TABLE legacy_orders (
		order_id INTEGER,
		user_id INTEGER,
		amount TEXT,
		ordered_at TEXT
	)`)

	mustExec(t, target, `CREATE TABLE accounts (
		id INTEGER PRIMARY KEY,
		username TEXT,
		email TEXT,
		source_system TEXT
	)`)
	mustExec(t, target, `CREATE TABLE account_phones (
		account_id INTEGER REFERENCES accounts(id),
		slot INTEGER,
		phone_number TEXT,
		PRIMARY KEY (account_id, slot)
	)`)
	mustExec(t, target, `CREATE TABLE purchases (
		id INTEGER PRIMARY KEY,
		account_id INTEGER REFERENCES accounts(id),
		total REAL
	)`)

	d, err := dialect.ForName("sqlite")
	if err != nil {
		t.Fatalf("resolving dialect: %v", err)
	}
	reg := validationRegistry()
	m := &migrate.Migrator{
		Source:        source,
		Target:        target,
		SourceDialect: d,
		TargetDialect: d,
		Registry:      reg,
		BatchSize:     3,
	}
	v := &Validator{
		Source:        source,
		Target:        target,
		SourceDialect: d,
		TargetDialect: d,
		Registry:      reg,
		SampleSize:    3,
	}
	return m, v
}

func seed(t *testing.T, m *migrate.Migrator, users, orders int) {
	t.Helper()
	for i := 1; i <= users; i++ {
		var phone2 any
		if i%2 == 0 {
			phone2 = fmt.Sprintf("555-02%02d", i)
		}
		mustExec(t, m.Source,
			"INSERT INTO legacy_users VALUES (?, ?, ?, ?, ?, ?)",
			i, fmt.Sprintf(" user %d ", i), fmt.Sprintf("User%03d@Example.com", i),
			fmt.Sprintf("555-01%02d", i), phone2, fmt.Sprintf("2023-01-%02d", (i%28)+1))
	}
	for i := 1; i <= orders; i++ {
		mustExec(t, m.Source,
			"INSERT INTO legacy_orders VALUES (?, ?, ?, ?)",
			i, (i%users)+1, fmt.Sprintf("%d.25", i*5), fmt.Sprintf("2023-02-%02d", (i%28)+1))
	}
}

func migrateAll(t *testing.T, m *migrate.Migrator) {
	t.Helper()
	report, err := m.MigrateAll(context.Background())
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	for _, res := range report.Tables {
		if res.State != migrate.TableCommitted {
			t.Fatalf("table %s did not commit: %v", res.SourceTable, res.Err)
		}
	}
}

func TestValidateCleanMigration(t *testing.T) {
	m, v := newValidatedPair(t)
	seed(t, m, 5, 6)
	migrateAll(t, m)

	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean report, got %+v", report.Tables)
	}
	if len(report.Tables) != 3 {
		t.Fatalf("expected 3 table validations, got %d", len(report.Tables))
	}

	byTarget := make(map[string]TableValidation)
	for _, tv := range report.Tables {
		byTarget[tv.TargetTable] = tv
	}
	if tv := byTarget["accounts"]; tv.SourceCount != 5 || tv.TargetCount != 5 {
		t.Errorf("accounts counts wrong: %+v", tv)
	}
	// 5 phone1 values plus 2 phone2 values.
	if tv := byTarget["account_phones"]; tv.ExpectedCount != 7 || tv.TargetCount != 7 {
		t.Errorf("derived counts wrong: %+v", tv)
	}
	if tv := byTarget["purchases"]; tv.TargetCount != 6 {
		t.Errorf("purchases counts wrong: %+v", tv)
	}
}

func TestValidateSkippedRowsAreExpected(t *testing.T) {
	m, v := newValidatedPair(t)
	seed(t, m, 4, 2)
	mustExec(t, m.Source,
		"INSERT INTO legacy_users VALUES (NULL, 'ghost', 'g@example.com', NULL, NULL, '2023-01-30')")
	migrateAll(t, m)

	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean report, got %+v", report.Tables)
	}
	accounts := report.Tables[0]
	if accounts.SourceCount != 5 || accounts.ExpectedCount != 4 || accounts.TargetCount != 4 {
		t.Errorf("identityless row not accounted for: %+v", accounts)
	}
}

func TestValidateCountMismatch(t *testing.T) {
	m, v := newValidatedPair(t)
	seed(t, m, 5, 3)
	migrateAll(t, m)
	mustExec(t, m.Target, "DELETE FROM purchases WHERE id = 2")

	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if report.Clean() {
		t.Fatal("expected dirty report after deleting a target row")
	}
	for _, tv := range report.Tables {
		if tv.TargetTable == "purchases" {
			if tv.CountMatch {
				t.Errorf("expected count mismatch: %+v", tv)
			}
			if tv.ExpectedCount != 3 || tv.TargetCount != 2 {
				t.Errorf("unexpected counts: %+v", tv)
			}
		}
	}
}

func TestValidateDetectsFieldDrift(t *testing.T) {
	m, v := newValidatedPair(t)
	v.SampleSize = 100
	seed(t, m, 5, 0)
	migrateAll(t, m)
	mustExec(t, m.Target, "UPDATE accounts SET email = 'tampered@example.com' WHERE id = 3")

	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if report.Clean() {
		t.Fatal("expected field drift to be reported")
	}

	var found bool
	for _, tv := range report.Tables {
		for _, diff := range tv.FieldDiffs {
			if diff.Table == "accounts" && diff.Field == "email" {
				found = true
				if diff.Actual != "tampered@example.com" {
					t.Errorf("unexpected actual value: %v", diff.Actual)
				}
				if diff.Expected != "user003@example.com" {
					t.Errorf("unexpected expected value: %v", diff.Expected)
				}
			}
		}
	}
	if !found {
		t.Errorf("email drift not found in %+v", report.Tables)
	}
}

func TestValidateMissingTargetRow(t *testing.T) {
	m, v := newValidatedPair(t)
	v.SampleSize = 100
	seed(t, m, 4, 0)
	migrateAll(t, m)
	mustExec(t, m.Target, "DELETE FROM accounts WHERE id = 1")

	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	var found bool
	for _, tv := range report.Tables {
		for _, diff := range tv.FieldDiffs {
			if diff.Field == "*" && diff.Table == "accounts" {
				found = true
			}
		}
	}
	if !found {
		t.Error("missing target row not reported")
	}
}

func TestValidateOrphanedForeignKey(t *testing.T) {
	m, v := newValidatedPair(t)
	seed(t, m, 4, 4)
	migrateAll(t, m)
	// SQLite does not enforce the declared references by default, so the
	// parent can vanish while its children stay.
	mustExec(t, m.Target, "DELETE FROM accounts WHERE id = 2")

	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if report.Clean() {
		t.Fatal("expected orphaned foreign keys to be reported")
	}

	var phoneIssue, purchaseIssue bool
	for _, tv := range report.Tables {
		for _, fk := range tv.ForeignKeys {
			switch fk.Table {
			case "account_phones":
				phoneIssue = true
				if fk.Orphans != 2 {
					t.Errorf("expected 2 orphaned phones, got %d", fk.Orphans)
				}
			case "purchases":
				purchaseIssue = true
			}
			if fk.RefTable != "accounts" {
				t.Errorf("unexpected referenced table: %+v", fk)
			}
		}
	}
	if !phoneIssue || !purchaseIssue {
		t.Errorf("expected orphan issues on both child tables: %+v", report.Tables)
	}
}

func TestValidateEmptySource(t *testing.T) {
	_, v := newValidatedPair(t)
	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected clean report for empty schemas, got %+v", report.Tables)
	}
}

func TestSampleOffsets(t *testing.T) {
	cases := []struct {
		total int64
		n     int
		want  []int
	}{
		{10, 3, []int{0, 4, 9}},
		{1, 3, []int{0}},
		{2, 3, []int{0, 1}},
		{5, 100, []int{0, 1, 2, 3, 4}},
		{0, 3, nil},
	}
	for _, tc := range cases {
		got := sampleOffsets(tc.total, tc.n)
		if len(got) != len(tc.want) {
			t.Errorf("sampleOffsets(%d, %d) = %v, want %v", tc.total, tc.n, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("sampleOffsets(%d, %d) = %v, want %v", tc.total, tc.n, got, tc.want)
				break
			}
		}
	}
}

func TestEqualValue(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{nil, nil, true},
		{nil, "x", false},
		{"a", "a", true},
		{[]byte("a"), "a", true},
		{int64(5), 5, true},
		{int32(5), float64(5), true},
		{true, int64(1), true},
		{false, int64(0), true},
		{true, int64(0), false},
		{float64(30.5), "30.5", true},
		{"30.50", float64(30.5), false},
		{int64(1), int64(2), false},
	}
	for _, tc := range cases {
		if got := equalValue(tc.a, tc.b); got != tc.want {
			t.Errorf("equalValue(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
