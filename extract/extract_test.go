package extract

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/allthingslinux/schemaport/dialect"
	"github.com/allthingslinux/schemaport/mapping"
)

func testMapping() *mapping.TableMapping {
	m := &mapping.TableMapping{
		SourceTable: "legacy_users",
		TargetTable: "accounts",
		PrimaryKey:  []string{"user_id"},
		Fields: []mapping.FieldMapping{
			{Source: "user_id", Target: "id"},
			{Source: "email", Target: "email", Transform: &mapping.Transform{Kind: mapping.KindLower}},
			{Source: "age", Target: "age", Transform: &mapping.Transform{Kind: mapping.KindCast, To: mapping.CastInteger}},
			{Source: "legacy_flags"},
			{Target: "source_system", Default: "legacy"},
		},
		Derived: []mapping.DerivedSpec{{
			TargetTable: "account_phones",
			ParentKey:   []mapping.FieldMapping{{Source: "user_id", Target: "account_id"}},
			IndexField:  "slot",
			ValueField:  "phone_number",
			Slots:       []string{"phone1", "phone2", "phone3"},
			Transform:   &mapping.Transform{Kind: mapping.KindTrim},
		}},
	}
	m.Normalize()
	return m
}

func TestTransformRow(t *testing.T) {
	m := testMapping()
	raw := Row{
		"user_id":      int64(7),
		"email":        "Foo@Bar.COM",
		"age":          "41",
		"legacy_flags": "0xdeadbeef",
		"phone1":       " 555-0001 ",
		"phone2":       nil,
		"phone3":       "555-0003",
	}

	product, skip := TransformRow(raw, m)
	if skip != nil {
		t.Fatalf("unexpected skip: %+v", skip)
	}

	rec := product.Record
	if rec.Table != "accounts" {
		t.Errorf("expected table accounts, got %s", rec.Table)
	}
	wantCols := []string{"id", "email", "age", "source_system"}
	if len(rec.Columns) != len(wantCols) {
		t.Fatalf("expected columns %v, got %v", wantCols, rec.Columns)
	}
	for i, c := range wantCols {
		if rec.Columns[i] != c {
			t.Errorf("column %d: expected %s, got %s", i, c, rec.Columns[i])
		}
	}
	if rec.Values["email"] != "foo@bar.com" {
		t.Errorf("expected lowered email, got %v", rec.Values["email"])
	}
	if rec.Values["age"] != int64(41) {
		t.Errorf("expected age 41, got %v (%T)", rec.Values["age"], rec.Values["age"])
	}
	if rec.Values["source_system"] != "legacy" {
		t.Errorf("expected default source_system, got %v", rec.Values["source_system"])
	}
	if _, ok := rec.Values["legacy_flags"]; ok {
		t.Error("dropped field leaked into record values")
	}

	if len(product.Derived) != 2 {
		t.Fatalf("expected 2 derived records, got %d", len(product.Derived))
	}
	first, second := product.Derived[0], product.Derived[1]
	if first.Values["slot"] != 0 || first.Values["phone_number"] != "555-0001" {
		t.Errorf("unexpected first derived record: %v", first.Values)
	}
	if second.Values["slot"] != 2 {
		t.Errorf("expected null slot to keep declaration index, got %v", second.Values["slot"])
	}
	if first.Values["account_id"] != int64(7) {
		t.Errorf("expected parent key carried, got %v", first.Values["account_id"])
	}
	if len(first.Key) != 2 || first.Key[0] != "account_id" || first.Key[1] != "slot" {
		t.Errorf("unexpected derived key: %v", first.Key)
	}
}

func TestTransformRowSkips(t *testing.T) {
	m := testMapping()

	_, skip := TransformRow(Row{"user_id": nil, "email": "a@b.c"}, m)
	if skip == nil {
		t.Fatal("expected skip for null identity")
	}
	if skip.Field != "user_id" {
		t.Errorf("expected skip field user_id, got %s", skip.Field)
	}
	if skip.Identity != "user_id=<null>" {
		t.Errorf("unexpected identity: %s", skip.Identity)
	}

	_, skip = TransformRow(Row{"user_id": int64(9), "age": "not-a-number"}, m)
	if skip == nil {
		t.Fatal("expected skip for failed cast")
	}
	if skip.Field != "age" {
		t.Errorf("expected skip field age, got %s", skip.Field)
	}
	if skip.Identity != "user_id=9" {
		t.Errorf("unexpected identity: %s", skip.Identity)
	}
}

func newSourceDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ddl := `CREATE TABLE legacy_users (
		user_id INTEGER PRIMARY KEY,
		name TEXT,
		joined TEXT
	)`
	if _, err := db.Exec(ddl); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	rows := []struct {
		id     int
		name   string
		joined any
	}{
		{1, "ada", "2024-01-02"},
		{2, "bob", nil},
		{3, "cyd", "2024-01-01"},
		{4, "dee", nil},
		{5, "eli", "2024-01-03"},
	}
	for _, r := range rows {
		if _, err := db.Exec("INSERT INTO legacy_users VALUES (?, ?, ?)", r.id, r.name, r.joined); err != nil {
			t.Fatalf("seeding rows: %v", err)
		}
	}
	return db
}

func streamMapping() *mapping.TableMapping {
	m := &mapping.TableMapping{
		SourceTable: "legacy_users",
		TargetTable: "accounts",
		PrimaryKey:  []string{"user_id"},
		SortKey:     []string{"joined"},
		Fields: []mapping.FieldMapping{
			{Source: "user_id", Target: "id"},
			{Source: "name", Target: "full_name"},
		},
	}
	m.Normalize()
	return m
}

func TestStreamOrdersAndBatches(t *testing.T) {
	db := newSourceDB(t)
	d, err := dialect.ForName("sqlite")
	if err != nil {
		t.Fatalf("resolving dialect: %v", err)
	}
	ex := &Extractor{DB: db, Dialect: d, BatchSize: 2, BatchTimeout: 5 * time.Second}

	var batchSizes []int
	var order []int64
	err = ex.Stream(context.Background(), streamMapping(), func(b *Batch) error {
		batchSizes = append(batchSizes, len(b.Products))
		for _, p := range b.Products {
			order = append(order, p.Record.Values["id"].(int64))
		}
		if len(b.Skips) != 0 {
			t.Errorf("unexpected skips: %v", b.Skips)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	wantSizes := []int{2, 2, 1}
	if len(batchSizes) != len(wantSizes) {
		t.Fatalf("expected batches %v, got %v", wantSizes, batchSizes)
	}
	for i, n := range wantSizes {
		if batchSizes[i] != n {
			t.Errorf("batch %d: expected %d products, got %d", i, n, batchSizes[i])
		}
	}

	// Sorted by joined date with NULLs last, ties broken by primary key.
	want := []int64{3, 1, 5, 2, 4}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("position %d: expected id %d, got %d", i, id, order[i])
		}
	}
}

func TestStreamSinkErrorStopsPipeline(t *testing.T) {
	db := newSourceDB(t)
	d, err := dialect.ForName("sqlite")
	if err != nil {
		t.Fatalf("resolving dialect: %v", err)
	}
	ex := &Extractor{DB: db, Dialect: d, BatchSize: 1}

	boom := errors.New("target write failed")
	calls := 0
	err = ex.Stream(context.Background(), streamMapping(), func(b *Batch) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected pipeline to stop after first sink error, got %d calls", calls)
	}
}

func TestStreamIsRepeatable(t *testing.T) {
	db := newSourceDB(t)
	d, err := dialect.ForName("sqlite")
	if err != nil {
		t.Fatalf("resolving dialect: %v", err)
	}
	ex := &Extractor{DB: db, Dialect: d, BatchSize: 100}

	collect := func() []int64 {
		var ids []int64
		err := ex.Stream(context.Background(), streamMapping(), func(b *Batch) error {
			for _, p := range b.Products {
				ids = append(ids, p.Record.Values["id"].(int64))
			}
			return nil
		})
		if err != nil {
			t.Fatalf("stream failed: %v", err)
		}
		return ids
	}

	first := collect()
	second := collect()
	if len(first) != len(second) {
		t.Fatalf("runs disagree: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("runs disagree at %d: %v vs %v", i, first, second)
		}
	}
}

func TestCount(t *testing.T) {
	db := newSourceDB(t)
	d, err := dialect.ForName("sqlite")
	if err != nil {
		t.Fatalf("resolving dialect: %v", err)
	}
	ex := &Extractor{DB: db, Dialect: d}

	n, err := ex.Count(context.Background(), "legacy_users")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 rows, got %d", n)
	}
}
