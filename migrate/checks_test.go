package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/allthingslinux/schemaport/mapping"
)

func TestCheckPrimaryKey(t *testing.T) {
	m := newMigrator(t)
	seedUsers(t, m, 4)
	mustExec(t, m.Source,
		"INSERT INTO legacy_users VALUES (NULL, 'ghost', 'g@example.com', NULL, NULL, '2023-01-09')")
	mustExec(t, m.Source,
		"INSERT INTO legacy_users VALUES (NULL, 'wraith', 'w@example.com', NULL, NULL, '2023-01-10')")

	n, err := m.CheckPrimaryKey(context.Background(), "legacy_users")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows with null identity, got %d", n)
	}
}

func TestCheckPrimaryKeyUnknownTable(t *testing.T) {
	m := newMigrator(t)
	_, err := m.CheckPrimaryKey(context.Background(), "nope")
	if !errors.Is(err, mapping.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckDuplicates(t *testing.T) {
	m := newMigrator(t)
	seedUsers(t, m, 3)
	// Two extra rows reusing identity 2, one reusing identity 3.
	mustExec(t, m.Source,
		"INSERT INTO legacy_users VALUES (2, 'dup-a', 'a@example.com', NULL, NULL, '2023-02-01')")
	mustExec(t, m.Source,
		"INSERT INTO legacy_users VALUES (2, 'dup-b', 'b@example.com', NULL, NULL, '2023-02-02')")
	mustExec(t, m.Source,
		"INSERT INTO legacy_users VALUES (3, 'dup-c', 'c@example.com', NULL, NULL, '2023-02-03')")

	groups, err := m.CheckDuplicates(context.Background(), "legacy_users")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 duplicate groups, got %d", len(groups))
	}
	// Largest group first.
	if groups[0].Count != 3 {
		t.Errorf("expected first group count 3, got %d", groups[0].Count)
	}
	if groups[0].Key["user_id"] != int64(2) {
		t.Errorf("expected first group user_id 2, got %v", groups[0].Key["user_id"])
	}
	if groups[1].Count != 2 || groups[1].Key["user_id"] != int64(3) {
		t.Errorf("unexpected second group: %+v", groups[1])
	}
}

func TestCheckDuplicatesNoneFound(t *testing.T) {
	m := newMigrator(t)
	seedUsers(t, m, 5)

	groups, err := m.CheckDuplicates(context.Background(), "legacy_users")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected no duplicate groups, got %v", groups)
	}
}
