package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/allthingslinux/schemaport/dialect"
)

// DuplicateGroup is one identity shared by more than one source row.
type DuplicateGroup struct {
	Key   map[string]any `json:"key"`
	Count int64          `json:"count"`
}

// CheckPrimaryKey counts source rows that cannot be migrated because one of
// their identity fields is NULL. Those rows would be skipped by a run.
func (m *Migrator) CheckPrimaryKey(ctx context.Context, sourceTable string) (int64, error) {
	tm, err := m.Registry.TableMapping(sourceTable)
	if err != nil {
		return 0, err
	}
	conds := make([]string, len(tm.PrimaryKey))
	for i, pk := range tm.PrimaryKey {
		conds[i] = m.SourceDialect.Quote(pk) + " IS NULL"
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s",
		m.SourceDialect.QualifyTable(m.SourceSchema, tm.SourceTable),
		strings.Join(conds, " OR "))
	var n int64
	if err := m.Source.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("checking identity fields of %s: %w", sourceTable, err)
	}
	return n, nil
}

// CheckDuplicates returns the identity values that occur on more than one
// source row. With a duplicated identity, rows after the first would merge
// into one target row under UPDATE_EXISTING; operators declare
// FAIL_ON_EXISTING where that merge would be wrong.
func (m *Migrator) CheckDuplicates(ctx context.Context, sourceTable string) ([]DuplicateGroup, error) {
	tm, err := m.Registry.TableMapping(sourceTable)
	if err != nil {
		return nil, err
	}
	quoted := dialect.QuoteAll(tm.PrimaryKey, m.SourceDialect.Quote)
	keyList := strings.Join(quoted, ", ")
	query := fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM %s GROUP BY %s HAVING COUNT(*) > 1 ORDER BY COUNT(*) DESC, %s",
		keyList,
		m.SourceDialect.QualifyTable(m.SourceSchema, tm.SourceTable),
		keyList, keyList)

	rows, err := m.Source.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("checking duplicates in %s: %w", sourceTable, err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		values := make([]any, len(tm.PrimaryKey)+1)
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning duplicate group: %w", err)
		}
		g := DuplicateGroup{Key: make(map[string]any, len(tm.PrimaryKey))}
		for i, pk := range tm.PrimaryKey {
			g.Key[pk] = values[i]
		}
		switch n := values[len(values)-1].(type) {
		case int64:
			g.Count = n
		case int32:
			g.Count = int64(n)
		case float64:
			g.Count = int64(n)
		default:
			return nil, fmt.Errorf("unexpected count type %T in duplicate check", values[len(values)-1])
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
