package migrate

import (
	"context"
	"time"
)

// TableStatus compares a mapped table's live target row count against the
// most recent committed run that touched it.
type TableStatus struct {
	SourceTable string    `json:"source_table"`
	TargetTable string    `json:"target_table"`
	RunID       string    `json:"run_id,omitempty"`
	RanAt       time.Time `json:"ran_at,omitempty"`
	State       string    `json:"state,omitempty"`
	// SourceCount is the source row count recorded by the last committed
	// run; -1 when the table has never been migrated.
	SourceCount int64 `json:"source_count"`
	// TargetCount is the live target row count; -1 when the target table
	// cannot be counted (usually: does not exist yet).
	TargetCount int64 `json:"target_count"`
	InSync      bool  `json:"in_sync"`
}

// Status reports, for every mapped table, the live target count against the
// last recorded committed outcome. Missing target tables and never-migrated
// mappings are reported, not errors.
func (m *Migrator) Status(ctx context.Context) ([]TableStatus, error) {
	hist := m.historyStore()
	if err := hist.ensure(ctx); err != nil {
		return nil, err
	}
	last, err := hist.lastOutcomes(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]TableStatus, 0, len(m.Registry.Tables))
	for _, tm := range m.Registry.Tables {
		st := TableStatus{
			SourceTable: tm.SourceTable,
			TargetTable: tm.TargetTable,
			SourceCount: -1,
			TargetCount: -1,
		}
		var n int64
		query := "SELECT COUNT(*) FROM " + m.TargetDialect.QualifyTable(m.TargetSchema, tm.TargetTable)
		if err := m.Target.QueryRowContext(ctx, query).Scan(&n); err == nil {
			st.TargetCount = n
		}
		if rec, ok := last[tm.TargetTable]; ok {
			st.RunID = rec.RunID
			st.RanAt = rec.FinishedAt
			st.State = rec.State
			st.SourceCount = rec.SourceCount
		}
		st.InSync = st.State == string(TableCommitted) &&
			st.TargetCount >= 0 && st.TargetCount == st.SourceCount
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// History returns the most recent recorded runs, newest first. limit <= 0
// returns everything.
func (m *Migrator) History(ctx context.Context, limit int) ([]RunRecord, error) {
	hist := m.historyStore()
	if err := hist.ensure(ctx); err != nil {
		return nil, err
	}
	return hist.Runs(ctx, limit)
}
