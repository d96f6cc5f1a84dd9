package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/allthingslinux/schemaport/dialect"
)

const (
	runsTable      = "schemaport_runs"
	runTablesTable = "schemaport_run_tables"
)

// historyStore persists run records in the target database. Recording
// failures are warnings, never errors: history must not fail a committed
// table after the fact.
type historyStore struct {
	db     *sql.DB
	d      dialect.Dialect
	schema string
	logger *slog.Logger
}

// RunRecord is one persisted run, as read back for status and history.
type RunRecord struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	State      string        `json:"state"`
	Tables     []TableRecord `json:"tables"`
}

// TableRecord is one persisted per-table outcome.
type TableRecord struct {
	RunID       string    `json:"run_id"`
	SourceTable string    `json:"source_table"`
	TargetTable string    `json:"target_table"`
	SourceCount int64     `json:"source_count"`
	RowsRead    int64     `json:"rows_read"`
	RowsWritten int64     `json:"rows_written"`
	RowsSkipped int64     `json:"rows_skipped"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (h *historyStore) qualified(table string) string {
	return h.d.QualifyTable(h.schema, table)
}

// ensure creates the history tables when they do not exist yet. Every
// engine spells "create if absent" differently.
func (h *historyStore) ensure(ctx context.Context) error {
	for _, stmt := range historyDDL(h.d, h.qualified(runsTable), h.qualified(runTablesTable)) {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating run history tables: %w", err)
		}
	}
	return nil
}

func historyDDL(d dialect.Dialect, runs, runTables string) []string {
	runsBody := `
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	state VARCHAR(32) NOT NULL`
	runTablesBody := `
	run_id VARCHAR(36) NOT NULL,
	source_table VARCHAR(128) NOT NULL,
	target_table VARCHAR(128) NOT NULL,
	source_count BIGINT NOT NULL,
	rows_read BIGINT NOT NULL,
	rows_written BIGINT NOT NULL,
	rows_skipped BIGINT NOT NULL,
	state VARCHAR(32) NOT NULL,
	error VARCHAR(4000),
	finished_at TIMESTAMP,
	PRIMARY KEY (run_id, target_table)`

	switch d.Name() {
	case "sqlserver":
		runsBody = strings.ReplaceAll(runsBody, "VARCHAR", "NVARCHAR")
		runsBody = strings.ReplaceAll(runsBody, "TIMESTAMP", "DATETIME2")
		runTablesBody = strings.ReplaceAll(runTablesBody, "VARCHAR", "NVARCHAR")
		runTablesBody = strings.ReplaceAll(runTablesBody, "TIMESTAMP", "DATETIME2")
		return []string{
			fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", runs, runs, runsBody),
			fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", runTables, runTables, runTablesBody),
		}
	case "oracle":
		runsBody = strings.ReplaceAll(runsBody, "VARCHAR", "VARCHAR2")
		runsBody = strings.ReplaceAll(runsBody, "BIGINT", "NUMBER(19)")
		runTablesBody = strings.ReplaceAll(runTablesBody, "VARCHAR", "VARCHAR2")
		runTablesBody = strings.ReplaceAll(runTablesBody, "BIGINT", "NUMBER(19)")
		// ORA-00955: name is already used by an existing object.
		const wrap = "BEGIN EXECUTE IMMEDIATE 'CREATE TABLE %s (%s)'; EXCEPTION WHEN OTHERS THEN IF SQLCODE != -955 THEN RAISE; END IF; END;"
		return []string{
			fmt.Sprintf(wrap, runs, runsBody),
			fmt.Sprintf(wrap, runTables, runTablesBody),
		}
	case "mysql":
		runsBody = strings.ReplaceAll(runsBody, "TIMESTAMP", "DATETIME")
		runTablesBody = strings.ReplaceAll(runTablesBody, "TIMESTAMP", "DATETIME")
	}
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", runs, runsBody),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", runTables, runTablesBody),
	}
}

func (h *historyStore) beginRun(ctx context.Context, report *RunReport) {
	query := fmt.Sprintf("INSERT INTO %s (id, started_at, state) VALUES (%s, %s, %s)",
		h.qualified(runsTable), h.d.Placeholder(0), h.d.Placeholder(1), h.d.Placeholder(2))
	if _, err := h.db.ExecContext(ctx, query, report.ID, report.StartedAt, string(report.State)); err != nil {
		h.logger.Warn("recording run start failed", slog.String("run", report.ID), slog.Any("error", err))
	}
}

func (h *historyStore) finishRun(ctx context.Context, report *RunReport) {
	query := fmt.Sprintf("UPDATE %s SET state = %s, finished_at = %s WHERE id = %s",
		h.qualified(runsTable), h.d.Placeholder(0), h.d.Placeholder(1), h.d.Placeholder(2))
	if _, err := h.db.ExecContext(ctx, query, string(report.State), report.FinishedAt, report.ID); err != nil {
		h.logger.Warn("recording run finish failed", slog.String("run", report.ID), slog.Any("error", err))
	}
}

func (h *historyStore) recordTable(ctx context.Context, runID string, t *TableResult) {
	cols := []string{
		"run_id", "source_table", "target_table", "source_count",
		"rows_read", "rows_written", "rows_skipped", "state", "error", "finished_at",
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		h.qualified(runTablesTable),
		strings.Join(cols, ", "),
		dialect.GeneratePlaceholders(len(cols), h.d.Placeholder))
	var errMsg any
	if t.ErrMessage != "" {
		errMsg = t.ErrMessage
	}
	_, err := h.db.ExecContext(ctx, query,
		runID, t.SourceTable, t.TargetTable, t.SourceCount,
		t.RowsRead, t.RowsWritten, t.RowsSkipped, string(t.State), errMsg, t.FinishedAt)
	if err != nil {
		h.logger.Warn("recording table result failed",
			slog.String("run", runID), slog.String("table", t.SourceTable), slog.Any("error", err))
	}
}

// Runs reads back the most recent runs, newest first, with their per-table
// records attached.
func (h *historyStore) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	query := fmt.Sprintf("SELECT id, started_at, finished_at, state FROM %s ORDER BY started_at DESC",
		h.qualified(runsTable))
	if limit > 0 {
		query += " " + h.d.LimitOffset(limit, 0)
	}
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.State); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}

	for i := range runs {
		tables, err := h.runTables(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Tables = tables
	}
	return runs, nil
}

func (h *historyStore) runTables(ctx context.Context, runID string) ([]TableRecord, error) {
	query := fmt.Sprintf(
		"SELECT run_id, source_table, target_table, source_count, rows_read, rows_written, rows_skipped, state, error, finished_at FROM %s WHERE run_id = %s ORDER BY target_table",
		h.qualified(runTablesTable), h.d.Placeholder(0))
	rows, err := h.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run tables: %w", err)
	}
	defer rows.Close()

	var records []TableRecord
	for rows.Next() {
		var t TableRecord
		var errMsg sql.NullString
		var finished sql.NullTime
		err := rows.Scan(&t.RunID, &t.SourceTable, &t.TargetTable, &t.SourceCount,
			&t.RowsRead, &t.RowsWritten, &t.RowsSkipped, &t.State, &errMsg, &finished)
		if err != nil {
			return nil, fmt.Errorf("scanning table record: %w", err)
		}
		if errMsg.Valid {
			t.Error = errMsg.String
		}
		if finished.Valid {
			t.FinishedAt = finished.Time
		}
		records = append(records, t)
	}
	return records, rows.Err()
}

// lastOutcomes returns, per target table, the most recently recorded
// committed outcome. Status compares these against live target counts.
func (h *historyStore) lastOutcomes(ctx context.Context) (map[string]TableRecord, error) {
	runs, err := h.Runs(ctx, 0)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]TableRecord)
	// Runs come back newest first; keep the first committed record seen
	// per target table.
	for _, run := range runs {
		for _, t := range run.Tables {
			if t.State != string(TableCommitted) {
				continue
			}
			if _, ok := latest[t.TargetTable]; !ok {
				latest[t.TargetTable] = t
			}
		}
	}
	return latest, nil
}
