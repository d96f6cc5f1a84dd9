package migrate

import (
	"fmt"
	"time"
)

// RunState tracks where a whole run is in its lifecycle.
type RunState string

const (
	RunPlanning   RunState = "planning"
	RunExecuting  RunState = "executing"
	RunDryRun     RunState = "dry_run"
	RunValidating RunState = "validating"
	RunDone       RunState = "done"
	RunAborted    RunState = "aborted"
)

// TableState tracks one table inside a run.
type TableState string

const (
	TablePending    TableState = "pending"
	TableExtracting TableState = "extracting"
	TableWriting    TableState = "writing"
	TableCommitted  TableState = "committed"
	TableRolledBack TableState = "rolled_back"
)

// RowError is a row left behind during a table's migration. Row errors are
// reported and counted; they never fail the table.
type RowError struct {
	Table    string `json:"table"`
	Identity string `json:"identity"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

func (e RowError) String() string {
	if e.Field != "" {
		return fmt.Sprintf("%s [%s] %s: %s", e.Table, e.Identity, e.Field, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Table, e.Identity, e.Message)
}

// TableResult is the outcome of migrating one table.
type TableResult struct {
	SourceTable string     `json:"source_table"`
	TargetTable string     `json:"target_table"`
	State       TableState `json:"state"`
	SourceCount int64      `json:"source_count"`
	RowsRead    int64      `json:"rows_read"`
	RowsWritten int64      `json:"rows_written"`
	RowsSkipped int64      `json:"rows_skipped"`
	Errors      []RowError `json:"errors,omitempty"`
	// Err is the table-level failure that rolled the table back, if any.
	Err        error     `json:"-"`
	ErrMessage string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (t *TableResult) fail(err error) {
	t.State = TableRolledBack
	t.Err = err
	t.ErrMessage = err.Error()
}

// RunReport accumulates every table's result for the final summary and for
// the persisted run history.
type RunReport struct {
	ID         string         `json:"id"`
	DryRun     bool           `json:"dry_run"`
	State      RunState       `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Tables     []*TableResult `json:"tables"`
}

// Failed returns the tables that did not commit.
func (r *RunReport) Failed() []*TableResult {
	var failed []*TableResult
	for _, t := range r.Tables {
		if t.State != TableCommitted {
			failed = append(failed, t)
		}
	}
	return failed
}

// Errored returns the tables that hit a table-level failure. Unlike
// Failed, a dry-run table that rolled back cleanly does not count.
func (r *RunReport) Errored() []*TableResult {
	var errored []*TableResult
	for _, t := range r.Tables {
		if t.Err != nil {
			errored = append(errored, t)
		}
	}
	return errored
}

// Totals sums row counters across all tables.
func (r *RunReport) Totals() (read, written, skipped int64) {
	for _, t := range r.Tables {
		read += t.RowsRead
		written += t.RowsWritten
		skipped += t.RowsSkipped
	}
	return read, written, skipped
}
