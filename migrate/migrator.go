package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allthingslinux/schemaport/dialect"
	"github.com/allthingslinux/schemaport/extract"
	"github.com/allthingslinux/schemaport/mapping"
)

// ErrExists means a target row with the same identity already exists and the
// table's conflict policy forbids touching it.
var ErrExists = errors.New("target row already exists")

// Migrator drives a run: plans an execution order, streams each source
// table through the extractor, and writes each table's records as one
// target transaction.
type Migrator struct {
	Source        *sql.DB
	Target        *sql.DB
	SourceDialect dialect.Dialect
	TargetDialect dialect.Dialect
	SourceSchema  string
	TargetSchema  string
	Registry      *mapping.Registry

	BatchSize    int
	BatchTimeout time.Duration
	// CommitTimeout bounds each table's commit; hitting it rolls that
	// table back without affecting the rest of the run.
	CommitTimeout time.Duration
	// AbortOnFailure stops the run at the first failed table instead of
	// continuing to give a complete picture.
	AbortOnFailure bool
	// DryRun computes and writes everything inside the transaction, then
	// rolls back. Nothing is persisted, including run history.
	DryRun bool

	Logger *slog.Logger
	// Progress, when set, is called after every batch with the rows read
	// so far against the source count.
	Progress func(table string, done, total int64)
}

func (m *Migrator) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Migrator) extractor() *extract.Extractor {
	return &extract.Extractor{
		DB:           m.Source,
		Dialect:      m.SourceDialect,
		Schema:       m.SourceSchema,
		BatchSize:    m.BatchSize,
		BatchTimeout: m.BatchTimeout,
		Logger:       m.logger(),
	}
}

func (m *Migrator) historyStore() *historyStore {
	return &historyStore{
		db:     m.Target,
		d:      m.TargetDialect,
		schema: m.TargetSchema,
		logger: m.logger(),
	}
}

// MigrateAll migrates every mapped table in dependency order.
func (m *Migrator) MigrateAll(ctx context.Context) (*RunReport, error) {
	plan, err := Plan(m.Registry)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, plan)
}

// MigrateTable migrates a single mapped table, identified by its source
// name. Declared dependencies are not pulled in; the operator asked for
// exactly one table.
func (m *Migrator) MigrateTable(ctx context.Context, sourceTable string) (*RunReport, error) {
	if _, err := m.Registry.TableMapping(sourceTable); err != nil {
		return nil, err
	}
	return m.execute(ctx, []string{sourceTable})
}

func (m *Migrator) execute(ctx context.Context, tables []string) (*RunReport, error) {
	report := &RunReport{
		ID:        uuid.NewString(),
		DryRun:    m.DryRun,
		State:     RunPlanning,
		StartedAt: time.Now().UTC(),
	}

	var hist *historyStore
	if !m.DryRun {
		hist = m.historyStore()
		if err := hist.ensure(ctx); err != nil {
			return nil, err
		}
	}

	report.State = RunExecuting
	if m.DryRun {
		report.State = RunDryRun
	}
	if hist != nil {
		hist.beginRun(ctx, report)
	}

	markPending := func(rest []string) {
		for _, name := range rest {
			tm, err := m.Registry.TableMapping(name)
			if err != nil {
				continue
			}
			report.Tables = append(report.Tables, &TableResult{
				SourceTable: name,
				TargetTable: tm.TargetTable,
				State:       TablePending,
			})
		}
	}

	aborted := false
	for i, table := range tables {
		if ctx.Err() != nil {
			markPending(tables[i:])
			aborted = true
			break
		}
		tm, err := m.Registry.TableMapping(table)
		if err != nil {
			report.State = RunAborted
			report.FinishedAt = time.Now().UTC()
			if hist != nil {
				hist.finishRun(ctx, report)
			}
			return report, err
		}

		m.logger().Info("migrating table",
			slog.String("source", tm.SourceTable),
			slog.String("target", tm.TargetTable),
			slog.Bool("dry_run", m.DryRun))
		res := m.migrateOne(ctx, tm)
		report.Tables = append(report.Tables, res)
		if hist != nil {
			hist.recordTable(context.WithoutCancel(ctx), report.ID, res)
		}

		if res.Err != nil {
			m.logger().Error("table rolled back",
				slog.String("source", tm.SourceTable), slog.Any("error", res.Err))
			if ctx.Err() != nil || m.AbortOnFailure {
				markPending(tables[i+1:])
				aborted = true
				break
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.State = RunDone
	if aborted {
		report.State = RunAborted
	}
	if hist != nil {
		hist.finishRun(context.WithoutCancel(ctx), report)
	}
	return report, nil
}

func (m *Migrator) migrateOne(ctx context.Context, tm *mapping.TableMapping) *TableResult {
	res := &TableResult{
		SourceTable: tm.SourceTable,
		TargetTable: tm.TargetTable,
		State:       TablePending,
		StartedAt:   time.Now().UTC(),
	}
	finish := func() *TableResult {
		res.FinishedAt = time.Now().UTC()
		return res
	}

	ex := m.extractor()
	count, err := ex.Count(ctx, tm.SourceTable)
	if err != nil {
		res.fail(err)
		return finish()
	}
	res.SourceCount = count

	txCtx, cancelTx := context.WithCancelCause(ctx)
	defer cancelTx(nil)
	tx, err := m.Target.BeginTx(txCtx, nil)
	if err != nil {
		res.fail(fmt.Errorf("beginning target transaction: %w", err))
		return finish()
	}

	res.State = TableExtracting
	w := newTableWriter(tx, m.TargetDialect, m.TargetSchema, tm.ConflictPolicy)
	err = ex.Stream(ctx, tm, func(b *extract.Batch) error {
		res.State = TableWriting
		res.RowsRead += int64(len(b.Products) + len(b.Skips))
		for _, s := range b.Skips {
			res.RowsSkipped++
			res.Errors = append(res.Errors, RowError{
				Table:    tm.SourceTable,
				Identity: s.Identity,
				Field:    s.Field,
				Message:  s.Message,
			})
		}
		for i := range b.Products {
			written, skipped, err := w.write(txCtx, &b.Products[i])
			res.RowsWritten += written
			res.RowsSkipped += skipped
			if err != nil {
				return err
			}
		}
		if m.Progress != nil {
			m.Progress(tm.SourceTable, res.RowsRead, res.SourceCount)
		}
		return nil
	})
	if err != nil {
		_ = tx.Rollback()
		res.fail(err)
		return finish()
	}

	if m.DryRun {
		if err := tx.Rollback(); err != nil {
			res.fail(fmt.Errorf("rolling back dry run of %s: %w", tm.TargetTable, err))
			return finish()
		}
		res.State = TableRolledBack
		return finish()
	}

	if m.CommitTimeout > 0 {
		timer := time.AfterFunc(m.CommitTimeout, func() {
			cancelTx(fmt.Errorf("commit exceeded %s", m.CommitTimeout))
		})
		defer timer.Stop()
	}
	if err := tx.Commit(); err != nil {
		if cause := context.Cause(txCtx); cause != nil && !errors.Is(cause, context.Canceled) {
			err = cause
		}
		res.fail(fmt.Errorf("committing %s: %w", tm.TargetTable, err))
		return finish()
	}
	res.State = TableCommitted
	return finish()
}
