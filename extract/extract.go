package extract

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/allthingslinux/schemaport/dialect"
	"github.com/allthingslinux/schemaport/mapping"
)

// Row is one raw source row keyed by source field name.
type Row map[string]any

// Record is one transformed row bound for a target table.
type Record struct {
	Table   string
	Columns []string
	Key     []string
	Values  map[string]any
}

// KeyValues returns the record's identity values in key column order.
func (r *Record) KeyValues() []any {
	vals := make([]any, len(r.Key))
	for i, k := range r.Key {
		vals[i] = r.Values[k]
	}
	return vals
}

// Product is everything one source row yields: the main record plus any
// derived child records.
type Product struct {
	Record  Record
	Derived []Record
}

// Skip records one source row left behind during transformation.
type Skip struct {
	Identity string
	Field    string
	Message  string
}

// Batch carries the products of one extraction batch.
type Batch struct {
	Products []Product
	Skips    []Skip
}

// Extractor streams ordered source rows and transforms them. Reads and
// transforms are pipelined; the sink always runs sequentially.
type Extractor struct {
	DB      *sql.DB
	Dialect dialect.Dialect
	Schema  string
	// BatchSize bounds how many rows are in flight per stage.
	BatchSize int
	// BatchTimeout bounds how long one batch may take to read; zero
	// disables the watchdog.
	BatchTimeout time.Duration
	Logger       *slog.Logger
}

const defaultBatchSize = 500

func (e *Extractor) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return defaultBatchSize
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Count returns the source table's row count.
func (e *Extractor) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	query := "SELECT COUNT(*) FROM " + e.Dialect.QualifyTable(e.Schema, table)
	if err := e.DB.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// Stream reads the mapped source table once, in sort order, and calls sink
// for every transformed batch. The read re-issues nothing: restarting a
// stream means re-running the same ordered query from the beginning, which
// is safe because downstream writes are idempotent by primary key.
func (e *Extractor) Stream(ctx context.Context, m *mapping.TableMapping, sink func(*Batch) error) error {
	if _, err := m.TargetKey(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	rawc := make(chan []Row, 1)
	batches := make(chan *Batch, 1)

	g.Go(func() error {
		defer close(rawc)
		return e.read(gctx, m, rawc)
	})

	g.Go(func() error {
		defer close(batches)
		for rows := range rawc {
			batch := transformBatch(rows, m)
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for batch := range batches {
			if err := sink(batch); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (e *Extractor) read(ctx context.Context, m *mapping.TableMapping, out chan<- []Row) error {
	fields := m.SourceFields()
	query := e.selectQuery(m, fields)
	e.logger().Debug("extracting", slog.String("table", m.SourceTable), slog.Int("fields", len(fields)))

	readCtx := ctx
	var watchdog *time.Timer
	if e.BatchTimeout > 0 {
		var cancel context.CancelCauseFunc
		readCtx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		watchdog = time.AfterFunc(e.BatchTimeout, func() {
			cancel(fmt.Errorf("batch read exceeded %s", e.BatchTimeout))
		})
		defer watchdog.Stop()
	}

	rows, err := e.DB.QueryContext(readCtx, query)
	if err != nil {
		return fmt.Errorf("streaming %s: %w", m.SourceTable, streamCause(readCtx, err))
	}
	defer rows.Close()

	batch := make([]Row, 0, e.batchSize())
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		// The watchdog times the read only; waiting for a slow sink to
		// accept the batch does not count against it.
		if watchdog != nil {
			watchdog.Stop()
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		batch = make([]Row, 0, e.batchSize())
		if watchdog != nil {
			watchdog.Reset(e.BatchTimeout)
		}
		return nil
	}

	for rows.Next() {
		row, err := scanRow(rows, fields)
		if err != nil {
			return fmt.Errorf("streaming %s: %w", m.SourceTable, err)
		}
		batch = append(batch, row)
		if len(batch) >= e.batchSize() {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("streaming %s: %w", m.SourceTable, streamCause(readCtx, err))
	}
	return flush()
}

// streamCause surfaces the watchdog's timeout instead of the driver's
// generic cancellation error.
func streamCause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
			return cause
		}
	}
	return err
}

func (e *Extractor) selectQuery(m *mapping.TableMapping, fields []string) string {
	quoted := dialect.QuoteAll(fields, e.Dialect.Quote)
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(quoted, ", "),
		e.Dialect.QualifyTable(e.Schema, m.SourceTable),
		e.orderBy(m))
}

// orderBy sorts by the declared sort key with NULL values of the primary
// sort field last, then by the primary key fields for a deterministic
// tie-break.
func (e *Extractor) orderBy(m *mapping.TableMapping) string {
	var terms []string
	seen := make(map[string]bool)
	for i, sk := range m.SortKey {
		seen[sk] = true
		col := e.Dialect.Quote(sk)
		if i == 0 {
			terms = append(terms, e.Dialect.NullsLast(col))
			continue
		}
		terms = append(terms, col)
	}
	for _, pk := range m.PrimaryKey {
		if !seen[pk] {
			terms = append(terms, e.Dialect.Quote(pk))
		}
	}
	return strings.Join(terms, ", ")
}

// SampleRow reads the single row at the given position of the ordered
// extraction, counting from zero. The second return is false when the table
// has no row at that position.
func (e *Extractor) SampleRow(ctx context.Context, m *mapping.TableMapping, offset int) (Row, bool, error) {
	fields := m.SourceFields()
	query := e.selectQuery(m, fields) + " " + e.Dialect.LimitOffset(1, offset)
	rows, err := e.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("sampling %s at %d: %w", m.SourceTable, offset, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	row, err := scanRow(rows, fields)
	if err != nil {
		return nil, false, fmt.Errorf("sampling %s at %d: %w", m.SourceTable, offset, err)
	}
	return row, true, nil
}

func scanRow(rows *sql.Rows, fields []string) (Row, error) {
	values := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	row := make(Row, len(fields))
	for i, f := range fields {
		row[f] = values[i]
	}
	return row, nil
}

func transformBatch(rows []Row, m *mapping.TableMapping) *Batch {
	batch := &Batch{}
	for _, raw := range rows {
		product, skip := TransformRow(raw, m)
		if skip != nil {
			batch.Skips = append(batch.Skips, *skip)
			continue
		}
		batch.Products = append(batch.Products, product)
	}
	return batch
}
