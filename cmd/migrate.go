package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"

	"github.com/allthingslinux/schemaport/migrate"
)

var (
	migrateAll    bool
	migrateDryRun bool
	migrateYes    bool
	migrateAbort  bool
	migrateVerify bool
)

const maxRowErrorsShown = 5

var migrateCmd = &cobra.Command{
	Use:   "migrate [source-table]",
	Short: "Copy mapped tables from the source into the target",
	Long: `Migrate executes the mapping rulebook: each table is extracted from the
source in deterministic order, transformed row by row, and written into the
target inside a single transaction. A table either commits completely or
rolls back to exactly where it started.

With --dry-run the whole pipeline executes but every transaction is rolled
back, reporting what would have been written. Migrating every mapped table
at once requires the explicit --yes token.

Examples:
  schemaport migrate legacy_users
  schemaport migrate --all --dry-run
  schemaport migrate --all --yes
  schemaport migrate legacy_orders --verify`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 && !migrateAll {
			fmt.Println("❌ Name a source table or pass --all")
			os.Exit(1)
		}
		if len(args) > 0 && migrateAll {
			fmt.Println("❌ Name a source table or pass --all, not both")
			os.Exit(1)
		}
		if migrateAll && !migrateDryRun && !migrateYes {
			fmt.Println("❌ Migrating every mapped table needs the explicit --yes token")
			fmt.Println("💡 Rehearse first: schemaport migrate --all --dry-run")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m, closeConns, err := newMigrator(ctx)
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		defer closeConns()

		m.DryRun = migrateDryRun
		if cmd.Flags().Changed("abort-on-failure") {
			m.AbortOnFailure = migrateAbort
		}
		m.Progress = newProgressBars()

		uiprogress.Start()
		var report *migrate.RunReport
		if migrateAll {
			report, err = m.MigrateAll(ctx)
		} else {
			report, err = m.MigrateTable(ctx, args[0])
		}
		uiprogress.Stop()

		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}

		printRunReport(report)

		if migrateVerify && !migrateDryRun && report.State == migrate.RunDone {
			report.State = migrate.RunValidating
			vr, verr := validatorFor(m).Run(ctx)
			report.State = migrate.RunDone
			if verr != nil {
				fmt.Println("❌ Error verifying:", verr)
				os.Exit(1)
			}
			fmt.Println()
			printValidationText(vr)
			if !vr.Clean() {
				os.Exit(1)
			}
		}

		if len(report.Errored()) > 0 || report.State == migrate.RunAborted {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateAll, "all", false, "migrate every mapped table in dependency order")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "run the full pipeline but roll every transaction back")
	migrateCmd.Flags().BoolVar(&migrateYes, "yes", false, "confirm migrating every mapped table")
	migrateCmd.Flags().BoolVar(&migrateAbort, "abort-on-failure", false, "stop the run at the first table that rolls back")
	migrateCmd.Flags().BoolVar(&migrateVerify, "verify", false, "validate target data against the source after a successful run")
}

// newProgressBars returns a Progress callback that keeps one bar per table.
func newProgressBars() func(table string, done, total int64) {
	var mu sync.Mutex
	bars := map[string]*uiprogress.Bar{}
	return func(table string, done, total int64) {
		mu.Lock()
		bar, ok := bars[table]
		if !ok {
			size := int(total)
			if size < 1 {
				size = 1
			}
			bar = uiprogress.AddBar(size).AppendCompleted().PrependElapsed()
			name := table
			bar.PrependFunc(func(*uiprogress.Bar) string {
				return fmt.Sprintf("%-24s", name)
			})
			bars[table] = bar
		}
		mu.Unlock()

		n := int(done)
		if n > bar.Total {
			n = bar.Total
		}
		bar.Set(n)
	}
}

func printRunReport(r *migrate.RunReport) {
	fmt.Println()
	if r.DryRun {
		color.New(color.FgYellow, color.Bold).Println("📋 Dry run: every transaction was rolled back")
	}

	for _, t := range r.Tables {
		dur := t.FinishedAt.Sub(t.StartedAt).Round(time.Millisecond)
		switch {
		case t.Err != nil:
			color.New(color.FgRed).Printf("❌ %s → %s: %s (rolled back after %s)\n",
				t.SourceTable, t.TargetTable, t.Err, dur)
		case t.State == migrate.TablePending:
			fmt.Printf("🕒 %s → %s: not attempted\n", t.SourceTable, t.TargetTable)
		case r.DryRun:
			fmt.Printf("✅ %s → %s: %d read, %d would be written, %d skipped (%s)\n",
				t.SourceTable, t.TargetTable, t.RowsRead, t.RowsWritten, t.RowsSkipped, dur)
		default:
			fmt.Printf("✅ %s → %s: %d read, %d written, %d skipped (%s)\n",
				t.SourceTable, t.TargetTable, t.RowsRead, t.RowsWritten, t.RowsSkipped, dur)
		}
		for i, re := range t.Errors {
			if i == maxRowErrorsShown {
				fmt.Printf("     ... and %d more\n", len(t.Errors)-maxRowErrorsShown)
				break
			}
			fmt.Printf("     ⚠️  %s\n", re)
		}
	}

	read, written, skipped := r.Totals()
	verb := "written"
	if r.DryRun {
		verb = "would be written"
	}
	fmt.Println()
	fmt.Printf("📊 Run %s (%s): %d rows read, %d %s, %d skipped in %s\n",
		r.ID, r.State, read, written, verb, skipped,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	if r.State == migrate.RunAborted {
		color.New(color.FgRed).Println("❌ Run aborted; pending tables were not attempted.")
	}
}
