package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/allthingslinux/schemaport/migrate"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past migration runs recorded in the target",
	Long: `History lists the runs recorded in the target database, newest first,
with each table's outcome and row counters. Dry runs are never recorded.

Examples:
  schemaport history
  schemaport history --limit 50
  schemaport history --json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		m, closeConns, err := newMigrator(ctx)
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		defer closeConns()

		runs, err := m.History(ctx, historyLimit)
		if err != nil {
			fmt.Println("❌ Error reading history:", err)
			os.Exit(1)
		}

		if historyJSON {
			if runs == nil {
				runs = []migrate.RunRecord{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(runs); err != nil {
				fmt.Println("❌ Error encoding:", err)
				os.Exit(1)
			}
			return
		}

		if len(runs) == 0 {
			fmt.Println("🕒 No runs recorded yet.")
			return
		}

		fmt.Printf("📋 Last %d runs:\n\n", len(runs))
		for _, r := range runs {
			icon := "🕒"
			switch r.State {
			case string(migrate.RunDone):
				icon = "✅"
			case string(migrate.RunAborted):
				icon = "❌"
			}
			line := fmt.Sprintf("%s %s  %s  started %s", icon, r.ID, r.State,
				r.StartedAt.Format("2006-01-02 15:04:05"))
			if !r.FinishedAt.IsZero() && !r.FinishedAt.Before(r.StartedAt) {
				line += fmt.Sprintf(", took %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
			}
			fmt.Println(line)

			for _, t := range r.Tables {
				ticon := "🕒"
				switch t.State {
				case string(migrate.TableCommitted):
					ticon = "✅"
				case string(migrate.TableRolledBack):
					ticon = "❌"
				}
				line := fmt.Sprintf("   %s %s → %s: %d read, %d written, %d skipped",
					ticon, t.SourceTable, t.TargetTable, t.RowsRead, t.RowsWritten, t.RowsSkipped)
				if t.Error != "" {
					line += fmt.Sprintf(" (%s)", t.Error)
				}
				fmt.Println(line)
			}
			fmt.Println()
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "how many runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "emit runs as JSON")
}
