package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show each mapped table's target state against its last committed run",
	Long: `Status compares, for every mapped table, the live target row count
against the most recent committed run that touched it. Tables that were
never migrated or whose target cannot be counted yet are reported as such,
not treated as errors.

Examples:
  schemaport status
  schemaport status --json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		m, closeConns, err := newMigrator(ctx)
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		defer closeConns()

		statuses, err := m.Status(ctx)
		if err != nil {
			fmt.Println("❌ Error reading status:", err)
			os.Exit(1)
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(statuses); err != nil {
				fmt.Println("❌ Error encoding:", err)
				os.Exit(1)
			}
			return
		}

		fmt.Println("📊 Migration status:")
		for _, s := range statuses {
			switch {
			case s.RunID == "":
				line := fmt.Sprintf("🕒 %s → %s: never migrated", s.SourceTable, s.TargetTable)
				if s.TargetCount >= 0 {
					line += fmt.Sprintf(" (target holds %d rows)", s.TargetCount)
				} else {
					line += " (target table missing)"
				}
				fmt.Println(line)
			case s.InSync:
				fmt.Printf("✅ %s → %s: in sync, %d rows (run %s, %s)\n",
					s.SourceTable, s.TargetTable, s.TargetCount, s.RunID,
					s.RanAt.Format("2006-01-02 15:04:05"))
			case s.TargetCount < 0:
				fmt.Printf("⚠️  %s → %s: target table missing, last run recorded %d rows (run %s)\n",
					s.SourceTable, s.TargetTable, s.SourceCount, s.RunID)
			default:
				fmt.Printf("⚠️  %s → %s: target holds %d rows, last run recorded %d (run %s, %s)\n",
					s.SourceTable, s.TargetTable, s.TargetCount, s.SourceCount, s.RunID,
					s.RanAt.Format("2006-01-02 15:04:05"))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit statuses as JSON")
}
