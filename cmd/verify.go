package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/allthingslinux/schemaport/validate"
)

var verifyFormat string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare migrated target data against the source",
	Long: `Verify reads both databases and checks, per mapped table, that the
target row count matches what a complete migration yields, that sampled
rows survived their transforms field by field, and that no declared foreign
key in the target points at a missing parent. Neither database is modified.

The exit code is 1 when any table fails a check.

Examples:
  schemaport verify
  schemaport verify --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		v, closeConns, err := newValidator(ctx)
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		defer closeConns()

		report, err := v.Run(ctx)
		if err != nil {
			fmt.Println("❌ Error verifying:", err)
			os.Exit(1)
		}

		if verifyFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				fmt.Println("❌ Error encoding:", err)
				os.Exit(1)
			}
		} else {
			printValidationText(report)
		}

		if !report.Clean() {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "output format: text or json")
}

func printValidationText(r *validate.Report) {
	for _, t := range r.Tables {
		if t.CountMatch && len(t.ForeignKeys) == 0 && len(t.FieldDiffs) == 0 {
			fmt.Printf("✅ %s: %d rows, counts match\n", t.TargetTable, t.TargetCount)
			continue
		}

		color.New(color.FgRed).Printf("❌ %s:\n", t.TargetTable)
		if !t.CountMatch {
			if t.TargetCount < 0 {
				fmt.Printf("   target table missing or unreadable, expected %d rows\n", t.ExpectedCount)
			} else {
				fmt.Printf("   counts differ: target holds %d rows, expected %d (source has %d)\n",
					t.TargetCount, t.ExpectedCount, t.SourceCount)
			}
		}
		for _, fk := range t.ForeignKeys {
			fmt.Printf("   %d orphaned rows: %s.%s → %s.%s\n",
				fk.Orphans, fk.Table, fk.Column, fk.RefTable, fk.RefColumn)
		}
		for _, d := range t.FieldDiffs {
			fmt.Printf("   [%s] %s: expected %v, found %v\n", d.Identity, d.Field, d.Expected, d.Actual)
		}
	}

	fmt.Println()
	if r.Clean() {
		color.New(color.FgGreen).Println("✅ Verification passed: target matches the source.")
	} else {
		color.New(color.FgRed).Println("❌ Verification failed.")
	}
}
