package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/allthingslinux/schemaport/introspect"
)

var (
	auditJSON    bool
	auditColumns bool
	auditTarget  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the source schema and summarize what a migration will see",
	Long: `Audit connects to the source database, reads every table in the
configured schema, and summarizes columns, keys and indexes. Tables without
a primary key are called out: their rows can only be migrated once the
mapping rulebook declares an explicit identity for them.

Examples:
  schemaport audit
  schemaport audit --columns
  schemaport audit --json > source-schema.json
  schemaport audit --target`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		open := openSource
		side := "Source"
		if auditTarget {
			open = openTarget
			side = "Target"
		}

		conn, err := open(ctx)
		if err != nil {
			fmt.Println("❌ Error connecting:", err)
			os.Exit(1)
		}
		defer conn.Close()

		report, err := introspect.Inspect(ctx, conn.DB, conn.Dialect, conn.Schema)
		if err != nil {
			fmt.Println("❌ Error inspecting schema:", err)
			os.Exit(1)
		}

		if auditJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				fmt.Println("❌ Error encoding report:", err)
				os.Exit(1)
			}
			return
		}

		printAudit(side, report)
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "emit the full schema report as JSON")
	auditCmd.Flags().BoolVar(&auditColumns, "columns", false, "list every column, foreign key and index")
	auditCmd.Flags().BoolVar(&auditTarget, "target", false, "audit the target database instead of the source")
}

func printAudit(side string, report *introspect.SchemaReport) {
	header := color.New(color.FgCyan, color.Bold)
	if report.Schema != "" {
		header.Printf("📋 %s schema: %s (%s)\n\n", side, report.Schema, report.Dialect)
	} else {
		header.Printf("📋 %s schema (%s)\n\n", side, report.Dialect)
	}

	// Mapped targets are shown when a rulebook is present; audit itself
	// never requires one.
	mapped := map[string]string{}
	if reg, err := loadRegistry(); err == nil {
		for _, t := range reg.Tables {
			mapped[t.SourceTable] = t.TargetTable
		}
	}

	var columnCount int
	var noPK []string
	for _, t := range report.Tables {
		columnCount += len(t.Columns)
		pk := t.PrimaryKey()

		line := fmt.Sprintf("  %s (%d columns", t.Name, len(t.Columns))
		if len(pk) > 0 {
			line += fmt.Sprintf(", pk: %s)", strings.Join(pk, ", "))
		} else {
			line += ", no primary key ⚠️)"
			noPK = append(noPK, t.Name)
		}
		if target, ok := mapped[t.Name]; ok {
			line += " → " + target
		}
		fmt.Println(line)

		if auditColumns {
			printTableDetail(&t)
		}
	}

	fmt.Println()
	summary := fmt.Sprintf("📊 %d tables, %d columns", len(report.Tables), columnCount)
	if len(mapped) > 0 {
		n := 0
		for _, t := range report.Tables {
			if _, ok := mapped[t.Name]; ok {
				n++
			}
		}
		summary += fmt.Sprintf(", %d mapped", n)
	}
	fmt.Println(summary)

	if len(noPK) > 0 {
		fmt.Printf("⚠️  %d tables have no primary key: %s\n", len(noPK), strings.Join(noPK, ", "))
		fmt.Println("💡 Declare primary_key in the mapping rulebook before migrating them.")
	}
}

func printTableDetail(t *introspect.TableDescriptor) {
	for _, c := range t.Columns {
		null := "not null"
		if c.Nullable {
			null = "null"
		}
		line := fmt.Sprintf("      %-24s %-16s %s", c.Name, c.DataType, null)
		if c.Default != nil {
			line += " default " + *c.Default
		}
		fmt.Println(line)
	}
	for _, fk := range t.ForeignKeys {
		fmt.Printf("      fk: %s → %s.%s\n", fk.Column, fk.RefTable, fk.RefColumn)
	}
	for _, idx := range t.Indexes {
		kind := "index"
		if idx.Unique {
			kind = "unique index"
		}
		fmt.Printf("      %s %s (%s)\n", kind, idx.Name, strings.Join(idx.Columns, ", "))
	}
	fmt.Println()
}
