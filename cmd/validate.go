package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/allthingslinux/schemaport/introspect"
	"github.com/allthingslinux/schemaport/mapping"
)

var (
	validateFormat  string
	validateOffline bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the mapping rulebook, offline and against the live source",
	Long: `Validate checks the mapping rulebook for internal consistency: complete
declarations, known transforms and conflict policies, mapped key fields, and
dependencies that point at declared mappings.

When a source database is configured it also cross-checks the rulebook
against the live schema: every mapped source field must exist, and
transforms should agree with the column types they read.

The exit code is 1 when any blocking error is found.

Examples:
  schemaport validate
  schemaport validate --offline
  schemaport validate --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := loadRegistry()
		if err != nil {
			fmt.Println("❌ Error loading mapping rulebook:", err)
			os.Exit(1)
		}

		mode := "offline"
		var issues []mapping.Issue
		if validateOffline || viper.GetString("source.dsn") == "" {
			issues = reg.Check()
		} else {
			ctx := context.Background()
			conn, err := openSource(ctx)
			if err != nil {
				fmt.Println("❌ Error connecting to source:", err)
				os.Exit(1)
			}
			defer conn.Close()

			report, err := introspect.Inspect(ctx, conn.DB, conn.Dialect, conn.Schema)
			if err != nil {
				fmt.Println("❌ Error inspecting source schema:", err)
				os.Exit(1)
			}
			issues = reg.ValidateAgainst(report)
			mode = "live source"
		}

		if validateFormat == "json" {
			printIssuesJSON(mode, issues)
		} else {
			printIssuesText(mode, issues)
		}

		if mapping.HasBlocking(issues) {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFormat, "format", "text", "output format: text or json")
	validateCmd.Flags().BoolVar(&validateOffline, "offline", false, "skip the live source cross-check")
}

func printIssuesText(mode string, issues []mapping.Issue) {
	var errs, warns []mapping.Issue
	for _, i := range issues {
		if i.Severity == mapping.SeverityError {
			errs = append(errs, i)
		} else {
			warns = append(warns, i)
		}
	}

	if len(errs) > 0 {
		color.New(color.FgRed, color.Bold).Printf("🔴 Errors (%d):\n", len(errs))
		for _, i := range errs {
			fmt.Printf("  - %s\n", i)
		}
		fmt.Println()
	}
	if len(warns) > 0 {
		color.New(color.FgYellow, color.Bold).Printf("🟡 Warnings (%d):\n", len(warns))
		for _, i := range warns {
			fmt.Printf("  - %s\n", i)
		}
		fmt.Println()
	}

	switch {
	case len(errs) > 0:
		color.New(color.FgRed).Printf("❌ Mapping validation failed (%s check).\n", mode)
	case len(warns) > 0:
		color.New(color.FgYellow).Printf("⚠️  Mapping validation passed with %d warnings (%s check).\n", len(warns), mode)
	default:
		color.New(color.FgGreen).Printf("✅ Mapping validation passed (%s check).\n", mode)
	}
}

func printIssuesJSON(mode string, issues []mapping.Issue) {
	if issues == nil {
		issues = []mapping.Issue{}
	}
	out := struct {
		Mode     string          `json:"mode"`
		Blocking bool            `json:"blocking"`
		Issues   []mapping.Issue `json:"issues"`
	}{mode, mapping.HasBlocking(issues), issues}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Println("❌ Error encoding:", err)
		os.Exit(1)
	}
}
