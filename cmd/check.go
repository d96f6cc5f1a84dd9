package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/allthingslinux/schemaport/migrate"
)

var checkTimeout time.Duration

const maxDuplicatesShown = 20

var checkCmd = &cobra.Command{
	Use:   "check <source-table>",
	Short: "Preflight a source table: NULL identities and duplicate keys",
	Long: `Check runs the two preflight queries that predict migration trouble for
one source table: rows whose identity fields hold NULL (they will be skipped)
and identity values shared by more than one row (later rows will collide
under the table's conflict policy).

The exit code is 1 when either problem is found.

Examples:
  schemaport check legacy_users
  schemaport check legacy_orders --timeout 2m`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		table := args[0]
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		reg, err := loadRegistry()
		if err != nil {
			fmt.Println("❌ Error loading mapping rulebook:", err)
			os.Exit(1)
		}
		tm, err := reg.TableMapping(table)
		if err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}

		conn, err := openSource(ctx)
		if err != nil {
			fmt.Println("❌ Error connecting to source:", err)
			os.Exit(1)
		}
		defer conn.Close()

		m := &migrate.Migrator{
			Source:        conn.DB,
			SourceDialect: conn.Dialect,
			SourceSchema:  conn.Schema,
			Registry:      reg,
		}

		fmt.Printf("🔎 Preflight: %s (identity: %s)\n\n", table, strings.Join(tm.PrimaryKey, ", "))

		dirty := false

		nulls, err := m.CheckPrimaryKey(ctx, table)
		if err != nil {
			fmt.Println("❌ Error checking identity fields:", err)
			os.Exit(1)
		}
		if nulls > 0 {
			fmt.Printf("⚠️  %d rows hold NULL in an identity field and will be skipped\n", nulls)
			dirty = true
		} else {
			fmt.Println("✅ No NULL values in identity fields")
		}

		groups, err := m.CheckDuplicates(ctx, table)
		if err != nil {
			fmt.Println("❌ Error checking duplicates:", err)
			os.Exit(1)
		}
		if len(groups) > 0 {
			fmt.Printf("❌ %d duplicate identity groups:\n", len(groups))
			for i, g := range groups {
				if i == maxDuplicatesShown {
					fmt.Printf("   ... and %d more\n", len(groups)-maxDuplicatesShown)
					break
				}
				fmt.Printf("   %s (%d rows)\n", formatKey(g.Key), g.Count)
			}
			fmt.Println("💡 Deduplicate the source or pick a conflict_policy that tolerates collisions.")
			dirty = true
		} else {
			fmt.Println("✅ No duplicate identity values")
		}

		if dirty {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 30*time.Second, "abort the preflight queries after this long")
}

func formatKey(key map[string]any) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, key[name])
	}
	return strings.Join(parts, ", ")
}
