package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/allthingslinux/schemaport/loader"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented starter mapping rulebook",
	Long: `Init creates a starter mapping.yaml with one fully commented example
table, so a rulebook can be edited down instead of written from scratch.
An existing file is never overwritten.

Examples:
  schemaport init
  schemaport init --mapping migrations/mapping.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		path := viper.GetString("mapping.file")

		if _, err := os.Stat(path); err == nil {
			fmt.Printf("⚠️  %s already exists, refusing to overwrite\n", path)
			os.Exit(1)
		}

		if err := os.WriteFile(path, []byte(loader.StarterRulebook), 0o644); err != nil {
			fmt.Println("❌ Error writing rulebook:", err)
			os.Exit(1)
		}

		fmt.Printf("✅ Created %s\n", path)
		fmt.Println()
		fmt.Println("💡 Next steps:")
		fmt.Println("   1. Describe each source table in", path)
		fmt.Println("   2. Set SOURCE_DATABASE_URL and TARGET_DATABASE_URL, or write schemaport.yaml")
		fmt.Println("   3. Check the rulebook:  schemaport validate")
		fmt.Println("   4. Rehearse the run:    schemaport migrate --all --dry-run")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
