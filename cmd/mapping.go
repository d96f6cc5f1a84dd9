package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var mappingTable string

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Print the effective mapping rulebook after defaults are applied",
	Long: `Mapping echoes the rulebook as the engine will execute it: defaulted
conflict policies and sort keys filled in, every rename, drop and derivation
explicit. Review it before a run; pipe it to a file to freeze what a run
was executed with.

Examples:
  schemaport mapping
  schemaport mapping --table legacy_users
  schemaport mapping > effective-mapping.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := loadRegistry()
		if err != nil {
			fmt.Println("❌ Error loading mapping rulebook:", err)
			os.Exit(1)
		}

		var doc any = reg
		if mappingTable != "" {
			tm, err := reg.TableMapping(mappingTable)
			if err != nil {
				fmt.Println("❌", err)
				os.Exit(1)
			}
			doc = tm
		}

		out, err := yaml.Marshal(doc)
		if err != nil {
			fmt.Println("❌ Error encoding rulebook:", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
	},
}

func init() {
	rootCmd.AddCommand(mappingCmd)
	mappingCmd.Flags().StringVar(&mappingTable, "table", "", "print only the mapping for this source table")
}
