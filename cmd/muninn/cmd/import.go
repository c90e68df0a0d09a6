package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/bulk"
)

var importChunkSize int

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <partition> <file.csv>",
	Short: "Import records from a CSV file",
	Long: `Import records from a CSV file into a partition. The header names
the columns as name:type; the first column is always id.

Example:
  muninn import products ./products.csv`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		coord, err := coordinatorFrom(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		f, err := os.Open(args[1])
		if err != nil {
			fmt.Printf("Error opening file: %v\n", err)
			return
		}
		defer f.Close()

		im := bulk.NewImporter(coord, importChunkSize)
		applied, err := im.ImportCSV(cmd.Context(), args[0], f)
		if err != nil {
			fmt.Printf("Error after importing %d records: %v\n", applied, err)
			return
		}

		fmt.Printf("Successfully imported %d records into %s\n", applied, args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().IntVar(&importChunkSize, "chunk-size", 0, "Records per atomic batch (0 uses the default)")
}
