package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/bulk"
	"github.com/muninndb/muninn/pkg/store"
)

var exportColumns string

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <partition> <file.csv>",
	Short: "Export a partition to a CSV file",
	Long: `Export the records of a partition to a CSV file. Columns are given
as a comma-separated list of name:type pairs.

Example:
  muninn export products ./products.csv --columns name:string,price:decimal`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		coord, err := coordinatorFrom(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		header := append([]string{"id"}, strings.Split(exportColumns, ",")...)
		cols, err := bulk.ParseHeader(header)
		if err != nil {
			fmt.Printf("Error parsing --columns: %v\n", err)
			return
		}

		f, err := os.Create(args[1])
		if err != nil {
			fmt.Printf("Error creating file: %v\n", err)
			return
		}
		defer f.Close()

		exported, err := bulk.ExportCSV(cmd.Context(), coord, f, args[0], cols, store.ScanOptions{})
		if err != nil {
			fmt.Printf("Error after exporting %d records: %v\n", exported, err)
			return
		}

		fmt.Printf("Successfully exported %d records from %s\n", exported, args[0])
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportColumns, "columns", "", "Comma-separated name:type column list (required)")
	if err := exportCmd.MarkFlagRequired("columns"); err != nil {
		panic(err)
	}
}
