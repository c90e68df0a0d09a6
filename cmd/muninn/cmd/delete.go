package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/store"
)

var deleteExpectedRevision int64

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <partition> <id>",
	Short: "Delete a record",
	Long: `Delete a record from the store. Deletes leave a tombstone so that
revision history continues if the identifier is reused.

Example:
  muninn delete orders order-123`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		coord, err := coordinatorFrom(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		var expected *uint64
		if deleteExpectedRevision >= 0 {
			expected = store.Rev(uint64(deleteExpectedRevision))
		}

		if err := coord.Delete(cmd.Context(), args[0], args[1], expected); err != nil {
			fmt.Printf("Error deleting record: %v\n", err)
			return
		}

		fmt.Printf("Successfully deleted %s/%s\n", args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().Int64Var(&deleteExpectedRevision, "expected-revision", -1,
		"Fail unless the record is at this revision")
}
