package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/store"
)

var putExpectedRevision int64

// putCmd represents the put command
var putCmd = &cobra.Command{
	Use:   "put <partition> <id> <json>",
	Short: "Put a record",
	Long: `Put a record into the store. The payload is a JSON object; plain
numbers are stored as exact decimals.

Examples:
  muninn put orders order-123 '{"customer":"ada","total":{"$dec":"19.90"}}'
  muninn put orders order-123 '{"n":2}' --expected-revision 1`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		coord, err := coordinatorFrom(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		payload, err := codec.NewRecordCodec().DecodeJSON([]byte(args[2]))
		if err != nil {
			fmt.Printf("Error parsing payload: %v\n", err)
			return
		}

		var expected *uint64
		if putExpectedRevision >= 0 {
			expected = store.Rev(uint64(putExpectedRevision))
		}

		rec, err := coord.Put(cmd.Context(), args[0], args[1], payload, expected)
		if err != nil {
			fmt.Printf("Error putting record: %v\n", err)
			return
		}

		fmt.Printf("Successfully put %s/%s at revision %d\n", rec.Partition, rec.ID, rec.Revision)
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().Int64Var(&putExpectedRevision, "expected-revision", -1,
		"Fail unless the record is at this revision (0 means it must not exist)")
}
