package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/codec"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <partition> <id>",
	Short: "Get a record",
	Long: `Get a record from the store and print its payload as JSON.

Example:
  muninn get orders order-123`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		coord, err := coordinatorFrom(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		rec, err := coord.Get(cmd.Context(), args[0], args[1])
		if err != nil {
			fmt.Printf("Error getting record: %v\n", err)
			return
		}

		payload, err := codec.NewRecordCodec().EncodeJSON(rec.Payload)
		if err != nil {
			fmt.Printf("Error encoding payload: %v\n", err)
			return
		}

		fmt.Printf("revision: %d\nupdated:  %s\n%s\n", rec.Revision, rec.UpdatedAt, payload)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
