package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/query"
	"github.com/muninndb/muninn/pkg/store"
)

var (
	scanByTime bool
	scanFrom   string
	scanTill   string
	scanLimit  int
	scanWhere  []string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <partition>",
	Short: "Scan records in a partition",
	Long: `Scan records in a partition, ordered by identifier or, with --by-time,
by last update time.

Examples:
  muninn scan orders
  muninn scan orders --by-time --from 2026-01-01T00:00:00Z --limit 50`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		coord, err := coordinatorFrom(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		opts := store.ScanOptions{ByTime: scanByTime, Limit: scanLimit}
		if scanFrom != "" {
			from, err := time.Parse(time.RFC3339Nano, scanFrom)
			if err != nil {
				fmt.Printf("Error parsing --from: %v\n", err)
				return
			}
			opts.From = from
		}
		if scanTill != "" {
			till, err := time.Parse(time.RFC3339Nano, scanTill)
			if err != nil {
				fmt.Printf("Error parsing --till: %v\n", err)
				return
			}
			opts.Till = till
		}

		conditions, err := query.ParseAll(scanWhere)
		if err != nil {
			fmt.Printf("Error parsing --where: %v\n", err)
			return
		}

		ch, err := coord.Scan(cmd.Context(), args[0], opts)
		if err != nil {
			fmt.Printf("Error starting scan: %v\n", err)
			return
		}
		ch = query.Apply(cmd.Context(), ch, conditions)

		rc := codec.NewRecordCodec()
		count := 0
		for res := range ch {
			if res.Err != nil {
				fmt.Printf("Error during scan: %v\n", res.Err)
				return
			}
			payload, err := rc.EncodeJSON(res.Record.Payload)
			if err != nil {
				fmt.Printf("Error encoding payload: %v\n", err)
				return
			}
			fmt.Printf("%s\trev=%d\t%s\n", res.Record.ID, res.Record.Revision, payload)
			count++
		}
		fmt.Printf("%d records\n", count)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanByTime, "by-time", false, "Order by last update time instead of identifier")
	scanCmd.Flags().StringVar(&scanFrom, "from", "", "Lower time bound (RFC3339, with --by-time)")
	scanCmd.Flags().StringVar(&scanTill, "till", "", "Upper time bound, exclusive (RFC3339, with --by-time)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "Stop after this many records (0 means no limit)")
	scanCmd.Flags().StringArrayVar(&scanWhere, "where", nil, "Filter condition like 'price>=10.5' (repeatable)")
}
