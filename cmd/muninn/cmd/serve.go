/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start the muninn REST API server.

The server exposes record CRUD, atomic batches, ordered scans and CSV
bulk transfer under /api/v1, plus Prometheus metrics at /metrics.

Examples:
  muninn serve --api-key=mysecretkey --port=9300
  muninn serve --config=./muninn.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		container := containerFrom(cmd)
		if container == nil {
			cmd.Println("Error: store not found in context")
			return
		}

		serverConfig := container.ServerConfig()
		if cmd.Flags().Changed("port") {
			serverConfig.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("api-key") {
			serverConfig.APIKey, _ = cmd.Flags().GetString("api-key")
		}

		if serverConfig.APIKey == "" || serverConfig.APIKey == "auto" {
			cmd.Println("Error: no API key configured (run 'muninn init' or pass --api-key)")
			return
		}

		if err := api.StartServer(container.Coordinator(), serverConfig); err != nil {
			cmd.Printf("Error starting server: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 9300, "Port to listen on")
	serveCmd.Flags().String("api-key", "", "API key for client authentication")
}
