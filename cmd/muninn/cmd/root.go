/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/config"
	"github.com/muninndb/muninn/pkg/coordinator"
	"github.com/muninndb/muninn/pkg/di"
)

type contextKey string

const containerKey contextKey = "container"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "muninn",
	Short: "Muninn - Persistent Typed Record Store",
	Long: `Muninn is a persistent record store with exact decimals, revision
tracking and per-identifier write serialization, backed by an ordered
key-value engine.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		container := di.NewContainer(cfg)
		if err := container.Open(); err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}

		// Store in command context
		cmd.SetContext(context.WithValue(cmd.Context(), containerKey, container))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if c := containerFrom(cmd); c != nil {
			return c.Close()
		}
		return nil
	},
}

// resolveConfig loads the configured file when present and falls back to
// defaults, with command-line flags taking precedence.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	var cfg *config.Config
	if config.ConfigExists(configPath) {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	if cmd.Flags().Changed("data-dir") {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func containerFrom(cmd *cobra.Command) *di.Container {
	c, _ := cmd.Context().Value(containerKey).(*di.Container)
	return c
}

// coordinatorFrom fetches the coordinator wired by the root command.
func coordinatorFrom(cmd *cobra.Command) (*coordinator.Coordinator, error) {
	c := containerFrom(cmd)
	if c == nil {
		return nil, fmt.Errorf("store not found in context")
	}
	return c.Coordinator(), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringP("data-dir", "d", "./data", "Data directory for the store")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
}
