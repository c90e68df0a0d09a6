package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninndb/muninn/pkg/config"
)

func newFlagCommand() *cobra.Command {
	c := &cobra.Command{Use: "test"}
	c.Flags().StringP("data-dir", "d", "./data", "")
	c.Flags().StringP("config", "c", "", "")
	return c
}

func TestResolveConfig(t *testing.T) {
	t.Run("defaults when no config file", func(t *testing.T) {
		c := newFlagCommand()
		require.NoError(t, c.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")))

		cfg, err := resolveConfig(c)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultConfig(), cfg)
	})

	t.Run("loads existing config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		saved := config.DefaultConfig()
		saved.DataDir = "/saved/data"
		saved.Port = 9999
		require.NoError(t, config.SaveConfig(saved, configPath))

		c := newFlagCommand()
		require.NoError(t, c.Flags().Set("config", configPath))

		cfg, err := resolveConfig(c)
		require.NoError(t, err)
		assert.Equal(t, "/saved/data", cfg.DataDir)
		assert.Equal(t, 9999, cfg.Port)
	})

	t.Run("data-dir flag overrides config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, config.SaveConfig(config.DefaultConfig(), configPath))

		c := newFlagCommand()
		require.NoError(t, c.Flags().Set("config", configPath))
		require.NoError(t, c.Flags().Set("data-dir", "/flag/data"))

		cfg, err := resolveConfig(c)
		require.NoError(t, err)
		assert.Equal(t, "/flag/data", cfg.DataDir)
	})
}
