package main

import (
	"github.com/spf13/cobra"

	"github.com/colsync/server/internal/config"
)

const (
	serviceName    = "colsync-server"
	serviceVersion = "1.0.0"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "colsync",
	Short: "Incremental sync server for versioned document collections",
	Long: `colsync stores versioned documents per collection, records deletions as
tombstones and tells clients whether they need nothing, a delta or a full
resync of each collection they track.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (JSON or YAML, default $CONFIG_PATH or config.json)")
	rootCmd.AddCommand(serveCmd, cleanupCmd, upgradeCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}
