package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/colsync/server/internal/models"
)

var upgradePageSize int

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [collection...]",
	Short: "Upgrade stored records to the latest collection version",
	Long: `Upgrades every stored record of the named collections, or of all
registered collections when none is named. Records whose upgrade fails are
reported and left unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		names := args
		if len(names) == 0 {
			for _, c := range a.registry.Collections() {
				names = append(names, c.Name())
			}
		}

		pageSize := upgradePageSize
		if pageSize <= 0 {
			pageSize = a.cfg.Sync.UpgradePageSize
		}

		reports := make([]*models.UpgradeReport, 0, len(names))
		for _, name := range names {
			report, err := a.collections.UpgradeCollection(ctx, name, pageSize)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	},
}

func init() {
	upgradeCmd.Flags().IntVar(&upgradePageSize, "page-size", 0, "records per batch (default from config)")
}
