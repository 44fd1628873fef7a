package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uschtwill/hermod-cdc/internal/checkpoint"
	"github.com/uschtwill/hermod-cdc/internal/config"
)

var resetTable string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "delete the initial-sync checkpoint for a table, forcing a full resync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetTable == "" {
			return fmt.Errorf("--table is required")
		}

		ctx := context.Background()
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		cp, err := checkpoint.Open(ctx, cfg.CheckpointPath)
		if err != nil {
			return err
		}
		defer cp.Close()

		if err := cp.DeleteInitialCheckpoint(ctx, cfg.SourcePath, resetTable); err != nil {
			return err
		}
		fmt.Printf("reset initial-sync checkpoint for %s\n", resetTable)
		return nil
	},
}

func init() {
	resetCmd.Flags().StringVar(&resetTable, "table", "", "source table to reset")
	rootCmd.AddCommand(resetCmd)
}
