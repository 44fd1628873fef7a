package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uschtwill/hermod-cdc/internal/checkpoint"
	"github.com/uschtwill/hermod-cdc/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print checkpoint positions and unresolved errors",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		for _, t := range cfg.Targets {
			pos, err := cp.LoadPosition(ctx, cfg.SourcePath, t.Name)
			if err != nil {
				return err
			}
			stats, err := cp.GetStats(ctx, cfg.SourcePath, t.Name)
			if err != nil {
				return err
			}
			fmt.Printf("target=%s last_audit_id=%d rows_written=%d\n", t.Name, pos, stats["rows_written"])
		}

		errs, err := cp.ListUnresolvedErrors(ctx, cfg.SourcePath)
		if err != nil {
			return err
		}
		fmt.Printf("unresolved_errors=%d\n", len(errs))
		for _, e := range errs {
			fmt.Printf("  [%s] target=%s table=%s retries=%d: %s\n", e.ID, e.TargetName, e.TableName.String, e.RetryCount, e.Message)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
