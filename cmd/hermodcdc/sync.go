package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/uschtwill/hermod-cdc/internal/config"
	"github.com/uschtwill/hermod-cdc/internal/initsync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "run initial sync and then stream incremental changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := buildPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		specs := make([]initsync.TableSpec, 0, len(cfg.Mappings))
		for _, m := range cfg.Mappings {
			specs = append(specs, initsync.TableSpec{
				SourceTable: m.SourceTable,
				TargetTable: m.TargetTable,
				PrimaryKey:  m.PrimaryKey,
				BatchSize:   cfg.BatchSize,
			})
		}

		p.logger.Info("starting sync", "source", cfg.SourcePath, "targets", len(cfg.Targets))
		if err := p.engine.Start(ctx, specs); err != nil {
			return err
		}

		<-ctx.Done()
		p.logger.Info("shutting down")
		p.engine.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
