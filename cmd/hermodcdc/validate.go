package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uschtwill/hermod-cdc/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "validate the pipeline config without connecting to anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("config valid: %d target(s), %d mapped table(s)\n", len(cfg.Targets), len(cfg.Mappings))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
