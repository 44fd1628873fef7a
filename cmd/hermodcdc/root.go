package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hermodcdc",
	Short: "hermodcdc replicates SQLite row changes to MySQL and Oracle targets",
	Long:  "hermodcdc captures row-level changes from an embedded SQLite database and replicates them to downstream MySQL and Oracle targets with at-least-once, idempotent delivery.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "hermodcdc.yaml", "path to pipeline config file")
}

func main() {
	Execute()
}
