package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const scaffoldConfig = `source_path: ./app.db
checkpoint_path: ./checkpoints.db
batch_size: 500
checkpoint_interval: 10
poll_interval: 500ms
log_level: info

targets:
  - name: mysql-prod
    kind: mysql
    dsn: ${MYSQL_DSN:-user:pass@tcp(localhost:3306)/app}

mappings:
  - source_table: users
    target_table: users
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "write a starter pipeline config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil {
			return fmt.Errorf("%s already exists", cfgFile)
		}
		if err := os.WriteFile(cfgFile, []byte(scaffoldConfig), 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
