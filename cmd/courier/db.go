package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/db"
)

func newDBCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "courier.yaml", "path to config file")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the queue and budget tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gdb); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
			return nil
		},
	}

	cmd.AddCommand(migrate)
	return cmd
}
