package main

import (
	"github.com/spf13/cobra"
	"github.com/zulandar/courier/internal/alert"
	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/db"
	"github.com/zulandar/courier/internal/dispatch"
	"github.com/zulandar/courier/internal/processor"
	"github.com/zulandar/courier/internal/ratelimit"
)

func newProcessCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one processing tick and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			gdb, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}

			sender, err := newSender(cfg.SMS)
			if err != nil {
				return err
			}
			disp, err := dispatch.New(dispatch.PayloadTextRenderer{}, sender)
			if err != nil {
				return err
			}

			limiter := ratelimit.New(gdb, cfg)
			proc, err := processor.New(gdb, cfg, limiter, disp, alert.NopNotifier{}, processor.NewStats(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			return proc.ProcessDueMessages(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "courier.yaml", "path to config file")
	return cmd
}
