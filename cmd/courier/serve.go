package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/courier/internal/alert"
	"github.com/zulandar/courier/internal/alert/discord"
	"github.com/zulandar/courier/internal/alert/slack"
	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/db"
	"github.com/zulandar/courier/internal/dispatch"
	"github.com/zulandar/courier/internal/processor"
	"github.com/zulandar/courier/internal/ratelimit"
	"github.com/zulandar/courier/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the delivery scheduler and integration API",
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

			notifier, err := newNotifier(cfg.Alerts)
			if err != nil {
				return err
			}
			defer notifier.Close()

			sender, err := newSender(cfg.SMS)
			if err != nil {
				return err
			}
			disp, err := dispatch.New(dispatch.PayloadTextRenderer{}, sender)
			if err != nil {
				return err
			}

			limiter := ratelimit.New(gdb, cfg)
			proc, err := processor.New(gdb, cfg, limiter, disp, notifier, processor.NewStats(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go alert.RunDigestLoop(ctx, gdb, notifier, cfg.Alerts.DigestCron)
			go proc.Run(ctx)

			return server.Start(ctx, server.StartOpts{
				DB:        gdb,
				Processor: proc,
				Port:      cfg.HTTP.Port,
				Out:       cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "courier.yaml", "path to config file")
	return cmd
}

// newNotifier builds the configured alert notifier.
func newNotifier(ac config.AlertsConfig) (alert.Notifier, error) {
	switch ac.Platform {
	case "":
		return alert.NopNotifier{}, nil
	case "slack":
		return slack.New(slack.Opts{BotToken: ac.SlackBotToken, ChannelID: ac.Channel})
	case "discord":
		return discord.New(discord.Opts{BotToken: ac.DiscordBotToken, ChannelID: ac.Channel})
	default:
		return nil, fmt.Errorf("unknown alert platform %q", ac.Platform)
	}
}

// newSender builds the SMS transport: the provider webhook when configured,
// otherwise the dry-run logger.
func newSender(sc config.SMSConfig) (dispatch.Sender, error) {
	if sc.WebhookURL == "" {
		return dispatch.LogSender{}, nil
	}
	return dispatch.NewWebhookSender(sc.WebhookURL, time.Duration(sc.TimeoutSec)*time.Second)
}
