package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/db"
	"github.com/zulandar/courier/internal/queue"
	"gorm.io/gorm"
)

func newQueueCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the delivery queue",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "courier.yaml", "path to config file")

	connect := func() (*gorm.DB, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return db.Connect(cfg.Database)
	}

	var (
		addPriority string
		addText     string
		addDelaySec int
	)
	add := &cobra.Command{
		Use:   "add <user-id> <agent-id> <payload-json>",
		Short: "Enqueue a standalone message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := connect()
			if err != nil {
				return err
			}
			opts := queue.EnqueueOpts{Priority: addPriority, FinalText: addText}
			if addDelaySec > 0 {
				opts.ScheduledFor = time.Now().Add(time.Duration(addDelaySec) * time.Second)
			}
			msg, err := queue.Enqueue(gdb, args[0], args[1], args[2], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (priority %s, due %s)\n",
				msg.ID, msg.Priority, msg.ScheduledFor.Format(time.RFC3339))
			return nil
		},
	}
	add.Flags().StringVar(&addPriority, "priority", "", "urgent, high, medium, or low")
	add.Flags().StringVar(&addText, "text", "", "pre-rendered final text")
	add.Flags().IntVar(&addDelaySec, "delay", 0, "delay before due, in seconds")

	var listStatus string
	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List queue rows, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := connect()
			if err != nil {
				return err
			}
			rows, err := queue.List(gdb, listStatus, listLimit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				seq := "-"
				if r.SequenceID != nil {
					seq = fmt.Sprintf("%s %d/%d", *r.SequenceID, *r.SequencePosition, *r.SequenceTotal)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %-7s user=%s seq=%s due=%s\n",
					r.ID, r.Status, r.Priority, r.UserID, seq, r.ScheduledFor.Format(time.RFC3339))
			}
			return nil
		},
	}
	list.Flags().StringVar(&listStatus, "status", "", "filter by status")
	list.Flags().IntVar(&listLimit, "limit", 50, "max rows to show")

	cancel := &cobra.Command{
		Use:   "cancel <message-id>",
		Short: "Cancel a queued message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := connect()
			if err != nil {
				return err
			}
			if err := queue.Cancel(gdb, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, cancel)
	return cmd
}
