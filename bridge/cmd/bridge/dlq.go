package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/skybridge/bridge/internal/dlq"
	"github.com/telhawk-systems/skybridge/common/logging"

	natsclient "github.com/telhawk-systems/skybridge/common/messaging/nats"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead letter queue",
	Long:  "List, count or purge complex-event exports that did not decode cleanly",
}

var dlqListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Print dead-lettered exports as JSON",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withDLQ(cmd, func(ctx context.Context, q *dlq.Queue) error {
			entries, err := q.List(ctx, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		})
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print DLQ stream state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(cmd, func(ctx context.Context, q *dlq.Queue) error {
			return writeJSON(cmd.OutOrStdout(), q.Stats(ctx))
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every dead-lettered export",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to purge without --yes")
		}
		return withDLQ(cmd, func(ctx context.Context, q *dlq.Queue) error {
			if err := q.Purge(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "DLQ purged")
			return nil
		})
	},
}

func init() {
	dlqListCmd.Flags().Int("limit", 100, "maximum entries to read")
	dlqPurgeCmd.Flags().Bool("yes", false, "confirm the purge")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}

// withDLQ connects to NATS, opens the DLQ stream and runs fn.
func withDLQ(cmd *cobra.Command, fn func(context.Context, *dlq.Queue) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	js, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:      cfg.NATS.URL,
		Name:     cfg.NATS.Name + "-cli",
		Timeout:  cfg.NATS.Timeout,
		Username: cfg.NATS.Username,
		Password: cfg.NATS.Password,
		Token:    cfg.NATS.Token,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer js.Close()

	ctx := commandContext(cmd)
	q, err := dlq.NewJetStreamQueue(ctx, js, logging.Discard())
	if err != nil {
		return err
	}
	return fn(ctx, q)
}
