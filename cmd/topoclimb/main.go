package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/topoclimb/topoclimb/cmd/topoclimb/cli"
	"github.com/topoclimb/topoclimb/internal/app"
	"github.com/topoclimb/topoclimb/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *app.Config
	var logger *slog.Logger

	root := &cobra.Command{
		Use:           "topoclimb",
		Short:         "Climbing route catalog server and admin tools",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			logger = app.NewLogger(cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	withJobs := func(fn func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			opt, err := jobs.RedisConnOpt(cfg.RedisAddr)
			if err != nil {
				return err
			}
			c := cli.NewJobsCLI(opt)
			defer func() {
				if err := c.Close(); err != nil {
					logger.Warn("jobs cli close", slog.Any("error", err))
				}
			}()
			return fn(cmd, c, args)
		}
	}

	triggerCmd := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue a job (stats | catalog:stats_refresh)",
		Args:  cobra.ExactArgs(1),
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error {
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		}),
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the default queue counters",
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error {
			stats, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return nil
		}),
	}

	var pendingSize int
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending tasks",
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error {
			tasks, err := c.ListPending(cmd.Context(), pendingSize)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, string(t.Payload))
			}
			return nil
		}),
	}
	pendingCmd.Flags().IntVar(&pendingSize, "size", 10, "number of tasks to list")

	jobsCmd.AddCommand(triggerCmd, inspectCmd, pendingCmd)
	root.AddCommand(serveCmd, jobsCmd)
	return root
}
