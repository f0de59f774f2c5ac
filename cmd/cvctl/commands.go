package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		logger.Info("Schema is up to date", zap.String("dialect", string(store.Dialect())))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [extraction-id]",
	Short: "Show one extraction, or counts per status when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 0 {
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			counts, err := store.CountExtractionsByStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(counts)
		}

		p, err := operator()
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		view, err := a.Orchestrator.GetStatus(ctx, p, args[0])
		if err != nil {
			return err
		}
		return printJSON(view)
	},
}

var listCmd = &cobra.Command{
	Use:   "list <employee-id>",
	Short: "List an employee's extractions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		employeeID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid employee id %q", args[0])
		}
		limit, _ := cmd.Flags().GetInt("limit")

		p, err := operator()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		views, err := a.Orchestrator.List(cmd.Context(), p, employeeID, limit)
		if err != nil {
			return err
		}
		return printJSON(views)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <extraction-id>",
	Short: "Re-queue a failed extraction; the worker picks it up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := operator()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		view, err := a.Orchestrator.Retry(cmd.Context(), p, args[0])
		if err != nil {
			return err
		}
		return printJSON(view)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <extraction-id>",
	Short: "Cancel a pending extraction before it is dispatched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := operator()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		view, err := a.Orchestrator.Cancel(cmd.Context(), p, args[0])
		if err != nil {
			return err
		}
		return printJSON(view)
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarise the tenant's LM usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		window, _ := cmd.Flags().GetDuration("since")

		p, err := operator()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		rows, err := a.Orchestrator.UsageSummary(cmd.Context(), p, time.Now().Add(-window))
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the dispatch pool and retry worker without the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		once, _ := cmd.Flags().GetBool("once")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if once {
			sweep, err := a.Worker.RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(sweep)
		}

		a.Orchestrator.SetDispatcher(a.Pool)
		err = a.RunBackground(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 20, "maximum number of extractions")
	usageCmd.Flags().Duration("since", 30*24*time.Hour, "look-back window")
	workerCmd.Flags().Bool("once", false, "run a single sweep and exit")

	rootCmd.AddCommand(migrateCmd, statusCmd, listCmd, retryCmd, cancelCmd, usageCmd, workerCmd)
}
