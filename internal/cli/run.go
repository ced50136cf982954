package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/roach88/listburn/internal/api"
	"github.com/roach88/listburn/internal/engine"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/rewards"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Listen   string

	// Clock overrides the wall clock (for testing).
	Clock engine.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the burn daemon",
		Long: `Start the listburn daemon.

The daemon restores pending and scheduled burns from the ledger, schedules
any owed burns, then polls the resolution source, executes due burns, pays
out rewards and publishes the content calendar on their configured
intervals. The admin API serves approvals, status and metrics.

Example:
  listburn run --config listburn.yaml
  listburn run --db /tmp/listburn.db --listen 127.0.0.1:9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite ledger (overrides database.path)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "admin API address (overrides server.listen)")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	logger := opts.logger(cmd.ErrOrStderr(), slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger.Info("opening ledger", "path", cfg.Database.Path)
	a, err := buildApp(cfg, logger, appOptions{clock: opts.Clock, registry: reg})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("error closing ledger", "error", closeErr)
		}
	}()

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Restore(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to restore burn queues", err)
	}
	owed, err := a.scheduler.CheckOwedBurns(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to schedule owed burns", err)
	}
	if len(owed) > 0 {
		logger.Info("owed burns scheduled", "count", len(owed))
	}

	runner, err := engine.NewRunner(logger, a.jobs()...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid job configuration", err)
	}
	server := api.NewServer(api.Config{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Token:        cfg.Server.Token,
	}, &daemon{app: a, runner: runner}, a.metrics, logger)

	logger.Info("daemon starting",
		"db", cfg.Database.Path,
		"chain", cfg.Chain.Kind,
		"require_confirmation", cfg.Burns.RequireConfirmation,
		"targets", len(a.registry.All()))
	fmt.Fprintf(cmd.OutOrStdout(), "listburn started. Admin API on %s\n", cfg.Server.Listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx) })
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	logger.Info("daemon stopped gracefully")
	return nil
}

// daemon serves the admin API from the runner goroutine.
type daemon struct {
	app    *app
	runner *engine.Runner
}

func (d *daemon) Summary(ctx context.Context) (engine.Summary, error) {
	return engine.Do(ctx, d.runner, "summary", d.app.scheduler.Summary)
}

func (d *daemon) PendingApprovals(ctx context.Context) ([]engine.PendingApproval, error) {
	return engine.Do(ctx, d.runner, "pending", func(context.Context) ([]engine.PendingApproval, error) {
		return d.app.scheduler.PendingApprovals(), nil
	})
}

func (d *daemon) Approve(ctx context.Context, slug string) (engine.ScheduledBurn, error) {
	return engine.Do(ctx, d.runner, "approve", func(ctx context.Context) (engine.ScheduledBurn, error) {
		return d.app.scheduler.Approve(ctx, slug)
	})
}

func (d *daemon) Reject(ctx context.Context, slug string) error {
	_, err := engine.Do(ctx, d.runner, "reject", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.app.scheduler.Reject(ctx, slug)
	})
	return err
}

func (d *daemon) Payout(ctx context.Context, execute bool) (rewards.Report, error) {
	return engine.Do(ctx, d.runner, "payout", func(ctx context.Context) (rewards.Report, error) {
		return d.app.payouts.Run(ctx, !execute)
	})
}

// UpcomingPosts reads the ledger directly; it changes nothing.
func (d *daemon) UpcomingPosts(ctx context.Context, limit int) ([]ledger.Post, error) {
	return d.app.store.UpcomingPosts(ctx, limit)
}
