package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/listburn/internal/api"
	"github.com/roach88/listburn/internal/burn"
	"github.com/roach88/listburn/internal/config"
	"github.com/roach88/listburn/internal/engine"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show owed, pending, scheduled and executed burns",
		Long: `Show the burn summary.

Asks the running daemon first. When no daemon answers, the ledger is read
directly.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			out := rootOpts.formatter(cmd)

			sum, err := rootOpts.client(cfg).Summary(cmd.Context())
			if api.IsUnreachable(err) {
				out.VerboseLog("daemon unreachable (%v), reading the ledger", err)
				sum, err = offlineSummary(cmd.Context(), cfg, rootOpts.logger(cmd.ErrOrStderr(), slog.LevelWarn))
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read status", err)
			}
			return out.Success(statusView{summary: sum, decimals: cfg.Token.Decimals})
		},
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pending",
		Short:         "List burns awaiting approval",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			out := rootOpts.formatter(cmd)

			pending, err := rootOpts.client(cfg).PendingApprovals(cmd.Context())
			if api.IsUnreachable(err) {
				out.VerboseLog("daemon unreachable (%v), reading the ledger", err)
				var sum engine.Summary
				sum, err = offlineSummary(cmd.Context(), cfg, rootOpts.logger(cmd.ErrOrStderr(), slog.LevelWarn))
				pending = sum.PendingApprovals
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list pending burns", err)
			}
			return out.Success(pendingView{items: pending, decimals: cfg.Token.Decimals})
		},
	}
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <slug>",
		Short: "Approve a pending burn",
		Long: `Approve a burn awaiting approval. It executes at its scheduled time.

Requires the running daemon.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			sb, err := rootOpts.client(cfg).Approve(cmd.Context(), args[0])
			if err != nil {
				return decisionError("approve", args[0], err)
			}
			return rootOpts.formatter(cmd).Success(scheduledView{burn: sb, decimals: cfg.Token.Decimals})
		},
	}
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <slug>",
		Short: "Reject a pending burn",
		Long: `Reject a burn awaiting approval. A rejected burn is never detected again.

Requires the running daemon.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if err := rootOpts.client(cfg).Reject(cmd.Context(), args[0]); err != nil {
				return decisionError("reject", args[0], err)
			}
			return rootOpts.formatter(cmd).Success(api.RejectResponse{Slug: args[0], Status: string(burn.StageRejected)})
		},
	}
}

func decisionError(verb, slug string, err error) error {
	switch {
	case errors.Is(err, burn.ErrNotPending):
		return WrapExitError(ExitCommandError, slug+" is not awaiting approval", err)
	case api.IsUnreachable(err):
		return WrapExitError(ExitFailure, "daemon not reachable; start it with 'listburn run'", err)
	default:
		return WrapExitError(ExitFailure, "failed to "+verb+" "+slug, err)
	}
}

// offlineSummary restores the queues from the ledger without a daemon.
func offlineSummary(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Summary, error) {
	a, err := buildApp(cfg, logger, appOptions{offline: true})
	if err != nil {
		return engine.Summary{}, err
	}
	defer a.Close()

	if err := a.scheduler.Restore(ctx); err != nil {
		return engine.Summary{}, err
	}
	return a.scheduler.Summary(ctx)
}
