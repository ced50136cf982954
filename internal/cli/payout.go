package cli

import (
	"log/slog"

	"github.com/roach88/listburn/internal/api"
	"github.com/roach88/listburn/internal/rewards"
	"github.com/spf13/cobra"
)

// PayoutOptions holds flags for the payout command.
type PayoutOptions struct {
	*RootOptions
	Execute bool
}

// NewPayoutCommand creates the payout command.
func NewPayoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Preview or pay the current reward batch",
		Long: `Gather unpaid ambassador, raid, referral and contest rewards, apply the
configured caps and show the batch. With --execute the batch is paid.

The running daemon pays when it answers; otherwise the batch is paid from
this process against the configured chain.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := opts.formatter(cmd)

			report, err := opts.client(cfg).Payout(cmd.Context(), opts.Execute)
			if api.IsUnreachable(err) {
				out.VerboseLog("daemon unreachable (%v), paying from this process", err)
				a, buildErr := buildApp(cfg, opts.logger(cmd.ErrOrStderr(), slog.LevelWarn), appOptions{})
				if buildErr != nil {
					return WrapExitError(ExitCommandError, "failed to open ledger", buildErr)
				}
				defer a.Close()
				report, err = a.payouts.Run(cmd.Context(), !opts.Execute)
			}
			if rewards.IsInsufficientFunds(err) {
				return WrapExitError(ExitFailure, "payout aborted", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "payout failed", err)
			}
			if err := out.Success(reportView{report: report}); err != nil {
				return err
			}
			if report.Failed > 0 {
				return NewExitError(ExitFailure, "some payouts failed; they stay unpaid for the next run")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Execute, "execute", false, "pay the batch instead of previewing it")

	return cmd
}
