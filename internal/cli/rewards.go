package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/listburn/internal/engine"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/rewards"
	"github.com/spf13/cobra"
)

// NewRewardsCommand creates the rewards command group.
func NewRewardsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "Record community rewards for the next payout",
		Long: `Record ambassadors, raid contributions, referrals and contest winners.
Amounts are whole tokens. Records are written straight to the ledger and
paid by the next payout run.`,
	}

	cmd.AddCommand(newAddAmbassadorCommand(rootOpts))
	cmd.AddCommand(newAddRaidCommand(rootOpts))
	cmd.AddCommand(newAddReferralCommand(rootOpts))
	cmd.AddCommand(newAddWinnerCommand(rootOpts))

	return cmd
}

// withAdmin opens the ledger for one reward command.
func withAdmin(cmd *cobra.Command, rootOpts *RootOptions, fn func(ctx context.Context, admin *rewards.Admin) (recordView, error)) error {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	logger := rootOpts.logger(cmd.ErrOrStderr(), slog.LevelWarn)
	st, err := openLedger(cfg.Database.Path, engine.SystemClock{}, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer st.Close()

	view, err := fn(cmd.Context(), rewards.NewAdmin(st, cfg.Payouts.ReferralHold, nil))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to add "+view.label, err)
	}
	return rootOpts.formatter(cmd).Success(view)
}

func newAddAmbassadorCommand(rootOpts *RootOptions) *cobra.Command {
	var amb ledger.Ambassador

	cmd := &cobra.Command{
		Use:           "add-ambassador",
		Short:         "Add an active ambassador",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, rootOpts, func(ctx context.Context, admin *rewards.Admin) (recordView, error) {
				saved, err := admin.AddAmbassador(ctx, amb)
				return recordView{label: "ambassador", id: saved.ID, record: saved}, err
			})
		},
	}

	cmd.Flags().StringVar(&amb.Name, "name", "", "display name")
	cmd.Flags().StringVar(&amb.Wallet, "wallet", "", "payout wallet (required)")
	cmd.Flags().StringVar(&amb.Handle, "handle", "", "social handle")
	cmd.Flags().StringVar(&amb.Tier, "tier", "", "tier (default bronze)")
	cmd.Flags().Uint64Var(&amb.MonthlyReward, "monthly", 0, "monthly reward in tokens, paid weekly as a quarter")
	_ = cmd.MarkFlagRequired("wallet")

	return cmd
}

func newAddRaidCommand(rootOpts *RootOptions) *cobra.Command {
	var raid ledger.RaidContribution

	cmd := &cobra.Command{
		Use:           "add-raid",
		Short:         "Add a raid contribution",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, rootOpts, func(ctx context.Context, admin *rewards.Admin) (recordView, error) {
				saved, err := admin.AddRaid(ctx, raid)
				return recordView{label: "raid", id: saved.ID, record: saved}, err
			})
		},
	}

	cmd.Flags().StringVar(&raid.Wallet, "wallet", "", "payout wallet (required)")
	cmd.Flags().StringVar(&raid.Handle, "handle", "", "social handle")
	cmd.Flags().StringVar(&raid.Kind, "kind", "", "contribution kind (default reply)")
	cmd.Flags().StringVar(&raid.TweetURL, "url", "", "link to the post")
	cmd.Flags().Uint64Var(&raid.Reward, "reward", 0, "reward in tokens")
	_ = cmd.MarkFlagRequired("wallet")

	return cmd
}

func newAddReferralCommand(rootOpts *RootOptions) *cobra.Command {
	var ref ledger.Referral

	cmd := &cobra.Command{
		Use:           "add-referral",
		Short:         "Add a referral, paid once the hold period has passed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, rootOpts, func(ctx context.Context, admin *rewards.Admin) (recordView, error) {
				saved, err := admin.AddReferral(ctx, ref)
				return recordView{label: "referral", id: saved.ID, record: saved}, err
			})
		},
	}

	cmd.Flags().StringVar(&ref.NewWallet, "new-wallet", "", "wallet of the new holder (required)")
	cmd.Flags().StringVar(&ref.NewHandle, "new-handle", "", "handle of the new holder")
	cmd.Flags().StringVar(&ref.ReferrerWallet, "referrer-wallet", "", "wallet of the referrer (required)")
	cmd.Flags().StringVar(&ref.ReferrerHandle, "referrer-handle", "", "handle of the referrer")
	cmd.Flags().Uint64Var(&ref.PurchaseAmount, "purchase", 0, "tokens bought by the new holder")
	cmd.Flags().Uint64Var(&ref.NewReward, "new-reward", 0, "bonus for the new holder in tokens")
	cmd.Flags().Uint64Var(&ref.ReferrerReward, "referrer-reward", 0, "reward for the referrer in tokens")
	cmd.Flags().StringVar(&ref.TxRef, "tx", "", "purchase transaction reference")
	_ = cmd.MarkFlagRequired("new-wallet")
	_ = cmd.MarkFlagRequired("referrer-wallet")

	return cmd
}

func newAddWinnerCommand(rootOpts *RootOptions) *cobra.Command {
	var w ledger.ContestWinner

	cmd := &cobra.Command{
		Use:           "add-winner",
		Short:         "Add a contest winner",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, rootOpts, func(ctx context.Context, admin *rewards.Admin) (recordView, error) {
				saved, err := admin.AddContestWinner(ctx, w)
				return recordView{label: "contest winner", id: saved.ID, record: saved}, err
			})
		},
	}

	cmd.Flags().StringVar(&w.Wallet, "wallet", "", "payout wallet (required)")
	cmd.Flags().StringVar(&w.Handle, "handle", "", "social handle")
	cmd.Flags().IntVar(&w.Place, "place", 1, "placing, 1 for first")
	cmd.Flags().Uint64Var(&w.Reward, "reward", 0, "reward in tokens")
	_ = cmd.MarkFlagRequired("wallet")

	return cmd
}
