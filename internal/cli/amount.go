package cli

import (
	"strings"

	"github.com/roach88/listburn/internal/alloc"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// NewAmountCommand creates the amount command.
func NewAmountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "amount <percent>",
		Short: "Compute the burn amount for a share of supply",
		Long: `Compute how many tokens a percentage of total supply burns, using the
token section of the config.

Example:
  listburn amount 0.5
  listburn amount 4.25%`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			pct, err := decimal.NewFromString(strings.TrimSuffix(args[0], "%"))
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid percent "+args[0], err)
			}
			if pct.IsNegative() {
				return NewExitError(ExitCommandError, "percent must not be negative")
			}

			base, err := alloc.ComputeAmount(cfg.Token.TotalSupply, cfg.Token.Decimals, pct)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to compute amount", err)
			}
			return rootOpts.formatter(cmd).Success(amountView{
				Percent:   pct,
				BaseUnits: base,
				Tokens:    alloc.FormatBaseUnits(base, cfg.Token.Decimals),
			})
		},
	}
}
