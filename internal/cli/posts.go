package cli

import (
	"log/slog"

	"github.com/roach88/listburn/internal/api"
	"github.com/roach88/listburn/internal/engine"
	"github.com/spf13/cobra"
)

// NewPostsCommand creates the posts command.
func NewPostsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "posts",
		Short:         "List upcoming content calendar posts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return NewExitError(ExitCommandError, "--limit must be positive")
			}
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			out := rootOpts.formatter(cmd)

			posts, err := rootOpts.client(cfg).UpcomingPosts(cmd.Context(), limit)
			if api.IsUnreachable(err) {
				out.VerboseLog("daemon unreachable (%v), reading the ledger", err)
				logger := rootOpts.logger(cmd.ErrOrStderr(), slog.LevelWarn)
				st, openErr := openLedger(cfg.Database.Path, engine.SystemClock{}, logger)
				if openErr != nil {
					return WrapExitError(ExitCommandError, "failed to open ledger", openErr)
				}
				defer st.Close()
				posts, err = st.UpcomingPosts(cmd.Context(), limit)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list posts", err)
			}
			loc, _ := cfg.Location()
			return out.Success(postsView{posts: posts, loc: loc})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of posts")

	return cmd
}
