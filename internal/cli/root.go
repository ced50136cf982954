package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/listburn/internal/api"
	"github.com/roach88/listburn/internal/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string
	// Server is the admin API address of a running daemon. Empty means
	// server.listen from the config.
	Server string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the listburn CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "listburn",
		Short: "listburn - burn on confirmation",
		Long: `Burns a configured share of token supply when a named target is
confirmed, and pays out community rewards.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", defaultConfigPath(), "path to the YAML config")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "admin API address of the running daemon")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewApproveCommand(opts))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewAmountCommand(opts))
	cmd.AddCommand(NewPayoutCommand(opts))
	cmd.AddCommand(NewRewardsCommand(opts))
	cmd.AddCommand(NewPostsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func defaultConfigPath() string {
	if p := os.Getenv("LISTBURN_CONFIG"); p != "" {
		return p
	}
	return "listburn.yaml"
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) client(cfg *config.Config) *api.Client {
	addr := o.Server
	if addr == "" {
		addr = cfg.Server.Listen
	}
	return api.NewClient(addr, cfg.Server.Token)
}

// logger writes to w: debug when verbose, warnings only otherwise.
func (o *RootOptions) logger(w io.Writer, quietLevel slog.Level) *slog.Logger {
	level := quietLevel
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
