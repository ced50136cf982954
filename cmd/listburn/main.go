// Command listburn schedules and executes memecoin burns for resolved
// prediction-market targets and pays out community rewards.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/listburn/internal/cli"
	"go.uber.org/automaxprocs/maxprocs"

	// Embedded zone database for content.timezone on hosts without one.
	_ "time/tzdata"
)

func main() {
	// Undo func is unused: the process exits with the command.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		slog.Debug(fmt.Sprintf(format, v...), "component", "listburn")
	}))

	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
