// Command deployseq deploys a plan of contract units in dependency order and
// records each unit's interface descriptor and address.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitDeployFailed  = 2
	ExitPersistFailed = 3
	ExitInternalError = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// exitCode maps an error returned by a command onto the process exit code.
func exitCode(err error) int {
	var cmdErr *CommandError
	var cfgErr *domain.ConfigurationError
	var depErr *domain.DeploymentFailedError
	var perErr *domain.PersistError

	switch {
	case errors.As(err, &perErr):
		return ExitPersistFailed
	case errors.As(err, &depErr):
		return ExitDeployFailed
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.As(err, &cmdErr):
		return cmdErr.ExitCode
	default:
		return ExitInternalError
	}
}

// =============================================================================
// Root Command
// =============================================================================

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "deployseq",
		Short:         "Deploy contract units in dependency order",
		Long:          "deployseq deploys the units of a plan one at a time, feeding each unit's address into the units that reference it, and records every deployed unit's interface descriptor and address.",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to config file")

	root.AddCommand(
		newRunCmd(g),
		newPersistCmd(g),
		newShowCmd(g),
		newValidateCmd(g),
		newServeCmd(g),
	)
	return root
}

// =============================================================================
// Command Error
// =============================================================================

// CommandError is an error that carries its own exit code.
type CommandError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CommandError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func configErr(op string, err error) error {
	return &CommandError{Op: op, Err: err, ExitCode: ExitConfigError}
}
