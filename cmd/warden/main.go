package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands
type GlobalFlags struct {
	ConfigPath string
}

// StartFlags holds flags for the start command
type StartFlags struct {
	Daemonize bool
	LogFile   string
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	Name       string
	JSON       bool
	APIUrl     string
	APITimeout time.Duration
}

// ResetFlags holds flags for the reset command
type ResetFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// HistoryFlags holds flags for the history command
type HistoryFlags struct {
	Service    string
	Limit      int
	APIUrl     string
	APITimeout time.Duration
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	wardenCommand := command{flags: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStartCommand(wardenCommand),
		createStopCommand(wardenCommand),
		createStatusCommand(wardenCommand),
		createResetCommand(wardenCommand),
		createHistoryCommand(wardenCommand),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Local service health supervisor",
		Long: `Warden watches a fixed set of locally-hosted services over HTTP
liveness probes, restarts the ones that stop answering, and throttles
restarts so a persistently crashing service cannot be restarted forever.

Examples:
  warden start --config=warden.toml       # Run the supervisor loop
  warden start --config=warden.toml --daemonize
  warden status --config=warden.toml      # One-shot probes + restart budget
  warden status --api-url=http://127.0.0.1:8420/api
  warden reset grafana --config=warden.toml`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

// createStartCommand creates the start subcommand
func createStartCommand(wardenCommand command) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start [config.toml]",
		Short: "Run the supervisor loop",
		Long: `Run the supervisor loop in the foreground, or detached with --daemonize.
All configuration is loaded from the TOML config file.

Examples:
  warden start --config=warden.toml
  warden start warden.toml --daemonize`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Start(*flags, args)
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(wardenCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Long: `Signal a daemonized supervisor to shut down gracefully. The daemon
PID is read from the pidfile configured under [server] in the config.

Example:
  warden stop --config=warden.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Stop()
		},
	}
}

// createStatusCommand creates the status subcommand
func createStatusCommand(wardenCommand command) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status [service]",
		Short: "Show per-service health and restart budget",
		Long: `Show per-service status. Against a running daemon (--api-url) the
daemon's own view is printed; otherwise the state file is loaded
read-only and one-shot probes are run.

The restart column distinguishes "will retry next tick", "cooldown
(Ns remaining)" and "rate-limited (Nm remaining)".

Examples:
  warden status --config=warden.toml
  warden status grafana --config=warden.toml
  warden status --api-url=http://127.0.0.1:8420/api`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *flags
			if len(args) > 0 {
				f.Name = args[0]
			}
			return wardenCommand.Status(f)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print raw JSON")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "running daemon URL (e.g. http://127.0.0.1:8420/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createResetCommand creates the reset subcommand
func createResetCommand(wardenCommand command) *cobra.Command {
	flags := &ResetFlags{}
	cmd := &cobra.Command{
		Use:   "reset [service]",
		Short: "Zero restart history for one or all services",
		Long: `Reset a service's runtime state (restart history, cooldown and
rate-limit suspension) to its zero value, or all services when no
service is named.

Examples:
  warden reset --config=warden.toml           # all services
  warden reset grafana --config=warden.toml
  warden reset grafana --api-url=http://127.0.0.1:8420/api`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return wardenCommand.Reset(*flags, name)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "running daemon URL (e.g. http://127.0.0.1:8420/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(wardenCommand command) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history [service]",
		Short: "Show recent restart attempts",
		Long: `Show the restart audit trail recorded by the history sink, newest
first. Requires [history] to be configured.

Examples:
  warden history --config=warden.toml
  warden history grafana --limit=20 --config=warden.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *flags
			if len(args) > 0 {
				f.Service = args[0]
			}
			return wardenCommand.History(f)
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 50, "maximum events to show")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "running daemon URL (e.g. http://127.0.0.1:8420/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}
