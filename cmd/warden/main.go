package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped via -ldflags at release time.
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the root command and all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	createFlags := &CreateFlags{}
	startFlags := &ProcessFlags{}
	stopFlags := &ProcessFlags{}
	deleteFlags := &ProcessFlags{}
	statusFlags := &StatusFlags{}
	logsFlags := &LogsFlags{}

	wardenCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)

	root.AddCommand(
		createServeCommand(globalFlags),
		createCreateCommand(wardenCommand, createFlags),
		createStartCommand(wardenCommand, startFlags),
		createStopCommand(wardenCommand, stopFlags),
		createDeleteCommand(wardenCommand, deleteFlags),
		createStatusCommand(wardenCommand, statusFlags),
		createLogsCommand(wardenCommand, logsFlags),
		createVersionCommand(),
	)

	return root
}

// createRootCommand creates the root command with persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Process supervision daemon and CLI",
		Long: `Warden supervises long-running child processes: it launches them in
per-process directories, health-checks them over stdin/stdout, restarts
crashed ones with exponential backoff, and captures their output.

Examples:
  warden serve                       # Start the daemon in the foreground
  warden create --id=web --entry-file=server.js
  warden start --id=web
  warden status
  warden logs --id=web --limit=50
  warden status --api-url=http://remote:8085/api  # Remote daemon`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8085/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return root
}

// createCreateCommand creates the create subcommand.
func createCreateCommand(wardenCommand command, createFlags *CreateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new process",
		Long: `Register a new process with the daemon. The daemon provisions a
dedicated directory for it under the configured processes directory; place
the entry file there before starting.

Examples:
  warden create --id=web --entry-file=server.js
  warden create --id=worker --entry-file=worker.py`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Create(*createFlags)
		},
	}

	cmd.Flags().StringVar(&createFlags.ID, "id", "", "process id (required)")
	cmd.Flags().StringVar(&createFlags.EntryFile, "entry-file", "", "entry file name, e.g. server.js (required)")

	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("entry-file"); err != nil {
		panic(err)
	}

	return cmd
}

// createStartCommand creates the start subcommand.
func createStartCommand(wardenCommand command, startFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a process",
		Long: `Start a registered process. The daemon spawns the entry file in the
process directory and begins health monitoring.

Examples:
  warden start --id=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Start(*startFlags)
		},
	}

	cmd.Flags().StringVar(&startFlags.ID, "id", "", "process id (required)")

	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}

	return cmd
}

// createStopCommand creates the stop subcommand.
func createStopCommand(wardenCommand command, stopFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a process",
		Long: `Stop a running process. The daemon sends the graceful stop signal and
escalates to a forced kill after the configured timeout.

Examples:
  warden stop --id=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Stop(*stopFlags)
		},
	}

	cmd.Flags().StringVar(&stopFlags.ID, "id", "", "process id (required)")

	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}

	return cmd
}

// createDeleteCommand creates the delete subcommand.
func createDeleteCommand(wardenCommand command, deleteFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a process",
		Long: `Delete a registered process. A running process is stopped first; its
record and captured logs are removed. Files in the process directory are
kept.

Examples:
  warden delete --id=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Delete(*deleteFlags)
		},
	}

	cmd.Flags().StringVar(&deleteFlags.ID, "id", "", "process id (required)")

	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}

	return cmd
}

// createStatusCommand creates the status subcommand.
func createStatusCommand(wardenCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show process status",
		Long: `Show the status of processes managed by the daemon.

Examples:
  warden status                     # Show all processes
  warden status --id=web            # Show one process
  warden status --api-url=http://remote:8085/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Status(*statusFlags)
		},
	}

	cmd.Flags().StringVar(&statusFlags.ID, "id", "", "process id (optional)")

	return cmd
}

// createLogsCommand creates the logs subcommand.
func createLogsCommand(wardenCommand command, logsFlags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show captured process output",
		Long: `Show recent stdout/stderr lines captured for a process, newest last.

Examples:
  warden logs --id=web
  warden logs --id=web --limit=200
  warden logs --id=web --clear      # Discard captured logs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Logs(*logsFlags)
		},
	}

	cmd.Flags().StringVar(&logsFlags.ID, "id", "", "process id (required)")
	cmd.Flags().IntVar(&logsFlags.Limit, "limit", 100, "maximum number of lines")
	cmd.Flags().BoolVar(&logsFlags.Clear, "clear", false, "clear captured logs instead of printing")

	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}

	return cmd
}

// createVersionCommand creates the version subcommand.
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the warden version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "warden %s\n", version)
		},
	}
}
