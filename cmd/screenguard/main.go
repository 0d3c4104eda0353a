package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand(os.Stdout, os.Stderr))
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot(c *command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(c, globalFlags),
		createProvisionCommand(c, globalFlags),
		createCaptureCommand(c, globalFlags),
		createPathsCommand(c, globalFlags),
		createStatusCommand(c, globalFlags),
		createTriggerCommand(c, globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "screenguard",
		Short: "Periodic screenshot capture and analysis",
		Long: `Screenguard captures the desktop on a fixed interval, hands every
screenshot to an external analyzer and relays the results to its sinks.

Examples:
  screenguard run --config screenguard.toml
  screenguard run --tui                    # terminal window with countdown
  screenguard run --listen 127.0.0.1:8787  # HTTP status, events and trigger
  screenguard capture                      # one cycle, events as JSON lines
  screenguard paths                        # where screenshots and the analyzer live
  screenguard status                       # ask a running daemon for its state
  screenguard trigger --wait 1m            # capture now on a running daemon`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createRunCommand(c *command, global *GlobalFlags) *cobra.Command {
	flags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture session until interrupted",
		Long: `Provision the analyzer environment if needed, then capture immediately
and again every interval until SIGINT/SIGTERM (or the TUI window is closed).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return c.Run(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.TUI, "tui", false, "show the terminal window")
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "serve the HTTP API on this address")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "HTTP API base path")
	cmd.Flags().BoolVar(&flags.Metrics, "metrics", false, "expose prometheus metrics on the HTTP API")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createProvisionCommand(c *command, global *GlobalFlags) *cobra.Command {
	flags := &ProvisionFlags{}
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the analyzer environment if it is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return c.Provision(cmd.Context(), *flags)
		},
	}
}

func createCaptureCommand(c *command, global *GlobalFlags) *cobra.Command {
	flags := &CaptureFlags{}
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run exactly one capture cycle",
		Long: `Run one capture-and-analyze cycle and print its events as JSON lines.
Exits non-zero when the cycle did not produce an analysis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return c.Capture(cmd.Context(), *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Display, "display", -2, "display index to capture (-1 for all displays)")
	return cmd
}

func createPathsCommand(c *command, global *GlobalFlags) *cobra.Command {
	flags := &PathsFlags{}
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Print the screenshot directory and analyzer paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return c.Paths(*flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print as JSON")
	return cmd
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon API URL (default: derived from server.listen)")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for an HTTPS daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "request timeout (default 10s)")
}

func createStatusCommand(c *command, global *GlobalFlags) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return c.Status(cmd.Context(), *flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print as JSON")
	return cmd
}

func createTriggerCommand(c *command, global *GlobalFlags) *cobra.Command {
	flags := &TriggerFlags{}
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a capture cycle on a running daemon",
		Long: `Ask a running daemon to capture now. With --wait the command blocks
until the cycle finishes (or the wait elapses) and exits non-zero when the
cycle did not produce an analysis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			if flags.Wait > 0 && (flags.Timeout == 0 || flags.Timeout < flags.Wait) {
				flags.Timeout = flags.Wait + 5*time.Second
			}
			return c.Trigger(cmd.Context(), *flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().DurationVar(&flags.Wait, "wait", 0, "wait up to this long for the cycle report")
	return cmd
}
