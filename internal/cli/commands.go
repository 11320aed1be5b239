package cli

import (
	"context"

	"github.com/skarch/logpanel/internal/errors"
	"github.com/spf13/cobra"
)

// Command-specific flags
var (
	runTimestamps    bool
	execTimeoutFlag  string
	serveListenFlag  string
	analyzeStdin     bool
	analyzeRefresh   bool
	analyzeQuestion  string
	statusProbe      bool
	statusProbeLimit string
)

// runCmd starts the server's process and follows its output
var runCmd = &cobra.Command{
	Use:   "run [server]",
	Short: "Start a server's process and follow its output",
	Long: `Connect to the server, run its start command and stream the output
until the process exits or you press Ctrl+C.

Ctrl+C stops the process (SIGINT, then SIGTERM, then SIGKILL) and
disconnects. The exit status of the process becomes the exit status of
logpanel.

Examples:
  logpanel run web-1
  logpanel run 2 --timestamps`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeServerNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd.Context(), args, runTimestamps, cmd.OutOrStdout())
	},
}

// execCmd runs a one-off command on the server
var execCmd = &cobra.Command{
	Use:   "exec <server> <command>",
	Short: "Run a one-off command on a server",
	Long: `Connect to the server and run a single command, printing its stdout
and stderr. The output is also recorded in the server's log.

Output on stderr counts as a failure, even when the command exits 0.

Examples:
  logpanel exec web-1 "df -h"
  logpanel exec dev "git status" --timeout 10s`,
	Args:              cobra.MinimumNArgs(2),
	ValidArgsFunction: completeServerNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, err := ParseTimeout(execTimeoutFlag)
		if err != nil {
			return err
		}
		return execCommand(cmd.Context(), args, timeout, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// consoleCmd opens the interactive console
var consoleCmd = &cobra.Command{
	Use:   "console [server]",
	Short: "Interactive console for one server",
	Long: `Open a full-screen console with live logs, an error view, metrics
and AI analysis for one server.

Keyboard shortcuts:
  c / s / x / d   Connect, start, stop, disconnect
  i               Send a line to the process's stdin
  tab             Switch between Logs, Errors and Analysis
  a               Analyze the selected error line
  r               Re-run the analysis, skipping the cache
  delete          Remove the selected line from the buffer
  f               Follow new output
  ?               Show help
  q / Ctrl+C      Quit

Examples:
  logpanel console web-1`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeServerNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		return consoleCommand(cmd.Context(), args)
	},
}

// serveCmd exposes sessions over HTTP and WebSocket
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and WebSocket API",
	Long: `Serve the REST and WebSocket API so a browser front-end can manage
servers, drive sessions and subscribe to live logs.

Examples:
  logpanel serve
  logpanel serve --listen 0.0.0.0:8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand(cmd.Context(), serveListenFlag, cmd.OutOrStdout())
	},
}

// analyzeCmd explains a log line with the configured model
var analyzeCmd = &cobra.Command{
	Use:   "analyze <server> [log text]",
	Short: "Explain an error line with AI",
	Long: `Send a log line to Gemini and print the explanation. Answers are
cached per server unless analysis.shared_cache is set.

Examples:
  logpanel analyze web-1 "panic: runtime error: index out of range"
  journalctl -n 20 | logpanel analyze web-1 --stdin
  logpanel analyze web-1 "EADDRINUSE :3000" --question "How do I find the other process?"`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: completeServerNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		return analyzeCommand(cmd.Context(), args, analyzeOptions{
			stdin:    analyzeStdin,
			refresh:  analyzeRefresh,
			question: analyzeQuestion,
		}, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// statusCmd shows registered servers and their session state
var statusCmd = &cobra.Command{
	Use:   "status [server]",
	Short: "Show servers and their connection state",
	Long: `List registered servers with their session state. With --probe each
server is connected once, in parallel, to check that it is reachable.

Examples:
  logpanel status
  logpanel status --probe
  logpanel status web-1 --json`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeServerNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, err := ParseTimeout(statusProbeLimit)
		if err != nil {
			return err
		}
		return statusCommand(cmd.Context(), args, statusProbe, timeout, cmd.OutOrStdout())
	},
}

// completionCmd generates shell completion scripts
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for logpanel.

Examples:
  # Bash
  logpanel completion bash > /etc/bash_completion.d/logpanel

  # Zsh
  logpanel completion zsh > "${fpath[1]}/_logpanel"

  # Fish
  logpanel completion fish > ~/.config/fish/completions/logpanel.fish`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(out)
		default:
			return errors.New(errors.ErrExec,
				"Unknown shell: "+args[0],
				"Supported shells: bash, zsh, fish, powershell")
		}
	},
}

// completeServerNames completes the first argument with registered server
// names.
func completeServerNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer a.Close()

	var names []string
	for _, s := range a.panel.Servers() {
		names = append(names, s.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	runCmd.Flags().BoolVar(&runTimestamps, "timestamps", false, "prefix each line with its arrival time")

	execCmd.Flags().StringVar(&execTimeoutFlag, "timeout", "", "command timeout (default session.exec_timeout)")

	serveCmd.Flags().StringVar(&serveListenFlag, "listen", "", "listen address (default api.listen)")

	analyzeCmd.Flags().BoolVar(&analyzeStdin, "stdin", false, "read the log text from stdin")
	analyzeCmd.Flags().BoolVar(&analyzeRefresh, "refresh", false, "skip the cache and ask again")
	analyzeCmd.Flags().StringVarP(&analyzeQuestion, "question", "q", "", "ask a follow-up question about the analysis")

	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "connect to each server to check reachability")
	statusCmd.Flags().StringVar(&statusProbeLimit, "probe-timeout", "", "per-server probe timeout (e.g., 5s)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(completionCmd)
}
