package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/panel"
	"github.com/skarch/logpanel/internal/ui"
	"github.com/skarch/logpanel/internal/util"
	"github.com/spf13/cobra"
)

// Global flags
var (
	cfgFile string
	debug   bool
	noColor bool
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "logpanel",
	Short: "Run, watch and diagnose server processes over SSH or locally",
	Long: `logpanel starts long-running server processes on SSH hosts or on this
machine, streams their output, samples host metrics and explains error lines
with Gemini.

Servers are stored in ~/.ai-log-panel/servers.yml. Use 'logpanel server add'
to register one, then 'logpanel run', 'logpanel console' or 'logpanel serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyGlobalFlags()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default ~/.ai-log-panel/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print debug logs to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&machineMode, "json", false, "print machine-readable JSON")
}

func applyGlobalFlags() {
	if debug {
		logger.SetDebug(true)
	}
	if noColor || machineMode || !ui.IsTerminal(os.Stdout) {
		ui.DisableColors()
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(handleError(err, os.Stdout, os.Stderr))
	}
}

// handleError reports err and returns the process exit status.
func handleError(err error, stdout, stderr io.Writer) int {
	if code, ok := errors.GetExitCode(err); ok {
		return code
	}

	if isUnknownCommandError(err) {
		msg := strings.TrimSpace(err.Error())
		if name := extractUnknownCommand(err); name != "" {
			if similar := util.SuggestSimilar(name, commandNames(rootCmd), 3); len(similar) > 0 {
				msg += "\n\nDid you mean " + util.JoinOrNone(similar) + "?"
			}
		}
		fmt.Fprintln(stderr, msg)
		fmt.Fprintln(stderr, "Run 'logpanel --help' for usage.")
		return 1
	}

	if machineMode {
		_ = WriteJSONFromError(stdout, err)
		return 1
	}
	fmt.Fprint(stderr, err.Error())
	if !strings.HasSuffix(err.Error(), "\n") {
		fmt.Fprintln(stderr)
	}
	return 1
}

func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}

// extractUnknownCommand pulls foo out of `unknown command "foo" for "logpanel"`.
func extractUnknownCommand(err error) string {
	msg := err.Error()
	start := strings.Index(msg, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(msg[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

func commandNames(root *cobra.Command) []string {
	var names []string
	for _, c := range root.Commands() {
		if !c.Hidden {
			names = append(names, c.Name())
		}
	}
	return names
}

// app is what commands operate on: settings plus the panel built from them.
type app struct {
	cfg   *config.Config
	panel *panel.Panel
	log   logger.Logger
}

// Close stops and disconnects every session the command opened.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Session.StopGrace+10*time.Second)
	defer cancel()
	a.panel.Close(ctx)
}

// openApp loads settings and opens the panel. Tests replace it.
var openApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, err
	}
	log := logger.Default()
	return &app{cfg: cfg, panel: panel.Open(ctx, cfg, log), log: log}, nil
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// resolveServer picks the server named by args[0], or asks interactively
// when no argument is given and stdin is a terminal.
func resolveServer(a *app, args []string) (config.Server, error) {
	if len(args) > 0 {
		return a.panel.FindServer(args[0])
	}
	if !ui.IsTerminal(os.Stdin) {
		return config.Server{}, errors.New(errors.ErrConfig, "No server given",
			"Pass a server id or name, e.g. 'logpanel run web-1'.")
	}
	s, err := ui.PickServer(a.panel.Servers(), os.Stdout, os.Stdin)
	if err != nil {
		return config.Server{}, err
	}
	if s == nil {
		return config.Server{}, errors.NewExitError(130)
	}
	return *s, nil
}

// isTerminalWriter reports whether w is a terminal.
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ui.IsTerminal(f)
}
