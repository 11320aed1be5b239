package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/session"
	"github.com/skarch/logpanel/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverAddFlags  ServerFlags
	serverEditFlags ServerFlags
	serverRemoveYes bool
)

// serverCmd groups the server definition subcommands
var serverCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"servers"},
	Short:   "Manage registered servers",
	Long: `Add, edit, list and remove server definitions.

Definitions live in ~/.ai-log-panel/servers.yml. Run add or edit without
flags in a terminal to fill in a form instead.

Examples:
  logpanel server list
  logpanel server add --name web-1 --host 10.0.0.5 --user deploy --cmd ./serve
  logpanel server add --name dev --type Local --dir ~/app --cmd "npm start"
  logpanel server edit web-1 --port 2222
  logpanel server remove web-1 --yes`,
}

var serverListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered servers",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return serverList(a, cmd.OutOrStdout())
		})
	},
}

var serverAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return serverAdd(a, cmd, &serverAddFlags)
		})
	},
}

var serverEditCmd = &cobra.Command{
	Use:               "edit <server>",
	Short:             "Change a server definition",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeServerNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return serverEdit(a, cmd, args[0], &serverEditFlags)
		})
	},
}

var serverRemoveCmd = &cobra.Command{
	Use:               "remove <server>",
	Aliases:           []string{"rm"},
	Short:             "Remove a server and its cached analyses",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeServerNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return serverRemove(cmd.Context(), a, args[0], serverRemoveYes, cmd.OutOrStdout())
		})
	},
}

func init() {
	AddServerFlags(serverAddCmd, &serverAddFlags)
	AddServerFlags(serverEditCmd, &serverEditFlags)
	serverRemoveCmd.Flags().BoolVarP(&serverRemoveYes, "yes", "y", false, "skip the confirmation prompt")

	serverCmd.AddCommand(serverListCmd, serverAddCmd, serverEditCmd, serverRemoveCmd)
}

// serverJSON is a server definition as printed with --json. The password
// is never printed.
type serverJSON struct {
	config.Server
	HasPassword bool           `json:"hasPassword"`
	State       *session.State `json:"state,omitempty"`
}

func toServerJSON(s config.Server, st *session.Status) serverJSON {
	v := serverJSON{Server: s, HasPassword: s.Password != ""}
	v.Password = ""
	if st != nil {
		v.State = &st.State
	}
	return v
}

// serverRows pairs each server with its session status when one exists.
func serverRows(a *app) []ui.ServerRow {
	live := map[int]session.Status{}
	for _, s := range a.panel.Sessions() {
		live[s.ID()] = s.Status()
	}
	var rows []ui.ServerRow
	for _, s := range a.panel.Servers() {
		row := ui.ServerRow{Server: s}
		if st, ok := live[s.ID]; ok {
			row.Status = &st
		}
		rows = append(rows, row)
	}
	return rows
}

func serverList(a *app, w io.Writer) error {
	rows := serverRows(a)

	if machineMode {
		out := make([]serverJSON, 0, len(rows))
		for _, r := range rows {
			out = append(out, toServerJSON(r.Server, r.Status))
		}
		return WriteJSONSuccess(w, out)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "No servers yet. Add one with 'logpanel server add'.")
		return nil
	}
	fmt.Fprint(w, ui.RenderServerTable(rows))
	return nil
}

func serverAdd(a *app, cmd *cobra.Command, flags *ServerFlags) error {
	s := flags.Apply(cmd.Flags(), config.Server{})

	if !AnyChanged(cmd.Flags()) {
		if !ui.IsTerminal(os.Stdin) {
			return errors.New(errors.ErrConfig, "No server definition given",
				"Pass --name, --host, --user and --cmd, or run in a terminal to fill in a form.")
		}
		var err error
		if s, err = serverForm(s, "Add server"); err != nil {
			return err
		}
	}

	added, err := a.panel.AddServer(s)
	if err != nil {
		return err
	}
	return reportServer(cmd.OutOrStdout(), "Added", added)
}

func serverEdit(a *app, cmd *cobra.Command, ref string, flags *ServerFlags) error {
	current, err := a.panel.FindServer(ref)
	if err != nil {
		return err
	}

	s := current
	if AnyChanged(cmd.Flags()) {
		s = flags.Apply(cmd.Flags(), current)
	} else {
		if !ui.IsTerminal(os.Stdin) {
			return errors.New(errors.ErrConfig, "Nothing to change",
				"Pass the fields to change, e.g. --port 2222.")
		}
		if s, err = serverForm(current, "Edit "+current.Name); err != nil {
			return err
		}
	}

	updated, err := a.panel.EditServer(current.ID, s)
	if err != nil {
		return err
	}
	return reportServer(cmd.OutOrStdout(), "Updated", updated)
}

func serverRemove(ctx context.Context, a *app, ref string, yes bool, w io.Writer) error {
	s, err := a.panel.FindServer(ref)
	if err != nil {
		return err
	}

	if !yes && !machineMode {
		if !ui.IsTerminal(os.Stdin) {
			return errors.New(errors.ErrConfig, "Refusing to remove "+s.Name+" without confirmation",
				"Pass --yes to remove it non-interactively.")
		}
		var confirm bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Remove %s? Its cached analyses go too.", s.Label())).
					Value(&confirm),
			),
		)
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Pass --yes to skip the prompt")
		}
		if !confirm {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	if err := a.panel.DeleteServer(ctx, s.ID); err != nil {
		return err
	}
	if machineMode {
		return WriteJSONSuccess(w, map[string]int{"removed": s.ID})
	}
	fmt.Fprintf(w, "%s Removed %s\n", ui.SymbolSuccess, s.Name)
	return nil
}

func reportServer(w io.Writer, verb string, s config.Server) error {
	if machineMode {
		return WriteJSONSuccess(w, toServerJSON(s, nil))
	}
	fmt.Fprintf(w, "%s %s %s (id %d)\n", ui.SymbolSuccess, verb, s.Label(), s.ID)
	return nil
}

// serverForm asks for a server definition, starting from s.
func serverForm(s config.Server, title string) (config.Server, error) {
	s = s.WithDefaults()
	kind := string(s.Type)
	osType := string(s.OS)
	port := ""
	if s.Port != 0 {
		port = strconv.Itoa(s.Port)
	}

	required := func(field string) func(string) error {
		return func(v string) error {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	base := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description("Name: unique, e.g. web-1 or staging-api").
				Placeholder("web-1").
				Value(&s.Name).
				Validate(required("name")),
			huh.NewSelect[string]().
				Title("Type").
				Options(
					huh.NewOption("SSH host", string(config.ServerSSH)),
					huh.NewOption("Local process", string(config.ServerLocal)),
				).
				Value(&kind),
		),
	)
	if err := base.Run(); err != nil {
		return config.Server{}, formError(err)
	}
	s.Type = config.ServerType(kind)

	var groups []*huh.Group
	if s.Type == config.ServerSSH {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Host").
				Description("Hostname, IP, or ~/.ssh/config alias").
				Value(&s.Host).
				Validate(required("host")),
			huh.NewInput().
				Title("Port").
				Placeholder("22").
				Value(&port).
				Validate(func(v string) error {
					if v == "" {
						return nil
					}
					if n, err := strconv.Atoi(v); err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("User").
				Value(&s.User).
				Validate(required("user")),
			huh.NewInput().
				Title("Private key (optional)").
				Placeholder("~/.ssh/id_ed25519").
				Value(&s.PrivateKeyPath),
			huh.NewInput().
				Title("Password (optional)").
				Description("Leave empty to use keys or the SSH agent").
				EchoMode(huh.EchoModePassword).
				Value(&s.Password),
		))
	}
	groups = append(groups, huh.NewGroup(
		huh.NewInput().
			Title("Working directory").
			Placeholder("/srv/app").
			Value(&s.WorkingDirectory),
		huh.NewInput().
			Title("Start command").
			Placeholder("./serve --port 8080").
			Value(&s.StartCommand).
			Validate(required("start command")),
		huh.NewSelect[string]().
			Title("Operating system").
			Options(
				huh.NewOption(string(config.OSLinux), string(config.OSLinux)),
				huh.NewOption(string(config.OSWindows), string(config.OSWindows)),
			).
			Value(&osType),
	))

	if err := huh.NewForm(groups...).Run(); err != nil {
		return config.Server{}, formError(err)
	}

	s.OS = config.OSType(osType)
	if port != "" {
		s.Port, _ = strconv.Atoi(port)
	}
	return s, nil
}

func formError(err error) error {
	if stderrors.Is(err, huh.ErrUserAborted) {
		return errors.NewExitError(130)
	}
	return errors.WrapWithCode(err, errors.ErrConfig,
		"Failed to get user input",
		"Pass the definition as flags instead, see 'logpanel server add --help'")
}
