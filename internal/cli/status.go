package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	gosync "sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/session"
	"github.com/skarch/logpanel/internal/ui"
	"github.com/skarch/logpanel/internal/util"
)

// ServerStatus is one row of status output.
type ServerStatus struct {
	ID     int            `json:"id"`
	Name   string         `json:"name"`
	Type   string         `json:"serverType"`
	Target string         `json:"target"`
	State  session.State  `json:"state"`
	Probe  *ProbeOutcome  `json:"probe,omitempty"`
	Status session.Status `json:"status"`
}

// ProbeOutcome is the result of connecting to a server once.
type ProbeOutcome struct {
	OK      bool   `json:"ok"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// statusCommand lists servers with their session state, optionally
// connecting to each to check reachability.
func statusCommand(ctx context.Context, args []string, probe bool, timeout time.Duration, w io.Writer) error {
	return withApp(ctx, func(a *app) error {
		servers := a.panel.Servers()
		if len(args) > 0 {
			s, err := a.panel.FindServer(args[0])
			if err != nil {
				return err
			}
			servers = []config.Server{s}
		}

		var probes map[int]*ProbeOutcome
		if probe && len(servers) > 0 {
			if timeout == 0 {
				timeout = a.cfg.Session.ConnectTimeout
			}
			probes = probeServers(ctx, a, servers, timeout, w)
		}

		rows := make([]ServerStatus, 0, len(servers))
		for _, s := range servers {
			row := ServerStatus{ID: s.ID, Name: s.Name, Type: string(s.Type), Target: serverTarget(s), Probe: probes[s.ID]}
			if st, err := a.panel.Status(s.ID); err == nil {
				row.State, row.Status = st.State, st
			}
			rows = append(rows, row)
		}

		if machineMode {
			return WriteJSONSuccess(w, rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(w, "No servers yet. Add one with 'logpanel server add'.")
			return nil
		}
		fmt.Fprintln(w, renderStatus(rows, probe))
		return nil
	})
}

// probeServers connects to every server in parallel.
func probeServers(ctx context.Context, a *app, servers []config.Server, timeout time.Duration, w io.Writer) map[int]*ProbeOutcome {
	var spinner *ui.Spinner
	if !machineMode && isTerminalWriter(w) {
		spinner = ui.NewSpinner(fmt.Sprintf("Probing %d %s", len(servers), util.Pluralize(len(servers), "server", "servers")))
		spinner.SetOutput(func(s string) { fmt.Fprint(w, s) })
		spinner.Start()
	}

	results := make(map[int]*ProbeOutcome, len(servers))
	var mu gosync.Mutex
	var wg gosync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s config.Server) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			started := time.Now()
			err := a.panel.Connect(probeCtx, s.ID)
			outcome := &ProbeOutcome{OK: err == nil}
			if err != nil {
				outcome.Error = errors.Summary(err)
				outcome.Reason = string(errors.ReasonOf(err))
			} else {
				outcome.Latency = time.Since(started).Round(time.Millisecond).String()
			}

			mu.Lock()
			results[s.ID] = outcome
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	if spinner != nil {
		failed := 0
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}
		if failed > 0 {
			spinner.Fail()
		} else {
			spinner.Success()
		}
	}
	return results
}

func renderStatus(rows []ServerStatus, probed bool) string {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	columns := []ui.TableColumn{
		{Title: "ID", Width: 4},
		{Title: "NAME", Width: 16},
		{Title: "TARGET", Width: 28},
		{Title: "STATE", Width: 14},
	}
	if probed {
		columns = append(columns, ui.TableColumn{Title: "PROBE", Width: 40})
	}

	ok := lipgloss.NewStyle().Foreground(ui.ColorSuccess)
	bad := lipgloss.NewStyle().Foreground(ui.ColorError)

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		row := []string{fmt.Sprint(r.ID), r.Name, r.Target, ui.StateBadge(r.State)}
		if probed {
			switch {
			case r.Probe == nil:
				row = append(row, "")
			case r.Probe.OK:
				row = append(row, ok.Render(ui.SymbolSuccess+" "+r.Probe.Latency))
			default:
				row = append(row, bad.Render(ui.SymbolFail+" "+r.Probe.Error))
			}
		}
		cells = append(cells, row)
	}
	return ui.RenderSimpleTable(columns, cells)
}

func serverTarget(s config.Server) string {
	if s.IsLocal() {
		return s.WorkingDirectory
	}
	return s.User + "@" + s.Address()
}
