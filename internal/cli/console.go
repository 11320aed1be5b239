package cli

import (
	"context"
	"os"

	"github.com/skarch/logpanel/internal/console"
	"github.com/skarch/logpanel/internal/panel"
)

// consoleCommand opens the interactive console for one server. Analysis
// and line removal go through the panel so cached answers are shared with
// the other front-ends.
func consoleCommand(ctx context.Context, args []string) error {
	return withApp(ctx, func(a *app) error {
		s, err := resolveServer(a, args)
		if err != nil {
			return err
		}
		sess, err := a.panel.Session(s.ID)
		if err != nil {
			return err
		}
		return console.Run(sess, consoleOptions(ctx, a.panel, s.ID), os.Stdin, os.Stdout)
	})
}

func consoleOptions(ctx context.Context, p *panel.Panel, id int) console.Options {
	return console.Options{
		Context: ctx,
		Version: GetVersion(),
		Analyze: func(ctx context.Context, logText string, refresh bool) (panel.Analysis, error) {
			return p.Analyze(ctx, id, logText, refresh)
		},
		FollowUp: func(ctx context.Context, logText, previous, question string) (panel.Analysis, error) {
			return p.FollowUp(ctx, id, logText, previous, question)
		},
		RemoveLine: func(text string) int {
			n, _ := p.RemoveLine(id, text)
			return n
		},
	}
}
