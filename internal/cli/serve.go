package cli

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/skarch/logpanel/internal/api"
	"github.com/skarch/logpanel/internal/ui"
)

// serveCommand serves the API until interrupted. Sessions opened through
// it are stopped and disconnected on the way out.
func serveCommand(ctx context.Context, listen string, w io.Writer) error {
	return withApp(ctx, func(a *app) error {
		if listen == "" {
			listen = a.cfg.API.Listen
		}

		sigCtx, stop := interruptContext(ctx)
		defer stop()

		srv := api.New(a.panel, a.log)
		return srv.ListenAndServe(sigCtx, listen, func(addr net.Addr) {
			if machineMode {
				_ = WriteJSONSuccess(w, map[string]string{"listen": addr.String()})
				return
			}
			fmt.Fprintf(w, "%s Listening on http://%s (Ctrl+C to stop)\n", ui.SymbolComplete, addr)
		})
	})
}
