// Package api serves the panel over HTTP: JSON endpoints for servers and
// sessions, and a WebSocket feed of session events.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/panel"
)

// Server is the HTTP front end of a Panel.
type Server struct {
	panel  *panel.Panel
	log    logger.Logger
	router chi.Router
}

// New builds the router for p.
func New(p *panel.Panel, log logger.Logger) *Server {
	s := &Server{panel: p, log: logger.OrDefault(log)}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/servers", func(r chi.Router) {
		r.Get("/", s.listServers)
		r.Post("/", s.createServer)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getServer)
			r.Put("/", s.updateServer)
			r.Delete("/", s.deleteServer)

			r.Post("/connect", s.lifecycle(s.panel.Connect))
			r.Post("/start", s.lifecycle(s.panel.Start))
			r.Post("/stop", s.lifecycle(s.panel.Stop))
			r.Post("/disconnect", s.lifecycle(s.panel.Disconnect))
			r.Post("/input", s.sendInput)
			r.Post("/exec", s.execute)
			r.Get("/status", s.status)

			r.Get("/logs", s.logs)
			r.Delete("/logs", s.removeLine)
			r.Get("/errors", s.errorLines)

			r.Post("/analyze", s.analyze)
			r.Post("/followup", s.followUp)

			r.Get("/ws", s.feed)
		})
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. ready, if non-nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot listen on "+addr,
			"Pick a free address with --listen or api.listen")
	}
	if ready != nil {
		ready(ln.Addr())
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("api shutdown: %v", err)
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Microsecond), chimw.GetReqID(r.Context()))
	})
}
