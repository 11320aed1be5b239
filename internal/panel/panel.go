// Package panel is the orchestration layer shared by the CLI, console and
// HTTP API: it owns the server list, routes commands to sessions and fronts
// the analysis service.
package panel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/skarch/logpanel/internal/analysis"
	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/session"
	"github.com/skarch/logpanel/internal/transport"
	"github.com/skarch/logpanel/internal/util"
)

// Options wires a Panel. Analyzer may be nil, in which case analysis
// requests report why they cannot run.
type Options struct {
	Config   *config.Config
	Store    *config.ServerStore
	Registry *session.Registry
	Cache    *analysis.Cache
	Analyzer analysis.Analyzer
	// AnalyzerErr explains a nil Analyzer, e.g. a missing API key.
	AnalyzerErr error
	Log         logger.Logger
}

// Panel coordinates server definitions, sessions and analyses.
type Panel struct {
	cfg         *config.Config
	store       *config.ServerStore
	registry    *session.Registry
	cache       *analysis.Cache
	analyzer    analysis.Analyzer
	analyzerErr error
	log         logger.Logger

	// mu serializes read-modify-write cycles on the server list.
	mu sync.Mutex
}

// New creates a Panel.
func New(opts Options) *Panel {
	return &Panel{
		cfg:         opts.Config,
		store:       opts.Store,
		registry:    opts.Registry,
		cache:       opts.Cache,
		analyzer:    opts.Analyzer,
		analyzerErr: opts.AnalyzerErr,
		log:         logger.OrDefault(opts.Log),
	}
}

// Open builds a Panel from application settings: the YAML stores under the
// data directory, a registry of real transports and, when an API key is
// configured, the Gemini analyzer.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) *Panel {
	log = logger.OrDefault(log)
	registry := session.NewRegistry(session.OptionsFromConfig(cfg, log), func(s config.Server) transport.Transport {
		return transport.New(s, cfg, log)
	})

	opts := Options{
		Config:   cfg,
		Store:    config.NewServerStore(cfg.ServersPath(), log),
		Registry: registry,
		Cache:    analysis.NewCache(cfg.AnalysisCachePath(), log),
		Log:      log,
	}
	if g, err := analysis.NewGemini(ctx, analysis.GeminiOptionsFromConfig(cfg, log)); err != nil {
		opts.AnalyzerErr = err
	} else {
		opts.Analyzer = g
	}
	return New(opts)
}

// Close disconnects every session.
func (p *Panel) Close(ctx context.Context) {
	p.registry.CloseAll(ctx)
}

// Servers returns every registered server ordered by id.
func (p *Panel) Servers() []config.Server {
	return p.store.Load()
}

// Server returns the server with id.
func (p *Panel) Server(id int) (config.Server, error) {
	s, ok := config.FindServer(p.store.Load(), id)
	if !ok {
		return config.Server{}, notFound(id)
	}
	return s, nil
}

// FindServer resolves a server by id or by case-insensitive name.
func (p *Panel) FindServer(ref string) (config.Server, error) {
	servers := p.store.Load()
	if id, err := strconv.Atoi(ref); err == nil {
		if s, ok := config.FindServer(servers, id); ok {
			return s, nil
		}
		return config.Server{}, notFound(id)
	}

	names := make([]string, 0, len(servers))
	for _, s := range servers {
		if strings.EqualFold(s.Name, ref) {
			return s, nil
		}
		names = append(names, s.Name)
	}
	return config.Server{}, unknownName(ref, names)
}

// AddServer validates s, assigns the next id and persists it.
func (p *Panel) AddServer(s config.Server) (config.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	servers := p.store.Load()
	s = s.WithDefaults()
	s.ID = config.NextID(servers)
	if err := config.ValidateServers(append(servers, s)); err != nil {
		return config.Server{}, err
	}
	if err := p.store.Save(append(servers, s)); err != nil {
		return config.Server{}, err
	}
	p.log.Debug("added server %d (%s)", s.ID, s.Name)
	return s, nil
}

// EditServer replaces the definition for id, keeping the id. It is
// rejected while the server is connected.
func (p *Panel) EditServer(id int, s config.Server) (config.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	servers := p.store.Load()
	idx := -1
	for i := range servers {
		if servers[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return config.Server{}, notFound(id)
	}

	sess, live := p.registry.Get(id)
	if live && sess.Connected() {
		return config.Server{}, errors.New(errors.ErrSession,
			fmt.Sprintf("Cannot edit %s while it is connected", servers[idx].Name),
			"Disconnect it first.").WithReason(errors.Rejected)
	}

	s = s.WithDefaults()
	s.ID = id
	updated := append([]config.Server(nil), servers...)
	updated[idx] = s
	if err := config.ValidateServers(updated); err != nil {
		return config.Server{}, err
	}
	if err := p.store.Save(updated); err != nil {
		return config.Server{}, err
	}

	// The idle session still holds the old definition.
	if live {
		if err := p.registry.Remove(context.Background(), id); err != nil {
			p.log.Debug("dropping session %d: %v", id, err)
		}
	}
	return s, nil
}

// DeleteServer disconnects and forgets the server's session, drops its
// cached analyses and removes the definition.
func (p *Panel) DeleteServer(ctx context.Context, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	servers := p.store.Load()
	kept := make([]config.Server, 0, len(servers))
	for _, s := range servers {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(servers) {
		return notFound(id)
	}

	if err := p.registry.Remove(ctx, id); err != nil {
		p.log.Warn("disconnecting server %d: %s", id, errors.Summary(err))
	}
	if err := p.cache.DeleteScope(analysis.ServerScope(id)); err != nil {
		p.log.Warn("dropping analyses for server %d: %s", id, errors.Summary(err))
	}
	return p.store.Save(kept)
}

// Session returns the live session for id, creating it on first use.
func (p *Panel) Session(id int) (*session.Session, error) {
	if s, ok := p.registry.Get(id); ok {
		return s, nil
	}
	srv, err := p.Server(id)
	if err != nil {
		return nil, err
	}
	return p.registry.GetOrCreate(srv), nil
}

// Sessions returns the live sessions.
func (p *Panel) Sessions() []*session.Session {
	return p.registry.List()
}

// Status returns the session status for id. Servers without a session
// report Idle.
func (p *Panel) Status(id int) (session.Status, error) {
	if s, ok := p.registry.Get(id); ok {
		return s.Status(), nil
	}
	if _, err := p.Server(id); err != nil {
		return session.Status{}, err
	}
	return session.Status{ServerID: id, State: session.Idle, LastExitCode: -1}, nil
}

// Connect connects the server's session.
func (p *Panel) Connect(ctx context.Context, id int) error {
	s, err := p.Session(id)
	if err != nil {
		return err
	}
	return s.Connect(ctx)
}

// Start starts the server's process.
func (p *Panel) Start(ctx context.Context, id int) error {
	s, err := p.Session(id)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Stop stops the server's process.
func (p *Panel) Stop(ctx context.Context, id int) error {
	s, err := p.Session(id)
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

// Disconnect disconnects the server's session.
func (p *Panel) Disconnect(ctx context.Context, id int) error {
	s, err := p.Session(id)
	if err != nil {
		return err
	}
	return s.Disconnect(ctx)
}

// SendInput writes a line to the server's running process.
func (p *Panel) SendInput(id int, text string) error {
	s, err := p.Session(id)
	if err != nil {
		return err
	}
	return s.SendInput(text)
}

// Execute runs a one-shot command on the server.
func (p *Panel) Execute(ctx context.Context, id int, command string) (transport.Output, error) {
	s, err := p.Session(id)
	if err != nil {
		return transport.Output{ExitCode: -1}, err
	}
	return s.Execute(ctx, command)
}

// RemoveLine deletes every log line with exactly text, and its cached
// analysis.
func (p *Panel) RemoveLine(id int, text string) (int, error) {
	s, err := p.Session(id)
	if err != nil {
		return 0, err
	}
	n := s.RemoveLine(text)
	if err := p.cache.Delete(p.scope(id), text); err != nil {
		p.log.Warn("dropping analysis: %s", errors.Summary(err))
	}
	return n, nil
}

func notFound(id int) error {
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("No server with id %d", id),
		"Run 'logpanel server list' to see registered servers.").WithReason(errors.NotFound)
}

func unknownName(ref string, names []string) error {
	hint := "Run 'logpanel server list' to see registered servers."
	if similar := util.SuggestSimilar(ref, names, 3); len(similar) > 0 {
		hint = "Did you mean " + util.JoinOrNone(similar) + "?"
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("No server named '%s'", ref), hint).WithReason(errors.NotFound)
}
