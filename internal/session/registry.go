package session

import (
	"context"
	"sort"
	"sync"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/transport"
)

// TransportFactory builds the transport for a server definition.
type TransportFactory func(s config.Server) transport.Transport

// Registry maps server ids to live sessions. At most one session exists
// per id.
type Registry struct {
	opts    Options
	factory TransportFactory

	mu       sync.Mutex
	sessions map[int]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, factory TransportFactory) *Registry {
	return &Registry{
		opts:     opts,
		factory:  factory,
		sessions: make(map[int]*Session),
	}
}

// GetOrCreate returns the session for server.ID, creating it if needed.
// An existing session keeps its original definition.
func (r *Registry) GetOrCreate(server config.Server) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[server.ID]; ok {
		return s
	}
	s := New(server, r.factory(server), r.opts)
	r.sessions[server.ID] = s
	return s
}

// Get returns the session for id, if one exists.
func (r *Registry) Get(id int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes and forgets the session for id. Removing an unknown id is
// a no-op.
func (r *Registry) Remove(ctx context.Context, id int) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// List returns the live sessions ordered by server id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// CloseAll closes every session concurrently and empties the registry.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[int]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(ctx); err != nil {
				s.log.Debug("%s: close: %v", s.server.Name, err)
			}
		}(s)
	}
	wg.Wait()
}
