package session

import (
	"context"
	"sync"
	"testing"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/logger"
	"github.com/skarch/logpanel/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *sync.Map) {
	made := &sync.Map{}
	r := NewRegistry(Options{Log: logger.Noop()}, func(s config.Server) transport.Transport {
		tr := &fakeTransport{}
		made.Store(s.ID, tr)
		return tr
	})
	return r, made
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r, made := newTestRegistry()

	a := r.GetOrCreate(sshServer())
	b := r.GetOrCreate(sshServer())
	assert.Same(t, a, b)

	renamed := sshServer()
	renamed.Name = "web-renamed"
	assert.Equal(t, "web-1", r.GetOrCreate(renamed).Server().Name, "existing session keeps its definition")

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = r.Get(99)
	assert.False(t, ok)

	n := 0
	made.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n)
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	r, _ := newTestRegistry()

	var wg sync.WaitGroup
	got := make([]*Session, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.GetOrCreate(localServer())
		}(i)
	}
	wg.Wait()

	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Len(t, r.List(), 1)
}

func TestRegistry_RemoveDisconnects(t *testing.T) {
	r, made := newTestRegistry()
	ctx := context.Background()

	s := r.GetOrCreate(localServer())
	require.NoError(t, s.Start(ctx))

	require.NoError(t, r.Remove(ctx, 2))
	require.NoError(t, r.Remove(ctx, 2), "removing twice is a no-op")

	_, ok := r.Get(2)
	assert.False(t, ok)
	assert.Equal(t, Disconnected, s.Status().State)

	v, _ := made.Load(2)
	assert.Equal(t, int32(1), v.(*fakeTransport).disconnects.Load())

	fresh := r.GetOrCreate(localServer())
	assert.NotSame(t, s, fresh)
	assert.Equal(t, Idle, fresh.Status().State)
}

func TestRegistry_ListAndCloseAll(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	third := config.Server{ID: 3, Name: "db", Type: config.ServerLocal, StartCommand: "run"}
	for _, srv := range []config.Server{third, sshServer(), localServer()} {
		require.NoError(t, r.GetOrCreate(srv).Connect(ctx))
	}

	var ids []int
	for _, s := range r.List() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []int{1, 2, 3}, ids)

	all := r.List()
	r.CloseAll(ctx)
	assert.Empty(t, r.List())
	for _, s := range all {
		assert.False(t, s.Connected())
	}
}
