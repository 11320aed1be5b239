package panel

import (
	"context"
	"testing"

	"github.com/skarch/logpanel/internal/analysis"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanel_AnalyzeCaches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv, err := h.panel.AddServer(devServer())
	require.NoError(t, err)

	first, err := h.panel.Analyze(ctx, srv.ID, "ERROR: db timeout", false)
	require.NoError(t, err)
	assert.Equal(t, "## Problem\nDB down", first.Text)
	assert.False(t, first.Cached)

	second, err := h.panel.Analyze(ctx, srv.ID, "ERROR: db timeout", false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Len(t, h.analyzer.analyzed, 1)

	h.analyzer.answer = "## Problem\nDisk full"
	third, err := h.panel.Analyze(ctx, srv.ID, "ERROR: db timeout", true)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, "## Problem\nDisk full", third.Text)

	cached, ok := h.panel.CachedAnalysis(srv.ID, "ERROR: db timeout")
	require.True(t, ok)
	assert.Equal(t, "## Problem\nDisk full", cached.Text, "re-analysis overwrites")
}

func TestPanel_AnalyzeScope(t *testing.T) {
	tests := []struct {
		name        string
		shared      bool
		wantAnalyze int
	}{
		{name: "per server", shared: false, wantAnalyze: 2},
		{name: "shared", shared: true, wantAnalyze: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.cfg.Analysis.SharedCache = tt.shared
			ctx := context.Background()
			a, err := h.panel.AddServer(devServer())
			require.NoError(t, err)
			b, err := h.panel.AddServer(webServer())
			require.NoError(t, err)

			_, err = h.panel.Analyze(ctx, a.ID, "OutOfMemoryError", false)
			require.NoError(t, err)
			_, err = h.panel.Analyze(ctx, b.ID, "OutOfMemoryError", false)
			require.NoError(t, err)
			assert.Len(t, h.analyzer.analyzed, tt.wantAnalyze)

			if tt.shared {
				assert.Equal(t, []string{"OutOfMemoryError"}, h.cache.Entries(analysis.SharedScope))
			}
		})
	}
}

func TestPanel_AnalyzeFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv, err := h.panel.AddServer(devServer())
	require.NoError(t, err)

	h.analyzer.err = errors.New(errors.ErrAnalysis, "Gemini request failed", "")
	got, err := h.panel.Analyze(ctx, srv.ID, "ERROR: x", false)
	require.NoError(t, err, "service failures are reported in the result")
	assert.True(t, got.Failed)
	assert.Equal(t, "analysis failed: Gemini request failed", got.Text)

	_, ok := h.panel.CachedAnalysis(srv.ID, "ERROR: x")
	assert.False(t, ok, "failures are not cached")
}

func TestPanel_AnalyzeWithoutAnalyzer(t *testing.T) {
	h := newHarness(t)
	h.panel.analyzer = nil
	h.panel.analyzerErr = errors.New(errors.ErrAnalysis, "No Gemini API key configured", "")
	srv, err := h.panel.AddServer(devServer())
	require.NoError(t, err)

	got, err := h.panel.Analyze(context.Background(), srv.ID, "ERROR: x", false)
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.Equal(t, "analysis failed: No Gemini API key configured", got.Text)
}

func TestPanel_AnalyzeRejects(t *testing.T) {
	h := newHarness(t)
	srv, err := h.panel.AddServer(devServer())
	require.NoError(t, err)

	_, err = h.panel.Analyze(context.Background(), srv.ID, "  ", false)
	assert.True(t, errors.IsReason(err, errors.Rejected))

	_, err = h.panel.Analyze(context.Background(), 99, "ERROR", false)
	assert.True(t, errors.IsReason(err, errors.NotFound))

	_, err = h.panel.FollowUp(context.Background(), srv.ID, "ERROR", "prev", "")
	assert.True(t, errors.IsReason(err, errors.Rejected))
}

func TestPanel_FollowUpUsesCachedAnalysis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv, err := h.panel.AddServer(devServer())
	require.NoError(t, err)

	_, err = h.panel.Analyze(ctx, srv.ID, "ERROR: db timeout", false)
	require.NoError(t, err)

	h.analyzer.answer = "Raise the pool size."
	got, err := h.panel.FollowUp(ctx, srv.ID, "ERROR: db timeout", "", "How?")
	require.NoError(t, err)
	assert.Equal(t, "Raise the pool size.", got.Text)
	assert.Equal(t, []string{"## Problem\nDB down"}, h.analyzer.previous)
	assert.Equal(t, []string{"How?"}, h.analyzer.questions)
}
