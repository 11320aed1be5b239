package panel

import (
	"context"
	"strings"

	"github.com/skarch/logpanel/internal/analysis"
	"github.com/skarch/logpanel/internal/errors"
)

// FailedPrefix starts the text of an analysis that could not be produced.
const FailedPrefix = "analysis failed: "

// Analysis is the outcome of an analysis request. Failures are reported in
// Text, never as an error, so callers can show them next to the log line.
type Analysis struct {
	LogText string `json:"logText"`
	Text    string `json:"text"`
	Cached  bool   `json:"cached"`
	Failed  bool   `json:"failed"`
}

func (p *Panel) scope(id int) analysis.Scope {
	shared := p.cfg != nil && p.cfg.Analysis.SharedCache
	return analysis.ScopeFor(id, shared)
}

// CachedAnalysis returns a stored analysis for logText without calling the
// service.
func (p *Panel) CachedAnalysis(id int, logText string) (Analysis, bool) {
	text, ok := p.cache.Load(p.scope(id), logText)
	if !ok {
		return Analysis{}, false
	}
	return Analysis{LogText: logText, Text: text, Cached: true}, true
}

// Analyze explains logText, answering from the cache unless refresh is set.
// Successful answers are cached; failures are not.
func (p *Panel) Analyze(ctx context.Context, id int, logText string, refresh bool) (Analysis, error) {
	if _, err := p.Server(id); err != nil {
		return Analysis{}, err
	}
	if strings.TrimSpace(logText) == "" {
		return Analysis{}, errors.New(errors.ErrAnalysis, "Nothing to analyze", "Pick a log line first.").
			WithReason(errors.Rejected)
	}

	if !refresh {
		if a, ok := p.CachedAnalysis(id, logText); ok {
			return a, nil
		}
	}

	if p.analyzer == nil {
		return failed(logText, p.unavailable()), nil
	}
	text, err := p.analyzer.Analyze(ctx, logText)
	if err != nil {
		p.log.Debug("analysis for server %d: %v", id, err)
		return failed(logText, err), nil
	}

	if err := p.cache.Save(p.scope(id), logText, text); err != nil {
		p.log.Warn("caching analysis: %s", errors.Summary(err))
	}
	return Analysis{LogText: logText, Text: text}, nil
}

// FollowUp asks a question about a previous analysis of logText. Answers
// are not cached.
func (p *Panel) FollowUp(ctx context.Context, id int, logText, previous, question string) (Analysis, error) {
	if _, err := p.Server(id); err != nil {
		return Analysis{}, err
	}
	if strings.TrimSpace(question) == "" {
		return Analysis{}, errors.New(errors.ErrAnalysis, "Question is empty", "Type a question about the analysis.").
			WithReason(errors.Rejected)
	}
	if previous == "" {
		if a, ok := p.CachedAnalysis(id, logText); ok {
			previous = a.Text
		}
	}

	if p.analyzer == nil {
		return failed(logText, p.unavailable()), nil
	}
	text, err := p.analyzer.FollowUp(ctx, logText, previous, question)
	if err != nil {
		return failed(logText, err), nil
	}
	return Analysis{LogText: logText, Text: text}, nil
}

func (p *Panel) unavailable() error {
	if p.analyzerErr != nil {
		return p.analyzerErr
	}
	return errors.New(errors.ErrAnalysis, "Analysis is not configured", "Set GEMINI_API_KEY.")
}

func failed(logText string, err error) Analysis {
	return Analysis{LogText: logText, Text: FailedPrefix + errors.Summary(err), Failed: true}
}
