// Package analysis explains error log lines with a generative model and
// caches the answers on disk.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logger"
	"google.golang.org/genai"
)

// Analyzer explains log output.
type Analyzer interface {
	// Analyze returns a Markdown explanation of logText.
	Analyze(ctx context.Context, logText string) (string, error)
	// FollowUp answers question about a previous analysis of logText.
	FollowUp(ctx context.Context, logText, previous, question string) (string, error)
}

// GeminiOptions configures the Gemini analyzer.
type GeminiOptions struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// BaseURL overrides the API endpoint.
	BaseURL string
	Log     logger.Logger
}

// GeminiOptionsFromConfig maps application settings onto GeminiOptions.
func GeminiOptionsFromConfig(cfg *config.Config, log logger.Logger) GeminiOptions {
	return GeminiOptions{
		APIKey:  cfg.Analysis.APIKey,
		Model:   cfg.Analysis.Model,
		Timeout: cfg.Analysis.Timeout,
		Log:     log,
	}
}

// Gemini is an Analyzer backed by the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     logger.Logger
}

// NewGemini creates a Gemini analyzer. It fails without an API key.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New(errors.ErrAnalysis,
			"No Gemini API key configured",
			"Set GEMINI_API_KEY or analysis.api_key in config.yaml")
	}
	d := config.DefaultConfig().Analysis
	if opts.Model == "" {
		opts.Model = d.Model
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}

	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrAnalysis,
			"Failed to create Gemini client", "Check analysis.api_key")
	}

	return &Gemini{
		client:  client,
		model:   opts.Model,
		timeout: opts.Timeout,
		log:     logger.OrDefault(opts.Log),
	}, nil
}

// Model returns the model name requests go to.
func (g *Gemini) Model() string {
	return g.model
}

// Analyze implements Analyzer.
func (g *Gemini) Analyze(ctx context.Context, logText string) (string, error) {
	return g.generate(ctx, AnalyzePrompt(logText))
}

// FollowUp implements Analyzer.
func (g *Gemini) FollowUp(ctx context.Context, logText, previous, question string) (string, error) {
	return g.generate(ctx, FollowUpPrompt(logText, previous, question))
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.WrapWithCode(err, errors.ErrAnalysis,
				fmt.Sprintf("Gemini did not answer within %s", g.timeout),
				"Raise analysis.timeout or try again").WithReason(errors.Timeout)
		}
		return "", errors.WrapWithCode(err, errors.ErrAnalysis,
			"Gemini request failed", "Check the API key and network access")
	}
	g.log.Debug("gemini %s answered in %s", g.model, time.Since(start).Round(time.Millisecond))

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New(errors.ErrAnalysis, "Gemini returned an empty answer", "Try again")
	}
	return text, nil
}

// AnalyzePrompt builds the request for a first analysis.
func AnalyzePrompt(logText string) string {
	var b strings.Builder
	b.WriteString("Analyze the following server log. Explain the cause of the problem and how to fix it, in Markdown.\n\n")
	b.WriteString("## 📋 Log\n```\n")
	b.WriteString(logText)
	b.WriteString("\n```\n\n")
	b.WriteString("Answer in this format:\n\n")
	b.WriteString("## 🔍 Problem\n[what is going wrong]\n\n")
	b.WriteString("## 💡 Cause\n[why it happens]\n\n")
	b.WriteString("## ✅ Fix\n1. [first step]\n2. [second step]\n3. [third step]\n")
	return b.String()
}

// FollowUpPrompt builds the request for a follow-up question.
func FollowUpPrompt(logText, previous, question string) string {
	var b strings.Builder
	b.WriteString("Here is an earlier analysis.\n\n")
	b.WriteString("**Original log:**\n```\n")
	b.WriteString(logText)
	b.WriteString("\n```\n\n")
	b.WriteString("**Previous analysis:**\n")
	b.WriteString(previous)
	b.WriteString("\n\n**Follow-up question:**\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer the question using the context above, in Markdown.\n")
	return b.String()
}
