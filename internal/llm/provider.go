// Package llm predicts upcoming setlists with a hosted or local language model.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"setlistify/internal/core"
)

// Provider implements core.SetlistPredictor on top of a completion backend.
type Provider struct {
	config *core.LLMConfig
	logger *zap.Logger
	client LLMClient
}

// LLMClient returns the raw text completion for a system and user prompt.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

func NewProvider(config *core.LLMConfig, logger *zap.Logger) (*Provider, error) {
	var client LLMClient
	var err error

	switch config.Provider {
	case "openai":
		client, err = NewOpenAIClient(config, logger)
	case "anthropic":
		client, err = NewAnthropicClient(config, logger)
	case "ollama":
		client, err = NewOllamaClient(config, logger)
	case "none", "":
		return &Provider{
			config: config,
			logger: logger,
			client: &NoOpClient{},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", config.Provider, err)
	}

	return &Provider{
		config: config,
		logger: logger,
		client: client,
	}, nil
}

// Enabled reports whether a real backend is configured.
func (p *Provider) Enabled() bool {
	_, noop := p.client.(*NoOpClient)
	return !noop
}

// Name returns the configured backend name.
func (p *Provider) Name() string {
	if !p.Enabled() {
		return "none"
	}
	return p.config.Provider
}

// PredictSetlists asks the model for core.PredictionCandidates setlists, most likely first.
func (p *Provider) PredictSetlists(ctx context.Context, past []core.Setlist) ([]core.Setlist, error) {
	if len(past) == 0 {
		return nil, core.ErrNoSetlists
	}

	artist := past[0].PerformingArtistName
	userPrompt := buildPredictionPrompt(artist, past)

	p.logger.Debug("Requesting setlist prediction",
		zap.String("provider", p.config.Provider),
		zap.String("artist", artist),
		zap.Int("pastSetlists", len(past)))

	content, err := p.client.Complete(ctx, predictionSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	setlists, err := parsePrediction(content, artist)
	if err != nil {
		p.logger.Error("Failed to parse prediction",
			zap.String("provider", p.config.Provider),
			zap.Error(err),
			zap.String("content", content))
		return nil, err
	}

	p.logger.Info("Setlist prediction completed",
		zap.String("artist", artist),
		zap.Int("candidates", len(setlists)))
	return setlists, nil
}

type NoOpClient struct{}

func (n *NoOpClient) Complete(_ context.Context, _, _ string) (string, error) {
	return "", core.ErrPredictorNotConfigured
}
