package briefing

import (
	"context"
	"fmt"

	"github.com/wxdecoder/wxdecoder/internal/ai"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

const temperature = 0.2

// LLMGenerator asks a chat provider for the briefing JSON
type LLMGenerator struct {
	provider     ai.ChatProvider
	defaultModel string
	logger       *logger.Logger
}

// NewLLMGenerator wraps provider. defaultModel is used when Facts.Model is empty.
func NewLLMGenerator(provider ai.ChatProvider, defaultModel string, log *logger.Logger) *LLMGenerator {
	return &LLMGenerator{
		provider:     provider,
		defaultModel: defaultModel,
		logger:       log.Named("briefing"),
	}
}

// Name implements Generator
func (g *LLMGenerator) Name() string { return g.provider.Name() }

// Generate implements Generator
func (g *LLMGenerator) Generate(ctx context.Context, facts Facts) (*Result, error) {
	model := facts.Model
	if model == "" {
		model = g.defaultModel
	}
	system, user := BuildPrompt(facts)

	completion, err := g.provider.ChatCompletion(ctx, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: system},
		{Role: ai.RoleUser, Content: user},
	}, ai.ChatConfig{Model: model, Temperature: temperature, JSON: true})
	if err != nil {
		g.logger.Warn("Briefing generation failed",
			logger.String("provider", g.provider.Name()),
			logger.String("airport", facts.Code),
			logger.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	analysis, err := ParseAnalysis(completion.Text)
	if err != nil {
		g.logger.Warn("Briefing output rejected",
			logger.String("airport", facts.Code),
			logger.Error(err))
		return nil, err
	}

	usedModel := completion.Model
	if usedModel == "" {
		usedModel = model
	}
	return &Result{
		Analysis: analysis,
		Usage:    Usage{Model: usedModel, Tokens: completion.TotalTokens},
	}, nil
}
