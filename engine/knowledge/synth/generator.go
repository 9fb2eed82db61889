package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator turns a prompt into model text.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type LLMGenerator struct {
	model llms.Model
	opts  []llms.CallOption
}

// NewLLMGenerator wraps a langchaingo model. The call options apply to every request.
func NewLLMGenerator(model llms.Model, opts ...llms.CallOption) *LLMGenerator {
	return &LLMGenerator{model: model, opts: opts}
}

func (g *LLMGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g.model, prompt, g.opts...)
}

// NewGenerator builds the langchaingo model for cfg.Provider.
func NewGenerator(ctx context.Context, cfg *Config) (*LLMGenerator, error) {
	if cfg == nil {
		return nil, errors.New("llm config is required")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel(cfg.Provider)
	}
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderGemini, "":
		if cfg.APIKey == "" {
			return nil, errors.New("llm: gemini api key is required")
		}
		model, err = googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultModel(modelName))
	case ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, errors.New("llm: openai api key is required")
		}
		opts := []openai.Option{openai.WithModel(modelName)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("llm: provider %q is not supported", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("llm: init %s client: %w", cfg.Provider, err)
	}
	var callOpts []llms.CallOption
	if cfg.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Grounding == GroundingStructured {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	return NewLLMGenerator(model, callOpts...), nil
}
