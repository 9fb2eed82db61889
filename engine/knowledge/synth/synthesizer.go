package synth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/pkg/logger"
)

type Synthesizer struct {
	generator         Generator
	grounding         Grounding
	shortCircuitEmpty bool
}

type Option func(*Synthesizer)

func WithGrounding(mode Grounding) Option {
	return func(s *Synthesizer) {
		if mode != "" {
			s.grounding = mode
		}
	}
}

func WithShortCircuitEmpty(enabled bool) Option {
	return func(s *Synthesizer) {
		s.shortCircuitEmpty = enabled
	}
}

func New(generator Generator, opts ...Option) (*Synthesizer, error) {
	if generator == nil {
		return nil, errors.New("synth: generator is required")
	}
	s := &Synthesizer{generator: generator, grounding: GroundingPhrase, shortCircuitEmpty: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Synthesize answers question from contexts with a single generation call.
// Citations are left empty for the caller to attach.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	question string,
	contexts []knowledge.RetrievedContext,
) (*knowledge.AnswerResult, error) {
	log := logger.FromContext(ctx)
	if len(contexts) == 0 && s.shortCircuitEmpty {
		log.Debug("No contexts retrieved, answering with fallback")
		return &knowledge.AnswerResult{Answer: knowledge.FallbackAnswer, Citations: []knowledge.Citation{}}, nil
	}
	prompt := BuildPrompt(question, contexts)
	if s.grounding == GroundingStructured {
		prompt = buildStructuredPrompt(question, contexts)
	}
	start := time.Now()
	raw, err := s.generator.Complete(ctx, prompt)
	if err != nil {
		return nil, knowledge.NewGenerationError("complete", err)
	}
	answer, grounded := s.classify(raw)
	log.Debug(
		"Answer generated",
		"contexts", len(contexts),
		"grounded", grounded,
		"duration_seconds", time.Since(start).Seconds(),
	)
	return &knowledge.AnswerResult{Answer: answer, Citations: []knowledge.Citation{}, Grounded: grounded}, nil
}

func (s *Synthesizer) classify(raw string) (string, bool) {
	if s.grounding != GroundingStructured {
		return raw, IsGrounded(raw)
	}
	payload := stripCodeFence(raw)
	if !gjson.Valid(payload) {
		return raw, IsGrounded(raw)
	}
	answer := gjson.Get(payload, "answer")
	if !answer.Exists() {
		return raw, IsGrounded(raw)
	}
	text := answer.String()
	grounded := gjson.Get(payload, "grounded")
	if !grounded.Exists() {
		return text, IsGrounded(text)
	}
	return text, grounded.Bool() && IsGrounded(text)
}

// IsGrounded reports whether answer lacks the ungrounded marker phrase.
func IsGrounded(answer string) bool {
	return !strings.Contains(strings.ToLower(answer), strings.ToLower(knowledge.UngroundedMarker))
}

// stripCodeFence removes a surrounding ```json fence some models add in JSON mode.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
}
