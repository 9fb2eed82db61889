package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/compozy/policyrag/engine/knowledge"
)

type recordingGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (r *recordingGenerator) Complete(_ context.Context, prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	return r.reply, r.err
}

func sampleContexts() []knowledge.RetrievedContext {
	return []knowledge.RetrievedContext{
		{ChunkID: "c-1", PageNumber: 2, Text: "Outpatient surgery is covered at 80%.", Score: 0.9},
		{ChunkID: "c-2", PageNumber: 5, Text: "Pre-authorization is required.", Score: 0.7},
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Run("Should render the instructions, contexts and question", func(t *testing.T) {
		prompt := BuildPrompt("Is surgery covered?", sampleContexts())
		assert.True(t, strings.HasPrefix(prompt, "You are a health insurance policy assistant."))
		assert.Contains(t, prompt, `2. If the answer is not in the context, say "`+knowledge.FallbackAnswer+`"`)
		assert.Contains(t, prompt, "5. Do not make assumptions or add information not present in the context\n\nCONTEXT FROM POLICY DOCUMENTS:\n")
		assert.Contains(t, prompt, "[Page 2, Chunk ID: c-1]\nOutpatient surgery is covered at 80%.\n\n[Page 5, Chunk ID: c-2]\nPre-authorization is required.")
		assert.True(t, strings.HasSuffix(prompt, "QUESTION: Is surgery covered?\n\nANSWER (with citations):"))
		assert.NotContains(t, prompt, "6.")
	})
	t.Run("Should leave the context block empty without contexts", func(t *testing.T) {
		prompt := BuildPrompt("q", nil)
		assert.Contains(t, prompt, "CONTEXT FROM POLICY DOCUMENTS:\n\n\nQUESTION: q")
	})
	t.Run("Should add the JSON instruction in structured mode", func(t *testing.T) {
		prompt := buildStructuredPrompt("q", sampleContexts())
		assert.Contains(t, prompt, `6. Reply with a single JSON object {"answer": string, "grounded": boolean}`)
	})
}

func TestIsGrounded(t *testing.T) {
	t.Run("Should detect the marker case-insensitively", func(t *testing.T) {
		assert.False(t, IsGrounded(knowledge.FallbackAnswer))
		assert.False(t, IsGrounded("The Policy DOES NOT CONTAIN INFORMATION on dental."))
		assert.True(t, IsGrounded("Surgery is covered at 80% [Page 2, Chunk ID: c-1]."))
	})
}

func TestSynthesizer_Synthesize(t *testing.T) {
	t.Run("Should answer from the model and mark grounded", func(t *testing.T) {
		gen := &recordingGenerator{reply: "Yes, at 80% (Page 2, Chunk ID: c-1)."}
		s, err := New(gen)
		require.NoError(t, err)
		res, err := s.Synthesize(t.Context(), "Is surgery covered?", sampleContexts())
		require.NoError(t, err)
		assert.Equal(t, gen.reply, res.Answer)
		assert.True(t, res.Grounded)
		assert.Len(t, gen.prompts, 1)
		assert.NotNil(t, res.Citations)
	})
	t.Run("Should mark fallback answers ungrounded", func(t *testing.T) {
		s, err := New(&recordingGenerator{reply: knowledge.FallbackAnswer})
		require.NoError(t, err)
		res, err := s.Synthesize(t.Context(), "Is dental covered?", sampleContexts())
		require.NoError(t, err)
		assert.False(t, res.Grounded)
	})
	t.Run("Should short-circuit without contexts", func(t *testing.T) {
		gen := &recordingGenerator{reply: "should not be used"}
		s, err := New(gen)
		require.NoError(t, err)
		res, err := s.Synthesize(t.Context(), "anything", nil)
		require.NoError(t, err)
		assert.Equal(t, knowledge.FallbackAnswer, res.Answer)
		assert.False(t, res.Grounded)
		assert.Empty(t, res.Citations)
		assert.Empty(t, gen.prompts)
	})
	t.Run("Should call the model without contexts when short-circuit is off", func(t *testing.T) {
		gen := &recordingGenerator{reply: knowledge.FallbackAnswer}
		s, err := New(gen, WithShortCircuitEmpty(false))
		require.NoError(t, err)
		res, err := s.Synthesize(t.Context(), "anything", []knowledge.RetrievedContext{})
		require.NoError(t, err)
		assert.False(t, res.Grounded)
		assert.Len(t, gen.prompts, 1)
	})
	t.Run("Should wrap model failures as generation errors", func(t *testing.T) {
		s, err := New(&recordingGenerator{err: errors.New("quota exceeded")})
		require.NoError(t, err)
		_, err = s.Synthesize(t.Context(), "q", sampleContexts())
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrGeneration)
	})
	t.Run("Should read structured answers", func(t *testing.T) {
		s, err := New(&recordingGenerator{reply: "```json\n{\"answer\":\"Covered at 80%.\",\"grounded\":true}\n```"}, WithGrounding(GroundingStructured))
		require.NoError(t, err)
		res, err := s.Synthesize(t.Context(), "q", sampleContexts())
		require.NoError(t, err)
		assert.Equal(t, "Covered at 80%.", res.Answer)
		assert.True(t, res.Grounded)
	})
	t.Run("Should let the phrase override a structured grounded flag", func(t *testing.T) {
		reply := `{"answer":"` + knowledge.FallbackAnswer + `","grounded":true}`
		s, err := New(&recordingGenerator{reply: reply}, WithGrounding(GroundingStructured))
		require.NoError(t, err)
		res, err := s.Synthesize(t.Context(), "q", sampleContexts())
		require.NoError(t, err)
		assert.False(t, res.Grounded)
	})
	t.Run("Should honor a structured false flag", func(t *testing.T) {
		s, err := New(&recordingGenerator{reply: `{"answer":"Unclear from the excerpts.","grounded":false}`}, WithGrounding(GroundingStructured))
		require.NoError(t, err)
		res, err := s.Synthesize(t.Context(), "q", sampleContexts())
		require.NoError(t, err)
		assert.False(t, res.Grounded)
	})
	t.Run("Should fall back to the phrase check on invalid JSON", func(t *testing.T) {
		s, err := New(&recordingGenerator{reply: "Covered at 80%."}, WithGrounding(GroundingStructured))
		require.NoError(t, err)
		res, err := s.Synthesize(t.Context(), "q", sampleContexts())
		require.NoError(t, err)
		assert.Equal(t, "Covered at 80%.", res.Answer)
		assert.True(t, res.Grounded)
	})
}

type stubModel struct {
	prompt string
	opts   llms.CallOptions
}

func (m *stubModel) GenerateContent(
	_ context.Context,
	messages []llms.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	for _, opt := range options {
		opt(&m.opts)
	}
	for _, part := range messages[0].Parts {
		if text, ok := part.(llms.TextContent); ok {
			m.prompt = text.Text
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "generated"}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLLMGenerator(t *testing.T) {
	t.Run("Should send the prompt with call options", func(t *testing.T) {
		model := &stubModel{}
		gen := NewLLMGenerator(model, llms.WithTemperature(0.2))
		out, err := gen.Complete(t.Context(), "hello")
		require.NoError(t, err)
		assert.Equal(t, "generated", out)
		assert.Equal(t, "hello", model.prompt)
		assert.InDelta(t, 0.2, model.opts.Temperature, 1e-9)
	})
	t.Run("Should require credentials for hosted providers", func(t *testing.T) {
		_, err := NewGenerator(t.Context(), &Config{Provider: ProviderGemini})
		assert.ErrorContains(t, err, "api key is required")
		_, err = NewGenerator(t.Context(), &Config{Provider: ProviderOpenAI})
		assert.ErrorContains(t, err, "api key is required")
		_, err = NewGenerator(t.Context(), &Config{Provider: "mystery", APIKey: "k"})
		assert.ErrorContains(t, err, "not supported")
	})
}
