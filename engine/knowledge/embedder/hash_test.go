package embedder

import (
	"math"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i] * b[i])
	}
	return sum
}

func TestHashBackend(t *testing.T) {
	t.Run("Should produce unit vectors of the configured dimension", func(t *testing.T) {
		vectors, err := NewHashBackend(64).Embed(t.Context(), []string{"Outpatient surgery is covered"}, IntentDocument)
		require.NoError(t, err)
		require.Len(t, vectors, 1)
		assert.Len(t, vectors[0], 64)
		assert.InDelta(t, 1.0, math.Sqrt(dot(vectors[0], vectors[0])), 1e-5)
	})
	t.Run("Should be deterministic and share one space across intents", func(t *testing.T) {
		b := NewHashBackend(128)
		docs, err := b.Embed(t.Context(), []string{"Dental cleaning twice a year"}, IntentDocument)
		require.NoError(t, err)
		query, err := b.Embed(t.Context(), []string{"Dental cleaning twice a year"}, IntentQuery)
		require.NoError(t, err)
		assert.Equal(t, docs[0], query[0])
	})
	t.Run("Should rank related text above unrelated text", func(t *testing.T) {
		b := NewHashBackend(256)
		vectors, err := b.Embed(t.Context(), []string{
			"What is the annual deductible?",
			"The annual deductible is 500 dollars per member.",
			"Vision exams require a referral from a network optometrist.",
		}, IntentQuery)
		require.NoError(t, err)
		assert.Greater(t, dot(vectors[0], vectors[1]), dot(vectors[0], vectors[2]))
	})
	t.Run("Should fail when the context is canceled", func(t *testing.T) {
		ctx, cancel := contextWithCancel(t)
		cancel()
		_, err := NewHashBackend(8).Embed(ctx, []string{"x"}, IntentDocument)
		assert.Error(t, err)
	})
}

func TestGeminiTaskType(t *testing.T) {
	t.Run("Should map intents to retrieval task types", func(t *testing.T) {
		assert.Equal(t, genai.TaskTypeRetrievalDocument, geminiTaskType(IntentDocument))
		assert.Equal(t, genai.TaskTypeRetrievalQuery, geminiTaskType(IntentQuery))
	})
	t.Run("Should require an API key", func(t *testing.T) {
		_, err := newGeminiBackend(t.Context(), &Config{ID: "g", Provider: ProviderGemini, Dimension: 768})
		assert.ErrorContains(t, err, "api key is required")
	})
}
