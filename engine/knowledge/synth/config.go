package synth

type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// Grounding selects how an answer is classified as backed by the excerpts.
type Grounding string

const (
	// GroundingPhrase looks for the fallback phrase in the answer text.
	GroundingPhrase Grounding = "phrase"
	// GroundingStructured asks the model for {"answer", "grounded"} JSON and
	// still applies the phrase check on top.
	GroundingStructured Grounding = "structured"
)

type Config struct {
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Grounding   Grounding
	// ShortCircuitEmpty answers with the fallback text without calling the
	// model when retrieval returned nothing.
	ShortCircuitEmpty bool
}

func defaultModel(p Provider) string {
	if p == ProviderOpenAI {
		return "gpt-4o-mini"
	}
	return "gemini-2.0-flash"
}
