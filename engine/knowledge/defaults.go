package knowledge

const (
	DefaultDimension     = 768
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 200
	DefaultTopK          = 5
	DefaultSnippetLength = 200
	DefaultExcerptLength = 1000
	DefaultNamespace     = "health-insurance-rag"
)

// FallbackAnswer is the reply the assistant gives when the excerpts do not
// cover the question.
const FallbackAnswer = "The policy document does not contain information about this. " +
	"Please refer to the complete policy or contact customer service."

// UngroundedMarker is the case-insensitive phrase that marks an answer as
// not backed by the supplied excerpts.
const UngroundedMarker = "does not contain information"
