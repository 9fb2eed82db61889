package router

// Problem codes carried in the "code" extension of problem responses.
const (
	ErrInternalCode           = "INTERNAL_ERROR"
	ErrBadRequestCode         = "BAD_REQUEST"
	ErrNotFoundCode           = "NOT_FOUND"
	ErrRequestTimeoutCode     = "REQUEST_TIMEOUT"
	ErrServiceUnavailableCode = "SERVICE_UNAVAILABLE"
	ErrTooManyRequestsCode    = "TOO_MANY_REQUESTS"
	ErrPayloadTooLargeCode    = "PAYLOAD_TOO_LARGE"

	KnowledgeErrInvalidInputCode = "invalid_input"
	KnowledgeErrExtractionCode   = "extraction_failed"
	KnowledgeErrEmbeddingCode    = "embedding_failed"
	KnowledgeErrIndexCode        = "index_failed"
	KnowledgeErrGenerationCode   = "generation_failed"
)
