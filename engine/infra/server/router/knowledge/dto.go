package knowledgerouter

import (
	"time"

	"github.com/compozy/policyrag/engine/knowledge"
)

type QueryRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     *int   `json:"top_k"`
}

type UploadResponse struct {
	Message   string               `json:"message"`
	Documents []knowledge.Document `json:"documents"`
	Gaps      []GapDTO             `json:"gaps"`
}

// GapDTO describes a document whose vectors are indexed but whose record
// is pending reconciliation.
type GapDTO struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	ChunkIDs   []string  `json:"chunk_ids"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

type DeleteResponse struct {
	Message string `json:"message"`
	Deleted int    `json:"deleted"`
	Vectors int    `json:"vectors"`
}

// ToGapDTO converts a consistency gap into its wire form.
func ToGapDTO(gap *knowledge.ConsistencyGap) GapDTO {
	reason := ""
	if gap.Cause != nil {
		reason = gap.Cause.Error()
	}
	return GapDTO{
		DocumentID: gap.Document.ID,
		Filename:   gap.Document.Filename,
		ChunkIDs:   gap.ChunkIDs,
		Reason:     reason,
		DetectedAt: gap.DetectedAt,
	}
}
