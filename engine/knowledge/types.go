package knowledge

import (
	"time"
	"unicode/utf8"
)

// Metadata keys stored next to every indexed vector.
const (
	MetaDocumentID = "document_id"
	MetaFilename   = "filename"
	MetaPageNumber = "page_number"
	MetaText       = "text"
)

// PageText is the extracted text of one 1-based page.
type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

type Citation struct {
	PageNumber     int     `json:"page_number"`
	ChunkID        string  `json:"chunk_id"`
	TextSnippet    string  `json:"text_snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// AnswerResult is the response to a question. Citations are ordered by
// relevance, highest first.
type AnswerResult struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Grounded  bool       `json:"has_grounded_answer"`
}

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Document is the metadata record kept for every ingested file.
type Document struct {
	ID          string         `json:"id"           db:"id"`
	Filename    string         `json:"filename"     db:"filename"`
	UploadDate  time.Time      `json:"upload_date"  db:"upload_date"`
	NumPages    int            `json:"num_pages"    db:"num_pages"`
	Status      DocumentStatus `json:"status"       db:"status"`
	ChunksCount int            `json:"chunks_count" db:"chunks_count"`
}

// RetrievedContext is one index match resolved into passage form.
type RetrievedContext struct {
	ChunkID       string
	DocumentID    string
	Filename      string
	PageNumber    int
	Text          string
	Score         float64
	TokenEstimate int
	Metadata      map[string]any
}

// Citation renders the context as a user-facing citation.
func (r RetrievedContext) Citation(snippetLength int) Citation {
	return Citation{
		PageNumber:     r.PageNumber,
		ChunkID:        r.ChunkID,
		TextSnippet:    Snippet(r.Text, snippetLength),
		RelevanceScore: r.Score,
	}
}

// Snippet returns the first n runes of text followed by an ellipsis.
func Snippet(text string, n int) string {
	return TruncateRunes(text, n) + "..."
}

// TruncateRunes cuts s to at most n runes. Non-positive n keeps s intact.
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
