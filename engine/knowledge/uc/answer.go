package uc

import (
	"context"
	"strings"
	"time"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/pkg/logger"
)

type AnswerInput struct {
	Question string
	TopK     int
}

type Answer struct {
	retriever     Retriever
	synthesizer   Synthesizer
	namespace     string
	defaultTopK   int
	snippetLength int
}

func NewAnswer(retriever Retriever, synthesizer Synthesizer, namespace string, defaultTopK, snippetLength int) *Answer {
	return &Answer{
		retriever:     retriever,
		synthesizer:   synthesizer,
		namespace:     namespace,
		defaultTopK:   defaultTopK,
		snippetLength: snippetLength,
	}
}

// Execute answers the question. Citations follow retrieval order, which is
// relevance descending.
func (uc *Answer) Execute(ctx context.Context, in *AnswerInput) (*knowledge.AnswerResult, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, wrapInput(ErrEmptyQuestion)
	}
	topK := in.TopK
	if topK == 0 {
		topK = uc.defaultTopK
	}
	start := time.Now()
	contexts, err := uc.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	result, err := uc.synthesizer.Synthesize(ctx, question, contexts)
	if err != nil {
		return nil, err
	}
	citations := make([]knowledge.Citation, 0, len(contexts))
	for i := range contexts {
		citations = append(citations, contexts[i].Citation(uc.snippetLength))
	}
	result.Citations = citations
	knowledge.RecordAnswer(ctx, uc.namespace, result.Grounded)
	logger.FromContext(ctx).Info(
		"Question answered",
		"top_k", topK,
		"citations", len(citations),
		"grounded", result.Grounded,
		"duration_seconds", time.Since(start).Seconds(),
	)
	return result, nil
}
