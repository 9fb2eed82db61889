package uc

import (
	"context"
	"fmt"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/document"
)

type ListDocuments struct {
	documents document.Store
}

func NewListDocuments(documents document.Store) *ListDocuments {
	return &ListDocuments{documents: documents}
}

func (uc *ListDocuments) Execute(ctx context.Context) ([]knowledge.Document, error) {
	docs, err := uc.documents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}
