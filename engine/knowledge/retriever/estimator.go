package retriever

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

type TokenEstimator interface {
	EstimateTokens(ctx context.Context, text string) int
}

// RuneEstimator approximates four runes per token.
type RuneEstimator struct{}

func (RuneEstimator) EstimateTokens(_ context.Context, text string) int {
	count := utf8.RuneCountInString(text)
	if count == 0 {
		return 0
	}
	return max(count/4, 1)
}

const defaultEncoding = "cl100k_base"

// TiktokenEstimator counts BPE tokens with tiktoken-go.
type TiktokenEstimator struct {
	mu  sync.Mutex
	tke *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding, falling back to cl100k_base
// when the name is empty or names a model instead.
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("retriever: load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenEstimator{tke: tke}, nil
}

func (t *TiktokenEstimator) EstimateTokens(_ context.Context, text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tke.Encode(text, nil, nil))
}
