package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

const paragraphSeparator = "\n\n"

// Processor splits page text into chunks.
type Processor struct {
	settings Settings
	newID    func() string
}

type Option func(*Processor)

// WithIDGenerator replaces the uuid generator used for chunk IDs.
func WithIDGenerator(fn func() string) Option {
	return func(p *Processor) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// NewProcessor validates settings and fills defaults.
func NewProcessor(settings Settings, opts ...Option) (*Processor, error) {
	if settings.Strategy == "" {
		settings.Strategy = StrategyParagraph
	}
	if settings.OverlapMode == "" {
		settings.OverlapMode = OverlapAdvisory
	}
	if settings.Size <= 0 {
		return nil, errors.New("chunk: size must be greater than zero")
	}
	if settings.Overlap < 0 {
		return nil, errors.New("chunk: overlap cannot be negative")
	}
	if settings.Overlap >= settings.Size {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than size %d", settings.Overlap, settings.Size)
	}
	switch settings.Strategy {
	case StrategyParagraph, StrategyRecursive:
	default:
		return nil, fmt.Errorf("chunk: unknown strategy %q", settings.Strategy)
	}
	switch settings.OverlapMode {
	case OverlapAdvisory, OverlapTrailing:
	default:
		return nil, fmt.Errorf("chunk: unknown overlap mode %q", settings.OverlapMode)
	}
	p := &Processor{settings: settings, newID: uuid.NewString}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Processor) Settings() Settings {
	return p.settings
}

// Process chunks every page in order. The output follows page order and,
// within a page, paragraph order.
func (p *Processor) Process(pages []knowledge.PageText) ([]Chunk, error) {
	out := make([]Chunk, 0, len(pages))
	for _, page := range pages {
		var (
			texts []string
			err   error
		)
		switch p.settings.Strategy {
		case StrategyRecursive:
			texts, err = p.splitRecursive(page.Text)
		default:
			texts = p.splitParagraphs(page.Text)
		}
		if err != nil {
			return nil, fmt.Errorf("chunk: split page %d: %w", page.PageNumber, err)
		}
		for _, text := range texts {
			out = append(out, Chunk{
				ID:         p.newID(),
				PageNumber: page.PageNumber,
				Text:       text,
				Hash:       hashText(text),
			})
		}
	}
	return out, nil
}

type buffer struct {
	parts  []string
	length int
}

func (b *buffer) add(para string) {
	b.parts = append(b.parts, para)
	b.length += runeLen(para) + len(paragraphSeparator)
}

func (b *buffer) text() string {
	return strings.TrimSpace(strings.Join(b.parts, paragraphSeparator))
}

// splitParagraphs packs paragraphs while buffer plus paragraph stays under
// the size bound. A paragraph that is larger than the bound becomes a chunk
// by itself.
func (p *Processor) splitParagraphs(text string) []string {
	var (
		chunks []string
		cur    buffer
	)
	flush := func() {
		if t := cur.text(); t != "" {
			chunks = append(chunks, t)
		}
	}
	for _, para := range paragraphBreak.Split(text, -1) {
		if strings.TrimSpace(para) == "" {
			continue
		}
		if cur.length+runeLen(para) < p.settings.Size || len(cur.parts) == 0 {
			cur.add(para)
			continue
		}
		flush()
		next := buffer{}
		if p.settings.OverlapMode == OverlapTrailing {
			next = p.trailing(cur.parts, runeLen(para))
		}
		next.add(para)
		cur = next
	}
	flush()
	return chunks
}

// trailing seeds a buffer with the last paragraphs of prev that fit in the
// overlap budget and leave room for the incoming paragraph.
func (p *Processor) trailing(prev []string, incoming int) buffer {
	budget := p.settings.Overlap
	start := len(prev)
	used := 0
	for i := len(prev) - 1; i > 0; i-- {
		n := runeLen(prev[i]) + len(paragraphSeparator)
		if used+n > budget || used+n+incoming >= p.settings.Size {
			break
		}
		used += n
		start = i
	}
	seed := buffer{}
	for _, part := range prev[start:] {
		seed.add(part)
	}
	return seed
}

func (p *Processor) splitRecursive(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	overlap := 0
	if p.settings.OverlapMode == OverlapTrailing {
		overlap = p.settings.Overlap
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(p.settings.Size),
		textsplitter.WithChunkOverlap(overlap),
	)
	segments, err := splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		if trimmed := strings.TrimSpace(segment); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
