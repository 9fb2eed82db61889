package chunk

type Strategy string

const (
	// StrategyParagraph packs whole paragraphs greedily and never splits one.
	StrategyParagraph Strategy = "paragraph"
	// StrategyRecursive delegates to the langchaingo recursive splitter.
	StrategyRecursive Strategy = "recursive_text_splitter"
)

type OverlapMode string

const (
	// OverlapAdvisory validates Overlap but never duplicates content.
	OverlapAdvisory OverlapMode = "advisory"
	// OverlapTrailing repeats the trailing paragraphs of a chunk, up to
	// Overlap runes, at the start of the next chunk on the same page.
	OverlapTrailing OverlapMode = "trailing"
)

// Settings configures chunking behavior.
type Settings struct {
	Strategy    Strategy
	Size        int
	Overlap     int
	OverlapMode OverlapMode
}

// Chunk is a contiguous passage from a single page.
type Chunk struct {
	ID         string
	PageNumber int
	Text       string
	Hash       string
}
