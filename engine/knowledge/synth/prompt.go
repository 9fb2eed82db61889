package synth

import (
	"fmt"
	"strings"

	"github.com/compozy/policyrag/engine/knowledge"
)

const promptTemplate = `You are a health insurance policy assistant. Your task is to answer questions based ONLY on the provided policy document excerpts.

IMPORTANT INSTRUCTIONS:
1. Answer ONLY based on the information in the context below
2. If the answer is not in the context, say "%s"
3. Always cite the page number and chunk ID for your answer
4. Provide structured, clear answers
5. Do not make assumptions or add information not present in the context
%s
CONTEXT FROM POLICY DOCUMENTS:
%s

QUESTION: %s

ANSWER (with citations):`

const structuredInstruction = `6. Reply with a single JSON object {"answer": string, "grounded": boolean} where grounded is false when the context does not answer the question
`

// FormatContext renders contexts as "[Page N, Chunk ID: id]" blocks separated by blank lines.
func FormatContext(contexts []knowledge.RetrievedContext) string {
	parts := make([]string, len(contexts))
	for i := range contexts {
		parts[i] = fmt.Sprintf("[Page %d, Chunk ID: %s]\n%s", contexts[i].PageNumber, contexts[i].ChunkID, contexts[i].Text)
	}
	return strings.Join(parts, "\n\n")
}

// BuildPrompt renders the grounded answering prompt.
func BuildPrompt(question string, contexts []knowledge.RetrievedContext) string {
	return renderPrompt(question, contexts, "")
}

func buildStructuredPrompt(question string, contexts []knowledge.RetrievedContext) string {
	return renderPrompt(question, contexts, structuredInstruction)
}

func renderPrompt(question string, contexts []knowledge.RetrievedContext, extra string) string {
	return fmt.Sprintf(promptTemplate, knowledge.FallbackAnswer, extra, FormatContext(contexts), question)
}
