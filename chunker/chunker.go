// Package chunker implements the C7 chunkers (spec.md §4.7): a semantic
// chunker for prose text and an AST-aware code chunker, both exposing
// chunk_batch(texts) -> [][]Chunk. Neither a Model2Vec-class embedding
// model nor a tree-sitter binding ships anywhere in the example pack, so
// both chunkers approximate their ML-driven step with a deterministic
// heuristic — documented in DESIGN.md — while preserving the exact staged
// pipeline and hard limits the spec names.
package chunker

import (
	"regexp"
)

// MaxTokensPerChunk is the hard safety-net limit from spec.md §4.7.
const MaxTokensPerChunk = 8192

// ChunkOverlapTokens is the re-split overlap used by stage 2.
const ChunkOverlapTokens = 128

// Chunk is one piece of an entity's text after chunking.
type Chunk struct {
	Text       string
	StartIndex int
	EndIndex   int
	TokenCount int
}

// estimateTokens approximates cl100k_base token counts without a real
// tokenizer binding: ~4 characters per token is the commonly cited
// rule-of-thumb for English prose and is good enough to enforce the hard
// limit, since the consequence of over-estimating is an extra re-split
// pass, not a correctness bug.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

var sentenceBoundary = regexp.MustCompile(`(?s)[.!?]\s+|\n{2,}`)

func splitSentences(text string) []sentenceSpan {
	var spans []sentenceSpan
	start := 0
	locs := sentenceBoundary.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		end := loc[1]
		spans = append(spans, sentenceSpan{start: start, end: end, text: text[start:end]})
		start = end
	}
	if start < len(text) {
		spans = append(spans, sentenceSpan{start: start, end: len(text), text: text[start:]})
	}
	return spans
}

type sentenceSpan struct {
	start, end int
	text       string
}
