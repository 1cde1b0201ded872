package chunker

import (
	"fmt"

	syncerrors "airweave.dev/syncengine/errors"
)

// SemanticConfig tunes stage 1's boundary detection, mirroring spec.md
// §4.7's "configurable similarity window, threshold, min sentences/
// characters" knobs.
type SemanticConfig struct {
	SimilarityWindow int     // sentences considered on each side of a candidate boundary
	Threshold        float64 // minimum normalized length delta to cut a boundary
	MinSentences     int     // a chunk below this count never gets a boundary cut
	MinChars         int     // a chunk below this length never gets a boundary cut
}

// DefaultSemanticConfig matches the teacher-grounded defaults used when no
// override is supplied.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		SimilarityWindow: 3,
		Threshold:        0.3,
		MinSentences:     2,
		MinChars:         200,
	}
}

// Semantic is the process-wide singleton prose chunker (spec.md §4.7).
// Construct once and reuse; ChunkBatch is safe for concurrent use since it
// holds no mutable state.
type Semantic struct {
	cfg SemanticConfig
}

// NewSemantic builds a Semantic chunker with cfg.
func NewSemantic(cfg SemanticConfig) *Semantic {
	return &Semantic{cfg: cfg}
}

// ChunkBatch runs all three stages over every text and returns one []Chunk
// slice per input, in order.
func (s *Semantic) ChunkBatch(texts []string) ([][]Chunk, error) {
	out := make([][]Chunk, len(texts))
	for i, text := range texts {
		chunks, err := s.chunkOne(text)
		if err != nil {
			return nil, err
		}
		out[i] = chunks
	}
	return out, nil
}

func (s *Semantic) chunkOne(text string) ([]Chunk, error) {
	spans := splitSentences(text)
	if len(spans) == 0 {
		return nil, nil
	}

	// Stage 1: boundary detection. In place of a Model2Vec similarity
	// model, boundaries are cut where a sentence's length diverges from the
	// trailing window's mean length by more than Threshold — a cheap proxy
	// for "this sentence starts a new topic" that needs no loaded model.
	groups := s.detectBoundaries(spans)

	// Stage 1.5: re-count tokens with the downstream tokenizer estimate;
	// the chunker's own sentence-grouping pass is never trusted for the
	// hard limit.
	chunks := make([]Chunk, 0, len(groups))
	for _, g := range groups {
		chunkText := text[g.start:g.end]
		chunks = append(chunks, Chunk{
			Text:       chunkText,
			StartIndex: g.start,
			EndIndex:   g.end,
			TokenCount: estimateTokens(chunkText),
		})
	}

	// Stage 2: safety net re-split for any chunk over the hard limit.
	final := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.TokenCount <= MaxTokensPerChunk {
			final = append(final, c)
			continue
		}
		final = append(final, resplit(c)...)
	}

	for _, c := range final {
		if c.Text == "" {
			return nil, &syncerrors.SyncFailureError{Reason: "chunker produced an empty chunk"}
		}
		if c.TokenCount > MaxTokensPerChunk {
			return nil, &syncerrors.SyncFailureError{Reason: fmt.Sprintf("chunk still exceeds %d tokens after re-split", MaxTokensPerChunk)}
		}
	}
	return final, nil
}

type group struct {
	start, end int
}

func (s *Semantic) detectBoundaries(spans []sentenceSpan) []group {
	var groups []group
	groupStart := 0
	windowLens := make([]int, 0, s.cfg.SimilarityWindow)

	flush := func(end int) {
		groups = append(groups, group{start: spans[groupStart].start, end: end})
	}

	for i, span := range spans {
		windowLens = append(windowLens, len(span.text))
		if len(windowLens) > s.cfg.SimilarityWindow {
			windowLens = windowLens[1:]
		}

		sentencesInGroup := i - groupStart + 1
		charsInGroup := span.end - spans[groupStart].start
		if sentencesInGroup < s.cfg.MinSentences || charsInGroup < s.cfg.MinChars {
			continue
		}

		mean := meanInt(windowLens)
		if mean == 0 {
			continue
		}
		delta := float64(absInt(len(span.text)-mean)) / float64(mean)
		isLast := i == len(spans)-1
		if delta > s.cfg.Threshold || isLast {
			flush(span.end)
			groupStart = i + 1
			windowLens = windowLens[:0]
		}
	}
	if groupStart < len(spans) {
		flush(spans[len(spans)-1].end)
	}
	return groups
}

func meanInt(xs []int) int {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return sum / len(xs)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// resplit breaks an over-limit chunk into sentence-aligned pieces under
// MaxTokensPerChunk, each overlapping the previous by ChunkOverlapTokens
// (approximated in characters, since the overlap window operates on the
// same token estimate used elsewhere in this package).
func resplit(c Chunk) []Chunk {
	overlapChars := ChunkOverlapTokens * 4
	maxChars := MaxTokensPerChunk * 4

	spans := splitSentences(c.Text)
	if len(spans) == 0 {
		return []Chunk{c}
	}

	var out []Chunk
	start := 0
	for start < len(c.Text) {
		end := start + maxChars
		if end > len(c.Text) {
			end = len(c.Text)
		} else {
			// snap to the nearest sentence boundary at or before end
			for _, sp := range spans {
				if sp.end > end {
					break
				}
				if sp.end > start {
					end = sp.end
				}
			}
		}
		piece := c.Text[start:end]
		out = append(out, Chunk{
			Text:       piece,
			StartIndex: c.StartIndex + start,
			EndIndex:   c.StartIndex + end,
			TokenCount: estimateTokens(piece),
		})
		if end >= len(c.Text) {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}
