package embed

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	syncerrors "airweave.dev/syncengine/errors"
)

// sparseHeartbeatBatch is the slice size EmbedBatch scores at a time. The
// slices are scored one after another inside the same call; control does
// not return to the caller between them.
const sparseHeartbeatBatch = 200

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// SparseVector is a BM25-weighted term vector: parallel Indices/Values as
// Qdrant's/Vespa's sparse vector wire formats expect (spec.md §4.9/§4.10).
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Sparse is the process-wide singleton local BM25 embedder (spec.md §4.8).
// Unlike Dense, it has no network dependency: scoring runs entirely over
// the texts handed to EmbedBatch, re-deriving corpus statistics (average
// document length, term document frequency) separately for each slice of
// up to sparseHeartbeatBatch texts.
type Sparse struct {
	vocab map[string]uint32
}

// NewSparse builds a Sparse embedder with an empty vocabulary; terms are
// assigned indices lazily as they are first seen across calls to
// EmbedBatch, so the same Sparse instance should be reused for a whole sync
// to keep indices stable within it.
func NewSparse() *Sparse {
	return &Sparse{vocab: make(map[string]uint32)}
}

// EmbedBatch scores every text against the term statistics of its own
// slice of up to sparseHeartbeatBatch texts. All slices are scored
// synchronously within this one call (spec.md §4.8).
func (s *Sparse) EmbedBatch(texts []string) ([]SparseVector, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, &syncerrors.SyncFailureError{Reason: fmt.Sprintf("embed: empty text at index %d", i)}
		}
	}

	out := make([]SparseVector, 0, len(texts))
	for start := 0; start < len(texts); start += sparseHeartbeatBatch {
		end := start + sparseHeartbeatBatch
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, s.scoreSlice(texts[start:end])...)
	}
	return out, nil
}

func (s *Sparse) scoreSlice(texts []string) []SparseVector {
	docs := make([][]string, len(texts))
	df := make(map[string]int)
	totalLen := 0
	for i, t := range texts {
		terms := tokenPattern.FindAllString(strings.ToLower(t), -1)
		docs[i] = terms
		totalLen += len(terms)
		seen := make(map[string]bool, len(terms))
		for _, term := range terms {
			if !seen[term] {
				df[term]++
				seen[term] = true
			}
		}
	}
	n := len(texts)
	avgLen := 0.0
	if n > 0 {
		avgLen = float64(totalLen) / float64(n)
	}

	out := make([]SparseVector, n)
	for i, terms := range docs {
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		dl := float64(len(terms))
		vec := SparseVector{}
		for term, freq := range tf {
			idx := s.indexFor(term)
			idf := math.Log(1 + (float64(n)-float64(df[term])+0.5)/(float64(df[term])+0.5))
			denom := float64(freq) + bm25K1*(1-bm25B+bm25B*dl/max1(avgLen))
			score := idf * (float64(freq) * (bm25K1 + 1)) / denom
			vec.Indices = append(vec.Indices, idx)
			vec.Values = append(vec.Values, float32(score))
		}
		out[i] = vec
	}
	return out
}

func (s *Sparse) indexFor(term string) uint32 {
	if idx, ok := s.vocab[term]; ok {
		return idx
	}
	idx := uint32(len(s.vocab))
	s.vocab[term] = idx
	return idx
}

func max1(f float64) float64 {
	if f == 0 {
		return 1
	}
	return f
}
