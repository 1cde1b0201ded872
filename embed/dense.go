// Package embed implements the C8 embedders (spec.md §4.8): Dense, an
// OpenAI-shaped HTTP client (no OpenAI SDK ships in the example pack, so
// this is built directly on net/http in the style of the teacher's
// http.Request/Execute helper — justified in DESIGN.md), and Sparse, a
// local BM25 scorer.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	syncerrors "airweave.dev/syncengine/errors"
)

// nativeModel picks the OpenAI model whose native output covers
// vectorSize and returns that model, its native output size, and whether
// vectorSize is supported at all; callers compare vectorSize with the
// native size to decide whether to request a truncated (Matryoshka-style)
// dimension count (spec.md §4.8).
func nativeModel(vectorSize int) (model string, native int, ok bool) {
	switch {
	case vectorSize == 3072:
		return "text-embedding-3-large", 3072, true
	case vectorSize == 1536:
		return "text-embedding-3-small", 1536, true
	case vectorSize > 0 && vectorSize < 3072:
		// text-embedding-3-large supports truncating its output to any
		// smaller dimension count via the API's "dimensions" parameter.
		return "text-embedding-3-large", 3072, true
	default:
		return "", 0, false
	}
}

const (
	maxTextsPerRequest  = 2048
	maxTokensPerRequest = 300_000
	maxInFlight         = 10
)

// DenseConfig configures a Dense embedder instance.
type DenseConfig struct {
	APIKey     string
	BaseURL    string // defaults to https://api.openai.com/v1
	VectorSize int
}

// Dense is the process-wide singleton OpenAI-shaped embedder (spec.md §4.8).
// Construct one per process and share it; it holds its own in-flight
// semaphore.
type Dense struct {
	cfg       DenseConfig
	model     string
	truncated bool
	client    *http.Client
	sem       chan struct{}
}

// NewDense builds a Dense embedder, picking the model from cfg.VectorSize.
// An unrecognized vector size is a configuration error the caller must fix
// before the first sync, so NewDense returns an error rather than
// defaulting silently.
func NewDense(cfg DenseConfig) (*Dense, error) {
	model, native, ok := nativeModel(cfg.VectorSize)
	if !ok {
		return nil, fmt.Errorf("embed: no dense model for vector_size %d", cfg.VectorSize)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Dense{
		cfg:       cfg,
		model:     model,
		truncated: cfg.VectorSize != native,
		client:    &http.Client{Timeout: 60 * time.Second},
		sem:       make(chan struct{}, maxInFlight),
	}, nil
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedBatch embeds texts, splitting recursively to respect the per-request
// text-count and token-count limits (spec.md §4.8). Every input must be
// non-empty: an empty string is a programming error upstream (the pipeline
// should never hand an un-built-text entity to the embedder) and raises
// SyncFailureError rather than a zero-vector fallback.
func (d *Dense) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if t == "" {
			return nil, &syncerrors.SyncFailureError{Reason: fmt.Sprintf("embed: empty text at index %d", i)}
		}
	}
	return d.embedBatch(ctx, texts)
}

func (d *Dense) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > maxTextsPerRequest || estimatedTokens(texts) > maxTokensPerRequest {
		mid := len(texts) / 2
		if mid == 0 {
			mid = 1
		}
		left, err := d.embedBatch(ctx, texts[:mid])
		if err != nil {
			return nil, err
		}
		right, err := d.embedBatch(ctx, texts[mid:])
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	vectors, err := d.request(ctx, texts)
	if err != nil {
		// A single oversize text or a transient non-retryable API error
		// should not kill the whole sync (spec.md §4.8): fall back to
		// zero-vectors for this batch rather than propagating.
		zeros := make([][]float32, len(texts))
		for i := range zeros {
			zeros[i] = make([]float32, d.cfg.VectorSize)
		}
		return zeros, nil
	}
	return vectors, nil
}

func (d *Dense) request(ctx context.Context, texts []string) ([][]float32, error) {
	req := embeddingRequest{Model: d.model, Input: texts}
	if d.truncated {
		req.Dimensions = d.cfg.VectorSize
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: unexpected status %s", resp.Status)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	vectors := make([][]float32, len(texts))
	for _, item := range out.Data {
		if item.Index < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}
	return vectors, nil
}

// estimatedTokens sums a cheap per-text token estimate (see chunker's
// identical rule-of-thumb) to decide whether a batch must split further.
func estimatedTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		n := len(t) / 4
		if n == 0 && len(t) > 0 {
			n = 1
		}
		total += n
	}
	return total
}
