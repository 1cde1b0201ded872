package contentprocessor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"airweave.dev/syncengine/chunker"
	"airweave.dev/syncengine/embed"
	"airweave.dev/syncengine/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func denseEmbeddingServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type datum struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data []datum `json:"data"`
		}{}
		for i := range req.Input {
			v := make([]float32, dims)
			for j := range v {
				v[j] = float32(i + 1)
			}
			resp.Data = append(resp.Data, datum{Embedding: v, Index: i})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestRawPassthrough_ReturnsEntityUnchanged(t *testing.T) {
	e := &entity.Entity{EntityID: "e1"}
	out, err := RawPassthrough{}.Process(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Same(t, e, out[0])
}

func TestQdrantChunkEmbed_FansOutChunksWithVectors(t *testing.T) {
	server := denseEmbeddingServer(t, 4)
	defer server.Close()

	dense, err := embed.NewDense(embed.DenseConfig{APIKey: "k", BaseURL: server.URL, VectorSize: 1536})
	require.NoError(t, err)

	text := strings.Repeat("Sentence about topic one. ", 30) + strings.Repeat("Sentence about topic two. ", 30)
	e := &entity.Entity{
		EntityID:              "parent-1",
		TextualRepresentation: &text,
	}

	p := &QdrantChunkEmbed{
		Semantic: chunker.NewSemantic(chunker.DefaultSemanticConfig()),
		Code:     chunker.NewCode(chunker.DefaultCodeConfig(), nil),
		Dense:    dense,
		Sparse:   embed.NewSparse(),
	}

	out, err := p.Process(context.Background(), e)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	for i, child := range out {
		assert.Equal(t, entity.ChunkChildID("parent-1", i), child.EntityID)
		require.NotNil(t, child.SystemMetadata.OriginalEntityID)
		assert.Equal(t, "parent-1", *child.SystemMetadata.OriginalEntityID)
		require.NotNil(t, child.SystemMetadata.ChunkIndex)
		assert.Equal(t, i, *child.SystemMetadata.ChunkIndex)
		require.Len(t, child.SystemMetadata.Vectors, 2)
		assert.Equal(t, entity.VectorDense, child.SystemMetadata.Vectors[0].Kind)
		assert.Equal(t, entity.VectorSparse, child.SystemMetadata.Vectors[1].Kind)
	}
}

func TestQdrantChunkEmbed_DropsEntityWithNoText(t *testing.T) {
	p := &QdrantChunkEmbed{
		Semantic: chunker.NewSemantic(chunker.DefaultSemanticConfig()),
		Code:     chunker.NewCode(chunker.DefaultCodeConfig(), nil),
		Dense:    nil,
		Sparse:   nil,
	}
	out, err := p.Process(context.Background(), &entity.Entity{EntityID: "no-text"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestVespaChunkEmbed_KeepsOneToOneWithChunkArrays(t *testing.T) {
	server := denseEmbeddingServer(t, 768)
	defer server.Close()

	dense, err := embed.NewDense(embed.DenseConfig{APIKey: "k", BaseURL: server.URL, VectorSize: 768})
	require.NoError(t, err)

	text := strings.Repeat("Sentence about topic one. ", 30) + strings.Repeat("Sentence about topic two. ", 30)
	e := &entity.Entity{
		EntityID:              "parent-2",
		TextualRepresentation: &text,
	}

	p := &VespaChunkEmbed{
		Semantic: chunker.NewSemantic(chunker.DefaultSemanticConfig()),
		Code:     chunker.NewCode(chunker.DefaultCodeConfig(), nil),
		Dense:    dense,
	}

	out, err := p.Process(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "parent-2", out[0].EntityID)
	require.NotNil(t, out[0].Vespa)
	assert.NotEmpty(t, out[0].Vespa.ChunkTexts)
	assert.Len(t, out[0].Vespa.LargeVectors, len(out[0].Vespa.ChunkTexts))
	for _, small := range out[0].Vespa.SmallVectors {
		assert.Len(t, small, 96)
	}
}

func TestRoundBFloat16_PreservesSign(t *testing.T) {
	assert.Greater(t, roundBFloat16(1.5), float32(0))
	assert.Less(t, roundBFloat16(-1.5), float32(0))
}

func TestPackBinary_SizeMatchesDimensionCount(t *testing.T) {
	v := make([]float32, 768)
	packed := packBinary(v)
	assert.Len(t, packed, 96)
}
