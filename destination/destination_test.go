package destination

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"airweave.dev/syncengine/contentprocessor"
	"airweave.dev/syncengine/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQdrant_RejectsMissingVectorSize(t *testing.T) {
	_, err := NewQdrant(context.Background(), QdrantConfig{BaseURL: "http://unused", Collection: "c"}, contentprocessor.RawPassthrough{})
	assert.Error(t, err)
}

func TestQdrant_BulkUpsert_SendsPointsWithVectors(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q, err := NewQdrant(context.Background(), QdrantConfig{BaseURL: server.URL, Collection: "docs", VectorSize: 4}, contentprocessor.RawPassthrough{})
	require.NoError(t, err)

	original := "parent#chunk_0"
	e := &entity.Entity{
		EntityID: "parent#chunk_0",
		SystemMetadata: entity.SystemMetadata{
			OriginalEntityID: &original,
			Vectors: []entity.Vector{
				{Kind: entity.VectorDense, Values: []float32{0.1, 0.2, 0.3, 0.4}},
				{Kind: entity.VectorSparse, Indices: []uint32{1, 5}, Values: []float32{0.5, 0.9}},
			},
		},
	}

	err = q.BulkUpsert(context.Background(), []*entity.Entity{e})
	require.NoError(t, err)
	require.NotNil(t, captured)
	points := captured["points"].([]any)
	require.Len(t, points, 1)
}

func TestQdrant_GetContentProcessor_ReturnsConfigured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	proc := contentprocessor.RawPassthrough{}
	q, err := NewQdrant(context.Background(), QdrantConfig{BaseURL: server.URL, Collection: "docs", VectorSize: 4}, proc)
	require.NoError(t, err)
	assert.Equal(t, proc, q.GetContentProcessor())
	assert.True(t, q.HasKeywordIndex())
}

func TestVespa_BulkUpsert_FeedsDocument(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	v := NewVespa(VespaConfig{BaseURL: server.URL, Namespace: "ns", DocumentType: "doc"}, contentprocessor.RawPassthrough{})
	text := "hello"
	e := &entity.Entity{
		EntityID:              "e1",
		TextualRepresentation: &text,
		Vespa: &entity.VespaFields{
			ChunkTexts:   []string{"hello"},
			LargeVectors: [][]float32{{0.1, 0.2}},
			SmallVectors: [][]byte{{0xFF}},
		},
	}

	err := v.BulkUpsert(context.Background(), []*entity.Entity{e})
	require.NoError(t, err)
	assert.Contains(t, gotPath, "/document/v1/ns/doc/docid/e1")
}

func TestVespa_BulkDeleteByParent_IsNoOp(t *testing.T) {
	v := NewVespa(VespaConfig{BaseURL: "http://unused"}, contentprocessor.RawPassthrough{})
	err := v.BulkDeleteByParent(context.Background(), []string{"p1"})
	assert.NoError(t, err)
}
