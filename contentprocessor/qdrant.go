package contentprocessor

import (
	"context"
	"fmt"

	"airweave.dev/syncengine/chunker"
	"airweave.dev/syncengine/embed"
	"airweave.dev/syncengine/entity"
)

// QdrantChunkEmbed fans one entity out into N child entities, one per
// chunk, suffixed "…#chunk_{i}" with OriginalEntityID preserved so a later
// update can bulk_delete_by_parent (spec.md §4.9, §4.10). Each child
// carries both a dense and a sparse vector.
type QdrantChunkEmbed struct {
	Semantic *chunker.Semantic
	Code     *chunker.Code
	Dense    *embed.Dense
	Sparse   *embed.Sparse
}

func (p *QdrantChunkEmbed) Process(ctx context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	if e.TextualRepresentation == nil {
		// A failed or unsupported text conversion drops the entity from
		// the embedding stage entirely (spec.md §4.6).
		return nil, nil
	}

	chunks, ok, err := p.chunk(e)
	if err != nil {
		return nil, fmt.Errorf("contentprocessor: chunk entity %s: %w", e.EntityID, err)
	}
	if !ok || len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	dense, err := p.Dense.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("contentprocessor: dense embed entity %s: %w", e.EntityID, err)
	}
	sparse, err := p.Sparse.EmbedBatch(texts)
	if err != nil {
		return nil, fmt.Errorf("contentprocessor: sparse embed entity %s: %w", e.EntityID, err)
	}

	out := make([]*entity.Entity, len(chunks))
	for i, c := range chunks {
		child := cloneEntity(e)
		index := i
		text := c.Text
		child.EntityID = entity.ChunkChildID(e.EntityID, i)
		child.TextualRepresentation = &text
		child.SystemMetadata.ChunkIndex = &index
		original := e.EntityID
		child.SystemMetadata.OriginalEntityID = &original
		child.SystemMetadata.Vectors = []entity.Vector{
			{Kind: entity.VectorDense, Values: dense[i]},
			{Kind: entity.VectorSparse, Indices: sparse[i].Indices, Values: sparse[i].Values},
		}
		out[i] = child
	}
	return out, nil
}

// chunk picks the code chunker for code-file entities (so unsupported
// languages are skipped, not failed) and the semantic chunker otherwise.
func (p *QdrantChunkEmbed) chunk(e *entity.Entity) ([]chunker.Chunk, bool, error) {
	if e.Kind == entity.KindCodeFile && e.Code != nil {
		filename := e.Code.PathInRepo
		return p.Code.ChunkFile(filename, []byte(*e.TextualRepresentation))
	}
	results, err := p.Semantic.ChunkBatch([]string{*e.TextualRepresentation})
	if err != nil {
		return nil, false, err
	}
	return results[0], true, nil
}

func cloneEntity(e *entity.Entity) *entity.Entity {
	clone := *e
	return &clone
}

var _ Processor = (*QdrantChunkEmbed)(nil)
