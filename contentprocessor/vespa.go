package contentprocessor

import (
	"context"
	"fmt"

	"airweave.dev/syncengine/chunker"
	"airweave.dev/syncengine/embed"
	"airweave.dev/syncengine/entity"
)

// VespaChunkEmbed keeps one entity 1:1 and packs its chunks, bf16-rounded
// large embeddings, and binary-quantized small embeddings into arrays on
// the single returned document (spec.md §4.9) — unlike QdrantChunkEmbed,
// nothing is fanned out into child entities.
type VespaChunkEmbed struct {
	Semantic *chunker.Semantic
	Code     *chunker.Code
	Dense    *embed.Dense // must be configured with VectorSize: 768
}

func (p *VespaChunkEmbed) Process(ctx context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	if e.TextualRepresentation == nil {
		return nil, nil
	}

	var chunks []chunker.Chunk
	var err error
	if e.Kind == entity.KindCodeFile && e.Code != nil {
		var ok bool
		chunks, ok, err = p.Code.ChunkFile(e.Code.PathInRepo, []byte(*e.TextualRepresentation))
		if err != nil {
			return nil, fmt.Errorf("contentprocessor: chunk entity %s: %w", e.EntityID, err)
		}
		if !ok {
			return nil, nil
		}
	} else {
		results, err := p.Semantic.ChunkBatch([]string{*e.TextualRepresentation})
		if err != nil {
			return nil, fmt.Errorf("contentprocessor: chunk entity %s: %w", e.EntityID, err)
		}
		chunks = results[0]
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.Dense.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("contentprocessor: dense embed entity %s: %w", e.EntityID, err)
	}

	large := make([][]float32, len(vectors))
	small := make([][]byte, len(vectors))
	for i, v := range vectors {
		large[i] = roundBFloat16Vector(v)
		small[i] = packBinary(v)
	}

	out := cloneEntity(e)
	out.Vespa = &entity.VespaFields{
		ChunkTexts:   texts,
		LargeVectors: large,
		SmallVectors: small,
	}
	return []*entity.Entity{out}, nil
}

var _ Processor = (*VespaChunkEmbed)(nil)
