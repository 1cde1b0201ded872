// Package contentprocessor implements the C9 content processors (spec.md
// §4.9): the shaping step a destination requests before the entity
// pipeline (C13) writes to it. A processor is the single place that
// decides whether one entity becomes many (Qdrant) or stays 1:1 (Vespa),
// so dedup and counting stay correct downstream.
package contentprocessor

import (
	"context"

	"airweave.dev/syncengine/entity"
)

// Processor shapes one entity for a destination, returning the entities
// that should actually be written. A nil slice with a nil error means the
// entity was dropped (e.g. no TextualRepresentation was built for it, or
// its code chunker reported the language unsupported) rather than failed.
type Processor interface {
	Process(ctx context.Context, e *entity.Entity) ([]*entity.Entity, error)
}

// RawPassthrough is the no-op processor used by archival/storage
// destinations (spec.md §4.9): the entity is written exactly as produced
// by the pipeline's earlier steps, with no chunking or embedding.
type RawPassthrough struct{}

func (RawPassthrough) Process(_ context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	return []*entity.Entity{e}, nil
}

var _ Processor = RawPassthrough{}
