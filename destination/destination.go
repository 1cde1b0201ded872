// Package destination implements the C10 destinations (spec.md §4.10):
// the write targets an entity pipeline (C13) persists entities to. Every
// implementation owns its own schema/collection provisioning and declares
// the content processor (C9) it needs shaping done by.
package destination

import (
	"context"

	"airweave.dev/syncengine/contentprocessor"
	"airweave.dev/syncengine/entity"
)

// Destination is the minimum contract from spec.md §4.10. BulkUpsert is
// idempotent by EntityID; BulkDeleteByParent removes every chunk fanned
// out from the given original entity IDs (used on the UPDATE path, where
// old chunks must be deleted before new ones write — spec.md §4.13 step 3).
type Destination interface {
	BulkUpsert(ctx context.Context, entities []*entity.Entity) error
	BulkDelete(ctx context.Context, entityIDs []string) error
	BulkDeleteByParent(ctx context.Context, parentEntityIDs []string) error
	HasKeywordIndex() bool
	GetContentProcessor() contentprocessor.Processor
}

// Credentials carries whatever bearer/API-key material a destination's
// HTTP client needs. Destination-specific settings (host, collection name,
// …) live in each destination's own typed config struct.
type Credentials struct {
	APIKey string
}

// VectorParams is required by any vector destination (spec.md §4.10: "the
// builder validates vector_size must be present for vector destinations").
type VectorParams struct {
	VectorSize int
}
