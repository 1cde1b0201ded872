// Package entity defines the open sum type of records the sync engine moves
// through its pipeline (spec §3), plus the field-level metadata table (spec
// §9 "Field-level metadata") that the text builder and hasher consume.
package entity

import (
	"strconv"
	"time"
)

// Entity is the common header every source-specific variant embeds. Rather
// than a class hierarchy, variants are modeled as a tagged struct: Kind
// selects which of the optional payload fields are meaningful, and Properties
// carries whatever a schema-free source attaches beyond its typed fields.
type Entity struct {
	Kind EntityKind

	EntityID    string
	Breadcrumbs []Breadcrumb

	Name      string
	CreatedAt *time.Time
	UpdatedAt *time.Time

	// TextualRepresentation is nil until the text builder (C6) sets it.
	// Required before the embedder (C8) will accept the entity.
	TextualRepresentation *string

	SystemMetadata SystemMetadata

	// Properties carries schema-free fields for sources without a fixed
	// native shape (e.g. a HubSpot custom object property bag).
	Properties map[string]any

	File       *FileFields
	Code       *CodeFileFields
	Deletion   *DeletionFields
	Polymorphic *PolymorphicFields

	// Vespa is set by the Vespa content processor (C9) when it shapes an
	// entity for a single-document, array-of-chunks destination instead of
	// fanning it out into child entities the way the Qdrant processor does.
	Vespa *VespaFields
}

// VespaFields holds the per-chunk arrays the Vespa content processor packs
// into one document (spec §4.9): chunk texts, bf16-rounded large (native
// dimension) embeddings, and binary-quantized small embeddings used for a
// cheap first ANN pass.
type VespaFields struct {
	ChunkTexts   []string
	LargeVectors [][]float32
	SmallVectors [][]byte
}

// EntityKind tags which optional payload is populated.
type EntityKind int

const (
	KindPlain EntityKind = iota
	KindFile
	KindCodeFile
	KindDeletion
	KindPolymorphic
)

// Breadcrumb is one ancestor reference giving hierarchical context at
// search time (spec GLOSSARY).
type Breadcrumb struct {
	EntityID string
	Name     string
}

// SystemMetadata is progressively filled by the pipeline (spec §3).
type SystemMetadata struct {
	SourceName string
	SyncID     string
	SyncJobID  string
	EntityType string

	// Hash is the content hash used for change detection (§4.13 step 2).
	Hash string

	// ChunkIndex/OriginalEntityID are set when an entity is fanned out into
	// chunks by a content processor (C9); see §9 "Chunk-ID scheme".
	ChunkIndex       *int
	OriginalEntityID *string

	Vectors []Vector

	DBEntityID  string
	DBCreatedAt *time.Time
	DBUpdatedAt *time.Time
}

// VectorKind distinguishes dense (OpenAI) from sparse (BM25) vectors.
type VectorKind int

const (
	VectorDense VectorKind = iota
	VectorSparse
)

// Vector holds one embedding. Dense vectors carry Values; sparse vectors
// carry parallel Indices/Values pairs (spec §4.8).
type Vector struct {
	Kind    VectorKind
	Values  []float32
	Indices []uint32 // sparse only
}

// FileEntity fields (spec §3).
type FileFields struct {
	URL       string
	Size      int64
	MimeType  string
	LocalPath string
}

// CodeFileEntity fields (spec §3).
type CodeFileFields struct {
	RepoOwner  string
	PathInRepo string
	Language   string
	CommitID   string
}

// DeletionEntity fields (spec §3).
type DeletionFields struct {
	DeletionStatus string
}

// PolymorphicEntity fields (spec §3), used by table/row-shaped sources
// (e.g. Postgres CDC).
type PolymorphicFields struct {
	TableName         string
	SchemaName        string
	PrimaryKeyColumns []string
}

// IsDeletion reports whether this entity should be routed to destination
// deletes instead of inserts (§4.13 step 3).
func (e *Entity) IsDeletion() bool {
	return e.Kind == KindDeletion
}

// ChunkChildID builds the entity_id used for a chunk fanned out by the
// Qdrant content processor: parent + "#chunk_" + i (spec §9).
func ChunkChildID(parentEntityID string, index int) string {
	return parentEntityID + "#chunk_" + strconv.Itoa(index)
}
