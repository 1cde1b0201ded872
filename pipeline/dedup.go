package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"airweave.dev/syncengine/entity"
)

// Decision is the outcome of the dedup step (spec.md §4.13 step 3).
type Decision int

const (
	DecisionInsert Decision = iota
	DecisionKeep
	DecisionUpdate
	DecisionDelete
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionKeep:
		return "keep"
	case DecisionUpdate:
		return "update"
	case DecisionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// DedupIndex is the per-sync persistent index of entity_id -> last-known
// content hash the dedup step looks up (spec.md §4.13 step 3). Implemented
// in-memory here; a production deployment backs this with the same
// relational store as the sync/sync_job tables (spec.md §6).
type DedupIndex struct {
	mu     sync.RWMutex
	hashes map[string]string // entity_id -> hash
}

// NewDedupIndex builds an empty index, used at the start of a full sync.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{hashes: map[string]string{}}
}

// Decide looks up entityID's previous hash and returns the dedup decision,
// recording newHash for future lookups on INSERT/UPDATE (spec.md §4.13 step 3).
func (idx *DedupIndex) Decide(entityID, newHash string) Decision {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, ok := idx.hashes[entityID]
	switch {
	case !ok:
		idx.hashes[entityID] = newHash
		return DecisionInsert
	case prev == newHash:
		return DecisionKeep
	default:
		idx.hashes[entityID] = newHash
		return DecisionUpdate
	}
}

// Forget removes entityID from the index (called on DELETE).
func (idx *DedupIndex) Forget(entityID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.hashes, entityID)
}

// Seen reports every entity_id the index currently tracks.
func (idx *DedupIndex) Seen() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, 0, len(idx.hashes))
	for id := range idx.hashes {
		ids = append(ids, id)
	}
	return ids
}

// hashableSnapshot is the JSON shape hashed for change detection: every
// field entity.Flags does not mark Unhashable for this entity_type
// (spec.md §4.13 step 2, "fields flagged unhashable=True are excluded").
type hashableSnapshot struct {
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	File       *entity.FileFields     `json:"file,omitempty"`
	Code       *entity.CodeFileFields `json:"code,omitempty"`
}

// ComputeHash hashes e's hashable fields, excluding any Properties key
// entity.Flags(entityType, key).Unhashable marks volatile (e.g. a signed
// download URL that changes on every list call without the content
// actually changing).
func ComputeHash(e *entity.Entity) (string, error) {
	snap := hashableSnapshot{Name: e.Name}

	if len(e.Properties) > 0 {
		snap.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			if entity.Flags(e.SystemMetadata.EntityType, k).Unhashable {
				continue
			}
			snap.Properties[k] = v
		}
	}

	if e.File != nil && !entity.Flags(e.SystemMetadata.EntityType, "url").Unhashable {
		snap.File = e.File
	}
	snap.Code = e.Code

	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("pipeline: marshal hashable snapshot for %s: %w", e.EntityID, err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// stampEnrichment fills source_name/sync_id/sync_job_id/entity_type
// (spec.md §4.13 step 1).
func stampEnrichment(e *entity.Entity, sourceName, syncID, syncJobID, entityType string) {
	e.SystemMetadata.SourceName = sourceName
	e.SystemMetadata.SyncID = syncID
	e.SystemMetadata.SyncJobID = syncJobID
	e.SystemMetadata.EntityType = entityType
}
