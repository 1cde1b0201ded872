// Package rawdata implements the C11 raw data service (spec.md §4.11):
// a per-sync entity-level archive under "raw/{sync_id}/", used for
// multiplexer replay (C12) and for the stale-entity cleanup an orchestrator
// (C14) runs at the end of a full sync. The JSON-per-entity files under
// storage.Backend remain the source of truth; a CouchDB index (index.go)
// only accelerates IterEntities/manifest-style lookups, mirroring
// db/repository/couchdb.go's kivik wrapper.
package rawdata

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sync"
	"time"

	"airweave.dev/syncengine/entity"
	syncerrors "airweave.dev/syncengine/errors"
	"airweave.dev/syncengine/storage"
)

var unsafeEntityIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeEntityID sanitizes an arbitrary source entity_id into a filesystem-
// and object-key-safe name, suffixing an md5 hash of the original ID to
// avoid collisions between two different IDs that sanitize to the same
// string (spec.md §4.11).
func SafeEntityID(entityID string) string {
	sanitized := unsafeEntityIDChars.ReplaceAllString(entityID, "_")
	if len(sanitized) > 150 {
		sanitized = sanitized[:150]
	}
	sum := md5.Sum([]byte(entityID))
	return fmt.Sprintf("%s_%s", sanitized, hex.EncodeToString(sum[:])[:8])
}

// ManifestEntry tracks one entity's last-known archive state.
type ManifestEntry struct {
	EntityID  string    `json:"entity_id"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
	HasFile   bool      `json:"has_file"`
	FileName  string    `json:"file_name,omitempty"`
}

// Manifest is the per-sync summary persisted at "raw/{sync_id}/manifest.json".
type Manifest struct {
	SyncID  string                   `json:"sync_id"`
	Entries map[string]ManifestEntry `json:"entries"`
}

// entityEnvelope is the on-disk JSON shape for one archived entity: Kind
// records the tagged-union variant, standing in for the "class + module"
// a dynamically-typed original would record, so a replay iterator can
// reconstruct the right entity.Entity shape without guessing.
type entityEnvelope struct {
	Kind   entity.EntityKind `json:"kind"`
	Entity *entity.Entity    `json:"entity"`
}

// Service is the process-wide C11 raw data service for one sync. One
// instance is created per running sync job and discarded at job end; the
// Index (if configured) and storage.Backend outlive it.
type Service struct {
	backend storage.Backend
	index   *Index // optional secondary index; nil disables it
	syncID  string

	mu       sync.Mutex
	manifest Manifest
	dirty    bool

	tracking  bool
	seenInJob map[string]bool
}

// New builds a Service for syncID, loading any existing manifest from
// backend (a fresh sync starts with an empty one).
func New(ctx context.Context, backend storage.Backend, index *Index, syncID string) (*Service, error) {
	s := &Service{
		backend: backend,
		index:   index,
		syncID:  syncID,
		manifest: Manifest{
			SyncID:  syncID,
			Entries: map[string]ManifestEntry{},
		},
	}
	if err := s.loadManifest(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) manifestPath() string {
	return path.Join("raw", s.syncID, "manifest.json")
}

func (s *Service) entityPath(safeID string) string {
	return path.Join("raw", s.syncID, "entities", safeID+".json")
}

func (s *Service) filePath(safeID, name string) string {
	return path.Join("raw", s.syncID, "files", safeID+"_"+name)
}

func (s *Service) loadManifest(ctx context.Context) error {
	r, err := s.backend.Get(ctx, s.manifestPath())
	if err != nil {
		var nf *syncerrors.StorageNotFound
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	defer r.Close()
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return fmt.Errorf("rawdata: decode manifest: %w", err)
	}
	s.mu.Lock()
	s.manifest = m
	if s.manifest.Entries == nil {
		s.manifest.Entries = map[string]ManifestEntry{}
	}
	s.mu.Unlock()
	return nil
}

// FlushManifest persists the manifest's accumulated in-memory deltas. Calls
// to UpsertEntity/DeleteEntity only mutate the in-memory map (spec.md
// §4.11: "updated incrementally (deltas), not rewritten from scratch") —
// the orchestrator calls FlushManifest once, when a job's RunJob returns;
// there is no periodic flush, so until then the deltas exist only in
// memory.
func (s *Service) FlushManifest(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	body, err := json.Marshal(s.manifest)
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rawdata: marshal manifest: %w", err)
	}
	return s.backend.Put(ctx, s.manifestPath(), bytes.NewReader(body), int64(len(body)))
}

// GetManifest returns a snapshot of the current manifest.
func (s *Service) GetManifest() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make(map[string]ManifestEntry, len(s.manifest.Entries))
	for k, v := range s.manifest.Entries {
		entries[k] = v
	}
	return Manifest{SyncID: s.manifest.SyncID, Entries: entries}
}

// UpsertEntity archives e's JSON envelope, updates the manifest entry, and
// (if e carries a downloaded file) copies its body under files/. fileBody
// may be nil for entities with no attached file.
func (s *Service) UpsertEntity(ctx context.Context, e *entity.Entity, fileName string, fileBody []byte) error {
	safeID := SafeEntityID(e.EntityID)

	body, err := json.Marshal(entityEnvelope{Kind: e.Kind, Entity: e})
	if err != nil {
		return fmt.Errorf("rawdata: marshal entity %s: %w", e.EntityID, err)
	}
	if err := s.backend.Put(ctx, s.entityPath(safeID), bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("rawdata: archive entity %s: %w", e.EntityID, err)
	}

	hasFile := fileBody != nil
	if hasFile {
		if err := s.backend.Put(ctx, s.filePath(safeID, fileName), bytes.NewReader(fileBody), int64(len(fileBody))); err != nil {
			return fmt.Errorf("rawdata: archive file for entity %s: %w", e.EntityID, err)
		}
	}

	s.mu.Lock()
	entry := ManifestEntry{
		EntityID:  e.EntityID,
		Hash:      e.SystemMetadata.Hash,
		UpdatedAt: time.Now(),
		HasFile:   hasFile,
	}
	if hasFile {
		entry.FileName = fileName
	}
	s.manifest.Entries[e.EntityID] = entry
	s.dirty = true
	if s.tracking {
		s.seenInJob[e.EntityID] = true
	}
	s.mu.Unlock()

	if s.index != nil {
		if err := s.index.Put(ctx, s.syncID, e.EntityID, body); err != nil {
			return fmt.Errorf("rawdata: index entity %s: %w", e.EntityID, err)
		}
	}
	return nil
}

// DeleteEntity removes one entity's archive (entity JSON, any attached
// file, and its index entry) and drops its manifest entry.
func (s *Service) DeleteEntity(ctx context.Context, entityID string) error {
	safeID := SafeEntityID(entityID)
	s.mu.Lock()
	entry, ok := s.manifest.Entries[entityID]
	delete(s.manifest.Entries, entityID)
	s.dirty = true
	s.mu.Unlock()

	if err := s.backend.Delete(ctx, s.entityPath(safeID)); err != nil {
		return fmt.Errorf("rawdata: delete entity %s: %w", entityID, err)
	}
	if ok && entry.HasFile {
		if err := s.backend.Delete(ctx, s.filePath(safeID, entry.FileName)); err != nil {
			return fmt.Errorf("rawdata: delete file for entity %s: %w", entityID, err)
		}
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, entityID); err != nil {
			return fmt.Errorf("rawdata: delete index entry %s: %w", entityID, err)
		}
	}
	return nil
}

// IterEntities visits every archived entity for this sync via visit,
// stopping at the first error visit returns. It prefers the CouchDB index
// when configured (cheap query-by-sync_id) and falls back to the manifest's
// entity-id list, reading each JSON file from storage directly.
func (s *Service) IterEntities(ctx context.Context, visit func(*entity.Entity) error) error {
	if s.index != nil {
		return s.index.ForEach(ctx, s.syncID, func(raw []byte) error {
			var env entityEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("rawdata: decode indexed entity: %w", err)
			}
			return visit(env.Entity)
		})
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.manifest.Entries))
	for id := range s.manifest.Entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		e, err := s.getEntity(ctx, id)
		if err != nil {
			return err
		}
		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) getEntity(ctx context.Context, entityID string) (*entity.Entity, error) {
	safeID := SafeEntityID(entityID)
	r, err := s.backend.Get(ctx, s.entityPath(safeID))
	if err != nil {
		return nil, fmt.Errorf("rawdata: read entity %s: %w", entityID, err)
	}
	defer r.Close()
	var env entityEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("rawdata: decode entity %s: %w", entityID, err)
	}
	return env.Entity, nil
}

// StartSyncTracking begins recording which entity IDs are re-seen during
// this job, so CleanupStaleEntities can find the ones that were not
// (spec.md §4.14's full-sync cleanup). A call while tracking is already on
// leaves the recorded set unchanged.
func (s *Service) StartSyncTracking() {
	s.mu.Lock()
	if s.tracking {
		s.mu.Unlock()
		return
	}
	s.tracking = true
	s.seenInJob = map[string]bool{}
	s.mu.Unlock()
}

// CleanupStaleEntities deletes every archived entity that StartSyncTracking
// was recording for but that was never re-seen via UpsertEntity during this
// job — the full-sync cleanup path from spec.md §4.11/§4.14.
func (s *Service) CleanupStaleEntities(ctx context.Context) (deleted int, err error) {
	s.mu.Lock()
	if !s.tracking {
		s.mu.Unlock()
		return 0, nil
	}
	var stale []string
	for id := range s.manifest.Entries {
		if !s.seenInJob[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		if err := s.DeleteEntity(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
