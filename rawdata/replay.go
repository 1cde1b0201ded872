package rawdata

import (
	"context"
	"fmt"

	"airweave.dev/syncengine/entity"
)

// ReplayEntity is one archived entity handed back by a replay iterator,
// with its attached file body (if any) available to stream without a
// second round trip.
type ReplayEntity struct {
	Entity *entity.Entity
	Open   func(ctx context.Context) (ReplayFile, error) // nil if the entity had no file
}

// ReplayFile is an open handle to an archived file body; callers must
// Close it.
type ReplayFile interface {
	Read(p []byte) (int, error)
	Close() error
}

// Replay reconstructs every archived entity for this sync, in no particular
// order (the manifest is a map), for the sync multiplexer's
// fork(replay_from_arf=true) path (spec.md §4.12): streaming entities
// through the pipeline while bypassing the source driver entirely. For an
// entity with an archived file, ReplayEntity.Open streams that file's body
// from the storage backend; nothing is downloaded to a local path.
func (s *Service) Replay(ctx context.Context, visit func(ReplayEntity) error) error {
	s.mu.Lock()
	entries := make([]ManifestEntry, 0, len(s.manifest.Entries))
	for _, entry := range s.manifest.Entries {
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	for _, entry := range entries {
		e, err := s.getEntity(ctx, entry.EntityID)
		if err != nil {
			return err
		}

		re := ReplayEntity{Entity: e}
		if entry.HasFile {
			safeID := SafeEntityID(entry.EntityID)
			fileName := entry.FileName
			re.Open = func(ctx context.Context) (ReplayFile, error) {
				return s.backend.Get(ctx, s.filePath(safeID, fileName))
			}
		}
		if err := visit(re); err != nil {
			return fmt.Errorf("rawdata: replay entity %s: %w", entry.EntityID, err)
		}
	}
	return nil
}
