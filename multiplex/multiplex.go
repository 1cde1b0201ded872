package multiplex

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"airweave.dev/syncengine/entity"
)

// ReplayRunner starts a job that streams entities from the raw-data
// service through the pipeline into a newly-forked destination, reusing
// every transformation stage but bypassing the source driver entirely
// (spec.md §4.12 fork's replay_from_arf path). Defined here rather than
// imported from a concrete package to avoid multiplex depending on
// orchestrator/pipeline; the orchestrator supplies the implementation.
type ReplayRunner interface {
	RunReplay(ctx context.Context, syncID string, slot entity.DestinationSlot) (jobID string, err error)
}

// SourceResyncer starts a full sync with force_full_sync=true so the raw
// store is refreshed before a fork (spec.md §4.12 resync_from_source).
// Like ReplayRunner, this is the orchestrator's concern; multiplex only
// calls it.
type SourceResyncer interface {
	TriggerFullSync(ctx context.Context, syncID string) (jobID string, err error)
}

// Multiplexer is the C12 state machine over a sync's destination slots.
type Multiplexer struct {
	store    *Store
	replay   ReplayRunner
	resyncer SourceResyncer
}

// New builds a Multiplexer. replay/resyncer may be nil if the caller never
// exercises Fork(replayFromARF=true) or ResyncFromSource.
func New(store *Store, replay ReplayRunner, resyncer SourceResyncer) *Multiplexer {
	return &Multiplexer{store: store, replay: replay, resyncer: resyncer}
}

// Fork creates a new SHADOW slot for destConn and, if replayFromARF is
// true, starts a replay job streaming archived entities into it (spec.md
// §4.12). It validates that no existing non-deprecated slot already
// targets the same destination connection.
func (m *Multiplexer) Fork(ctx context.Context, syncID string, destConn entity.DestinationSlot, replayFromARF bool) (entity.DestinationSlot, *string, error) {
	var created entity.DestinationSlot
	err := m.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&slotRow{}).
			Where("sync_id = ? AND connection_id = ? AND role != ?", syncID, destConn.ID, string(entity.SlotDeprecated)).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSlotConflict
		}

		destConn.SyncID = syncID
		destConn.State = entity.SlotShadow
		destConn.PromotedAt = nil
		slot, err := createSlot(tx, destConn)
		if err != nil {
			return err
		}
		created = slot
		return nil
	})
	if err != nil {
		return entity.DestinationSlot{}, nil, fmt.Errorf("multiplex: fork sync %s: %w", syncID, err)
	}

	if !replayFromARF {
		return created, nil, nil
	}
	if m.replay == nil {
		return created, nil, fmt.Errorf("multiplex: fork requested replay but no ReplayRunner is configured")
	}
	jobID, err := m.replay.RunReplay(ctx, syncID, created)
	if err != nil {
		return created, nil, fmt.Errorf("multiplex: start replay for sync %s: %w", syncID, err)
	}
	return created, &jobID, nil
}

// Switch atomically promotes newSlotID's slot to ACTIVE and demotes the
// prior ACTIVE slot to DEPRECATED, preserving the exactly-one-ACTIVE-slot
// invariant under concurrent calls via a single DB transaction (spec.md
// §4.12, testable property 5). newSlotID is a DestinationSlot.ID as
// returned by ListDestinations/Fork, i.e. the slot's own row identity, not
// the destination connection's ID.
func (m *Multiplexer) Switch(ctx context.Context, syncID, newSlotID string) error {
	return m.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		if err := tx.Model(&slotRow{}).
			Where("sync_id = ? AND role = ?", syncID, string(entity.SlotActive)).
			Update("role", string(entity.SlotDeprecated)).Error; err != nil {
			return err
		}

		result := tx.Model(&slotRow{}).
			Where("sync_id = ? AND id = ?", syncID, newSlotID).
			Updates(map[string]any{"role": string(entity.SlotActive), "promoted_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("multiplex: no slot %s found for sync %s", newSlotID, syncID)
		}
		return nil
	})
}

// ResyncFromSource forces a full sync so the raw store is refreshed ahead
// of a fork (spec.md §4.12).
func (m *Multiplexer) ResyncFromSource(ctx context.Context, syncID string) (jobID string, err error) {
	if m.resyncer == nil {
		return "", fmt.Errorf("multiplex: resync requested but no SourceResyncer is configured")
	}
	return m.resyncer.TriggerFullSync(ctx, syncID)
}

// ListDestinations returns syncID's slots ordered ACTIVE, SHADOW,
// DEPRECATED (spec.md §4.12).
func (m *Multiplexer) ListDestinations(ctx context.Context, syncID string) ([]entity.DestinationSlot, error) {
	return m.store.ListSlots(ctx, syncID)
}
