// Package multiplex implements the C12 sync multiplexer (spec.md §4.12):
// the {ACTIVE, SHADOW, DEPRECATED} state machine over a sync's destination
// slots, persisted via gorm against the sync_connection table (spec.md
// §6: "sync_connection{sync_id, connection_id, role, created_at}"),
// grounded on token/gormstore.go's gorm.Model + table-per-struct
// convention (itself grounded on the teacher's db/postgres.go).
package multiplex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"airweave.dev/syncengine/entity"
)

// slotRow is the GORM model backing Store.
type slotRow struct {
	gorm.Model
	SyncID          string `gorm:"index"`
	ConnectionID    string
	DestinationType string
	Endpoint        string
	CollectionRef   string
	Role            string // entity.MultiplexState's string value
	PromotedAt      *time.Time
}

func (slotRow) TableName() string { return "sync_connection" }

func (r slotRow) toSlot() entity.DestinationSlot {
	return entity.DestinationSlot{
		ID:              fmt.Sprintf("%d", r.ID),
		SyncID:          r.SyncID,
		DestinationType: r.DestinationType,
		Endpoint:        r.Endpoint,
		CollectionRef:   r.CollectionRef,
		State:           entity.MultiplexState(r.Role),
		PromotedAt:      r.PromotedAt,
	}
}

// Store is the gorm-backed persistence layer for destination slots.
type Store struct {
	db *gorm.DB
}

// NewStore opens a connection to dsn and migrates the sync_connection table.
func NewStore(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("multiplex: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&slotRow{}); err != nil {
		return nil, fmt.Errorf("multiplex: migrate sync_connection table: %w", err)
	}
	return &Store{db: db}, nil
}

// ListSlots returns every slot for syncID, ordered ACTIVE, SHADOW,
// DEPRECATED (spec.md §4.12 list_destinations).
func (s *Store) ListSlots(ctx context.Context, syncID string) ([]entity.DestinationSlot, error) {
	var rows []slotRow
	order := "CASE role WHEN 'active' THEN 0 WHEN 'shadow' THEN 1 ELSE 2 END"
	if err := s.db.WithContext(ctx).Where("sync_id = ?", syncID).Order(order).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("multiplex: list slots for sync %s: %w", syncID, err)
	}
	out := make([]entity.DestinationSlot, len(rows))
	for i, r := range rows {
		out[i] = r.toSlot()
	}
	return out, nil
}

// createSlot inserts a new slot row within tx (caller controls the
// transaction boundary so Fork can validate uniqueness and insert
// atomically).
func createSlot(tx *gorm.DB, slot entity.DestinationSlot) (entity.DestinationSlot, error) {
	row := slotRow{
		SyncID:          slot.SyncID,
		ConnectionID:    slot.ID,
		DestinationType: slot.DestinationType,
		Endpoint:        slot.Endpoint,
		CollectionRef:   slot.CollectionRef,
		Role:            string(slot.State),
		PromotedAt:      slot.PromotedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		return entity.DestinationSlot{}, err
	}
	return row.toSlot(), nil
}

// ErrSlotConflict is returned by Fork when a slot for the same
// (sync, destination connection) pair already exists and is not
// DEPRECATED.
var ErrSlotConflict = errors.New("multiplex: a non-deprecated slot already exists for this destination connection")
