package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"airweave.dev/syncengine/entity"
	syncerrors "airweave.dev/syncengine/errors"
)

// syncRow is the GORM model backing GormSyncStore, mirroring the
// gorm.Model + table-per-struct convention token/gormstore.go uses for
// connection_credentials.
type syncRow struct {
	gorm.Model
	SyncID          string `gorm:"column:sync_id;uniqueIndex"`
	CollectionID    string
	SourceShortName string
	ConnectionID    string
	CursorJSON      string
	OrgRPS          float64
	OrgBurst        int
	SourceRPS       float64
	SourceBurst     int
}

func (syncRow) TableName() string { return "syncs" }

// destinationSlotRow persists entity.DestinationSlot rows, one per Sync.
type destinationSlotRow struct {
	gorm.Model
	SlotID          string `gorm:"column:slot_id;uniqueIndex"`
	SyncID          string `gorm:"index"`
	DestinationType string
	Endpoint        string
	CollectionRef   string
	State           string
}

func (destinationSlotRow) TableName() string { return "destination_slots" }

// GormSyncStore persists Sync configuration in Postgres, grounded on
// token/gormstore.go's Store shape, and supplies orchestrator.SyncLookup so
// a syncworker process can resolve a task queue's bare sync_id into the
// full entity.Sync the orchestrator needs to build a job (spec.md §3, §4.14).
type GormSyncStore struct {
	db *gorm.DB
}

// NewGormSyncStore opens dsn and migrates the syncs/destination_slots tables.
func NewGormSyncStore(dsn string) (*GormSyncStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&syncRow{}, &destinationSlotRow{}); err != nil {
		return nil, fmt.Errorf("orchestrator: migrate sync tables: %w", err)
	}
	return &GormSyncStore{db: db}, nil
}

// Lookup implements orchestrator.SyncLookup, resolving one Sync by ID along
// with its destination slots.
func (s *GormSyncStore) Lookup(ctx context.Context, syncID string) (entity.Sync, error) {
	var row syncRow
	result := s.db.WithContext(ctx).Where("sync_id = ?", syncID).First(&row)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return entity.Sync{}, fmt.Errorf("orchestrator: sync %s: %w", syncID, syncerrors.ErrNotFound)
		}
		return entity.Sync{}, result.Error
	}

	var slotRows []destinationSlotRow
	if err := s.db.WithContext(ctx).Where("sync_id = ?", syncID).Find(&slotRows).Error; err != nil {
		return entity.Sync{}, fmt.Errorf("orchestrator: load destination slots for sync %s: %w", syncID, err)
	}

	var cursor entity.Cursor
	if row.CursorJSON != "" {
		if err := json.Unmarshal([]byte(row.CursorJSON), &cursor); err != nil {
			return entity.Sync{}, fmt.Errorf("orchestrator: decode cursor for sync %s: %w", syncID, err)
		}
	}

	slots := make([]entity.DestinationSlot, 0, len(slotRows))
	for _, sr := range slotRows {
		slots = append(slots, entity.DestinationSlot{
			ID:              sr.SlotID,
			SyncID:          sr.SyncID,
			DestinationType: sr.DestinationType,
			Endpoint:        sr.Endpoint,
			CollectionRef:   sr.CollectionRef,
			State:           entity.MultiplexState(sr.State),
		})
	}

	return entity.Sync{
		ID:              row.SyncID,
		CollectionID:    row.CollectionID,
		SourceShortName: row.SourceShortName,
		ConnectionID:    row.ConnectionID,
		Cursor:          cursor,
		RateLimit: entity.RateLimitConfig{
			OrgRequestsPerSecond:    row.OrgRPS,
			OrgBurst:                row.OrgBurst,
			SourceRequestsPerSecond: row.SourceRPS,
			SourceBurst:             row.SourceBurst,
		},
		Destinations: slots,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// Save upserts sync's configuration row, called when a collection's sync is
// created or its cursor/rate-limit settings change.
func (s *GormSyncStore) Save(ctx context.Context, sync entity.Sync) error {
	cursorJSON, err := json.Marshal(sync.Cursor)
	if err != nil {
		return fmt.Errorf("orchestrator: encode cursor for sync %s: %w", sync.ID, err)
	}
	row := syncRow{
		SyncID:          sync.ID,
		CollectionID:    sync.CollectionID,
		SourceShortName: sync.SourceShortName,
		ConnectionID:    sync.ConnectionID,
		CursorJSON:      string(cursorJSON),
		OrgRPS:          sync.RateLimit.OrgRequestsPerSecond,
		OrgBurst:        sync.RateLimit.OrgBurst,
		SourceRPS:       sync.RateLimit.SourceRequestsPerSecond,
		SourceBurst:     sync.RateLimit.SourceBurst,
	}
	return s.db.WithContext(ctx).
		Where("sync_id = ?", sync.ID).
		Assign(row).
		FirstOrCreate(&syncRow{}, syncRow{SyncID: sync.ID}).Error
}
