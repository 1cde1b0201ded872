package source

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	syncerrors "airweave.dev/syncengine/errors"
)

// connectionConfigRow persists one connection's driver-specific config blob,
// following token/gormstore.go's gorm.Model + table-per-struct convention.
type connectionConfigRow struct {
	gorm.Model
	ConnectionID string `gorm:"uniqueIndex"`
	ConfigJSON   string
}

func (connectionConfigRow) TableName() string { return "connection_configs" }

// GormConfigStore is a Postgres-backed ConfigStore, storing each driver's
// declared config schema as an opaque JSON blob the way Cursor.Data stays
// opaque to everything but the owning driver (entity/cursor.go).
type GormConfigStore struct {
	db *gorm.DB
}

// NewGormConfigStore opens dsn and migrates the connection_configs table.
func NewGormConfigStore(dsn string) (*GormConfigStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("source: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&connectionConfigRow{}); err != nil {
		return nil, fmt.Errorf("source: migrate connection_configs table: %w", err)
	}
	return &GormConfigStore{db: db}, nil
}

// Get implements ConfigStore.
func (s *GormConfigStore) Get(ctx context.Context, connectionID string) (map[string]any, error) {
	var row connectionConfigRow
	result := s.db.WithContext(ctx).Where("connection_id = ?", connectionID).First(&row)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("source: connection %s: %w", connectionID, syncerrors.ErrNotFound)
		}
		return nil, result.Error
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(row.ConfigJSON), &cfg); err != nil {
		return nil, fmt.Errorf("source: decode config for connection %s: %w", connectionID, err)
	}
	return cfg, nil
}

// Save upserts connectionID's config blob.
func (s *GormConfigStore) Save(ctx context.Context, connectionID string, cfg map[string]any) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("source: encode config for connection %s: %w", connectionID, err)
	}
	row := connectionConfigRow{ConnectionID: connectionID, ConfigJSON: string(data)}
	return s.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Assign(row).
		FirstOrCreate(&connectionConfigRow{}, connectionConfigRow{ConnectionID: connectionID}).Error
}

var _ ConfigStore = (*GormConfigStore)(nil)
