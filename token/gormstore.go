package token

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	syncerrors "airweave.dev/syncengine/errors"
)

// credentialRow is the GORM model backing Store, following the teacher's
// gorm.Model + table-per-struct convention (db/postgres.go).
type credentialRow struct {
	gorm.Model
	ConnectionID string `gorm:"uniqueIndex"`
	Mode         int
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	IDToken      string
}

func (credentialRow) TableName() string { return "connection_credentials" }

// GormStore persists Credential rows in Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a connection to dsn and migrates the credentials table.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("token: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&credentialRow{}); err != nil {
		return nil, fmt.Errorf("token: migrate credentials table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, connectionID string) (Credential, error) {
	var row credentialRow
	result := s.db.WithContext(ctx).Where("connection_id = ?", connectionID).First(&row)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return Credential{}, fmt.Errorf("token: connection %s: %w", connectionID, syncerrors.ErrNotFound)
		}
		return Credential{}, result.Error
	}
	return Credential{
		ConnectionID: row.ConnectionID,
		Mode:         RefreshMode(row.Mode),
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAt,
		IDToken:      row.IDToken,
	}, nil
}

func (s *GormStore) Save(ctx context.Context, cred Credential) error {
	row := credentialRow{
		ConnectionID: cred.ConnectionID,
		Mode:         int(cred.Mode),
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		IDToken:      cred.IDToken,
	}
	return s.db.WithContext(ctx).
		Where("connection_id = ?", cred.ConnectionID).
		Assign(row).
		FirstOrCreate(&credentialRow{}, credentialRow{ConnectionID: cred.ConnectionID}).Error
}

var _ Store = (*GormStore)(nil)
