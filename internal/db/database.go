package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ubuygold/gosparklio/internal/config"
	"github.com/ubuygold/gosparklio/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Service is the persistence layer behind the credential vault and the quota governor.
type Service interface {
	GetDB() *gorm.DB

	// GetCredential returns the stored credential for userID, or nil if there is none.
	GetCredential(ctx context.Context, userID string) (*model.Credential, error)
	// PutCredential inserts or replaces the credential for cred.UserID, keeping CreatedAt of an existing row.
	PutCredential(ctx context.Context, cred *model.Credential) error
	UpdateCredentialStatus(ctx context.Context, userID string, status model.CredentialStatus, reason string) error
	// ReviveCredentials moves every credential in status from back to active.
	ReviveCredentials(ctx context.Context, from model.CredentialStatus) (int64, error)

	// LoadQuota returns the stored state for key and whether it existed.
	LoadQuota(ctx context.Context, key string) (model.QuotaState, bool, error)
	SaveQuota(ctx context.Context, key string, state model.QuotaState) error
	// PurgeQuotaBefore deletes quota records not touched since t.
	PurgeQuotaBefore(ctx context.Context, t time.Time) (int64, error)
}

type service struct {
	db *gorm.DB
}

// NewService opens the database described by cfg and migrates the schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	gdb, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	return &service{db: gdb}, nil
}

// Init initializes the database connection based on the provided configuration.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// A single connection keeps in-memory databases shared and avoids SQLITE_BUSY on writes.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	err = db.AutoMigrate(&model.Credential{}, &model.QuotaRecord{})
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}

func (s *service) GetDB() *gorm.DB {
	return s.db
}

func (s *service) GetCredential(ctx context.Context, userID string) (*model.Credential, error) {
	var cred model.Credential
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &cred, nil
}

func (s *service) PutCredential(ctx context.Context, cred *model.Credential) error {
	if cred.UserID == "" {
		return errors.New("credential user id is empty")
	}
	if cred.Status == "" {
		cred.Status = model.StatusActive
	}
	cred.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "status", "status_reason", "updated_at"}),
	}).Create(cred).Error
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (s *service) UpdateCredentialStatus(ctx context.Context, userID string, status model.CredentialStatus, reason string) error {
	result := s.db.WithContext(ctx).Model(&model.Credential{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"status": status, "status_reason": reason})
	if result.Error != nil {
		return fmt.Errorf("failed to update credential status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("credential not found for status update: %s", userID)
	}
	return nil
}

func (s *service) ReviveCredentials(ctx context.Context, from model.CredentialStatus) (int64, error) {
	result := s.db.WithContext(ctx).Model(&model.Credential{}).
		Where("status = ? AND ciphertext <> ''", from).
		Updates(map[string]any{"status": model.StatusActive, "status_reason": ""})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to revive credentials: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *service) LoadQuota(ctx context.Context, key string) (model.QuotaState, bool, error) {
	var rec model.QuotaRecord
	err := s.db.WithContext(ctx).Where(&model.QuotaRecord{Key: key}).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.QuotaState{}, false, nil
	}
	if err != nil {
		return model.QuotaState{}, false, fmt.Errorf("failed to load quota state for %s: %w", key, err)
	}
	return rec.State, true, nil
}

func (s *service) SaveQuota(ctx context.Context, key string, state model.QuotaState) error {
	if state.Timestamps == nil {
		state.Timestamps = []int64{}
	}
	rec := model.QuotaRecord{Key: key, State: state, UpdatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save quota state for %s: %w", key, err)
	}
	return nil
}

func (s *service) PurgeQuotaBefore(ctx context.Context, t time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("updated_at < ?", t).Delete(&model.QuotaRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge quota records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
