package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCredentialRepository implements CredentialRepository using GORM.
// Only ciphertext reaches the database.
type GormCredentialRepository struct {
	db *gorm.DB
}

// NewGormCredentialRepository creates a new GormCredentialRepository
func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db}
}

// Upsert inserts or replaces the credential of an integration
func (r *GormCredentialRepository) Upsert(ctx context.Context, c *integration.Credential) error {
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	var model models.CredentialModel
	model.FromDomain(c)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "integration_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type", "key_id", "encrypted_payload",
			"access_token_expires_at", "refresh_token_expires_at", "updated_at",
		}),
	}).Create(&model).Error
}

// FindByIntegration returns the credential of an integration
func (r *GormCredentialRepository) FindByIntegration(ctx context.Context, integrationID uuid.UUID) (*integration.Credential, error) {
	var model models.CredentialModel
	if err := r.db.WithContext(ctx).First(&model, "integration_id = ?", integrationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrCredentialNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// DeleteByIntegration removes the credential of an integration
func (r *GormCredentialRepository) DeleteByIntegration(ctx context.Context, integrationID uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("integration_id = ?", integrationID).Delete(&models.CredentialModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrCredentialNotFound
	}
	return nil
}

var _ integration.CredentialRepository = (*GormCredentialRepository)(nil)
