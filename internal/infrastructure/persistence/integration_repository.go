package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormIntegrationRepository implements IntegrationRepository using GORM
type GormIntegrationRepository struct {
	db *gorm.DB
}

// NewGormIntegrationRepository creates a new GormIntegrationRepository
func NewGormIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

// Save inserts or updates an integration
func (r *GormIntegrationRepository) Save(ctx context.Context, in *integration.Integration) error {
	in.UpdatedAt = time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = in.UpdatedAt
	}
	var model models.IntegrationModel
	model.FromDomain(in)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"base_url", "enabled", "entity_types", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// another integration already owns the platform account
		return fmt.Errorf("%s %s: %w", in.Platform, in.AccountID, shared.ErrAlreadyExists)
	}
	return err
}

// FindByID finds an integration by its ID
func (r *GormIntegrationRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrIntegrationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByAccount finds an integration by platform account, used to route webhooks
func (r *GormIntegrationRepository) FindByAccount(ctx context.Context, platform integration.PlatformCode, accountID string) (*integration.Integration, error) {
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("platform = ? AND account_id = ?", platform, accountID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrIntegrationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindEnabled returns every enabled integration
func (r *GormIntegrationRepository) FindEnabled(ctx context.Context) ([]*integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*integration.Integration, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// FindByTenant returns the integrations of a tenant, oldest first
func (r *GormIntegrationRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*integration.Integration, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ integration.IntegrationRepository = (*GormIntegrationRepository)(nil)
