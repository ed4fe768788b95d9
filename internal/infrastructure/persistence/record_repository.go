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

// GormRecordRepository implements RecordRepository using GORM
type GormRecordRepository struct {
	db *gorm.DB
}

// NewGormRecordRepository creates a new GormRecordRepository
func NewGormRecordRepository(db *gorm.DB) *GormRecordRepository {
	return &GormRecordRepository{db: db}
}

// FindByExternalID returns a stored record, nil when unknown
func (r *GormRecordRepository) FindByExternalID(ctx context.Context, integrationID uuid.UUID, entityType integration.EntityType, externalID string) (*integration.ExternalRecord, error) {
	var model models.ExternalRecordModel
	err := r.db.WithContext(ctx).
		Where("integration_id = ? AND entity_type = ? AND external_id = ?", integrationID, entityType, externalID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Upsert writes a record keyed by (integration, entity type, external id)
func (r *GormRecordRepository) Upsert(ctx context.Context, rec *integration.ExternalRecord) error {
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = time.Now().UTC()
	}
	var model models.ExternalRecordModel
	if err := model.FromDomain(rec); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "integration_id"}, {Name: "entity_type"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fields", "external_updated_at", "synced_at"}),
	}).Create(&model).Error
}

// CountByIntegration counts stored records of one entity type
func (r *GormRecordRepository) CountByIntegration(ctx context.Context, integrationID uuid.UUID, entityType integration.EntityType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ExternalRecordModel{}).
		Where("integration_id = ? AND entity_type = ?", integrationID, entityType).
		Count(&count).Error
	return count, err
}

var _ integration.RecordRepository = (*GormRecordRepository)(nil)
