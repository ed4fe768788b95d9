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

// GormSyncStateRepository implements SyncStateRepository using GORM
type GormSyncStateRepository struct {
	db *gorm.DB
}

// NewGormSyncStateRepository creates a new GormSyncStateRepository
func NewGormSyncStateRepository(db *gorm.DB) *GormSyncStateRepository {
	return &GormSyncStateRepository{db: db}
}

// Get returns the state of one entity type, nil when none was written yet
func (r *GormSyncStateRepository) Get(ctx context.Context, integrationID uuid.UUID, entityType integration.EntityType) (*integration.SyncState, error) {
	var model models.SyncStateModel
	err := r.db.WithContext(ctx).
		Where("integration_id = ? AND entity_type = ?", integrationID, entityType).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Upsert writes the state keyed by (integration, entity type)
func (r *GormSyncStateRepository) Upsert(ctx context.Context, s *integration.SyncState) error {
	s.UpdatedAt = time.Now().UTC()
	var model models.SyncStateModel
	model.FromDomain(s)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "integration_id"}, {Name: "entity_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "last_sync_timestamp", "high_water_mark", "updated_at"}),
	}).Create(&model).Error
}

// ListByIntegration returns every state of an integration
func (r *GormSyncStateRepository) ListByIntegration(ctx context.Context, integrationID uuid.UUID) ([]*integration.SyncState, error) {
	var rows []models.SyncStateModel
	if err := r.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Order("entity_type ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*integration.SyncState, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ integration.SyncStateRepository = (*GormSyncStateRepository)(nil)
