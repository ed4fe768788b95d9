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

// GormWebhookEventRepository implements WebhookEventRepository using GORM.
// Uniqueness of event_id is enforced by the database.
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewGormWebhookEventRepository creates a new GormWebhookEventRepository
func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// CreateIfAbsent inserts the event unless one with the same event id exists
func (r *GormWebhookEventRepository) CreateIfAbsent(ctx context.Context, e *integration.WebhookEvent) (bool, error) {
	var model models.WebhookEventModel
	model.FromDomain(e)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindByEventID finds an event by its provider event id
func (r *GormWebhookEventRepository) FindByEventID(ctx context.Context, eventID string) (*integration.WebhookEvent, error) {
	var model models.WebhookEventModel
	if err := r.db.WithContext(ctx).First(&model, "event_id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrWebhookEventNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindPending returns pending events, oldest first
func (r *GormWebhookEventRepository) FindPending(ctx context.Context, limit int) ([]*integration.WebhookEvent, error) {
	var rows []models.WebhookEventModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", integration.WebhookEventStatusPending).
		Order("received_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*integration.WebhookEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// RecordAttempt increments the attempt counter of a pending event
func (r *GormWebhookEventRepository) RecordAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	result := r.db.WithContext(ctx).Model(&models.WebhookEventModel{}).
		Where("id = ? AND status = ?", id, integration.WebhookEventStatusPending).
		Updates(map[string]any{
			"attempts": gorm.Expr("attempts + 1"),
			"error":    lastError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.notPending(ctx, id)
	}
	return nil
}

// Settle moves a pending event to a final status exactly once
func (r *GormWebhookEventRepository) Settle(ctx context.Context, id uuid.UUID, status integration.WebhookEventStatus, lastError string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.WebhookEventModel{}).
		Where("id = ? AND status = ?", id, integration.WebhookEventStatusPending).
		Updates(map[string]any{
			"status":       status,
			"error":        lastError,
			"processed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.notPending(ctx, id)
	}
	return nil
}

func (r *GormWebhookEventRepository) notPending(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.WebhookEventModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return integration.ErrWebhookEventNotFound
	}
	return integration.ErrWebhookAlreadySettled
}

var _ integration.WebhookEventRepository = (*GormWebhookEventRepository)(nil)
