package integration

import (
	"context"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateIntegrationInput is the input of IntegrationService.Create
type CreateIntegrationInput struct {
	TenantID    uuid.UUID
	Platform    integration.PlatformCode
	AccountID   string
	BaseURL     string
	EntityTypes []integration.EntityType
}

// IntegrationService manages integrations
type IntegrationService struct {
	repo     integration.IntegrationRepository
	registry *PlatformRegistry
	syncs    *SyncService
	logger   *zap.Logger
}

// NewIntegrationService creates a new IntegrationService. syncs may be nil;
// when set, cached orchestrators are dropped on every change.
func NewIntegrationService(repo integration.IntegrationRepository, registry *PlatformRegistry, syncs *SyncService, logger *zap.Logger) *IntegrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntegrationService{repo: repo, registry: registry, syncs: syncs, logger: logger}
}

// Create registers a new integration
func (s *IntegrationService) Create(ctx context.Context, input CreateIntegrationInput) (*integration.Integration, error) {
	if _, err := s.registry.Get(input.Platform); err != nil {
		return nil, err
	}
	in, err := integration.NewIntegration(input.TenantID, input.Platform, input.AccountID, input.EntityTypes)
	if err != nil {
		return nil, err
	}
	if input.BaseURL != "" {
		if !strings.HasPrefix(input.BaseURL, "https://") && !strings.HasPrefix(input.BaseURL, "http://") {
			return nil, integration.NewValidationError("base_url", "must be an http(s) URL")
		}
		in.BaseURL = strings.TrimRight(input.BaseURL, "/")
	}
	if err := s.repo.Save(ctx, in); err != nil {
		return nil, err
	}
	s.logger.Info("Integration created",
		zap.String("integration_id", in.ID.String()),
		zap.String("tenant_id", in.TenantID.String()),
		zap.String("platform", in.Platform.String()),
		zap.String("account_id", in.AccountID))
	return in, nil
}

// Get returns an integration by id
func (s *IntegrationService) Get(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	return s.repo.FindByID(ctx, id)
}

// ListEnabled returns every enabled integration
func (s *IntegrationService) ListEnabled(ctx context.Context) ([]*integration.Integration, error) {
	return s.repo.FindEnabled(ctx)
}

// ListByTenant returns the integrations of a tenant
func (s *IntegrationService) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Integration, error) {
	return s.repo.FindByTenant(ctx, tenantID)
}

// SetEnabled enables or disables scheduled syncs and webhook acceptance
func (s *IntegrationService) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*integration.Integration, error) {
	in, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Enabled == enabled {
		return in, nil
	}
	in.Enabled = enabled
	in.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, in); err != nil {
		return nil, err
	}
	if s.syncs != nil {
		s.syncs.Invalidate(id)
	}
	s.logger.Info("Integration updated",
		zap.String("integration_id", id.String()),
		zap.Bool("enabled", enabled))
	return in, nil
}
