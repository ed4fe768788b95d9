package integration

import (
	"context"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSyncService(f *fixture, src *fakeSource, metrics SyncMetrics) *SyncService {
	registry := NewPlatformRegistry(&fakeConnector{platform: f.integration.Platform, source: src})
	return NewSyncService(SyncServiceDeps{
		Integrations: f.integrations,
		States:       f.states,
		Processor:    NewRecordProcessor(f.records, nil),
		Credentials:  f.store,
		Registry:     registry,
		Metrics:      metrics,
	}, SyncServiceConfig{
		Orchestrator: OrchestratorConfig{PageSize: 10},
		Retry:        RetryConfig{MaxAttempts: 1},
	}, nil)
}

func TestSyncService_SyncRecordsMetrics(t *testing.T) {
	f := newFixture(t, integration.PlatformCodeShopify)
	f.storeAPIKey(t, "")
	src := &fakeSource{pages: productPages(t, 12, 10, time.Now()), total: 12, failAt: -1}
	metrics := new(mockSyncMetrics)
	metrics.On("RecordSync", mock.Anything, integration.PlatformCodeShopify, mock.MatchedBy(func(r *integration.SyncResult) bool {
		return r.Success && r.ItemsProcessed == 12
	})).Once()
	svc := newTestSyncService(f, src, metrics)

	result, err := svc.Sync(context.Background(), f.integration.ID, integration.EntityTypeProducts, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pages)
	metrics.AssertExpectations(t)

	states, err := svc.States(context.Background(), f.integration.ID)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.NotNil(t, states[0].LastSyncTimestamp)

	assert.Equal(t, BreakerClosed, svc.BreakerStates()[f.integration.ID.String()])
}

func TestSyncService_CachesOrchestrator(t *testing.T) {
	f := newFixture(t, integration.PlatformCodeShopify)
	svc := newTestSyncService(f, &fakeSource{}, nil)
	ctx := context.Background()

	a, err := svc.Orchestrator(ctx, f.integration.ID)
	require.NoError(t, err)
	b, err := svc.Orchestrator(ctx, f.integration.ID)
	require.NoError(t, err)
	assert.Same(t, a, b)

	svc.Invalidate(f.integration.ID)
	c, err := svc.Orchestrator(ctx, f.integration.ID)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestSyncService_Errors(t *testing.T) {
	f := newFixture(t, integration.PlatformCodeShopify)
	svc := newTestSyncService(f, &fakeSource{}, nil)
	ctx := context.Background()

	_, err := svc.Sync(ctx, uuid.New(), integration.EntityTypeProducts, SyncOptions{})
	assert.ErrorIs(t, err, integration.ErrIntegrationNotFound)

	_, err = svc.States(ctx, uuid.New())
	assert.ErrorIs(t, err, integration.ErrIntegrationNotFound)

	f.integration.Enabled = false
	require.NoError(t, f.integrations.Save(ctx, f.integration))
	_, err = svc.SyncAll(ctx, f.integration.ID, SyncOptions{})
	assert.ErrorIs(t, err, integration.ErrIntegrationDisabled)

	other := newFixture(t, integration.PlatformCodeNetSuite)
	svc = newTestSyncService(f, &fakeSource{}, nil)
	svc.deps.Integrations = other.integrations
	_, err = svc.Orchestrator(ctx, other.integration.ID)
	assert.ErrorIs(t, err, integration.ErrUnsupportedPlatform)
}

func TestSyncService_SyncAllRecordsEveryEntityType(t *testing.T) {
	f := newFixture(t, integration.PlatformCodeShopify)
	f.storeAPIKey(t, "")
	src := &fakeSource{pages: productPages(t, 3, 10, time.Now()), total: -1, failAt: -1}
	metrics := new(mockSyncMetrics)
	metrics.On("RecordSync", mock.Anything, integration.PlatformCodeShopify, mock.Anything).Times(3)
	svc := newTestSyncService(f, src, metrics)

	results, err := svc.SyncAll(context.Background(), f.integration.ID, SyncOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	metrics.AssertExpectations(t)
}

func TestIntegrationService(t *testing.T) {
	f := newFixture(t, integration.PlatformCodeShopify)
	registry := NewPlatformRegistry(&fakeConnector{platform: integration.PlatformCodeShopify, source: &fakeSource{}})
	syncs := newTestSyncService(f, &fakeSource{}, nil)
	svc := NewIntegrationService(f.integrations, registry, syncs, nil)
	ctx := context.Background()
	tenant := uuid.New()

	t.Run("create", func(t *testing.T) {
		in, err := svc.Create(ctx, CreateIntegrationInput{
			TenantID:  tenant,
			Platform:  integration.PlatformCodeShopify,
			AccountID: "other.myshopify.com",
			BaseURL:   "https://other.myshopify.com/admin/api/2024-01/",
		})
		require.NoError(t, err)
		assert.True(t, in.Enabled)
		assert.Equal(t, "https://other.myshopify.com/admin/api/2024-01", in.BaseURL)
		assert.Equal(t, integration.AllEntityTypes(), in.EntityTypes)

		got, err := svc.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, in.AccountID, got.AccountID)
	})

	t.Run("duplicate account", func(t *testing.T) {
		_, err := svc.Create(ctx, CreateIntegrationInput{TenantID: tenant, Platform: integration.PlatformCodeShopify, AccountID: "other.myshopify.com"})
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})

	t.Run("invalid input", func(t *testing.T) {
		var ve *integration.ValidationError
		_, err := svc.Create(ctx, CreateIntegrationInput{TenantID: tenant, Platform: integration.PlatformCodeShopify, AccountID: "x", BaseURL: "ftp://x"})
		assert.ErrorAs(t, err, &ve)
		_, err = svc.Create(ctx, CreateIntegrationInput{TenantID: tenant, Platform: integration.PlatformCodeShopify, AccountID: " "})
		assert.ErrorAs(t, err, &ve)
		_, err = svc.Create(ctx, CreateIntegrationInput{TenantID: tenant, Platform: integration.PlatformCodeNetSuite, AccountID: "123"})
		assert.ErrorIs(t, err, integration.ErrUnsupportedPlatform)
	})

	t.Run("disable drops cached orchestrator", func(t *testing.T) {
		before, err := syncs.Orchestrator(ctx, f.integration.ID)
		require.NoError(t, err)

		in, err := svc.SetEnabled(ctx, f.integration.ID, false)
		require.NoError(t, err)
		assert.False(t, in.Enabled)
		_, err = syncs.Orchestrator(ctx, f.integration.ID)
		assert.ErrorIs(t, err, integration.ErrIntegrationDisabled)

		enabled, err := svc.ListEnabled(ctx)
		require.NoError(t, err)
		for _, e := range enabled {
			assert.NotEqual(t, f.integration.ID, e.ID)
		}

		_, err = svc.SetEnabled(ctx, f.integration.ID, true)
		require.NoError(t, err)
		after, err := syncs.Orchestrator(ctx, f.integration.ID)
		require.NoError(t, err)
		assert.NotSame(t, before, after)
	})
}
