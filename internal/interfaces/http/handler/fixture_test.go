package handler

import (
	"context"
	"strings"
	"testing"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/crypto"
	"github.com/erp/syncengine/internal/infrastructure/ecommerce"
	"github.com/erp/syncengine/internal/infrastructure/persistence/inmemory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec-handler-test"

var testAPIKey = "shpat_" + strings.Repeat("b", 40)

// apiStack is the application layer over in-memory storage with the real
// Shopify connector
type apiStack struct {
	tenantID     uuid.UUID
	repo         *inmemory.IntegrationRepository
	events       *inmemory.WebhookEventRepository
	registry     *appintegration.PlatformRegistry
	integrations *appintegration.IntegrationService
	credentials  *appintegration.CredentialStore
}

func newAPIStack(t *testing.T) *apiStack {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	encryptor, err := crypto.NewKeyRingEncryptor(map[string]string{"k1": key})
	require.NoError(t, err)
	shopify, err := ecommerce.NewShopifyAdapter(nil, nil)
	require.NoError(t, err)

	s := &apiStack{
		tenantID: uuid.New(),
		repo:     inmemory.NewIntegrationRepository(),
		events:   inmemory.NewWebhookEventRepository(),
		registry: appintegration.NewPlatformRegistry(shopify),
	}
	s.integrations = appintegration.NewIntegrationService(s.repo, s.registry, nil, nil)
	s.credentials = appintegration.NewCredentialStore(s.repo, inmemory.NewCredentialRepository(), encryptor, nil, nil,
		appintegration.CredentialStoreConfig{KeyID: "k1"})
	return s
}

func (s *apiStack) createShop(t *testing.T, account string) *integration.Integration {
	t.Helper()
	in, err := s.integrations.Create(context.Background(), appintegration.CreateIntegrationInput{
		TenantID:  s.tenantID,
		Platform:  integration.PlatformCodeShopify,
		AccountID: account,
	})
	require.NoError(t, err)
	return in
}

func (s *apiStack) storeAPIKey(t *testing.T, in *integration.Integration) {
	t.Helper()
	_, err := s.credentials.Store(context.Background(), in.ID, integration.CredentialTypeAPIKey, &integration.Credentials{
		APIKey:        testAPIKey,
		WebhookSecret: testWebhookSecret,
	})
	require.NoError(t, err)
}
