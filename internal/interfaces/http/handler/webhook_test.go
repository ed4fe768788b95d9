package handler

import (
	"net/http"
	"strings"
	"testing"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/infrastructure/ecommerce"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productWebhook = `{"id":101,"title":"Mug","status":"active","variants":[{"id":1,"sku":"MUG-1","price":"12.50"}]}`

func newWebhookRoute(t *testing.T, s *apiStack, maxBody int64) testRoute {
	t.Helper()
	ingestor := appintegration.NewWebhookIngestor(appintegration.WebhookIngestorDeps{
		Integrations: s.repo,
		Events:       s.events,
		Secrets:      s.credentials,
		Registry:     s.registry,
	}, appintegration.WebhookIngestorConfig{}, nil)
	h := NewWebhookHandler(ingestor, RegistryHeaders{Registry: s.registry}, maxBody)
	return testRoute{method: http.MethodPost, path: "/webhooks/:platform", handle: h.Receive}
}

func shopifyHeaders(shop, topic, webhookID, body string) []string {
	return []string{
		ecommerce.ShopifyHeaderTopic, topic,
		ecommerce.ShopifyHeaderShop, shop,
		ecommerce.ShopifyHeaderWebhookID, webhookID,
		ecommerce.ShopifyHeaderHMAC, appintegration.SignWebhook(testWebhookSecret, []byte(body)),
	}
}

func TestWebhookHandler_QueuesThenAcknowledgesDuplicate(t *testing.T) {
	s := newAPIStack(t)
	in := s.createShop(t, "acme.myshopify.com")
	s.storeAPIKey(t, in)
	route := newWebhookRoute(t, s, 0)
	headers := shopifyHeaders("acme.myshopify.com", "products/update", "wh-1", productWebhook)

	w := route.do(t, "/webhooks/shopify", productWebhook, headers...)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	ack := decodeData[dto.WebhookAckResponse](t, w)
	assert.True(t, ack.Received)
	assert.Equal(t, appintegration.WebhookQueued, ack.Outcome)
	assert.Equal(t, "wh-1", ack.EventID)

	event, err := s.events.FindByEventID(t.Context(), "wh-1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, event.IntegrationID)
	assert.Equal(t, "101", event.EntityID)

	w = route.do(t, "/webhooks/shopify", productWebhook, headers...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, appintegration.WebhookDuplicate, decodeData[dto.WebhookAckResponse](t, w).Outcome)
}

func TestWebhookHandler_UnknownTopicIsIgnored(t *testing.T) {
	s := newAPIStack(t)
	in := s.createShop(t, "acme.myshopify.com")
	s.storeAPIKey(t, in)
	route := newWebhookRoute(t, s, 0)

	body := `{"id":9}`
	w := route.do(t, "/webhooks/shopify", body, shopifyHeaders("acme.myshopify.com", "orders/create", "wh-2", body)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, appintegration.WebhookIgnored, decodeData[dto.WebhookAckResponse](t, w).Outcome)
}

func TestWebhookHandler_Rejections(t *testing.T) {
	s := newAPIStack(t)
	in := s.createShop(t, "acme.myshopify.com")
	s.storeAPIKey(t, in)
	route := newWebhookRoute(t, s, 512)

	t.Run("bad signature", func(t *testing.T) {
		headers := shopifyHeaders("acme.myshopify.com", "products/update", "wh-3", `{"id":1}`)
		w := route.do(t, "/webhooks/shopify", productWebhook, headers...)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidSignature, decodeError(t, w).Code)

		_, err := s.events.FindByEventID(t.Context(), "wh-3")
		assert.Error(t, err)
	})

	t.Run("missing signature", func(t *testing.T) {
		headers := shopifyHeaders("acme.myshopify.com", "products/update", "wh-4", productWebhook)
		w := route.do(t, "/webhooks/shopify", productWebhook, headers[:6]...)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidSignature, decodeError(t, w).Code)
	})

	t.Run("body too large", func(t *testing.T) {
		body := `{"id":1,"title":"` + strings.Repeat("x", 600) + `"}`
		w := route.do(t, "/webhooks/shopify", body, shopifyHeaders("acme.myshopify.com", "products/update", "wh-5", body)...)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, dto.ErrCodeTooLarge, decodeError(t, w).Code)
	})

	t.Run("unknown shop", func(t *testing.T) {
		w := route.do(t, "/webhooks/shopify", productWebhook, shopifyHeaders("ghost.myshopify.com", "products/update", "wh-6", productWebhook)...)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidSignature, decodeError(t, w).Code)
	})

	t.Run("unknown platform", func(t *testing.T) {
		w := route.do(t, "/webhooks/magento", productWebhook)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeUnsupported, decodeError(t, w).Code)
	})

	t.Run("platform without connector", func(t *testing.T) {
		w := route.do(t, "/webhooks/netsuite", productWebhook)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWebhookHandler_DisabledIntegration(t *testing.T) {
	s := newAPIStack(t)
	in := s.createShop(t, "acme.myshopify.com")
	s.storeAPIKey(t, in)
	_, err := s.integrations.SetEnabled(t.Context(), in.ID, false)
	require.NoError(t, err)
	route := newWebhookRoute(t, s, 0)

	w := route.do(t, "/webhooks/shopify", productWebhook, shopifyHeaders("acme.myshopify.com", "products/update", "wh-7", productWebhook)...)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
