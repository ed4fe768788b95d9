package handler

import (
	"net/http"
	"testing"

	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationHandler_Create(t *testing.T) {
	s := newAPIStack(t)
	h := NewIntegrationHandler(s.integrations)
	route := testRoute{method: http.MethodPost, path: "/integrations", tenant: &s.tenantID, handle: h.Create}

	t.Run("creates with default entity types", func(t *testing.T) {
		w := route.do(t, "/integrations", map[string]any{"platform": "shopify", "account_id": "acme.myshopify.com"})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		resp := decodeData[dto.IntegrationResponse](t, w)
		assert.Equal(t, s.tenantID, resp.TenantID)
		assert.Equal(t, "SHOPIFY", resp.Platform)
		assert.True(t, resp.Enabled)
		assert.ElementsMatch(t, []string{"products", "inventory", "pricing"}, resp.EntityTypes)
	})

	t.Run("duplicate account", func(t *testing.T) {
		w := route.do(t, "/integrations", map[string]any{"platform": "SHOPIFY", "account_id": "acme.myshopify.com"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, dto.ErrCodeAlreadyExists, decodeError(t, w).Code)
	})

	t.Run("platform without connector", func(t *testing.T) {
		w := route.do(t, "/integrations", map[string]any{"platform": "netsuite", "account_id": "1234567"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeUnsupported, decodeError(t, w).Code)
	})

	t.Run("binding failure", func(t *testing.T) {
		w := route.do(t, "/integrations", map[string]any{"platform": "magento", "account_id": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		info := decodeError(t, w)
		require.NotEmpty(t, info.Details)
		assert.Equal(t, "platform", info.Details[0].Field)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		anon := route
		anon.tenant = nil
		w := anon.do(t, "/integrations", map[string]any{"platform": "shopify", "account_id": "other.myshopify.com"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestIntegrationHandler_ListIsTenantScoped(t *testing.T) {
	s := newAPIStack(t)
	first := s.createShop(t, "one.myshopify.com")
	second := s.createShop(t, "two.myshopify.com")
	h := NewIntegrationHandler(s.integrations)

	w := testRoute{method: http.MethodGet, path: "/integrations", tenant: &s.tenantID, handle: h.List}.do(t, "/integrations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decodeData[[]dto.IntegrationResponse](t, w)
	require.Len(t, items, 2)
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, []uuid.UUID{items[0].ID, items[1].ID})

	other := uuid.New()
	w = testRoute{method: http.MethodGet, path: "/integrations", tenant: &other, handle: h.List}.do(t, "/integrations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeData[[]dto.IntegrationResponse](t, w))
}

func TestIntegrationHandler_Get(t *testing.T) {
	s := newAPIStack(t)
	in := s.createShop(t, "acme.myshopify.com")
	h := NewIntegrationHandler(s.integrations)

	w := testRoute{method: http.MethodGet, path: "/integrations/:id", tenant: &s.tenantID, handle: h.Get}.do(t, "/integrations/"+in.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme.myshopify.com", decodeData[dto.IntegrationResponse](t, w).AccountID)

	other := uuid.New()
	w = testRoute{method: http.MethodGet, path: "/integrations/:id", tenant: &other, handle: h.Get}.do(t, "/integrations/"+in.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIntegrationHandler_SetEnabled(t *testing.T) {
	s := newAPIStack(t)
	in := s.createShop(t, "acme.myshopify.com")
	h := NewIntegrationHandler(s.integrations)
	route := testRoute{method: http.MethodPut, path: "/integrations/:id/enabled", tenant: &s.tenantID, handle: h.SetEnabled}
	target := "/integrations/" + in.ID.String() + "/enabled"

	w := route.do(t, target, map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decodeData[dto.IntegrationResponse](t, w).Enabled)

	stored, err := s.repo.FindByID(t.Context(), in.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	// enabled is required so a missing field is not read as false
	w = route.do(t, target, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
