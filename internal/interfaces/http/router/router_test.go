package router

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/ecommerce"
	"github.com/erp/syncengine/internal/infrastructure/persistence/inmemory"
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "/api/v1", r.BasePath())
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "/api/v2", r.BasePath())
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)
	r.Use(func(c *gin.Context) {
		c.Header("X-Api", "1")
		c.Next()
	})

	g := NewRouteGroup("/test")
	g.GET("/a", func(c *gin.Context) { c.String(http.StatusOK, "a") }).
		POST("/b", func(c *gin.Context) { c.String(http.StatusOK, "b") }).
		PUT("/c", func(c *gin.Context) { c.String(http.StatusOK, "c") }).
		DELETE("/d", func(c *gin.Context) { c.String(http.StatusOK, "d") })
	r.Register(g).Setup()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/test/a"},
		{http.MethodPost, "/api/v1/test/b"},
		{http.MethodPut, "/api/v1/test/c"},
		{http.MethodDelete, "/api/v1/test/d"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, http.StatusOK, w.Code, "route %s %s", tt.method, tt.path)
		assert.Equal(t, "1", w.Header().Get("X-Api"))
	}
}

func TestRouteGroup_SubgroupsAndMiddleware(t *testing.T) {
	engine := gin.New()
	g := NewRouteGroup("/integrations")

	g.Use(func(c *gin.Context) {
		c.Header("X-Group", "integrations")
		c.Next()
	})
	g.Group("/:id/sync").GET("/states", func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("id"))
	})
	g.RegisterRoutes(engine.Group("/api/v1"))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/42/sync/states", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", w.Body.String())
	assert.Equal(t, "integrations", w.Header().Get("X-Group"))
}

type mountedAPI struct {
	engine *gin.Engine
	jwt    *auth.JWTService
	tenant uuid.UUID
}

func newMountedAPI(t *testing.T) *mountedAPI {
	t.Helper()
	jwtService := auth.NewJWTService(config.JWTConfig{Secret: "test-secret-key-at-least-32-bytes!", Issuer: "erp-syncengine"})
	shopify, err := ecommerce.NewShopifyAdapter(nil, nil)
	require.NoError(t, err)
	registry := appintegration.NewPlatformRegistry(shopify)
	repo := inmemory.NewIntegrationRepository()
	integrations := appintegration.NewIntegrationService(repo, registry, nil, nil)

	engine := gin.New()
	Mount(engine, NewRouter(engine), Handlers{
		System:       handler.NewSystemHandler("erp-syncengine", "test"),
		Integrations: handler.NewIntegrationHandler(integrations),
		Credentials:  handler.NewCredentialHandler(integrations, nil),
		Syncs:        handler.NewSyncHandler(integrations, nil),
		OAuth:        handler.NewOAuthHandler(integrations, nil, jwtService, nil, nil, handler.OAuthHandlerConfig{}),
		Webhooks:     handler.NewWebhookHandler(nil, handler.RegistryHeaders{Registry: registry}, 0),
		Tokens:       handler.NewTokenHandler(jwtService),
	}, middleware.JWTAuthMiddleware(jwtService))
	return &mountedAPI{engine: engine, jwt: jwtService, tenant: uuid.New()}
}

func (a *mountedAPI) token(t *testing.T, scopes ...string) string {
	t.Helper()
	token, _, err := a.jwt.GenerateOperatorToken(auth.GenerateTokenInput{TenantID: a.tenant, Subject: "ops", Scopes: scopes, TTL: time.Minute})
	require.NoError(t, err)
	return token
}

func (a *mountedAPI) serve(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func TestMount_ScopesGuardOperatorRoutes(t *testing.T) {
	api := newMountedAPI(t)
	reader := api.token(t, auth.ScopeIntegrationsRead)
	writer := api.token(t, auth.ScopeIntegrationsRead, auth.ScopeIntegrationsWrite)
	create := `{"platform":"shopify","account_id":"acme.myshopify.com"}`

	assert.Equal(t, http.StatusUnauthorized, api.serve(http.MethodGet, "/api/v1/integrations", "", "").Code)
	assert.Equal(t, http.StatusForbidden, api.serve(http.MethodPost, "/api/v1/integrations", reader, create).Code)
	assert.Equal(t, http.StatusCreated, api.serve(http.MethodPost, "/api/v1/integrations", writer, create).Code)
	assert.Equal(t, http.StatusOK, api.serve(http.MethodGet, "/api/v1/integrations", reader, "").Code)

	// sync:run is separate from integrations:write
	id := uuid.NewString()
	assert.Equal(t, http.StatusForbidden, api.serve(http.MethodPost, "/api/v1/integrations/"+id+"/sync", writer, "").Code)
	assert.Equal(t, http.StatusForbidden, api.serve(http.MethodPost, "/api/v1/integrations/"+id+"/sync/products", writer, "").Code)
	assert.Equal(t, http.StatusForbidden, api.serve(http.MethodPut, "/api/v1/integrations/"+id+"/credentials", reader, "{}").Code)

	// background jobs are not mounted without a scheduler
	assert.Equal(t, http.StatusNotFound, api.serve(http.MethodPost, "/api/v1/integrations/"+id+"/jobs", writer, "").Code)
}

func TestMount_PublicRoutes(t *testing.T) {
	api := newMountedAPI(t)

	assert.Equal(t, http.StatusOK, api.serve(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, api.serve(http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, api.serve(http.MethodGet, "/api/v1/system/ping", "", "").Code)

	// reach the handlers, which reject on their own terms
	assert.Equal(t, http.StatusBadRequest, api.serve(http.MethodPost, "/api/v1/webhooks/magento", "", "{}").Code)
	assert.Equal(t, http.StatusBadRequest, api.serve(http.MethodGet, handler.OAuthCallbackPath, "", "").Code)

	assert.Equal(t, http.StatusUnauthorized, api.serve(http.MethodGet, "/api/v1/system/info", "", "").Code)
}
