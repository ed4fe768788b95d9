package router

import (
	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers are the HTTP handlers of the sync engine. Jobs may be nil when
// background syncs are disabled.
type Handlers struct {
	System       *handler.SystemHandler
	Integrations *handler.IntegrationHandler
	Credentials  *handler.CredentialHandler
	Syncs        *handler.SyncHandler
	Jobs         *handler.SchedulerHandler
	OAuth        *handler.OAuthHandler
	Webhooks     *handler.WebhookHandler
	Tokens       *handler.TokenHandler
}

// Mount registers probes on the engine and the versioned API on r.
// authn runs before every versioned route; it must let webhooks and the
// OAuth callback through, they authenticate by signature and state.
func Mount(engine *gin.Engine, r *Router, h Handlers, authn gin.HandlerFunc) {
	engine.GET("/health", h.System.Health)
	engine.GET("/ready", h.System.Ready)

	if authn != nil {
		r.Use(authn)
	}

	read := middleware.RequireScope(auth.ScopeIntegrationsRead)
	write := middleware.RequireScope(auth.ScopeIntegrationsWrite)
	run := middleware.RequireScope(auth.ScopeSyncRun)

	integrations := NewRouteGroup("/integrations")
	integrations.POST("", write, h.Integrations.Create).
		GET("", read, h.Integrations.List).
		GET("/:id", read, h.Integrations.Get).
		PUT("/:id/enabled", write, h.Integrations.SetEnabled)

	integrations.PUT("/:id/credentials", write, h.Credentials.Store).
		DELETE("/:id/credentials", write, h.Credentials.Delete).
		POST("/:id/credentials/rotate", write, h.Credentials.Rotate).
		POST("/:id/credentials/refresh", write, h.Credentials.Refresh).
		POST("/:id/oauth/start", write, h.OAuth.Start)

	integrations.POST("/:id/sync", run, h.Syncs.SyncAll).
		POST("/:id/sync/:entity", run, h.Syncs.Sync).
		GET("/:id/sync/states", read, h.Syncs.States)

	if h.Jobs != nil {
		integrations.POST("/:id/jobs", run, h.Jobs.Enqueue).
			GET("/:id/jobs", read, h.Jobs.History)
	}

	syncs := NewRouteGroup("/sync")
	syncs.GET("/breakers", read, h.Syncs.Breakers)

	webhooks := NewRouteGroup("/webhooks")
	webhooks.POST("/:platform", h.Webhooks.Receive)

	oauth := NewRouteGroup("/oauth")
	oauth.GET("/callback", h.OAuth.Callback)

	tokens := NewRouteGroup("/auth")
	tokens.POST("/tokens", h.Tokens.Issue)

	system := NewRouteGroup("/system")
	system.GET("/info", read, h.System.GetSystemInfo).
		GET("/ping", h.System.Ping)

	r.Register(integrations).
		Register(syncs).
		Register(webhooks).
		Register(oauth).
		Register(tokens).
		Register(system)
	r.Setup()
}
