package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages versioned API route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BasePath returns the versioned prefix, e.g. /api/v1
func (r *Router) BasePath() string {
	return "/api/" + r.apiVersion
}

// Use adds middleware applied to every versioned route
func (r *Router) Use(middleware ...gin.HandlerFunc) *Router {
	r.middleware = append(r.middleware, middleware...)
	return r
}

// Register adds a RouteRegistrar to be registered on Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group(r.BasePath())
	if len(r.middleware) > 0 {
		api.Use(r.middleware...)
	}
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// RouteGroup collects routes under a prefix and registers them in one pass
type RouteGroup struct {
	prefix     string
	routes     []routeDefinition
	subgroups  []*RouteGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewRouteGroup creates a new route group
func NewRouteGroup(prefix string) *RouteGroup {
	return &RouteGroup{prefix: prefix}
}

// Use adds middleware to this group
func (g *RouteGroup) Use(middleware ...gin.HandlerFunc) *RouteGroup {
	g.middleware = append(g.middleware, middleware...)
	return g
}

// Handle registers a route for method
func (g *RouteGroup) Handle(method, path string, handlers ...gin.HandlerFunc) *RouteGroup {
	g.routes = append(g.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return g
}

func (g *RouteGroup) GET(path string, handlers ...gin.HandlerFunc) *RouteGroup {
	return g.Handle(http.MethodGet, path, handlers...)
}

func (g *RouteGroup) POST(path string, handlers ...gin.HandlerFunc) *RouteGroup {
	return g.Handle(http.MethodPost, path, handlers...)
}

func (g *RouteGroup) PUT(path string, handlers ...gin.HandlerFunc) *RouteGroup {
	return g.Handle(http.MethodPut, path, handlers...)
}

func (g *RouteGroup) DELETE(path string, handlers ...gin.HandlerFunc) *RouteGroup {
	return g.Handle(http.MethodDelete, path, handlers...)
}

// Group nests a sub-group; its routes inherit this group's middleware
func (g *RouteGroup) Group(prefix string) *RouteGroup {
	sub := NewRouteGroup(prefix)
	g.subgroups = append(g.subgroups, sub)
	return sub
}

// RegisterRoutes implements RouteRegistrar
func (g *RouteGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(g.prefix, g.middleware...)
	for _, route := range g.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
	for _, sub := range g.subgroups {
		sub.RegisterRoutes(group)
	}
}
