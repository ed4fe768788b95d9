package middleware

import (
	"net/http"

	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ScopeConfig holds configuration for scope middleware
type ScopeConfig struct {
	// Logger for middleware logging
	Logger *zap.Logger
}

// RequireScope creates middleware that requires one operator scope
func RequireScope(scope string) gin.HandlerFunc {
	return RequireAnyScopeWithConfig(ScopeConfig{}, scope)
}

// RequireAnyScope creates middleware that requires any of the scopes
func RequireAnyScope(scopes ...string) gin.HandlerFunc {
	return RequireAnyScopeWithConfig(ScopeConfig{}, scopes...)
}

// RequireAnyScopeWithConfig creates scope middleware with custom config.
// It must run after JWTAuthMiddleware.
func RequireAnyScopeWithConfig(cfg ScopeConfig, scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, "Authentication required", c.GetString("request_id")))
			return
		}

		for _, scope := range scopes {
			if claims.HasScope(scope) {
				c.Next()
				return
			}
		}

		if cfg.Logger != nil {
			cfg.Logger.Warn("Scope check failed",
				zap.String("subject", claims.Subject),
				zap.Strings("required_any", scopes),
				zap.Strings("granted", claims.Scopes),
				zap.String("path", c.Request.URL.Path),
			)
		}
		c.AbortWithStatusJSON(http.StatusForbidden,
			dto.NewErrorResponseWithRequestID(dto.ErrCodeForbidden, "Operator lacks the required scope", c.GetString("request_id")))
	}
}
