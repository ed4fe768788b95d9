package handler

import (
	"net/http"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TokenIssuer signs operator tokens
type TokenIssuer interface {
	GenerateOperatorToken(input auth.GenerateTokenInput) (string, time.Time, error)
}

// TokenHandler lets an operator delegate a narrower token, e.g. a
// read-only token for a dashboard
type TokenHandler struct {
	BaseHandler
	tokens TokenIssuer
}

// NewTokenHandler creates a new TokenHandler
func NewTokenHandler(tokens TokenIssuer) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// Issue godoc
// @ID           issueToken
// @Summary      Issue an operator token with a subset of the caller's scopes
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body dto.IssueTokenRequest true "Token request"
// @Success      201 {object} APIResponse[dto.TokenResponse]
// @Failure      403 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /auth/tokens [post]
func (h *TokenHandler) Issue(c *gin.Context) {
	claims := middleware.GetJWTClaims(c)
	if claims == nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req dto.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil || tenantID.String() != claims.TenantID {
		h.Forbidden(c, "Tokens can only be issued for your own tenant")
		return
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = claims.Scopes
	}
	for _, scope := range scopes {
		if !claims.HasScope(scope) {
			h.Forbidden(c, "Cannot grant scope "+scope)
			return
		}
	}

	token, expiresAt, err := h.tokens.GenerateOperatorToken(auth.GenerateTokenInput{
		TenantID: tenantID,
		Subject:  req.Subject,
		Scopes:   scopes,
		TTL:      time.Duration(req.TTL) * time.Second,
	})
	if err != nil {
		h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, "Failed to issue token")
		return
	}
	h.Created(c, dto.TokenResponse{Token: token, ExpiresAt: expiresAt})
}
