package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDKey is the header carrying the request ID
const RequestIDKey = "X-Request-ID"

// requestIDContextKey is set by the request logging middleware
const requestIDContextKey = "request_id"

var errMissingTenant = errors.New("tenant ID not found in context")

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDContextKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// getTenantID extracts the tenant ID from the operator token
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantIDStr := middleware.GetJWTTenantID(c)
	if tenantIDStr == "" {
		return uuid.Nil, errMissingTenant
	}
	return uuid.Parse(tenantIDStr)
}

// parseIDParam parses the :id path parameter, replying 400 when malformed
func (h *BaseHandler) parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidationFormat, "Invalid integration ID")
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON binds a JSON body that may be absent, replying 400 on
// malformed input
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// List sends a success response with a total count
func (h *BaseHandler) List(c *gin.Context, data any, total int) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, total))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 forbidden response
func (h *BaseHandler) Forbidden(c *gin.Context, message string) {
	h.Error(c, http.StatusForbidden, dto.ErrCodeForbidden, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// TooManyRequests sends a 429 too many requests response
func (h *BaseHandler) TooManyRequests(c *gin.Context, message string) {
	h.Error(c, http.StatusTooManyRequests, dto.ErrCodeRateLimited, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		getRequestID(c),
		details,
	))
}

// HandleError maps the integration error taxonomy to HTTP responses.
// Provider and internal failure details are logged, not returned.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var (
		validationErr *integration.ValidationError
		authErr       *integration.AuthenticationError
		rateErr       *integration.RateLimitError
		providerErr   *integration.IntegrationError
		domainErr     *shared.DomainError
	)

	switch {
	case errors.As(err, &validationErr):
		h.ValidationError(c, []dto.ValidationDetail{{
			Field:   validationErr.Field,
			Message: validationErr.Reason,
			Code:    dto.ErrCodeValidationFormat,
		}})
	case errors.Is(err, integration.ErrIntegrationNotFound):
		h.NotFound(c, "Integration not found")
	case errors.Is(err, integration.ErrCredentialNotFound):
		h.NotFound(c, "Credential not found")
	case errors.Is(err, integration.ErrWebhookEventNotFound):
		h.NotFound(c, "Webhook event not found")
	case errors.Is(err, integration.ErrSyncInProgress):
		h.ErrorWithCode(c, dto.ErrCodeSyncInProgress, "A sync of this entity type is already running")
	case errors.Is(err, integration.ErrIntegrationDisabled):
		h.ErrorWithCode(c, dto.ErrCodeIntegrationDisabled, "Integration is disabled")
	case errors.Is(err, integration.ErrUnsupportedPlatform),
		errors.Is(err, integration.ErrUnsupportedEntityType),
		errors.Is(err, integration.ErrOAuth1aUnsupported),
		errors.Is(err, integration.ErrCredentialTypeMismatch):
		h.ErrorWithCode(c, dto.ErrCodeUnsupported, err.Error())
	case errors.Is(err, integration.ErrCircuitOpen):
		h.ErrorWithCode(c, dto.ErrCodeCircuitOpen, "Provider is unavailable, try again later")
	case errors.As(err, &authErr):
		if errors.Is(err, integration.ErrInvalidSignature) {
			h.ErrorWithCode(c, dto.ErrCodeInvalidSignature, "Invalid webhook signature")
			return
		}
		h.ErrorWithCode(c, dto.ErrCodeIntegrationAuth, "Provider authentication failed: "+authErr.Reason)
	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			c.Header("Retry-After", retryAfterSeconds(rateErr))
		}
		h.TooManyRequests(c, "Provider rate limit reached")
	case errors.As(err, &providerErr):
		logger.L(c.Request.Context()).Warn("Provider request failed",
			zap.String("provider_code", providerErr.Code),
			zap.Int("provider_status", providerErr.Status),
			zap.Error(err))
		h.ErrorWithCode(c, dto.ErrCodeProvider, "Provider request failed")
	case errors.As(err, &domainErr):
		code := dto.NormalizeErrorCode(domainErr.Code)
		h.Error(c, dto.GetHTTPStatus(code), code, domainErr.Message)
	default:
		logger.L(c.Request.Context()).Error("Unhandled request error", zap.Error(err))
		h.InternalError(c, "An unexpected error occurred")
	}
}

func retryAfterSeconds(e *integration.RateLimitError) string {
	secs := int(e.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
