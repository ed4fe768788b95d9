package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookIngester verifies and queues inbound webhooks
type WebhookIngester interface {
	Handle(ctx context.Context, env appintegration.WebhookEnvelope) (*appintegration.IngestResult, error)
}

var _ WebhookIngester = (*appintegration.WebhookIngestor)(nil)

// WebhookHeaderSource names the envelope headers of a platform
type WebhookHeaderSource interface {
	WebhookHeaders(platform integration.PlatformCode) (integration.WebhookHeaders, error)
}

// RegistryHeaders adapts a PlatformRegistry to WebhookHeaderSource
type RegistryHeaders struct {
	Registry *appintegration.PlatformRegistry
}

// WebhookHeaders returns the header names of the platform's connector
func (r RegistryHeaders) WebhookHeaders(platform integration.PlatformCode) (integration.WebhookHeaders, error) {
	connector, err := r.Registry.Get(platform)
	if err != nil {
		return integration.WebhookHeaders{}, err
	}
	return connector.WebhookHeaders(), nil
}

// WebhookHandler receives platform webhooks. Authentication is the
// platform signature, not an operator token.
type WebhookHandler struct {
	BaseHandler
	ingestor     WebhookIngester
	headers      WebhookHeaderSource
	maxBodyBytes int64
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingestor WebhookIngester, headers WebhookHeaderSource, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{ingestor: ingestor, headers: headers, maxBodyBytes: maxBodyBytes}
}

// Receive godoc
// @ID           receiveWebhook
// @Summary      Receive a platform webhook
// @Description  Verifies the signature and queues the event. Duplicates and unknown topics are acknowledged with 200.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        platform path string true "Platform" Enums(shopify, netsuite)
// @Success      202 {object} APIResponse[dto.WebhookAckResponse]
// @Success      200 {object} APIResponse[dto.WebhookAckResponse]
// @Failure      401 {object} ErrorResponse
// @Failure      413 {object} ErrorResponse
// @Router       /webhooks/{platform} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	platform, ok := integration.ParsePlatformCode(c.Param("platform"))
	if !ok {
		h.HandleError(c, integration.ErrUnsupportedPlatform)
		return
	}
	names, err := h.headers.WebhookHeaders(platform)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	// One byte past the limit tells an oversized body from an exact fit
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodyBytes+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.ErrorWithCode(c, dto.ErrCodeTooLarge, "Webhook body too large")
			return
		}
		h.BadRequest(c, "Failed to read webhook body")
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		h.ErrorWithCode(c, dto.ErrCodeTooLarge, "Webhook body too large")
		return
	}

	env := appintegration.WebhookEnvelope{
		Platform:  platform,
		Topic:     c.GetHeader(names.Topic),
		Signature: c.GetHeader(names.Signature),
		AccountID: c.GetHeader(names.Account),
		Body:      body,
	}
	if names.EventID != "" {
		env.EventID = c.GetHeader(names.EventID)
	}
	if env.Signature == "" {
		h.ErrorWithCode(c, dto.ErrCodeInvalidSignature, "Missing webhook signature")
		return
	}

	result, err := h.ingestor.Handle(ctx, env)
	if err != nil {
		logger.L(ctx).Warn("Webhook not accepted",
			zap.String("platform", platform.String()),
			zap.String("topic", env.Topic),
			zap.Error(err))
		h.HandleError(c, err)
		return
	}

	ack := dto.WebhookAckResponse{Received: true, Outcome: result.Outcome, EventID: result.EventID}
	if result.Outcome == appintegration.WebhookQueued {
		h.Accepted(c, ack)
		return
	}
	h.Success(c, ack)
}
