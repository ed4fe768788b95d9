package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Webhook outcomes, also used as metric labels
const (
	WebhookQueued    = "queued"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookRejected  = "rejected"
	WebhookProcessed = "processed"
	WebhookFailed    = "failed"
	WebhookRetry     = "retry"
)

// WebhookMetrics records webhook outcomes
type WebhookMetrics interface {
	RecordWebhook(ctx context.Context, platform integration.PlatformCode, outcome string)
}

type noopWebhookMetrics struct{}

func (noopWebhookMetrics) RecordWebhook(context.Context, integration.PlatformCode, string) {}

// WebhookSecrets supplies the shared secret of an integration
type WebhookSecrets interface {
	WebhookSecret(ctx context.Context, integrationID uuid.UUID) (string, error)
}

var _ WebhookSecrets = (*CredentialStore)(nil)

// Notifier wakes up a consumer
type Notifier interface {
	Notify()
}

// WebhookEnvelope is an inbound notification as received. Body is the raw
// request body; it is never parsed before the signature is verified.
type WebhookEnvelope struct {
	Platform  integration.PlatformCode
	Topic     string
	Signature string
	AccountID string
	EventID   string
	Body      []byte
}

// IngestResult reports what Handle did with an envelope
type IngestResult struct {
	Outcome       string    `json:"outcome"`
	EventID       string    `json:"event_id,omitempty"`
	IntegrationID uuid.UUID `json:"integration_id"`
}

// WebhookIngestorConfig contains configuration for WebhookIngestor
type WebhookIngestorConfig struct {
	MaxBodyBytes   int64
	IdempotencyTTL time.Duration
}

// WebhookIngestorDeps are the collaborators of a WebhookIngestor
type WebhookIngestorDeps struct {
	Integrations integration.IntegrationRepository
	Events       integration.WebhookEventRepository
	Secrets      WebhookSecrets
	Registry     *PlatformRegistry
	// Idempotency is a fast dedup path; the unique event id is authoritative
	Idempotency shared.IdempotencyStore
	// Archive keeps raw bodies, may be nil
	Archive  integration.PayloadArchive
	Metrics  WebhookMetrics
	Notifier Notifier
}

// WebhookIngestor verifies, deduplicates and queues inbound webhooks.
// Processing happens asynchronously in WebhookProcessor.
type WebhookIngestor struct {
	deps   WebhookIngestorDeps
	cfg    WebhookIngestorConfig
	logger *zap.Logger
}

// NewWebhookIngestor creates a new WebhookIngestor
func NewWebhookIngestor(deps WebhookIngestorDeps, cfg WebhookIngestorConfig, logger *zap.Logger) *WebhookIngestor {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 72 * time.Hour
	}
	if deps.Metrics == nil {
		deps.Metrics = noopWebhookMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookIngestor{deps: deps, cfg: cfg, logger: logger}
}

// Handle ingests one envelope. A bad signature or an unknown account fails
// with an AuthenticationError wrapping ErrInvalidSignature and nothing is
// stored.
// Duplicates and unknown topics are acknowledged without error.
func (w *WebhookIngestor) Handle(ctx context.Context, env WebhookEnvelope) (*IngestResult, error) {
	if int64(len(env.Body)) > w.cfg.MaxBodyBytes {
		return nil, integration.NewValidationError("body", fmt.Sprintf("exceeds %d bytes", w.cfg.MaxBodyBytes))
	}
	connector, err := w.deps.Registry.Get(env.Platform)
	if err != nil {
		return nil, err
	}
	in, err := w.deps.Integrations.FindByAccount(ctx, env.Platform, strings.TrimSpace(env.AccountID))
	if errors.Is(err, integration.ErrIntegrationNotFound) {
		// answered like a bad signature so account names cannot be enumerated
		w.deps.Metrics.RecordWebhook(ctx, env.Platform, WebhookRejected)
		w.logger.Warn("Webhook for unknown account",
			zap.String("platform", env.Platform.String()),
			zap.String("account_id", env.AccountID))
		return nil, &integration.AuthenticationError{Reason: "unknown webhook account", Err: integration.ErrInvalidSignature}
	}
	if err != nil {
		return nil, err
	}
	if !in.Enabled {
		return nil, integration.ErrIntegrationDisabled
	}

	log := w.logger.With(
		zap.String("integration_id", in.ID.String()),
		zap.String("platform", env.Platform.String()),
		zap.String("topic", env.Topic))

	secret, err := w.deps.Secrets.WebhookSecret(ctx, in.ID)
	if err != nil {
		w.deps.Metrics.RecordWebhook(ctx, env.Platform, WebhookRejected)
		return nil, err
	}
	if !VerifyWebhookSignature(secret, env.Body, env.Signature) {
		w.deps.Metrics.RecordWebhook(ctx, env.Platform, WebhookRejected)
		log.Warn("Webhook signature mismatch")
		return nil, &integration.AuthenticationError{Reason: "webhook signature mismatch", Err: integration.ErrInvalidSignature}
	}

	result := &IngestResult{IntegrationID: in.ID}
	entityType, ok := connector.WebhookTopic(env.Topic)
	if !ok {
		log.Info("Ignoring webhook with unknown topic")
		result.Outcome = WebhookIgnored
		w.deps.Metrics.RecordWebhook(ctx, env.Platform, WebhookIgnored)
		return result, nil
	}

	eventID := strings.TrimSpace(env.EventID)
	if eventID == "" {
		sum := sha256.Sum256(env.Body)
		eventID = "sha256:" + hex.EncodeToString(sum[:])
	}
	result.EventID = eventID
	log = log.With(zap.String("event_id", eventID))

	if w.seen(ctx, eventID, log) {
		result.Outcome = WebhookDuplicate
		w.deps.Metrics.RecordWebhook(ctx, env.Platform, WebhookDuplicate)
		return result, nil
	}

	entityID, err := connector.WebhookEntityID(entityType, env.Body)
	if err != nil {
		return nil, err
	}

	event := integration.NewWebhookEvent(eventID, in.ID, env.Platform, env.Topic, entityType, entityID, env.Body)
	w.archive(ctx, event, log)

	created, err := w.deps.Events.CreateIfAbsent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}
	w.mark(ctx, eventID, log)
	if !created {
		log.Debug("Duplicate webhook acknowledged")
		result.Outcome = WebhookDuplicate
		w.deps.Metrics.RecordWebhook(ctx, env.Platform, WebhookDuplicate)
		return result, nil
	}

	log.Info("Webhook queued",
		zap.String("entity_type", entityType.String()),
		zap.String("entity_id", entityID))
	result.Outcome = WebhookQueued
	w.deps.Metrics.RecordWebhook(ctx, env.Platform, WebhookQueued)
	if w.deps.Notifier != nil {
		w.deps.Notifier.Notify()
	}
	return result, nil
}

func (w *WebhookIngestor) seen(ctx context.Context, eventID string, log *zap.Logger) bool {
	if w.deps.Idempotency == nil {
		return false
	}
	ok, err := w.deps.Idempotency.IsProcessed(ctx, eventID)
	if err != nil {
		log.Warn("Idempotency lookup failed", zap.Error(err))
		return false
	}
	return ok
}

func (w *WebhookIngestor) mark(ctx context.Context, eventID string, log *zap.Logger) {
	if w.deps.Idempotency == nil {
		return
	}
	if _, err := w.deps.Idempotency.MarkProcessed(ctx, eventID, w.cfg.IdempotencyTTL); err != nil {
		log.Warn("Failed to mark webhook as seen", zap.Error(err))
	}
}

func (w *WebhookIngestor) archive(ctx context.Context, e *integration.WebhookEvent, log *zap.Logger) {
	if w.deps.Archive == nil {
		return
	}
	if err := w.deps.Archive.Put(ctx, ArchiveKey(e), e.Payload); err != nil {
		log.Warn("Failed to archive webhook payload", zap.Error(err))
	}
}

// ArchiveKey is the payload archive key of an event
func ArchiveKey(e *integration.WebhookEvent) string {
	id := strings.NewReplacer("/", "_", ":", "_").Replace(e.EventID)
	return fmt.Sprintf("%s/%s/%s/%s.json",
		strings.ToLower(e.Platform.String()),
		e.IntegrationID,
		e.ReceivedAt.Format("2006/01/02"),
		id)
}

// VerifyWebhookSignature checks an HMAC-SHA256 signature of body, given in
// base64 or hex, in constant time.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, decode := range []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		hex.DecodeString,
	} {
		got, err := decode(signature)
		if err == nil && len(got) == sha256.Size && hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}

// SignWebhook returns the base64 HMAC-SHA256 signature of body
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// IsWebhookRejection reports whether err means the webhook must be refused
// as unauthorized.
func IsWebhookRejection(err error) bool {
	var ae *integration.AuthenticationError
	return errors.As(err, &ae)
}
