package telemetry

import (
	"context"

	"github.com/erp/syncengine/internal/domain/integration"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/erp/syncengine/sync"

// SyncMetrics records sync runs and webhook deliveries as OpenTelemetry instruments
type SyncMetrics struct {
	runs        metric.Int64Counter
	items       metric.Int64Counter
	duration    metric.Float64Histogram
	webhooks    metric.Int64Counter
	apiRequests metric.Int64Counter
}

// NewSyncMetrics creates the instruments on mp, or on the global provider when nil
func NewSyncMetrics(mp metric.MeterProvider) (*SyncMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := &SyncMetrics{}
	var err error
	if m.runs, err = meter.Int64Counter("sync.runs",
		metric.WithDescription("Sync runs by outcome")); err != nil {
		return nil, err
	}
	if m.items, err = meter.Int64Counter("sync.items",
		metric.WithDescription("Items handled by sync runs, by outcome")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("sync.duration",
		metric.WithDescription("Sync run duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.webhooks, err = meter.Int64Counter("webhook.deliveries",
		metric.WithDescription("Inbound webhook deliveries by outcome")); err != nil {
		return nil, err
	}
	if m.apiRequests, err = meter.Int64Counter("apiclient.requests",
		metric.WithDescription("Outbound platform API calls by status class")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSync records one finished run
func (m *SyncMetrics) RecordSync(ctx context.Context, platform integration.PlatformCode, result *integration.SyncResult) {
	if result == nil {
		return
	}
	base := []attribute.KeyValue{
		attribute.String("platform", platform.String()),
		attribute.String("entity_type", result.EntityType.String()),
	}
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("outcome", outcome))...))
	m.duration.Record(ctx, result.Duration().Seconds(), metric.WithAttributes(base...))

	for name, n := range map[string]int{
		"created": result.ItemsCreated,
		"updated": result.ItemsUpdated,
		"skipped": result.ItemsSkipped,
		"failed":  result.ItemsFailed,
	} {
		if n > 0 {
			m.items.Add(ctx, int64(n), metric.WithAttributes(append(base, attribute.String("outcome", name))...))
		}
	}
}

// RecordWebhook records one delivery outcome (accepted, duplicate, ignored, rejected)
func (m *SyncMetrics) RecordWebhook(ctx context.Context, platform integration.PlatformCode, outcome string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform.String()),
		attribute.String("outcome", outcome),
	))
}

// RecordAPIRequest records one platform API call by status class (2xx, 4xx, 429, 5xx, error)
func (m *SyncMetrics) RecordAPIRequest(ctx context.Context, method, statusClass string) {
	m.apiRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status_class", statusClass),
	))
}
