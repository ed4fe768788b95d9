package integration

import (
	"fmt"
	"sort"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/apiclient"
)

// PlatformConnector adapts one external platform to the sync engine
type PlatformConnector interface {
	Platform() integration.PlatformCode
	// Connect builds the record source of an integration around a client
	// that shares the integration's rate limiter.
	Connect(in *integration.Integration, limiter *apiclient.RateLimiter, tokens apiclient.TokenProvider) (integration.RecordSource, error)
	Transformer() integration.Transformer
	WebhookHeaders() integration.WebhookHeaders
	// WebhookTopic resolves a topic to the entity type it changes; false for
	// topics the engine ignores
	WebhookTopic(topic string) (integration.EntityType, bool)
	// WebhookEntityID extracts the id of the record a webhook is about
	WebhookEntityID(entityType integration.EntityType, payload []byte) (string, error)
}

// PlatformRegistry holds the connector of each supported platform
type PlatformRegistry struct {
	connectors map[integration.PlatformCode]PlatformConnector
}

// NewPlatformRegistry creates a registry from connectors
func NewPlatformRegistry(connectors ...PlatformConnector) *PlatformRegistry {
	r := &PlatformRegistry{connectors: make(map[integration.PlatformCode]PlatformConnector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Platform()] = c
	}
	return r
}

// Get returns the connector of platform
func (r *PlatformRegistry) Get(platform integration.PlatformCode) (PlatformConnector, error) {
	c, ok := r.connectors[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedPlatform, platform)
	}
	return c, nil
}

// Platforms lists the registered platforms in sorted order
func (r *PlatformRegistry) Platforms() []integration.PlatformCode {
	out := make([]integration.PlatformCode, 0, len(r.connectors))
	for p := range r.connectors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
