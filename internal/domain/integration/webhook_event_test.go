package integration

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewWebhookEvent(t *testing.T) {
	e := NewWebhookEvent("evt-1", uuid.New(), PlatformCodeShopify, "products/update", EntityTypeProducts, "42", []byte(`{}`))
	assert.Equal(t, WebhookEventStatusPending, e.Status)
	assert.False(t, e.IsSettled())
	assert.NotEqual(t, uuid.Nil, e.ID)

	e.Status = WebhookEventStatusFailed
	assert.True(t, e.IsSettled())
	assert.False(t, WebhookEventStatus("bogus").IsValid())
}
