package integration

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// PlatformCode identifies the external system an integration talks to
// ---------------------------------------------------------------------------

// PlatformCode represents the type of external platform
type PlatformCode string

const (
	// PlatformCodeNetSuite is an ERP exposing a SQL-like query language
	PlatformCodeNetSuite PlatformCode = "NETSUITE"
	// PlatformCodeShopify is an e-commerce storefront with signed webhooks
	PlatformCodeShopify PlatformCode = "SHOPIFY"
)

// IsValid returns true if the platform code is valid
func (c PlatformCode) IsValid() bool {
	switch c {
	case PlatformCodeNetSuite, PlatformCodeShopify:
		return true
	default:
		return false
	}
}

// String returns the string representation of PlatformCode
func (c PlatformCode) String() string {
	return string(c)
}

// ParsePlatformCode parses a case-insensitive platform code
func ParsePlatformCode(s string) (PlatformCode, bool) {
	c := PlatformCode(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.IsValid()
}

// ---------------------------------------------------------------------------
// EntityType is a synchronizable kind of record
// ---------------------------------------------------------------------------

// EntityType represents a kind of record kept in sync
type EntityType string

const (
	EntityTypeProducts  EntityType = "products"
	EntityTypeInventory EntityType = "inventory"
	EntityTypePricing   EntityType = "pricing"
)

// AllEntityTypes lists every supported entity type in sync order
func AllEntityTypes() []EntityType {
	return []EntityType{EntityTypeProducts, EntityTypeInventory, EntityTypePricing}
}

// IsValid returns true if the entity type is supported
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeProducts, EntityTypeInventory, EntityTypePricing:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// MappedFields returns the fields compared during reconciliation
func (t EntityType) MappedFields() []string {
	switch t {
	case EntityTypeProducts:
		return []string{"sku", "name", "description", "status", "vendor", "price"}
	case EntityTypeInventory:
		return []string{"sku", "location_id", "available"}
	case EntityTypePricing:
		return []string{"sku", "currency", "amount", "compare_at_amount"}
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Integration
// ---------------------------------------------------------------------------

// Integration is an organization's connection to one platform account
type Integration struct {
	// ID is the integration identifier
	ID uuid.UUID
	// TenantID is the owning organization
	TenantID uuid.UUID
	// Platform is the external platform
	Platform PlatformCode
	// AccountID identifies the platform account (shop domain, ERP account id)
	AccountID string
	// BaseURL is the API root; derived from AccountID when empty
	BaseURL string
	// Enabled controls scheduled syncs and webhook acceptance
	Enabled bool
	// EntityTypes are the entity types kept in sync
	EntityTypes []EntityType
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewIntegration creates a validated integration
func NewIntegration(tenantID uuid.UUID, platform PlatformCode, accountID string, entityTypes []EntityType) (*Integration, error) {
	if tenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "is required")
	}
	if !platform.IsValid() {
		return nil, NewValidationError("platform", "unsupported platform "+string(platform))
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, NewValidationError("account_id", "is required")
	}
	if len(entityTypes) == 0 {
		entityTypes = AllEntityTypes()
	}
	for _, et := range entityTypes {
		if !et.IsValid() {
			return nil, NewValidationError("entity_types", "unsupported entity type "+string(et))
		}
	}
	now := time.Now().UTC()
	return &Integration{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Platform:    platform,
		AccountID:   accountID,
		Enabled:     true,
		EntityTypes: entityTypes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Syncs reports whether the integration keeps entityType in sync
func (i *Integration) Syncs(entityType EntityType) bool {
	for _, et := range i.EntityTypes {
		if et == entityType {
			return true
		}
	}
	return false
}
