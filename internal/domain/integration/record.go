package integration

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RawItem is one undecoded item of a fetched page
type RawItem = json.RawMessage

// ExternalRecord is the normalized projection of a platform record, keyed by
// (IntegrationID, EntityType, ExternalID).
type ExternalRecord struct {
	IntegrationID uuid.UUID
	EntityType    EntityType
	ExternalID    string
	// Fields holds canonical string forms of the mapped fields
	Fields map[string]string
	// ExternalUpdatedAt is the platform's last modification time
	ExternalUpdatedAt time.Time
	// SyncedAt is when the record was last written locally
	SyncedAt time.Time
}

// Field returns a mapped field value
func (r *ExternalRecord) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// Clone returns a deep copy
func (r *ExternalRecord) Clone() *ExternalRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return &out
}

// ---------------------------------------------------------------------------
// Typed projections
// ---------------------------------------------------------------------------

// Product is a catalog item
type Product struct {
	ExternalID  string
	SKU         string
	Name        string
	Description string
	Status      string
	Vendor      string
	Price       decimal.Decimal
	UpdatedAt   time.Time
}

// Record converts the product to its normalized projection
func (p Product) Record() *ExternalRecord {
	return &ExternalRecord{
		EntityType: EntityTypeProducts,
		ExternalID: p.ExternalID,
		Fields: map[string]string{
			"sku":         p.SKU,
			"name":        p.Name,
			"description": p.Description,
			"status":      p.Status,
			"vendor":      p.Vendor,
			"price":       p.Price.StringFixed(2),
		},
		ExternalUpdatedAt: p.UpdatedAt,
	}
}

// InventoryLevel is the available quantity of an item at a location
type InventoryLevel struct {
	ExternalID string
	SKU        string
	LocationID string
	Available  decimal.Decimal
	UpdatedAt  time.Time
}

// Record converts the inventory level to its normalized projection
func (l InventoryLevel) Record() *ExternalRecord {
	return &ExternalRecord{
		EntityType: EntityTypeInventory,
		ExternalID: l.ExternalID,
		Fields: map[string]string{
			"sku":         l.SKU,
			"location_id": l.LocationID,
			"available":   l.Available.String(),
		},
		ExternalUpdatedAt: l.UpdatedAt,
	}
}

// PriceRecord is a selling price of an item
type PriceRecord struct {
	ExternalID      string
	SKU             string
	Currency        string
	Amount          decimal.Decimal
	CompareAtAmount *decimal.Decimal
	UpdatedAt       time.Time
}

// Record converts the price to its normalized projection
func (p PriceRecord) Record() *ExternalRecord {
	compareAt := ""
	if p.CompareAtAmount != nil {
		compareAt = p.CompareAtAmount.StringFixed(2)
	}
	return &ExternalRecord{
		EntityType: EntityTypePricing,
		ExternalID: p.ExternalID,
		Fields: map[string]string{
			"sku":               p.SKU,
			"currency":          p.Currency,
			"amount":            p.Amount.StringFixed(2),
			"compare_at_amount": compareAt,
		},
		ExternalUpdatedAt: p.UpdatedAt,
	}
}

// Transformer decodes a raw platform item into its normalized projection
type Transformer interface {
	Transform(entityType EntityType, raw RawItem) (*ExternalRecord, error)
}
