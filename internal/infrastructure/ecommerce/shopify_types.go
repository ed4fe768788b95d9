package ecommerce

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------------------------------------
// Shopify Admin REST API wire types
// ---------------------------------------------------------------------------

// shopifyProduct is a product of GET /products.json and products/* webhooks
type shopifyProduct struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	BodyHTML  string           `json:"body_html"`
	Vendor    string           `json:"vendor"`
	Status    string           `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
	Variants  []shopifyVariant `json:"variants"`
}

// shopifyVariant is a product variant, the unit prices are attached to
type shopifyVariant struct {
	ID              int64     `json:"id"`
	ProductID       int64     `json:"product_id"`
	SKU             string    `json:"sku"`
	Price           string    `json:"price"`
	CompareAtPrice  *string   `json:"compare_at_price"`
	InventoryItemID int64     `json:"inventory_item_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// shopifyInventoryLevel is an entry of GET /inventory_levels.json and the
// inventory_levels/* webhooks
type shopifyInventoryLevel struct {
	InventoryItemID int64     `json:"inventory_item_id"`
	LocationID      int64     `json:"location_id"`
	Available       *int64    `json:"available"`
	SKU             string    `json:"sku,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// shopifyListResponse is the envelope of list endpoints, keyed by resource
type shopifyListResponse struct {
	Products        []json.RawMessage `json:"products"`
	InventoryLevels []json.RawMessage `json:"inventory_levels"`
}

// shopifyPriceItem is the raw pricing item derived from a variant. It is the
// variant plus the currency the page was fetched in.
type shopifyPriceItem struct {
	shopifyVariant
	Currency string `json:"currency"`
}
