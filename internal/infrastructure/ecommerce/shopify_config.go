package ecommerce

import (
	"errors"
	"strings"
	"time"
)

const (
	// ShopifyDefaultAPIVersion is the Admin REST API version used when none is configured
	ShopifyDefaultAPIVersion = "2024-01"
	// shopifyMaxPageSize is the largest page the Admin REST API returns
	shopifyMaxPageSize = 250
)

// Errors for Shopify configuration
var (
	ErrShopifyConfigInvalidAPIVersion = errors.New("shopify: api version must look like YYYY-MM")
	ErrShopifyMissingLocations        = errors.New("shopify: inventory sync needs at least one location id")
)

// ShopifyConfig holds configuration shared by every Shopify integration
type ShopifyConfig struct {
	// APIVersion is the Admin REST API version, e.g. 2024-01
	APIVersion string
	// LocationIDs scope inventory level fetches
	LocationIDs []string
	// Currency is the shop currency reported with prices
	Currency string
	// Timeout bounds each API call
	Timeout time.Duration
}

// NewShopifyConfig creates a configuration with defaults
func NewShopifyConfig(apiVersion string, locationIDs []string) *ShopifyConfig {
	return &ShopifyConfig{
		APIVersion:  apiVersion,
		LocationIDs: locationIDs,
		Currency:    "USD",
		Timeout:     30 * time.Second,
	}
}

// Validate validates the configuration and applies defaults
func (c *ShopifyConfig) Validate() error {
	if c.APIVersion == "" {
		c.APIVersion = ShopifyDefaultAPIVersion
	}
	if len(c.APIVersion) != 7 || c.APIVersion[4] != '-' {
		return ErrShopifyConfigInvalidAPIVersion
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	c.Currency = strings.ToUpper(c.Currency)
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// adminPath returns the Admin API path of resource
func (c *ShopifyConfig) adminPath(resource string) string {
	return "/admin/api/" + c.APIVersion + "/" + resource + ".json"
}
