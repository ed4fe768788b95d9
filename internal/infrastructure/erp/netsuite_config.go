package erp

import (
	"errors"
	"strings"
	"time"
)

const (
	netSuiteQueryPath  = "/services/rest/query/v1/suiteql"
	netSuiteRecordPath = "/services/rest/record/v1"
	// NetSuiteDefaultPriceLevel is the base price level internal id
	NetSuiteDefaultPriceLevel = 1
)

// Errors for NetSuite configuration
var (
	ErrNetSuiteInvalidPriceLevel = errors.New("netsuite: price level must be positive")
	ErrNetSuiteInvalidAccount    = errors.New("netsuite: account id is required")
)

// NetSuiteConfig holds configuration shared by every NetSuite integration
type NetSuiteConfig struct {
	// PriceLevel is the price level synchronized as pricing
	PriceLevel int
	// Currency is reported with prices, NetSuite base prices carry none
	Currency string
	// Timeout bounds each API call
	Timeout time.Duration
}

// NewNetSuiteConfig creates a configuration with defaults
func NewNetSuiteConfig() *NetSuiteConfig {
	return &NetSuiteConfig{
		PriceLevel: NetSuiteDefaultPriceLevel,
		Currency:   "USD",
		Timeout:    60 * time.Second,
	}
}

// Validate validates the configuration and applies defaults
func (c *NetSuiteConfig) Validate() error {
	if c.PriceLevel == 0 {
		c.PriceLevel = NetSuiteDefaultPriceLevel
	}
	if c.PriceLevel < 0 {
		return ErrNetSuiteInvalidPriceLevel
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	c.Currency = strings.ToUpper(c.Currency)
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return nil
}

// AccountBaseURL returns the REST root of account. Sandbox ids such as
// 1234567_SB1 become 1234567-sb1.
func AccountBaseURL(accountID string) (string, error) {
	host := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(accountID), "_", "-"))
	if host == "" {
		return "", ErrNetSuiteInvalidAccount
	}
	return "https://" + host + ".suitetalk.api.netsuite.com", nil
}
