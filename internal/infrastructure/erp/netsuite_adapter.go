package erp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/apiclient"
)

// Headers of the SuiteScript user event scripts that push changes. NetSuite
// has no native webhooks; the script signs the body with the shared secret.
const (
	NetSuiteHeaderTopic     = "X-Sync-Topic"
	NetSuiteHeaderSignature = "X-Sync-Signature"
	NetSuiteHeaderAccount   = "X-Sync-Account"
	NetSuiteHeaderEventID   = "X-Sync-Event-Id"
)

// netSuiteTopics maps pushed topics to the entity type they change
var netSuiteTopics = map[string]integration.EntityType{
	"item.create":      integration.EntityTypeProducts,
	"item.update":      integration.EntityTypeProducts,
	"inventory.update": integration.EntityTypeInventory,
	"price.update":     integration.EntityTypePricing,
}

// SuiteQL base statements. Incremental filters and ordering are appended by
// the query builder, paging by the client iterator.
const (
	itemQuery = "SELECT id, itemid, displayname, description, isinactive, vendorname, baseprice, lastmodifieddate FROM item"

	inventoryQuery = "SELECT iil.item AS item, iil.location AS location, item.itemid AS itemid, " +
		"iil.quantityavailable AS quantityavailable, item.lastmodifieddate AS lastmodifieddate " +
		"FROM inventoryitemlocations iil JOIN item ON item.id = iil.item"

	pricingQuery = "SELECT pricing.item AS item, item.itemid AS itemid, pricing.unitprice AS unitprice, " +
		"item.lastmodifieddate AS lastmodifieddate FROM pricing JOIN item ON item.id = pricing.item"
)

// NetSuiteAdapter connects NetSuite accounts to the sync engine through the
// SuiteQL REST endpoint.
type NetSuiteAdapter struct {
	config      *NetSuiteConfig
	transformer *NetSuiteTransformer
	opts        []apiclient.Option
	logger      *zap.Logger
}

// NewNetSuiteAdapter creates a new NetSuite adapter with the given configuration
func NewNetSuiteAdapter(config *NetSuiteConfig, logger *zap.Logger, opts ...apiclient.Option) (*NetSuiteAdapter, error) {
	if config == nil {
		config = NewNetSuiteConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetSuiteAdapter{
		config:      config,
		transformer: &NetSuiteTransformer{currency: config.Currency},
		opts:        opts,
		logger:      logger,
	}, nil
}

// Platform returns the platform code this adapter handles
func (a *NetSuiteAdapter) Platform() integration.PlatformCode {
	return integration.PlatformCodeNetSuite
}

// Connect builds the record source of one account
func (a *NetSuiteAdapter) Connect(in *integration.Integration, limiter *apiclient.RateLimiter, tokens apiclient.TokenProvider) (integration.RecordSource, error) {
	client, err := a.NewClient(in, limiter, tokens)
	if err != nil {
		return nil, err
	}
	return &netSuiteSource{client: client, config: a.config}, nil
}

// NewClient builds the REST client of an integration. The record endpoints
// are reachable through it as well as SuiteQL.
func (a *NetSuiteAdapter) NewClient(in *integration.Integration, limiter *apiclient.RateLimiter, tokens apiclient.TokenProvider) (*apiclient.Client, error) {
	baseURL := in.BaseURL
	if baseURL == "" {
		var err error
		if baseURL, err = AccountBaseURL(in.AccountID); err != nil {
			return nil, integration.NewValidationError("account_id", err.Error())
		}
	}
	return apiclient.New(apiclient.Config{
		BaseURL:    baseURL,
		QueryPath:  netSuiteQueryPath,
		RecordPath: netSuiteRecordPath,
		AuthHeader: "Authorization",
		AuthScheme: "Bearer",
		Timeout:    a.config.Timeout,
	}, limiter, tokens, a.logger.With(zap.String("integration_id", in.ID.String())), a.opts...)
}

// Transformer returns the NetSuite transformer
func (a *NetSuiteAdapter) Transformer() integration.Transformer {
	return a.transformer
}

// WebhookHeaders returns the headers the push scripts send
func (a *NetSuiteAdapter) WebhookHeaders() integration.WebhookHeaders {
	return integration.WebhookHeaders{
		Topic:     NetSuiteHeaderTopic,
		Signature: NetSuiteHeaderSignature,
		Account:   NetSuiteHeaderAccount,
		EventID:   NetSuiteHeaderEventID,
	}
}

// WebhookTopic resolves a pushed topic
func (a *NetSuiteAdapter) WebhookTopic(topic string) (integration.EntityType, bool) {
	et, ok := netSuiteTopics[strings.ToLower(strings.TrimSpace(topic))]
	return et, ok
}

// WebhookEntityID returns the external id of the record a push is about
func (a *NetSuiteAdapter) WebhookEntityID(entityType integration.EntityType, payload []byte) (string, error) {
	rec, err := a.transformer.Transform(entityType, payload)
	if err != nil {
		return "", err
	}
	return rec.ExternalID, nil
}

// ---------------------------------------------------------------------------
// Record source
// ---------------------------------------------------------------------------

type netSuiteSource struct {
	client *apiclient.Client
	config *NetSuiteConfig
}

// Pages builds the SuiteQL statement of the entity type and pages through it
// in modification order, so a resumed offset cursor stays stable.
func (s *netSuiteSource) Pages(req integration.FetchRequest) (integration.PageIterator, error) {
	q, err := s.statement(req)
	if err != nil {
		return nil, err
	}
	if _, _, err := apiclient.DecodeCursor(req.Cursor); err != nil {
		return nil, err
	}
	return s.client.Iterate(q, req.PageSize, req.Cursor), nil
}

func (s *netSuiteSource) statement(req integration.FetchRequest) (string, error) {
	var (
		base       string
		modified   string
		orderBy    string
		conditions = map[string]any{}
	)
	switch req.EntityType {
	case integration.EntityTypeProducts:
		base, modified, orderBy = itemQuery, "lastmodifieddate", "lastmodifieddate, id"
	case integration.EntityTypeInventory:
		base, modified, orderBy = inventoryQuery, "item.lastmodifieddate", "item.lastmodifieddate, iil.item, iil.location"
	case integration.EntityTypePricing:
		base, modified, orderBy = pricingQuery, "item.lastmodifieddate", "item.lastmodifieddate, pricing.item"
		conditions["pricing.pricelevel"] = s.config.PriceLevel
	default:
		return "", fmt.Errorf("%w: %s", integration.ErrUnsupportedEntityType, req.EntityType)
	}
	if req.ModifiedAfter != nil {
		conditions[modified] = apiclient.After(req.ModifiedAfter.UTC())
	}
	return apiclient.BuildQuery(base, conditions, apiclient.QueryOptions{OrderBy: orderBy})
}

// ---------------------------------------------------------------------------
// Transformer
// ---------------------------------------------------------------------------

// NetSuiteTransformer decodes SuiteQL rows and pushed payloads
type NetSuiteTransformer struct {
	currency string
}

var _ integration.Transformer = (*NetSuiteTransformer)(nil)

// Transform implements integration.Transformer
func (t *NetSuiteTransformer) Transform(entityType integration.EntityType, raw integration.RawItem) (*integration.ExternalRecord, error) {
	switch entityType {
	case integration.EntityTypeProducts:
		return t.item(raw)
	case integration.EntityTypeInventory:
		return t.inventory(raw)
	case integration.EntityTypePricing:
		return t.price(raw)
	default:
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedEntityType, entityType)
	}
}

func (t *NetSuiteTransformer) item(raw integration.RawItem) (*integration.ExternalRecord, error) {
	var row netSuiteItem
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, integration.NewValidationError("payload", "invalid netsuite item: "+err.Error())
	}
	if row.ID.String() == "" {
		return nil, integration.NewValidationError("id", "netsuite item without id")
	}
	updatedAt, err := parseNetSuiteTime(row.LastModifiedDate.String())
	if err != nil {
		return nil, integration.NewValidationError("lastmodifieddate", err.Error())
	}
	price, err := parseDecimal(row.BasePrice.String())
	if err != nil {
		return nil, integration.NewValidationError("baseprice", err.Error())
	}
	name := row.DisplayName.String()
	if name == "" {
		name = row.ItemID.String()
	}
	status := "active"
	if strings.EqualFold(row.IsInactive.String(), "T") || strings.EqualFold(row.IsInactive.String(), "true") {
		status = "inactive"
	}
	return integration.Product{
		ExternalID:  row.ID.String(),
		SKU:         row.ItemID.String(),
		Name:        normalizeText(name),
		Description: row.Description.String(),
		Status:      status,
		Vendor:      normalizeText(row.VendorName.String()),
		Price:       price,
		UpdatedAt:   updatedAt,
	}.Record(), nil
}

func (t *NetSuiteTransformer) inventory(raw integration.RawItem) (*integration.ExternalRecord, error) {
	var row netSuiteInventory
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, integration.NewValidationError("payload", "invalid netsuite inventory row: "+err.Error())
	}
	if row.Item.String() == "" || row.Location.String() == "" {
		return nil, integration.NewValidationError("item", "inventory row needs item and location")
	}
	updatedAt, err := parseNetSuiteTime(row.LastModifiedDate.String())
	if err != nil {
		return nil, integration.NewValidationError("lastmodifieddate", err.Error())
	}
	available, err := parseDecimal(row.QuantityAvail.String())
	if err != nil {
		return nil, integration.NewValidationError("quantityavailable", err.Error())
	}
	return integration.InventoryLevel{
		ExternalID: row.Item.String() + ":" + row.Location.String(),
		SKU:        row.ItemID.String(),
		LocationID: row.Location.String(),
		Available:  available,
		UpdatedAt:  updatedAt,
	}.Record(), nil
}

func (t *NetSuiteTransformer) price(raw integration.RawItem) (*integration.ExternalRecord, error) {
	var row netSuitePrice
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, integration.NewValidationError("payload", "invalid netsuite price row: "+err.Error())
	}
	if row.Item.String() == "" {
		return nil, integration.NewValidationError("item", "netsuite price without item")
	}
	updatedAt, err := parseNetSuiteTime(row.LastModifiedDate.String())
	if err != nil {
		return nil, integration.NewValidationError("lastmodifieddate", err.Error())
	}
	amount, err := parseDecimal(row.UnitPrice.String())
	if err != nil {
		return nil, integration.NewValidationError("unitprice", err.Error())
	}
	return integration.PriceRecord{
		ExternalID: row.Item.String(),
		SKU:        row.ItemID.String(),
		Currency:   t.currency,
		Amount:     amount,
		UpdatedAt:  updatedAt,
	}.Record(), nil
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", s)
	}
	return d, nil
}
