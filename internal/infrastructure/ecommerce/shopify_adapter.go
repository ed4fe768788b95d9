package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/apiclient"
)

// Shopify webhook headers
const (
	ShopifyHeaderTopic     = "X-Shopify-Topic"
	ShopifyHeaderHMAC      = "X-Shopify-Hmac-Sha256"
	ShopifyHeaderShop      = "X-Shopify-Shop-Domain"
	ShopifyHeaderWebhookID = "X-Shopify-Webhook-Id"
	shopifyHeaderToken     = "X-Shopify-Access-Token"
)

// shopifyTopics maps webhook topics to the entity type they change
var shopifyTopics = map[string]integration.EntityType{
	"products/create":             integration.EntityTypeProducts,
	"products/update":             integration.EntityTypeProducts,
	"inventory_levels/connect":    integration.EntityTypeInventory,
	"inventory_levels/update":     integration.EntityTypeInventory,
	"inventory_levels/disconnect": integration.EntityTypeInventory,
}

// ShopifyAdapter connects Shopify storefronts to the sync engine. Listing
// uses the Admin REST API with Link-header cursors.
type ShopifyAdapter struct {
	config      *ShopifyConfig
	transformer *ShopifyTransformer
	httpClient  *http.Client
	opts        []apiclient.Option
	logger      *zap.Logger
}

// NewShopifyAdapter creates a new Shopify adapter with the given configuration
func NewShopifyAdapter(config *ShopifyConfig, logger *zap.Logger, opts ...apiclient.Option) (*ShopifyAdapter, error) {
	if config == nil {
		config = NewShopifyConfig("", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShopifyAdapter{
		config:      config,
		transformer: &ShopifyTransformer{currency: config.Currency},
		opts:        opts,
		logger:      logger,
	}, nil
}

// WithHTTPClient replaces the HTTP client of every connected source
func (a *ShopifyAdapter) WithHTTPClient(hc *http.Client) *ShopifyAdapter {
	a.httpClient = hc
	return a
}

// Platform returns the platform code this adapter handles
func (a *ShopifyAdapter) Platform() integration.PlatformCode {
	return integration.PlatformCodeShopify
}

// Connect builds the record source of one shop
func (a *ShopifyAdapter) Connect(in *integration.Integration, limiter *apiclient.RateLimiter, tokens apiclient.TokenProvider) (integration.RecordSource, error) {
	baseURL := in.BaseURL
	if baseURL == "" {
		baseURL = "https://" + strings.ToLower(in.AccountID)
	}
	opts := append([]apiclient.Option(nil), a.opts...)
	if a.httpClient != nil {
		opts = append(opts, apiclient.WithHTTPClient(a.httpClient))
	}
	client, err := apiclient.New(apiclient.Config{
		BaseURL:    baseURL,
		AuthHeader: shopifyHeaderToken,
		Timeout:    a.config.Timeout,
	}, limiter, tokens, a.logger.With(zap.String("integration_id", in.ID.String())), opts...)
	if err != nil {
		return nil, err
	}
	return &shopifySource{client: client, config: a.config}, nil
}

// Transformer returns the Shopify transformer
func (a *ShopifyAdapter) Transformer() integration.Transformer {
	return a.transformer
}

// WebhookHeaders returns the headers Shopify sends with webhooks
func (a *ShopifyAdapter) WebhookHeaders() integration.WebhookHeaders {
	return integration.WebhookHeaders{
		Topic:     ShopifyHeaderTopic,
		Signature: ShopifyHeaderHMAC,
		Account:   ShopifyHeaderShop,
		EventID:   ShopifyHeaderWebhookID,
	}
}

// WebhookTopic resolves a webhook topic
func (a *ShopifyAdapter) WebhookTopic(topic string) (integration.EntityType, bool) {
	et, ok := shopifyTopics[strings.ToLower(strings.TrimSpace(topic))]
	return et, ok
}

// WebhookEntityID returns the external id of the record a webhook is about
func (a *ShopifyAdapter) WebhookEntityID(entityType integration.EntityType, payload []byte) (string, error) {
	rec, err := a.transformer.Transform(entityType, payload)
	if err != nil {
		return "", err
	}
	return rec.ExternalID, nil
}

// ---------------------------------------------------------------------------
// Record source
// ---------------------------------------------------------------------------

type shopifySource struct {
	client *apiclient.Client
	config *ShopifyConfig
}

// Pages opens a Link-header paginated listing. Only native cursors are
// accepted; Shopify has no offset pagination.
func (s *shopifySource) Pages(req integration.FetchRequest) (integration.PageIterator, error) {
	var resource string
	switch req.EntityType {
	case integration.EntityTypeProducts, integration.EntityTypePricing:
		resource = "products"
	case integration.EntityTypeInventory:
		if len(s.config.LocationIDs) == 0 {
			return nil, integration.NewValidationError("location_ids", ErrShopifyMissingLocations.Error())
		}
		resource = "inventory_levels"
	default:
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedEntityType, req.EntityType)
	}
	if req.Cursor != "" {
		if _, native, err := apiclient.DecodeCursor(req.Cursor); err != nil || native == "" {
			return nil, integration.NewValidationError("cursor", "shopify cursors must be page_info tokens")
		}
	}

	limit := strconv.Itoa(min(max(req.PageSize, 1), shopifyMaxPageSize))
	first := url.Values{"limit": {limit}}
	if req.ModifiedAfter != nil {
		first.Set("updated_at_min", req.ModifiedAfter.UTC().Format(time.RFC3339))
	}
	if resource == "inventory_levels" {
		first.Set("location_ids", strings.Join(s.config.LocationIDs, ","))
	}
	path := s.config.adminPath(resource)

	return apiclient.NewIterator(func(ctx context.Context, cursor string) (*integration.Page, error) {
		query := first
		if _, pageInfo, _ := apiclient.DecodeCursor(cursor); pageInfo != "" {
			// Shopify rejects filters next to page_info
			query = url.Values{"limit": {limit}, "page_info": {pageInfo}}
		}
		resp, err := s.client.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: path, Query: query, Cost: apiclient.CostRecord})
		if err != nil {
			return nil, err
		}
		items, err := s.decodeItems(req.EntityType, resp.Body)
		if err != nil {
			return nil, &integration.IntegrationError{Code: "INVALID_RESPONSE", Message: "shopify list response", Status: resp.Status, Err: err}
		}
		page := &integration.Page{Items: items, Total: -1}
		if next := nextPageInfo(resp.Header.Get("Link")); next != "" {
			page.HasMore = true
			page.NextCursor = apiclient.NativeCursor(next)
		}
		return page, nil
	}, req.Cursor), nil
}

func (s *shopifySource) decodeItems(entityType integration.EntityType, body []byte) ([]integration.RawItem, error) {
	var env shopifyListResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	switch entityType {
	case integration.EntityTypeInventory:
		return env.InventoryLevels, nil
	case integration.EntityTypePricing:
		// Prices live on variants; each variant becomes one item
		var items []integration.RawItem
		for _, raw := range env.Products {
			var p shopifyProduct
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			for _, v := range p.Variants {
				if v.UpdatedAt.IsZero() {
					v.UpdatedAt = p.UpdatedAt
				}
				b, err := json.Marshal(shopifyPriceItem{shopifyVariant: v, Currency: s.config.Currency})
				if err != nil {
					return nil, err
				}
				items = append(items, b)
			}
		}
		return items, nil
	default:
		return env.Products, nil
	}
}

// nextPageInfo extracts the page_info of the rel="next" link
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, attr := range segments[1:] {
			if strings.EqualFold(strings.ReplaceAll(strings.TrimSpace(attr), " ", ""), `rel="next"`) {
				isNext = true
			}
		}
		if !isNext {
			continue
		}
		target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		u, err := url.Parse(target)
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}

// ---------------------------------------------------------------------------
// Transformer
// ---------------------------------------------------------------------------

// ShopifyTransformer decodes Shopify payloads into normalized records
type ShopifyTransformer struct {
	currency string
}

var _ integration.Transformer = (*ShopifyTransformer)(nil)

// Transform implements integration.Transformer
func (t *ShopifyTransformer) Transform(entityType integration.EntityType, raw integration.RawItem) (*integration.ExternalRecord, error) {
	switch entityType {
	case integration.EntityTypeProducts:
		return t.product(raw)
	case integration.EntityTypeInventory:
		return t.inventory(raw)
	case integration.EntityTypePricing:
		return t.price(raw)
	default:
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedEntityType, entityType)
	}
}

func (t *ShopifyTransformer) product(raw integration.RawItem) (*integration.ExternalRecord, error) {
	var p shopifyProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, integration.NewValidationError("payload", "invalid shopify product: "+err.Error())
	}
	if p.ID == 0 {
		return nil, integration.NewValidationError("id", "shopify product without id")
	}
	product := integration.Product{
		ExternalID:  strconv.FormatInt(p.ID, 10),
		Name:        normalizeText(p.Title),
		Description: strings.TrimSpace(p.BodyHTML),
		Status:      strings.ToLower(p.Status),
		Vendor:      normalizeText(p.Vendor),
		UpdatedAt:   p.UpdatedAt,
	}
	if product.Status == "" {
		product.Status = "active"
	}
	if len(p.Variants) > 0 {
		product.SKU = strings.TrimSpace(p.Variants[0].SKU)
		price, err := parseDecimal(p.Variants[0].Price)
		if err != nil {
			return nil, integration.NewValidationError("price", err.Error())
		}
		product.Price = price
	}
	return product.Record(), nil
}

func (t *ShopifyTransformer) inventory(raw integration.RawItem) (*integration.ExternalRecord, error) {
	var l shopifyInventoryLevel
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, integration.NewValidationError("payload", "invalid shopify inventory level: "+err.Error())
	}
	if l.InventoryItemID == 0 || l.LocationID == 0 {
		return nil, integration.NewValidationError("inventory_item_id", "inventory level needs item and location ids")
	}
	level := integration.InventoryLevel{
		ExternalID: fmt.Sprintf("%d:%d", l.InventoryItemID, l.LocationID),
		SKU:        strings.TrimSpace(l.SKU),
		LocationID: strconv.FormatInt(l.LocationID, 10),
		UpdatedAt:  l.UpdatedAt,
	}
	if l.Available != nil {
		level.Available = decimal.NewFromInt(*l.Available)
	}
	return level.Record(), nil
}

func (t *ShopifyTransformer) price(raw integration.RawItem) (*integration.ExternalRecord, error) {
	var v shopifyPriceItem
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, integration.NewValidationError("payload", "invalid shopify variant: "+err.Error())
	}
	if v.ID == 0 {
		return nil, integration.NewValidationError("id", "shopify variant without id")
	}
	amount, err := parseDecimal(v.Price)
	if err != nil {
		return nil, integration.NewValidationError("price", err.Error())
	}
	currency := v.Currency
	if currency == "" {
		currency = t.currency
	}
	price := integration.PriceRecord{
		ExternalID: strconv.FormatInt(v.ID, 10),
		SKU:        strings.TrimSpace(v.SKU),
		Currency:   currency,
		Amount:     amount,
		UpdatedAt:  v.UpdatedAt,
	}
	if v.CompareAtPrice != nil && *v.CompareAtPrice != "" {
		compareAt, err := parseDecimal(*v.CompareAtPrice)
		if err != nil {
			return nil, integration.NewValidationError("compare_at_price", err.Error())
		}
		price.CompareAtAmount = &compareAt
	}
	return price.Record(), nil
}

// normalizeText collapses whitespace and applies NFC so equal names compare
// equal across platforms
func normalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// parseDecimal parses a money string; empty is zero
func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", s)
	}
	return d, nil
}
