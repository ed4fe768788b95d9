package ecommerce

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/apiclient"
)

const productsPage1 = `{"products":[
 {"id":101,"title":"  Café   Mug ","body_html":"<p>Mug</p>","vendor":"Acme","status":"active","updated_at":"2026-01-10T10:00:00Z",
  "variants":[{"id":1001,"product_id":101,"sku":"MUG-1","price":"12.50","compare_at_price":"15.00","updated_at":"2026-01-10T11:00:00Z"},
              {"id":1002,"product_id":101,"sku":"MUG-2","price":"13.00","compare_at_price":null}]}
]}`

const productsPage2 = `{"products":[
 {"id":102,"title":"Plate","vendor":"Acme","status":"draft","updated_at":"2026-01-11T10:00:00Z","variants":[{"id":2001,"sku":"PLT-1","price":"7"}]}
]}`

type shopifyServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []*http.Request
}

func newShopifyServer(t *testing.T) *shopifyServer {
	t.Helper()
	s := &shopifyServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Clone(context.Background()))
		s.mu.Unlock()

		if r.Header.Get("X-Shopify-Access-Token") != "shpat_test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errors":"[API] Invalid API key or access token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/admin/api/2024-01/products.json":
			if r.URL.Query().Get("page_info") == "p2" {
				_, _ = w.Write([]byte(productsPage2))
				return
			}
			next := fmt.Sprintf(`<%s/admin/api/2024-01/products.json?limit=1&page_info=p2>; rel="next"`, s.URL)
			w.Header().Set("Link", next)
			_, _ = w.Write([]byte(productsPage1))
		case "/admin/api/2024-01/inventory_levels.json":
			_, _ = w.Write([]byte(`{"inventory_levels":[{"inventory_item_id":501,"location_id":9,"available":4,"updated_at":"2026-01-12T00:00:00Z"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *shopifyServer) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

func connectShopify(t *testing.T, srv *shopifyServer, cfg *ShopifyConfig, token string) integration.RecordSource {
	t.Helper()
	adapter, err := NewShopifyAdapter(cfg, nil)
	require.NoError(t, err)
	in := &integration.Integration{ID: uuid.New(), Platform: integration.PlatformCodeShopify, AccountID: "acme.myshopify.com", BaseURL: srv.URL}
	tokens := apiclient.TokenProviderFunc(func(context.Context) (string, error) { return token, nil })
	src, err := adapter.Connect(in, apiclient.NewRateLimiter(apiclient.RateLimiterConfig{Capacity: 2}), tokens)
	require.NoError(t, err)
	return src
}

func drain(t *testing.T, it integration.PageIterator) []*integration.Page {
	t.Helper()
	var pages []*integration.Page
	for it.Next(context.Background()) {
		pages = append(pages, it.Page())
	}
	return pages
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestShopifyConfig_Validate(t *testing.T) {
	cfg := &ShopifyConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ShopifyDefaultAPIVersion, cfg.APIVersion)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)

	cfg = &ShopifyConfig{APIVersion: "latest"}
	assert.ErrorIs(t, cfg.Validate(), ErrShopifyConfigInvalidAPIVersion)

	cfg = &ShopifyConfig{Currency: "eur"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "EUR", cfg.Currency)
}

// ---------------------------------------------------------------------------
// Source Tests
// ---------------------------------------------------------------------------

func TestShopifySource_FollowsLinkHeader(t *testing.T) {
	srv := newShopifyServer(t)
	src := connectShopify(t, srv, nil, "shpat_test")
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	it, err := src.Pages(integration.FetchRequest{EntityType: integration.EntityTypeProducts, ModifiedAfter: &since, PageSize: 1})
	require.NoError(t, err)
	pages := drain(t, it)
	require.NoError(t, it.Err())
	require.Len(t, pages, 2)
	assert.True(t, pages[0].HasMore)
	assert.Equal(t, apiclient.NativeCursor("p2"), pages[0].NextCursor)
	assert.False(t, pages[1].HasMore)
	assert.Equal(t, -1, pages[0].Total)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	q := reqs[0].URL.Query()
	assert.Equal(t, "1", q.Get("limit"))
	assert.Equal(t, "2026-01-01T00:00:00Z", q.Get("updated_at_min"))
	q = reqs[1].URL.Query()
	assert.Equal(t, "p2", q.Get("page_info"))
	assert.Empty(t, q.Get("updated_at_min"), "filters are not repeated with page_info")
}

func TestShopifySource_ResumesAtCursor(t *testing.T) {
	srv := newShopifyServer(t)
	src := connectShopify(t, srv, nil, "shpat_test")

	it, err := src.Pages(integration.FetchRequest{EntityType: integration.EntityTypeProducts, Cursor: apiclient.NativeCursor("p2"), PageSize: 50})
	require.NoError(t, err)
	pages := drain(t, it)
	require.Len(t, pages, 1)
	assert.Len(t, srv.Requests(), 1)

	_, err = src.Pages(integration.FetchRequest{EntityType: integration.EntityTypeProducts, Cursor: apiclient.OffsetCursor(10)})
	var ve *integration.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestShopifySource_PricingFlattensVariants(t *testing.T) {
	srv := newShopifyServer(t)
	src := connectShopify(t, srv, &ShopifyConfig{Currency: "CAD"}, "shpat_test")
	adapter, _ := NewShopifyAdapter(&ShopifyConfig{Currency: "CAD"}, nil)

	it, err := src.Pages(integration.FetchRequest{EntityType: integration.EntityTypePricing, PageSize: 10})
	require.NoError(t, err)
	pages := drain(t, it)
	require.Len(t, pages, 2)
	require.Len(t, pages[0].Items, 2)

	rec, err := adapter.Transformer().Transform(integration.EntityTypePricing, pages[0].Items[0])
	require.NoError(t, err)
	assert.Equal(t, "1001", rec.ExternalID)
	assert.Equal(t, "CAD", rec.Field("currency"))
	assert.Equal(t, "12.50", rec.Field("amount"))
	assert.Equal(t, "15.00", rec.Field("compare_at_amount"))

	rec, err = adapter.Transformer().Transform(integration.EntityTypePricing, pages[0].Items[1])
	require.NoError(t, err)
	assert.Empty(t, rec.Field("compare_at_amount"))
	assert.Equal(t, time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC), rec.ExternalUpdatedAt.UTC(), "variant inherits product timestamp")
}

func TestShopifySource_Inventory(t *testing.T) {
	srv := newShopifyServer(t)

	src := connectShopify(t, srv, nil, "shpat_test")
	_, err := src.Pages(integration.FetchRequest{EntityType: integration.EntityTypeInventory})
	var ve *integration.ValidationError
	require.ErrorAs(t, err, &ve)

	src = connectShopify(t, srv, &ShopifyConfig{LocationIDs: []string{"9", "10"}}, "shpat_test")
	it, err := src.Pages(integration.FetchRequest{EntityType: integration.EntityTypeInventory, PageSize: 500})
	require.NoError(t, err)
	pages := drain(t, it)
	require.Len(t, pages, 1)

	q := srv.Requests()[0].URL.Query()
	assert.Equal(t, "9,10", q.Get("location_ids"))
	assert.Equal(t, "250", q.Get("limit"), "page size is capped")
}

func TestShopifySource_ClassifiesAuthFailure(t *testing.T) {
	srv := newShopifyServer(t)
	src := connectShopify(t, srv, nil, "wrong")

	it, err := src.Pages(integration.FetchRequest{EntityType: integration.EntityTypeProducts})
	require.NoError(t, err)
	assert.False(t, it.Next(context.Background()))
	var ae *integration.AuthenticationError
	require.ErrorAs(t, it.Err(), &ae)
	assert.True(t, ae.SessionExpired)
}

func TestNextPageInfo(t *testing.T) {
	tests := []struct {
		name string
		link string
		want string
	}{
		{"empty", "", ""},
		{"next only", `<https://x.myshopify.com/admin/api/2024-01/products.json?page_info=abc&limit=50>; rel="next"`, "abc"},
		{"previous and next", `<https://x/p.json?page_info=prev>; rel="previous", <https://x/p.json?page_info=nxt>; rel="next"`, "nxt"},
		{"previous only", `<https://x/p.json?page_info=prev>; rel="previous"`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextPageInfo(tt.link))
		})
	}
}

// ---------------------------------------------------------------------------
// Transformer Tests
// ---------------------------------------------------------------------------

func TestShopifyTransformer_Product(t *testing.T) {
	tr := &ShopifyTransformer{currency: "USD"}
	raw := []byte(`{"id":101,"title":"  Café   Mug ","body_html":" <p>Mug</p> ","vendor":"Acme","status":"ACTIVE","updated_at":"2026-01-10T10:00:00Z","variants":[{"id":1,"sku":" MUG-1 ","price":"12.5"}]}`)

	rec, err := tr.Transform(integration.EntityTypeProducts, raw)
	require.NoError(t, err)
	assert.Equal(t, "101", rec.ExternalID)
	assert.Equal(t, "Café Mug", rec.Field("name"), "NFC normalized and whitespace collapsed")
	assert.Equal(t, "<p>Mug</p>", rec.Field("description"))
	assert.Equal(t, "active", rec.Field("status"))
	assert.Equal(t, "MUG-1", rec.Field("sku"))
	assert.Equal(t, "12.50", rec.Field("price"))

	_, err = tr.Transform(integration.EntityTypeProducts, []byte(`{"title":"no id"}`))
	var ve *integration.ValidationError
	assert.ErrorAs(t, err, &ve)
	_, err = tr.Transform(integration.EntityTypeProducts, []byte(`{"id":1,"variants":[{"price":"abc"}]}`))
	assert.ErrorAs(t, err, &ve)
	_, err = tr.Transform(integration.EntityType("orders"), raw)
	assert.ErrorIs(t, err, integration.ErrUnsupportedEntityType)
}

func TestShopifyTransformer_Inventory(t *testing.T) {
	tr := &ShopifyTransformer{}
	rec, err := tr.Transform(integration.EntityTypeInventory, []byte(`{"inventory_item_id":501,"location_id":9,"available":4}`))
	require.NoError(t, err)
	assert.Equal(t, "501:9", rec.ExternalID)
	assert.Equal(t, "9", rec.Field("location_id"))
	assert.Equal(t, "4", rec.Field("available"))

	rec, err = tr.Transform(integration.EntityTypeInventory, []byte(`{"inventory_item_id":501,"location_id":9,"available":null}`))
	require.NoError(t, err)
	assert.Equal(t, "0", rec.Field("available"))

	_, err = tr.Transform(integration.EntityTypeInventory, []byte(`{"location_id":9}`))
	var ve *integration.ValidationError
	assert.ErrorAs(t, err, &ve)
}

// ---------------------------------------------------------------------------
// Webhook Tests
// ---------------------------------------------------------------------------

func TestShopifyAdapter_Webhooks(t *testing.T) {
	adapter, err := NewShopifyAdapter(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, integration.PlatformCodeShopify, adapter.Platform())

	h := adapter.WebhookHeaders()
	assert.Equal(t, "X-Shopify-Hmac-Sha256", h.Signature)
	assert.Equal(t, "X-Shopify-Shop-Domain", h.Account)

	et, ok := adapter.WebhookTopic("products/update")
	assert.True(t, ok)
	assert.Equal(t, integration.EntityTypeProducts, et)
	et, ok = adapter.WebhookTopic("INVENTORY_LEVELS/UPDATE")
	assert.True(t, ok)
	assert.Equal(t, integration.EntityTypeInventory, et)
	_, ok = adapter.WebhookTopic("orders/create")
	assert.False(t, ok)

	id, err := adapter.WebhookEntityID(integration.EntityTypeInventory, []byte(`{"inventory_item_id":7,"location_id":3,"available":1}`))
	require.NoError(t, err)
	assert.Equal(t, "7:3", id)
}
