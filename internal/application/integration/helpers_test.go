package integration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/apiclient"
	"github.com/erp/syncengine/internal/infrastructure/persistence/inmemory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeEncryptor reversibly encodes payloads and binds the key id
type fakeEncryptor struct {
	failEncrypt bool
	failDecrypt bool
}

func (e *fakeEncryptor) Encrypt(_ context.Context, keyID string, plaintext []byte) (string, error) {
	if e.failEncrypt {
		return "", errors.New("kms unavailable")
	}
	return keyID + ":" + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (e *fakeEncryptor) Decrypt(_ context.Context, keyID string, ciphertext string) ([]byte, error) {
	if e.failDecrypt {
		return nil, errors.New("kms unavailable")
	}
	prefix := keyID + ":"
	if !strings.HasPrefix(ciphertext, prefix) {
		return nil, errors.New("wrong key")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, prefix))
}

// mockRefresher is a mock implementation of TokenRefresher
type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context, in *integration.Integration, creds *integration.Credentials) (*integration.Credentials, error) {
	args := m.Called(ctx, in, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Credentials), args.Error(1)
}

// mockSyncMetrics is a mock implementation of SyncMetrics
type mockSyncMetrics struct {
	mock.Mock
}

func (m *mockSyncMetrics) RecordSync(ctx context.Context, platform integration.PlatformCode, result *integration.SyncResult) {
	m.Called(ctx, platform, result)
}

// mockWebhookMetrics is a mock implementation of WebhookMetrics
type mockWebhookMetrics struct {
	mock.Mock
}

func (m *mockWebhookMetrics) RecordWebhook(ctx context.Context, platform integration.PlatformCode, outcome string) {
	m.Called(ctx, platform, outcome)
}

// fakeSource serves pre-built pages and counts fetches
type fakeSource struct {
	mu       sync.Mutex
	pages    [][]integration.RawItem
	total    int
	fetches  int
	requests []integration.FetchRequest
	// failAt makes the fetch of that page index fail with failErr failCount times
	failAt    int
	failErr   error
	failCount int
	// onFetch runs before each fetch
	onFetch func(page int)
}

func (s *fakeSource) Pages(req integration.FetchRequest) (integration.PageIterator, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	start := 0
	if req.Cursor != "" {
		n, err := decodeTestCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		start = n
	}
	return &fakeIterator{src: s, next: start}, nil
}

func (s *fakeSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type fakeIterator struct {
	src  *fakeSource
	next int
	page *integration.Page
	err  error
	done bool
}

func (it *fakeIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err, it.done = err, true
		return false
	}
	s := it.src
	s.mu.Lock()
	s.fetches++
	if s.onFetch != nil {
		s.onFetch(it.next)
	}
	if it.next == s.failAt && s.failCount > 0 {
		s.failCount--
		s.mu.Unlock()
		it.err, it.done = s.failErr, true
		return false
	}
	s.mu.Unlock()

	if it.next >= len(s.pages) {
		it.done = true
		return false
	}
	idx := it.next
	it.next++
	hasMore := it.next < len(s.pages)
	it.page = &integration.Page{Items: s.pages[idx], HasMore: hasMore, Total: s.total}
	if hasMore {
		it.page.NextCursor = encodeTestCursor(it.next)
	} else {
		it.done = true
	}
	return true
}

func (it *fakeIterator) Page() *integration.Page { return it.page }
func (it *fakeIterator) Err() error              { return it.err }

func encodeTestCursor(page int) string {
	return "page:" + string(rune('0'+page))
}

func decodeTestCursor(c string) (int, error) {
	if !strings.HasPrefix(c, "page:") || len(c) != 6 {
		return 0, integration.NewValidationError("cursor", "malformed")
	}
	return int(c[5] - '0'), nil
}

// testItem is the wire shape the fake transformer decodes
type testItem struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fakeTransformer struct{}

func (fakeTransformer) Transform(entityType integration.EntityType, raw integration.RawItem) (*integration.ExternalRecord, error) {
	var item testItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, integration.NewValidationError("payload", err.Error())
	}
	if item.ID == "" {
		return nil, integration.NewValidationError("id", "is required")
	}
	return &integration.ExternalRecord{
		EntityType: entityType,
		ExternalID: item.ID,
		Fields: map[string]string{
			"sku":         item.SKU,
			"name":        item.Name,
			"description": "",
			"status":      "active",
			"vendor":      "",
			"price":       item.Price,
		},
		ExternalUpdatedAt: item.UpdatedAt,
	}, nil
}

func rawItem(t testing.TB, id, sku, name, price string, updated time.Time) integration.RawItem {
	t.Helper()
	b, err := json.Marshal(testItem{ID: id, SKU: sku, Name: name, Price: price, UpdatedAt: updated})
	require.NoError(t, err)
	return b
}

// productPages builds n items split into pages of size
func productPages(t testing.TB, n, size int, updated time.Time) [][]integration.RawItem {
	var pages [][]integration.RawItem
	for i := 0; i < n; i += size {
		var page []integration.RawItem
		for j := i; j < i+size && j < n; j++ {
			id := "p-" + uuid.NewString()[:8]
			page = append(page, rawItem(t, id, "SKU-"+id, "Product "+id, "10.00", updated.Add(time.Duration(j)*time.Second)))
		}
		pages = append(pages, page)
	}
	return pages
}

// fakeConnector is a PlatformConnector for tests
type fakeConnector struct {
	platform integration.PlatformCode
	source   *fakeSource
	topics   map[string]integration.EntityType
}

func (c *fakeConnector) Platform() integration.PlatformCode { return c.platform }

func (c *fakeConnector) Connect(*integration.Integration, *apiclient.RateLimiter, apiclient.TokenProvider) (integration.RecordSource, error) {
	return c.source, nil
}

func (c *fakeConnector) Transformer() integration.Transformer { return fakeTransformer{} }

func (c *fakeConnector) WebhookHeaders() integration.WebhookHeaders {
	return integration.WebhookHeaders{Topic: "X-Topic", Signature: "X-Signature", Account: "X-Account", EventID: "X-Event-Id"}
}

func (c *fakeConnector) WebhookTopic(topic string) (integration.EntityType, bool) {
	et, ok := c.topics[topic]
	return et, ok
}

func (c *fakeConnector) WebhookEntityID(_ integration.EntityType, payload []byte) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.ID == "" {
		return "", integration.NewValidationError("payload", "missing id")
	}
	return probe.ID, nil
}

// recordingObserver collects events
type recordingObserver struct {
	mu     sync.Mutex
	events []integration.SyncEvent
}

func (o *recordingObserver) OnSyncEvent(_ context.Context, e integration.SyncEvent) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func (o *recordingObserver) ofKind(kind integration.SyncEventKind) []integration.SyncEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []integration.SyncEvent
	for _, e := range o.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// fixture wires the in-memory repositories around one integration
type fixture struct {
	integrations *inmemory.IntegrationRepository
	credentials  *inmemory.CredentialRepository
	states       *inmemory.SyncStateRepository
	records      *inmemory.RecordRepository
	events       *inmemory.WebhookEventRepository
	encryptor    *fakeEncryptor
	store        *CredentialStore
	integration  *integration.Integration
}

func newFixture(t testing.TB, platform integration.PlatformCode) *fixture {
	t.Helper()
	f := &fixture{
		integrations: inmemory.NewIntegrationRepository(),
		credentials:  inmemory.NewCredentialRepository(),
		states:       inmemory.NewSyncStateRepository(),
		records:      inmemory.NewRecordRepository(),
		events:       inmemory.NewWebhookEventRepository(),
		encryptor:    &fakeEncryptor{},
	}
	in, err := integration.NewIntegration(uuid.New(), platform, "acme.example.com", nil)
	require.NoError(t, err)
	require.NoError(t, f.integrations.Save(context.Background(), in))
	f.integration = in
	f.store = NewCredentialStore(f.integrations, f.credentials, f.encryptor, nil, nil, CredentialStoreConfig{KeyID: "k1"})
	return f
}

func (f *fixture) storeAPIKey(t testing.TB, webhookSecret string) {
	t.Helper()
	_, err := f.store.Store(context.Background(), f.integration.ID, integration.CredentialTypeAPIKey, &integration.Credentials{
		APIKey:        "shpat_" + strings.Repeat("a", 40),
		WebhookSecret: webhookSecret,
	})
	require.NoError(t, err)
}

// fastRetrier retries without sleeping
func fastRetrier(attempts int) *Retrier {
	r := NewRetrier(RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}
