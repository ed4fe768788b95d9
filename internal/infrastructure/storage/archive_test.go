package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewS3PayloadArchive_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3PayloadArchive(ctx, nil)
	assert.ErrorContains(t, err, "configuration is required")

	_, err = NewS3PayloadArchive(ctx, &config.StorageConfig{AccessKey: "a", SecretKey: "b"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = NewS3PayloadArchive(ctx, &config.StorageConfig{Bucket: "raw"})
	assert.ErrorContains(t, err, "access key")
}

// fakeS3 serves path-style object requests for one bucket
type fakeS3 struct {
	mu      sync.Mutex
	puts    []string
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		f.puts = append(f.puts, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3PayloadArchive_PutGet(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{"/raw/webhooks/SHOPIFY/evt-1.json": `{"id":1}`}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	archive, err := NewS3PayloadArchive(context.Background(), &config.StorageConfig{
		Bucket:       "raw",
		Endpoint:     strings.TrimPrefix(srv.URL, "http://"),
		AccessKey:    "key",
		SecretKey:    "secret",
		UsePathStyle: true,
		Prefix:       "webhooks/",
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	require.NoError(t, archive.Put(context.Background(), "SHOPIFY/evt-2.json", []byte(`{"id":2}`)))
	fake.mu.Lock()
	assert.Equal(t, []string{"/raw/webhooks/SHOPIFY/evt-2.json"}, fake.puts)
	fake.mu.Unlock()

	body, err := archive.Get(context.Background(), "SHOPIFY/evt-1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(body))

	_, err = archive.Get(context.Background(), "SHOPIFY/missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryPayloadArchive(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryPayloadArchive()

	body := []byte(`{"a":1}`)
	require.NoError(t, a.Put(ctx, "k", body))
	body[0] = 'X'

	got, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))
	assert.Equal(t, 1, a.Len())

	_, err = a.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
