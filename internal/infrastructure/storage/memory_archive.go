package storage

import (
	"context"
	"sync"

	"github.com/erp/syncengine/internal/domain/integration"
)

// MemoryPayloadArchive keeps payloads in memory. Used when no bucket is configured.
type MemoryPayloadArchive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryPayloadArchive creates an empty archive
func NewMemoryPayloadArchive() *MemoryPayloadArchive {
	return &MemoryPayloadArchive{objects: make(map[string][]byte)}
}

func (a *MemoryPayloadArchive) Put(_ context.Context, key string, body []byte) error {
	cp := make([]byte, len(body))
	copy(cp, body)
	a.mu.Lock()
	a.objects[key] = cp
	a.mu.Unlock()
	return nil
}

func (a *MemoryPayloadArchive) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	body, ok := a.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return body, nil
}

// Len returns the number of stored payloads
func (a *MemoryPayloadArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}

var _ integration.PayloadArchive = (*MemoryPayloadArchive)(nil)
