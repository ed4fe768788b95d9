package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
)

// StateGuard makes OAuth states single use by marking each state's JTI until
// the state would have expired anyway
type StateGuard struct {
	tokens    *JWTService
	store     shared.IdempotencyStore
	keyPrefix string
}

// NewStateGuard creates a guard over store
func NewStateGuard(tokens *JWTService, store shared.IdempotencyStore) *StateGuard {
	return &StateGuard{tokens: tokens, store: store, keyPrefix: "oauth:state:"}
}

// Consume validates state and marks it used. A second call with the same
// state fails with ErrStateReused.
func (g *StateGuard) Consume(ctx context.Context, state string) (*StateClaims, error) {
	claims, err := g.tokens.ParseState(state)
	if err != nil {
		return nil, err
	}
	ttl := claims.GetRemainingTTL(g.tokens.now())
	if ttl <= 0 {
		return nil, ErrExpiredToken
	}
	fresh, err := g.store.MarkProcessed(ctx, g.keyPrefix+claims.ID, ttl+time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to record oauth state: %w", err)
	}
	if !fresh {
		return nil, ErrStateReused
	}
	return claims, nil
}
