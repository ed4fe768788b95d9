package cache

import (
	"context"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewIdempotencyStore returns a Redis store when Redis is enabled and reachable,
// otherwise an in-memory store. Falling back is logged since duplicates across
// replicas are then only caught by the database constraint.
func NewIdempotencyStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) shared.IdempotencyStore {
	if cfg.Enabled {
		store, err := NewRedisIdempotencyStore(ctx, cfg.Addr(), cfg.Password, cfg.DB)
		if err == nil {
			logger.Info("Using Redis idempotency store", zap.String("addr", cfg.Addr()))
			return store
		}
		logger.Warn("Redis unavailable, falling back to in-memory idempotency store",
			zap.String("addr", cfg.Addr()),
			zap.Error(err),
		)
	}
	return NewInMemoryIdempotencyStore(0)
}
