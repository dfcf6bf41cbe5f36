package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tiempo máximo de una escritura en background.
const asyncTimeout = 200 * time.Millisecond

// AsyncCacheSet escribe en background sin bloquear al llamante.
func AsyncCacheSet(c Cache, key string, value interface{}, ttl int, log *zap.Logger) {
	detached(c, "set", key, log, func(ctx context.Context) error {
		return c.Set(ctx, key, value, ttl)
	})
}

// AsyncCacheDelete invalida en background.
func AsyncCacheDelete(c Cache, key string, log *zap.Logger) {
	detached(c, "delete", key, log, func(ctx context.Context) error {
		return c.Delete(ctx, key)
	})
}

// detached usa context.Background: la operación tiene que sobrevivir a la petición que la lanzó.
func detached(c Cache, op, key string, log *zap.Logger, fn func(ctx context.Context) error) {
	if c == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			log.Warn("⚠️ Operación de caché fallida",
				zap.String("op", op),
				zap.String("key", key),
				zap.Error(err))
		}
	}()
}
