package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss lo devuelve GetTyped cuando la clave no existe o expiró.
var ErrCacheMiss = errors.New("cache miss")

// Cache es el almacén clave-valor de los read-models. Los valores viajan como JSON.
type Cache interface {
	// Get rellena dest (un puntero). (false, nil) es un miss.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set serializa y guarda el valor. ttlSecs <= 0 usa el TTL por defecto de la implementación.
	Set(ctx context.Context, key string, val interface{}, ttlSecs int) error

	Delete(ctx context.Context, key string) error
}

// GetTyped lee key como T y convierte el miss en ErrCacheMiss.
func GetTyped[T any](ctx context.Context, c Cache, key string) (T, error) {
	var v T
	ok, err := c.Get(ctx, key, &v)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, ErrCacheMiss
	}
	return v, nil
}
