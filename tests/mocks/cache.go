package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/davicafu/eventrelay/internal/infra/cache"
)

// DummyCache es un mock de caché en memoria, genérico y seguro para concurrencia.
// Puede almacenar cualquier tipo de objeto serializable a JSON.
type DummyCache struct {
	store map[string][]byte // ✅ Almacenamos bytes (JSON), no un tipo concreto.
	ttls  map[string]int    // TTL pedido en la última escritura de cada clave
	calls map[string]int    // llamadas por operación: "get", "set", "delete"
	mu    sync.RWMutex
}

// Verificación estática para asegurar que implementa la interfaz compartida.
var _ cache.Cache = (*DummyCache)(nil)

func NewDummyCache() *DummyCache {
	return &DummyCache{
		store: make(map[string][]byte),
		ttls:  make(map[string]int),
		calls: make(map[string]int),
	}
}

func (c *DummyCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["get"]++

	data, ok := c.store[key]
	if !ok {
		return false, nil // Cache miss
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *DummyCache) Set(ctx context.Context, key string, val interface{}, ttlSecs int) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["set"]++
	c.store[key] = data
	c.ttls[key] = ttlSecs
	return nil
}

func (c *DummyCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["delete"]++
	delete(c.store, key)
	delete(c.ttls, key)
	return nil
}

// Has indica si la clave está presente; pensado para asserts con Eventually.
func (c *DummyCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.store[key]
	return ok
}

// TTL devuelve el ttlSecs de la última escritura de key.
func (c *DummyCache) TTL(key string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ttl, ok := c.ttls[key]
	return ttl, ok
}

// Calls cuenta las llamadas a op ("get", "set" o "delete").
func (c *DummyCache) Calls(op string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls[op]
}
