package cache

import (
	"sync"

	"github.com/flowclip/flowclip-api/log"
)

// Cache is the in-process view of currently executing work, keyed by worker
// task id. The durable record lives in the store; this exists so handlers
// and shutdown paths can see what is in flight without a query.
type Cache[T interface{}] struct {
	cache map[string]T
	mutex sync.Mutex
}

func New[T interface{}]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(workerTaskID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, workerTaskID)
	log.Log(workerTaskID, "Deleting from jobs cache")
}

func (c *Cache[T]) Get(workerTaskID string) T {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	info, ok := c.cache[workerTaskID]
	if ok {
		return info
	}
	var zero T
	return zero
}

func (c *Cache[T]) Store(workerTaskID string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[workerTaskID] = value
}

func (c *Cache[T]) GetKeys() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	keys := make([]string, 0, len(c.cache))
	for k := range c.cache {
		keys = append(keys, k)
	}
	return keys
}
