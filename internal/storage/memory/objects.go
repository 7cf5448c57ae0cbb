package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/maneesh/commonfiles/internal/common"
)

// ObjectStore is a map-backed object layer for the chunked blob store.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

func (o *ObjectStore) PutObject(_ context.Context, key string, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = append([]byte(nil), data...)
	return nil
}

func (o *ObjectStore) GetObject(_ context.Context, key string) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, common.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (o *ObjectStore) RemoveObject(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

func (o *ObjectStore) RemovePrefix(_ context.Context, prefix string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.objects {
		if strings.HasPrefix(key, prefix) {
			delete(o.objects, key)
		}
	}
	return nil
}

// Keys returns the stored keys with the given prefix.
func (o *ObjectStore) Keys(prefix string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var keys []string
	for key := range o.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}
