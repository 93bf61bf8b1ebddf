package maputil

import "sync"

// Pop removes key from map under lock and returns the previous value if present.
func Pop[K comparable, V any](mu *sync.Mutex, items map[K]V, key K) (V, bool) {
	mu.Lock()
	defer mu.Unlock()

	value, ok := items[key]
	if ok {
		delete(items, key)
	}
	return value, ok
}

// Keys returns a snapshot of the keys of items taken under lock.
func Keys[K comparable, V any](mu *sync.Mutex, items map[K]V) []K {
	mu.Lock()
	defer mu.Unlock()

	keys := make([]K, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	return keys
}

// Drain swaps *items for an empty map under lock and returns the old contents.
func Drain[K comparable, V any](mu *sync.Mutex, items *map[K]V) map[K]V {
	mu.Lock()
	defer mu.Unlock()

	drained := *items
	*items = make(map[K]V)
	return drained
}
