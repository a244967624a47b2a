// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package octopus

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type cacheEntry[T any] struct {
	Value     T
	WrittenAt time.Time
	TTL       time.Duration
}

// TTLCache is an in-memory store where every entry carries its own TTL.
//
// Entries are kept in go-cache without native expiry; freshness is decided
// here against an injectable clock so an invalidated entry keeps its TTL for
// the next Set.
type TTLCache[T any] struct {
	name       string
	defaultTTL time.Duration
	store      *gocache.Cache
	now        func() time.Time

	// serialises writers so Invalidate can't resurrect an overwritten entry
	mu sync.Mutex
}

// NewTTLCache creates a cache whose Set falls back to defaultTTL.
func NewTTLCache[T any](name string, defaultTTL time.Duration) *TTLCache[T] {
	return &TTLCache[T]{
		name:       name,
		defaultTTL: defaultTTL,
		store:      gocache.New(gocache.NoExpiration, 0),
		now:        time.Now,
	}
}

// Name returns the cache's name, used in logs and metrics.
func (c *TTLCache[T]) Name() string {
	return c.name
}

// Get returns the value stored under key if it is still fresh. Never-set and
// expired keys are both reported as a miss.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	value, _, ok := c.GetWithAge(key)
	return value, ok
}

// GetWithAge is Get that also returns how long ago the value was written.
func (c *TTLCache[T]) GetWithAge(key string) (T, time.Duration, bool) {
	var zero T

	item, found := c.store.Get(key)
	if !found {
		return zero, 0, false
	}
	entry := item.(cacheEntry[T])
	if entry.WrittenAt.IsZero() {
		return zero, 0, false
	}

	age := c.now().Sub(entry.WrittenAt)
	if age >= entry.TTL {
		return zero, 0, false
	}
	return entry.Value, age, true
}

// Set stores value under key. A ttl of zero or less uses the cache default.
func (c *TTLCache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Set(key, cacheEntry[T]{
		Value:     value,
		WrittenAt: c.now(),
		TTL:       ttl,
	}, gocache.NoExpiration)
}

// Invalidate marks the given keys as infinitely stale. With no keys every
// entry is removed.
func (c *TTLCache[T]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(keys) == 0 {
		c.store.Flush()
		return
	}

	for _, key := range keys {
		item, found := c.store.Get(key)
		if !found {
			continue
		}
		entry := item.(cacheEntry[T])
		entry.WrittenAt = time.Time{}
		c.store.Set(key, entry, gocache.NoExpiration)
	}
}

// Keys returns every stored key, fresh or not.
func (c *TTLCache[T]) Keys() []string {
	items := c.store.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of stored entries, fresh or not.
func (c *TTLCache[T]) Len() int {
	return c.store.ItemCount()
}
