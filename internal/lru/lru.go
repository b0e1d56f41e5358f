// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package lru implements the bounded index-block cache (spec component
// C7), grounded on perkeep.org/pkg/lru's container/list-based cache but
// reshaped around a compute-on-miss call instead of separate Get/Add: the
// cache must never hold a strong reference to the reader that owns it
// (that would create a reference cycle), so the computation that
// produces a value is supplied fresh on every call instead of being
// captured by the cache at construction time.
package lru

import (
	"container/list"
	"sync"
)

// Cache is a bounded, keyed, least-recently-used cache safe for
// concurrent use. The zero value is not usable; construct with New.
type Cache[K comparable, V any] struct {
	maxEntries int

	mu    sync.Mutex
	order *list.List
	items map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New returns a cache holding at most maxEntries items.
func New[K comparable, V any](maxEntries int) *Cache[K, V] {
	return &Cache[K, V]{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[K]*list.Element),
	}
}

// Call returns the cached value for key if present (moving it to
// most-recently-used), or else invokes compute, caches its result, and
// evicts the least-recently-used entry if the cache is now over
// capacity. If compute returns an error, nothing is cached.
func (c *Cache[K, V]) Call(key K, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		v := el.Value.(*entry[K, V]).value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	// Computation (transport I/O, decompression) happens outside the
	// lock: two racing callers might both compute the same key once,
	// but neither blocks the other indefinitely.
	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		// Lost the race; keep whichever copy is already cached.
		c.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, nil
	}
	el := c.order.PushFront(&entry[K, V]{key, v})
	c.items[key] = el
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[K, V]).key)
	}
	return v, nil
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
