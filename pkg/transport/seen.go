// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import "sync"

// seenCache remembers recently observed event ids so duplicate deliveries of
// the same event across relays collapse to a single handler invocation.
// It holds a bounded window; the oldest entry is evicted first.
type seenCache struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newSeenCache(capacity int) *seenCache {
	return &seenCache{
		ids:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Observe records the id and reports whether this is its first sighting.
func (c *seenCache) Observe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.ids[id]; dup {
		return false
	}

	if old := c.ring[c.next]; old != "" {
		delete(c.ids, old)
	}
	c.ring[c.next] = id
	c.ids[id] = struct{}{}
	c.next = (c.next + 1) % len(c.ring)

	return true
}
