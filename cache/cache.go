// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package cache implements a derived-view cache over a store: a
// subscriber that memoizes latest-at and range query shapes keyed by
// (entity, timeline, component set) and invalidates them as the
// underlying store mutates. Entries are rebuilt lazily on the next
// query, never eagerly.
package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/store"
	"github.com/sneller-labs/chunkstore/timeline"
)

// archetypeKey names one memoized coordinate: an entity path, a
// timeline, and a sorted, joined set of component names.
type archetypeKey struct {
	entity    string
	timeline  timeline.Name
	component string
}

func keyFor(path entity.Path, tl timeline.Name, components []string) archetypeKey {
	sorted := append([]string(nil), components...)
	sort.Strings(sorted)
	return archetypeKey{entity: path.String(), timeline: tl, component: strings.Join(sorted, ",")}
}

// latestAtEntry memoizes one LatestAt answer.
type latestAtEntry struct {
	at     timeline.Time
	result store.LatestAtResult
}

// rangeEntry memoizes one Range answer.
type rangeEntry struct {
	rng    timeline.Range
	result map[string][]store.RangeRow
}

// chunkMeta is what the cache remembers about a live chunk, purely so
// that a later Deletion event (which arrives after the chunk has
// already left the store's index) can still be matched against cached
// windows.
type chunkMeta struct {
	entity    string
	static    bool
	timelines map[timeline.Name]timeline.Range
}

// Cache is a subscriber attached to exactly one store.Store. The
// zero value is not usable; construct with New.
type Cache struct {
	s *store.Store
	h store.Handle

	mu     sync.Mutex
	latest map[archetypeKey]*latestAtEntry
	ranges map[archetypeKey]*rangeEntry
	chunks map[uuid.UUID]chunkMeta
}

// New attaches a Cache to s and subscribes it to every mutation. The
// returned Cache stays valid for the lifetime of s; call Close to
// unsubscribe.
func New(s *store.Store) *Cache {
	c := &Cache{
		s:      s,
		latest: make(map[archetypeKey]*latestAtEntry),
		ranges: make(map[archetypeKey]*rangeEntry),
		chunks: make(map[uuid.UUID]chunkMeta),
	}
	c.h = s.Subscribe(c.onEvents)
	return c
}

// Close unsubscribes the cache from its store.
func (c *Cache) Close() {
	c.s.Unsubscribe(c.h)
}

// LatestAt answers a latest-at query, serving a memoized result when
// one is available for the exact same query time, and rebuilding it
// from the store otherwise.
func (c *Cache) LatestAt(path entity.Path, tl timeline.Name, at timeline.Time, components []string) store.LatestAtResult {
	k := keyFor(path, tl, components)

	c.mu.Lock()
	if e, ok := c.latest[k]; ok && e.at == at {
		result := e.result
		c.mu.Unlock()
		return result
	}
	c.mu.Unlock()

	result := c.s.LatestAt(path, tl, at, components)

	c.mu.Lock()
	c.latest[k] = &latestAtEntry{at: at, result: result}
	c.mu.Unlock()
	return result
}

// Range answers a range query, serving a memoized result when one is
// available for the exact same query window.
func (c *Cache) Range(path entity.Path, tl timeline.Name, rng timeline.Range, components []string) map[string][]store.RangeRow {
	k := keyFor(path, tl, components)

	c.mu.Lock()
	if e, ok := c.ranges[k]; ok && e.rng == rng {
		result := e.result
		c.mu.Unlock()
		return result
	}
	c.mu.Unlock()

	result := c.s.Range(path, tl, rng, components)

	c.mu.Lock()
	c.ranges[k] = &rangeEntry{rng: rng, result: result}
	c.mu.Unlock()
	return result
}

// onEvents is the store.Handler invoked synchronously on every
// mutation, under the subscriber bus's own lock, never the store's
// index lock. It never mutates the store from inside the handler.
func (c *Cache) onEvents(events []store.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		switch ev.Kind {
		case store.Addition:
			c.handleAddition(ev.ChunkID)
		case store.Deletion:
			c.handleDeletion(ev.ChunkID)
		}
	}
}

// handleAddition records ch's metadata for future Deletion matching
// and invalidates every cached entry the new chunk could change.
func (c *Cache) handleAddition(id uuid.UUID) {
	ch, ok := c.s.Chunk(id)
	if !ok {
		return
	}
	meta := chunkMeta{
		entity:    ch.EntityPath.String(),
		static:    ch.IsStatic(),
		timelines: make(map[timeline.Name]timeline.Range),
	}
	for _, name := range ch.TimelineNames() {
		if rng, ok := ch.TimeRange(name); ok {
			meta.timelines[name] = rng
		}
	}
	c.chunks[id] = meta
	c.invalidateMatching(meta)
}

// handleDeletion invalidates every cached entry the removed chunk
// contributed to, using the metadata recorded at Addition time: the
// chunk itself is already gone from the store's index by the time
// this fires.
func (c *Cache) handleDeletion(id uuid.UUID) {
	meta, ok := c.chunks[id]
	if !ok {
		return
	}
	delete(c.chunks, id)
	c.invalidateMatching(meta)
}

// invalidateMatching drops every cached entry whose archetype
// coordinate shares meta's entity path and whose window overlaps
// meta's footprint: unconditionally for a static chunk (static data
// can change any latest-at answer for that entity+component), or
// when the chunk's time range on the entry's own timeline overlaps
// the entry's cached window.
func (c *Cache) invalidateMatching(meta chunkMeta) {
	for k, e := range c.latest {
		if k.entity != meta.entity {
			continue
		}
		if meta.static {
			delete(c.latest, k)
			continue
		}
		if rng, ok := meta.timelines[k.timeline]; ok && rng.Min <= e.at {
			delete(c.latest, k)
		}
	}
	for k, e := range c.ranges {
		if k.entity != meta.entity {
			continue
		}
		if meta.static {
			delete(c.ranges, k)
			continue
		}
		if rng, ok := meta.timelines[k.timeline]; ok && rng.Overlaps(e.rng) {
			delete(c.ranges, k)
		}
	}
}
