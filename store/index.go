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

package store

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/rowid"
	"github.com/sneller-labs/chunkstore/timeline"
)

// componentInterner gives component names a stable, compact identity,
// mirroring entity.Interner's contract but keyed on the component's
// own process-wide table.
type componentInterner struct {
	mu    sync.RWMutex
	byStr map[string]uint32
	byID  []string
}

func (in *componentInterner) intern(name string) uint32 {
	in.mu.RLock()
	id, ok := in.byStr[name]
	in.mu.RUnlock()
	if ok {
		return id
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.byStr[name]; ok {
		return id
	}
	if in.byStr == nil {
		in.byStr = make(map[string]uint32)
	}
	id = uint32(len(in.byID) + 1)
	in.byID = append(in.byID, name)
	in.byStr[name] = id
	return id
}

var components = &componentInterner{}

// entityTimelineKey names one (entity, timeline) coordinate.
type entityTimelineKey struct {
	entity   entity.ID
	timeline timeline.Name
}

// entityComponentKey names one (entity, component) coordinate.
type entityComponentKey struct {
	entity    entity.ID
	component string
}

// staticEntry is one static (timeless) chunk's contribution to an
// (entity, component) coordinate. Static rows carry no timeline
// values and are ordered by row id alone for latest-at purposes, so
// the index keeps one entry per chunk, keyed by the chunk's maximum
// row id; resolving the exact winning row within a candidate chunk is
// left to the chunk's own Cell lookup (query.go), since a single
// static chunk may hold many rows.
type staticEntry struct {
	maxRowID rowid.ID
	chunkID  uuid.UUID
}

// chunkEntry is one chunk held in the index, together with the
// monotonically increasing insertion sequence number GC uses as the
// chunk's insertion age when ordering eviction candidates.
type chunkEntry struct {
	chunk *chunk.Chunk
	seq   uint64
}

// index is the store's lookup structure: a chunk table plus, for
// every (entity, timeline) pair touched by a temporal chunk, a sorted
// range map of chunk references, and, for every (entity, component)
// pair touched by a static chunk, a row-id-ordered list of candidate
// chunk ids.
type index struct {
	chunksByID map[uuid.UUID]*chunkEntry
	ranges     map[entityTimelineKey]*rangeMap
	statics    map[entityComponentKey][]staticEntry

	nextSeq uint64
}

func newIndex() *index {
	return &index{
		chunksByID: make(map[uuid.UUID]*chunkEntry),
		ranges:     make(map[entityTimelineKey]*rangeMap),
		statics:    make(map[entityComponentKey][]staticEntry),
	}
}

// has reports whether id is already present, for Insert's dedupe rule.
func (ix *index) has(id uuid.UUID) bool {
	_, ok := ix.chunksByID[id]
	return ok
}

// insert adds c to every index structure it participates in.
func (ix *index) insert(c *chunk.Chunk) {
	ix.nextSeq++
	ix.chunksByID[c.ID] = &chunkEntry{chunk: c, seq: ix.nextSeq}

	eid := entity.Global().Intern(c.EntityPath)

	if c.IsStatic() {
		for _, name := range c.ComponentNames() {
			components.intern(name)
			key := entityComponentKey{entity: eid, component: name}
			_, maxRow, _ := c.RowIDRange()
			ix.statics[key] = insertStatic(ix.statics[key], staticEntry{maxRowID: maxRow, chunkID: c.ID})
		}
		return
	}
	for _, name := range c.TimelineNames() {
		rng, ok := c.TimeRange(name)
		if !ok {
			continue
		}
		key := entityTimelineKey{entity: eid, timeline: name}
		rm := ix.ranges[key]
		if rm == nil {
			rm = &rangeMap{}
			ix.ranges[key] = rm
		}
		rm.insert(rng, c.ID)
	}
}

func insertStatic(entries []staticEntry, e staticEntry) []staticEntry {
	i := sort.Search(len(entries), func(i int) bool { return !entries[i].maxRowID.Less(e.maxRowID) })
	entries = append(entries, staticEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

// remove drops c from every index structure. It is a no-op if c was
// never inserted.
func (ix *index) remove(id uuid.UUID) {
	entry, ok := ix.chunksByID[id]
	if !ok {
		return
	}
	c := entry.chunk
	delete(ix.chunksByID, id)

	eid := entity.Global().Intern(c.EntityPath)
	if c.IsStatic() {
		for _, name := range c.ComponentNames() {
			key := entityComponentKey{entity: eid, component: name}
			entries := ix.statics[key]
			out := entries[:0]
			for _, e := range entries {
				if e.chunkID != id {
					out = append(out, e)
				}
			}
			if len(out) == 0 {
				delete(ix.statics, key)
			} else {
				ix.statics[key] = out
			}
		}
		return
	}
	for _, name := range c.TimelineNames() {
		key := entityTimelineKey{entity: eid, timeline: name}
		if rm := ix.ranges[key]; rm != nil {
			rm.remove(id)
			if rm.len() == 0 {
				delete(ix.ranges, key)
			}
		}
	}
}

// chunksFor returns every chunk (temporal, overlapping q, plus every
// static chunk) touching the given (entity path, timeline, component)
// coordinate, in no particular order; callers sort/merge as their
// query semantics require.
func (ix *index) chunksFor(path entity.Path, tl timeline.Name, component string, q timeline.Range) []*chunk.Chunk {
	id := entity.Global().Intern(path)

	var out []*chunk.Chunk
	seen := make(map[uuid.UUID]bool)

	if rm, ok2 := ix.ranges[entityTimelineKey{entity: id, timeline: tl}]; ok2 {
		rm.overlapping(q, func(chunkID uuid.UUID, _ timeline.Range) {
			if seen[chunkID] {
				return
			}
			if e, ok3 := ix.chunksByID[chunkID]; ok3 && hasComponent(e.chunk, component) {
				seen[chunkID] = true
				out = append(out, e.chunk)
			}
		})
	}
	if entries, ok2 := ix.statics[entityComponentKey{entity: id, component: component}]; ok2 {
		for _, e := range entries {
			if seen[e.chunkID] {
				continue
			}
			if ce, ok3 := ix.chunksByID[e.chunkID]; ok3 {
				seen[e.chunkID] = true
				out = append(out, ce.chunk)
			}
		}
	}
	return out
}

func hasComponent(c *chunk.Chunk, name string) bool {
	for _, n := range c.ComponentNames() {
		if n == name {
			return true
		}
	}
	return false
}

// entries returns every indexed chunk together with its insertion
// sequence, for GC's age-ordered eviction scan.
func (ix *index) entries() []*chunkEntry {
	out := make([]*chunkEntry, 0, len(ix.chunksByID))
	for _, e := range ix.chunksByID {
		out = append(out, e)
	}
	return out
}

func (ix *index) get(id uuid.UUID) (*chunk.Chunk, bool) {
	e, ok := ix.chunksByID[id]
	if !ok {
		return nil, false
	}
	return e.chunk, true
}

func (ix *index) len() int { return len(ix.chunksByID) }
