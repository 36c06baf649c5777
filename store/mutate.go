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

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/storeid"
	"github.com/sneller-labs/chunkstore/timeline"
)

// DefaultCoalesceThresholdBytes bounds automatic chunk coalescing on
// insert: two chunks are only merged when their combined heap size
// stays at or below this many bytes.
const DefaultCoalesceThresholdBytes = 1 << 20

// insertInto runs the single-writer insert algorithm against ix and
// returns the events the caller must broadcast. It does not lock
// anything; callers (Store.Insert) hold the write lease.
//
// Rules, in order:
//  1. chunk_id dedupe: re-inserting an already-present id is a silent
//     no-op (no event, no error).
//  2. A temporal chunk may be coalesced into an existing temporal
//     chunk on the same entity path with an identical timeline/
//     component shape, when the existing chunk's row ids all strictly
//     precede the new chunk's row ids and the combined heap size is at
//     or under coalesceThresholdBytes. Coalescing extends the
//     existing chunk id and reports a CompactedBounds event instead of
//     allocating a new chunk identity.
//  3. Otherwise the chunk is inserted as-is.
func insertInto(ix *index, sid storeid.ID, c *chunk.Chunk, coalesceThresholdBytes int64) []Event {
	if ix.has(c.ID) {
		return nil
	}

	if !c.IsStatic() {
		if target, ok := coalesceCandidate(ix, c, coalesceThresholdBytes); ok {
			merged, err := chunk.Concat(target.ID, target, c)
			if err == nil {
				firstRow := target.RowCount()
				lastRow := merged.RowCount() - 1
				ix.remove(target.ID)
				ix.insert(merged)
				return []Event{{
					EventID: nextEventID(),
					StoreID: sid,
					ChunkID: merged.ID,
					Kind:    Addition,
					Compacted: &CompactedBounds{
						FirstRow: firstRow,
						LastRow:  lastRow,
					},
				}}
			}
			// Shape mismatch despite the coalesceCandidate pre-check
			// (e.g. a concurrent structural assumption proved false);
			// fall through to a plain insert.
		}
	}

	ix.insert(c)
	return []Event{{EventID: nextEventID(), StoreID: sid, ChunkID: c.ID, Kind: Addition}}
}

// coalesceCandidate deterministically picks the existing chunk (if
// any) that c should be merged into: same entity path, identical
// timeline and component name sets, a maximum row id strictly below
// c's minimum row id (time values are not compared), and a combined
// heap size within budget. Ties between equally eligible candidates are broken by
// ascending chunk id so the choice never depends on map iteration
// order.
func coalesceCandidate(ix *index, c *chunk.Chunk, thresholdBytes int64) (*chunk.Chunk, bool) {
	minRow, _, ok := c.RowIDRange()
	if !ok {
		return nil, false
	}
	var candidates []*chunk.Chunk
	for _, e := range ix.chunksByID {
		existing := e.chunk
		if existing.IsStatic() || !existing.EntityPath.Equal(c.EntityPath) {
			continue
		}
		if !sameTimelineNames(existing.TimelineNames(), c.TimelineNames()) {
			continue
		}
		if !sameStrings(existing.ComponentNames(), c.ComponentNames()) {
			continue
		}
		_, existingMax, ok := existing.RowIDRange()
		if !ok || !existingMax.Less(minRow) {
			continue
		}
		if existing.HeapSizeBytes()+c.HeapSizeBytes() > thresholdBytes {
			continue
		}
		candidates = append(candidates, existing)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID.String() < candidates[j].ID.String()
	})
	return candidates[0], true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameTimelineNames(a, b []timeline.Name) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// dropEntityPathFrom removes every chunk whose entity path equals or
// descends from path, returning one Deletion event per removed chunk.
// Deletions are emitted in the same order the chunks were originally
// inserted, so subscribers see the drop as an orderly unwind.
func dropEntityPathFrom(ix *index, sid storeid.ID, path entity.Path) []Event {
	var doomed []*chunkEntry
	for _, e := range ix.chunksByID {
		if e.chunk.EntityPath.IsDescendantOf(path) {
			doomed = append(doomed, e)
		}
	}
	sort.Slice(doomed, func(i, j int) bool {
		return doomed[i].seq < doomed[j].seq
	})
	events := make([]Event, 0, len(doomed))
	for _, e := range doomed {
		ix.remove(e.chunk.ID)
		events = append(events, Event{EventID: nextEventID(), StoreID: sid, ChunkID: e.chunk.ID, Kind: Deletion})
	}
	return events
}
