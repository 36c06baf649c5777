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
	"github.com/google/uuid"

	"golang.org/x/exp/slices"

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/storeid"
	"github.com/sneller-labs/chunkstore/timeline"
)

// GCOptions configures one garbage-collection pass: a byte-size
// target plus a handful of protected-set toggles and an injected
// logger.
type GCOptions struct {
	// TargetBytesToDrop is the cumulative heap_size_bytes a pass tries
	// to free. GC stops once it has dropped at least this many bytes,
	// or once it runs out of unprotected candidates.
	TargetBytesToDrop int64

	// ProtectLatestStatic exempts, for every (entity, component) pair,
	// the static chunk holding the greatest row id.
	ProtectLatestStatic bool

	// ProtectLatestPerTimeline exempts, for every (entity, timeline)
	// pair and every component seen there, the chunk holding that
	// component's greatest (time, row_id) row, i.e. the chunk answering
	// latest-at(+inf) for it.
	ProtectLatestPerTimeline bool

	// DontProtectComponents lists component names that should never
	// receive the "latest" protection above, even when
	// ProtectLatestStatic or ProtectLatestPerTimeline is set.
	DontProtectComponents map[string]bool

	// Logf, if non-nil, receives a line per eviction decision.
	Logf func(f string, args ...interface{})
}

func (o *GCOptions) logf(f string, args ...interface{}) {
	if o.Logf != nil {
		o.Logf(f, args...)
	}
}

// runGC evicts the oldest unprotected chunks in ix until
// TargetBytesToDrop bytes have been reclaimed (or candidates run out),
// returning a Deletion event per evicted chunk. Eviction order is the
// chunk's insertion sequence number, oldest first; protected entries
// are skipped up front rather than special-cased during the sweep.
func runGC(ix *index, sid storeid.ID, opts GCOptions) []Event {
	if opts.TargetBytesToDrop <= 0 {
		return nil
	}
	protected := protectedSet(ix, opts)

	candidates := ix.entries()
	candidates = filterUnprotected(candidates, protected)
	slices.SortFunc(candidates, func(a, b *chunkEntry) bool {
		return a.seq < b.seq
	})

	var dropped int64
	var events []Event
	for _, e := range candidates {
		if dropped >= opts.TargetBytesToDrop {
			break
		}
		size := e.chunk.HeapSizeBytes()
		ix.remove(e.chunk.ID)
		dropped += size
		opts.logf("gc: dropped chunk %s (%d bytes, entity %q)", e.chunk.ID, size, e.chunk.EntityPath.String())
		events = append(events, Event{EventID: nextEventID(), StoreID: sid, ChunkID: e.chunk.ID, Kind: Deletion})
	}
	opts.logf("gc: dropped %d bytes across %d chunks", dropped, len(events))
	return events
}

func filterUnprotected(entries []*chunkEntry, protected map[uuid.UUID]bool) []*chunkEntry {
	out := entries[:0]
	for _, e := range entries {
		if !protected[e.chunk.ID] {
			out = append(out, e)
		}
	}
	return out
}

// protectedSet computes the set of chunk ids that must survive this
// GC pass regardless of age.
func protectedSet(ix *index, opts GCOptions) map[uuid.UUID]bool {
	protected := make(map[uuid.UUID]bool)
	if opts.ProtectLatestStatic {
		for key, entries := range ix.statics {
			if len(entries) == 0 || opts.DontProtectComponents[key.component] {
				continue
			}
			protected[entries[len(entries)-1].chunkID] = true
		}
	}
	if opts.ProtectLatestPerTimeline {
		for key, rm := range ix.ranges {
			comps := make(map[string]bool)
			var chunks []*chunk.Chunk
			rm.all(func(id uuid.UUID, _ timeline.Range) {
				if ce, ok := ix.chunksByID[id]; ok {
					chunks = append(chunks, ce.chunk)
					for _, n := range ce.chunk.ComponentNames() {
						comps[n] = true
					}
				}
			})
			// per component not excluded by DontProtectComponents,
			// protect whichever chunk holds that component's
			// latest-at(+inf) row on this timeline
			for comp := range comps {
				if opts.DontProtectComponents[comp] {
					continue
				}
				if id, ok := latestChunkOnTimeline(chunks, key.timeline, comp); ok {
					protected[id] = true
				}
			}
		}
	}
	return protected
}

// latestChunkOnTimeline returns the id of whichever chunk in chunks
// holds the row with the greatest (time, row_id) for component on tl,
// i.e. the chunk answering latest-at(entity, tl, +inf, component).
func latestChunkOnTimeline(chunks []*chunk.Chunk, tl timeline.Name, component string) (uuid.UUID, bool) {
	var bestID uuid.UUID
	var bestIdx LatestAtIndex
	found := false
	always := func(timeline.Time) bool { return true }
	for _, c := range chunks {
		id, t, cell, ok := maxValidRowOnTimeline(c, tl, component, always)
		if !ok || !cell.Valid {
			continue
		}
		cand := LatestAtIndex{Time: t, RowID: id}
		if !found || bestIdx.Less(cand) {
			bestIdx, bestID, found = cand, c.ID, true
		}
	}
	return bestID, found
}
