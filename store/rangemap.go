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

// Package store implements the chunk store proper: the per-entity,
// per-timeline, per-component index, the single-writer mutator, the
// latest-at/range query engine, the subscriber bus, and the garbage
// collector.
package store

import (
	"sort"

	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/timeline"
)

// rangeEntry associates a chunk id with the inclusive time range it
// covers on one (entity, timeline).
type rangeEntry struct {
	rng     timeline.Range
	chunkID uuid.UUID
}

// rangeMap holds the chunk references for one (entity, timeline),
// indexed by the inclusive (min_time, max_time) each chunk covers, so
// overlapping ranges are iterable in range-start order. Overlap uses
// closed intervals; ties are broken by insertion order, with the
// caller's own row-id tiebreak applying within chunks.
//
// Entries are kept sorted by rng.Min. Overlap queries binary search
// to the last entry that could start at or before the query's upper
// bound, then linearly filter for actual overlap: O(log n) to the
// first candidate plus O(k) when chunk ranges are roughly
// ingestion-ordered, degrading to O(n) for adversarially nested
// ranges (an augmented interval tree would be the next step if that
// mix ever shows up in practice).
type rangeMap struct {
	entries []rangeEntry
}

func (m *rangeMap) insert(rng timeline.Range, id uuid.UUID) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].rng.Min > rng.Min })
	m.entries = append(m.entries, rangeEntry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = rangeEntry{rng: rng, chunkID: id}
}

func (m *rangeMap) remove(id uuid.UUID) {
	out := m.entries[:0]
	for _, e := range m.entries {
		if e.chunkID != id {
			out = append(out, e)
		}
	}
	m.entries = out
}

// overlapping calls fn for every entry whose range overlaps q, in
// ascending order of rng.Min.
func (m *rangeMap) overlapping(q timeline.Range, fn func(id uuid.UUID, rng timeline.Range)) {
	hi := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].rng.Min > q.Max })
	for i := 0; i < hi; i++ {
		if m.entries[i].rng.Overlaps(q) {
			fn(m.entries[i].chunkID, m.entries[i].rng)
		}
	}
}

// all calls fn for every entry, in ascending order of rng.Min.
func (m *rangeMap) all(fn func(id uuid.UUID, rng timeline.Range)) {
	for _, e := range m.entries {
		fn(e.chunkID, e.rng)
	}
}

func (m *rangeMap) len() int { return len(m.entries) }
