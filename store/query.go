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

	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/rowid"
	"github.com/sneller-labs/chunkstore/timeline"
)

// This file implements the two query shapes the store answers:
// latest-at and range reads over the index built by store/index.go.
//
// Queries never mutate the index. Store.LatestAt/Store.Range hold
// only the read lease for the duration of the call. The engine never
// joins across components; callers reassemble rows by row id.

// LatestAtValue is one component's answer to a latest-at query: the
// winning row's (time, row id) and its opaque cell.
type LatestAtValue struct {
	Time  timeline.Time
	RowID rowid.ID
	Cell  chunk.Cell
}

// LatestAtIndex is the stable compound index of a latest-at answer:
// the maximum (time, row_id) among every LatestAtValue in a
// LatestAtResult, i.e. the latest across the returned components.
type LatestAtIndex struct {
	Time  timeline.Time
	RowID rowid.ID
}

// Less reports whether idx sorts strictly before other under the
// (time, row_id) lexicographic order.
func (idx LatestAtIndex) Less(other LatestAtIndex) bool {
	if idx.Time != other.Time {
		return idx.Time < other.Time
	}
	return idx.RowID.Less(other.RowID)
}

// LatestAtResult is the outcome of a latest-at query: one value per
// component that had an answer, plus the compound index of the latest
// among them.
type LatestAtResult struct {
	Index  LatestAtIndex
	Values map[string]LatestAtValue
}

// LatestAt answers, for each requested component independently, the
// single "current" value at or before atTime on the named timeline:
//
//  1. Among static chunks for (entity, component), the row with the
//     maximum row id wins outright; static data beats temporal data
//     at every query time.
//  2. Otherwise, among temporal chunks indexing timeline, the row
//     with the maximum (time, row_id) at or before atTime wins.
//  3. If neither exists, the component is simply absent from the
//     result. An unknown entity or timeline surfaces as an empty
//     result, not an error.
func (s *Store) LatestAt(path entity.Path, tl timeline.Name, atTime timeline.Time, components []string) LatestAtResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := LatestAtResult{Values: make(map[string]LatestAtValue, len(components))}
	first := true
	for _, name := range components {
		val, ok := latestAtComponent(s.idx, path, tl, atTime, name)
		if !ok {
			continue
		}
		out.Values[name] = val
		vidx := LatestAtIndex{Time: val.Time, RowID: val.RowID}
		if first || out.Index.Less(vidx) {
			out.Index = vidx
		}
		first = false
	}
	return out
}

func latestAtComponent(ix *index, path entity.Path, tl timeline.Name, atTime timeline.Time, component string) (LatestAtValue, bool) {
	if val, ok := latestStatic(ix, path, component); ok {
		return val, true
	}
	return latestTemporal(ix, path, tl, atTime, component)
}

// latestStatic scans every static chunk touching (entity, component)
// and returns the row with the greatest row id.
func latestStatic(ix *index, path entity.Path, component string) (LatestAtValue, bool) {
	eid := entity.Global().Intern(path)
	entries, ok := ix.statics[entityComponentKey{entity: eid, component: component}]
	if !ok {
		return LatestAtValue{}, false
	}
	var best LatestAtValue
	found := false
	for _, e := range entries {
		ce, ok := ix.chunksByID[e.chunkID]
		if !ok {
			continue
		}
		maxID, cell, ok := maxValidRow(ce.chunk, component)
		if !ok {
			continue
		}
		if !found || best.RowID.Less(maxID) {
			best = LatestAtValue{Time: timeline.MinTime, RowID: maxID, Cell: cell}
			found = true
		}
	}
	return best, found
}

// latestTemporal scans every temporal chunk overlapping [-inf, atTime]
// on tl and returns the row with the greatest (time, row_id) at or
// before atTime.
func latestTemporal(ix *index, path entity.Path, tl timeline.Name, atTime timeline.Time, component string) (LatestAtValue, bool) {
	q := timeline.Range{Min: timeline.MinTime, Max: atTime}
	candidates := ix.chunksFor(path, tl, component, q)

	var best LatestAtValue
	found := false
	for _, c := range candidates {
		atMost := func(t timeline.Time) bool { return t <= atTime }
		id, t, cell, ok := maxValidRowOnTimeline(c, tl, component, atMost)
		if !ok {
			continue
		}
		cand := LatestAtIndex{Time: t, RowID: id}
		if !found || (LatestAtIndex{Time: best.Time, RowID: best.RowID}).Less(cand) {
			best = LatestAtValue{Time: t, RowID: id, Cell: cell}
			found = true
		}
	}
	return best, found
}

// maxValidRow returns the (row id, cell) of the row with the greatest
// row id in c that has a valid cell for component. Static chunks have
// no time dimension, so row id alone is the tiebreak.
func maxValidRow(c *chunk.Chunk, component string) (rowid.ID, chunk.Cell, bool) {
	var best rowid.ID
	var bestCell chunk.Cell
	found := false
	for i := 0; i < c.RowCount(); i++ {
		id := c.RowID(i)
		cell, ok := c.Cell(id, component)
		if !ok || !cell.Valid {
			continue
		}
		if !found || best.Less(id) {
			best, bestCell, found = id, cell, true
		}
	}
	return best, bestCell, found
}

// maxValidRowOnTimeline returns the (row id, time, cell) of the row
// with the greatest (time, row_id) in c on timeline tl whose time
// satisfies pred and whose cell is valid for component.
func maxValidRowOnTimeline(c *chunk.Chunk, tl timeline.Name, component string, pred func(timeline.Time) bool) (rowid.ID, timeline.Time, chunk.Cell, bool) {
	var bestID rowid.ID
	var bestTime timeline.Time
	var bestCell chunk.Cell
	found := false
	c.IterIndices(tl, func(t timeline.Time, id rowid.ID) {
		if !pred(t) {
			return
		}
		cell, ok := c.Cell(id, component)
		if !ok || !cell.Valid {
			return
		}
		cand := LatestAtIndex{Time: t, RowID: id}
		if !found || (LatestAtIndex{Time: bestTime, RowID: bestID}).Less(cand) {
			bestID, bestTime, bestCell, found = id, t, cell, true
		}
	})
	return bestID, bestTime, bestCell, found
}

// RangeRow is one row of a range query's answer for a single component.
type RangeRow struct {
	Time  timeline.Time
	RowID rowid.ID
	Cell  chunk.Cell
}

// Range answers, for each requested component independently, every
// row in [r.Min, r.Max] on the named timeline, ordered by (time,
// row_id) ascending. Static data is emitted once per row with the
// sentinel time timeline.MinTime, which sorts before every real range
// boundary, so static rows always lead without a separate merge step.
func (s *Store) Range(path entity.Path, tl timeline.Name, r timeline.Range, components []string) map[string][]RangeRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]RangeRow, len(components))
	for _, name := range components {
		rows := rangeComponent(s.idx, path, tl, r, name)
		if len(rows) > 0 {
			out[name] = rows
		}
	}
	return out
}

func rangeComponent(ix *index, path entity.Path, tl timeline.Name, r timeline.Range, component string) []RangeRow {
	var rows []RangeRow

	eid := entity.Global().Intern(path)
	if entries, ok := ix.statics[entityComponentKey{entity: eid, component: component}]; ok {
		seen := make(map[uuid.UUID]bool)
		for _, e := range entries {
			if seen[e.chunkID] {
				continue
			}
			seen[e.chunkID] = true
			ce, ok := ix.chunksByID[e.chunkID]
			if !ok {
				continue
			}
			for i := 0; i < ce.chunk.RowCount(); i++ {
				id := ce.chunk.RowID(i)
				cell, ok := ce.chunk.Cell(id, component)
				if ok && cell.Valid {
					rows = append(rows, RangeRow{Time: timeline.MinTime, RowID: id, Cell: cell})
				}
			}
		}
	}

	for _, c := range ix.chunksFor(path, tl, component, r) {
		if c.IsStatic() {
			// already emitted above with the sentinel time
			continue
		}
		c.IterIndices(tl, func(t timeline.Time, id rowid.ID) {
			if !r.Contains(t) {
				return
			}
			cell, ok := c.Cell(id, component)
			if ok && cell.Valid {
				rows = append(rows, RangeRow{Time: t, RowID: id, Cell: cell})
			}
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Time != rows[j].Time {
			return rows[i].Time < rows[j].Time
		}
		return rows[i].RowID.Less(rows[j].RowID)
	})
	return rows
}
