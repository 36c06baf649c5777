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

// Package chunk implements the immutable columnar chunk: the unit of
// storage and transport for the store.
//
// Component columns are held as Arrow list arrays of opaque byte
// values (github.com/apache/arrow/go/v12/arrow/array), one list per
// row, each list holding the row's "instances". The store never
// interprets the bytes inside a list element; that is left to callers.
package chunk

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/rowid"
	"github.com/sneller-labs/chunkstore/timeline"
)

// Allocator is the shared Arrow memory allocator used by every Column
// built in this package.
var Allocator = memory.NewGoAllocator()

// InvalidChunk is returned by constructors when a chunk's columns
// don't share a common row count, carry duplicate row ids, or
// otherwise violate the chunk's structural invariants.
type InvalidChunk struct {
	Reason string
}

func (e *InvalidChunk) Error() string { return "invalid chunk: " + e.Reason }

// TimelineColumn is one timeline's worth of per-row time values.
type TimelineColumn struct {
	Kind   timeline.Kind
	Times  []timeline.Time
	Sorted bool // non-decreasing, as (time) alone (row-id breaks ties)
}

// Column is one component's per-row list-of-instances array.
type Column struct {
	Array *array.List
}

// Cell is the opaque per-row, per-component value: zero or more
// instance byte-blobs. A nil Cell (Valid == false) means the
// component is absent for that row.
type Cell struct {
	Values [][]byte
	Valid  bool
}

// Chunk is the immutable unit of storage and transport. Once
// constructed it is never mutated; concurrent readers may share a
// *Chunk without any external synchronization.
type Chunk struct {
	ID         uuid.UUID
	EntityPath entity.Path

	rowIDs     []rowid.ID
	timelines  map[timeline.Name]TimelineColumn
	components map[string]*Column

	heapSizeBytes int64

	once        sync.Once
	minRow      rowid.ID
	maxRow      rowid.ID
	sortedIndex []int // permutation sorting rowIDs ascending, memoized
}

// New validates and constructs a Chunk from its constituent columns.
// All timeline and component columns must have length N == len(rowIDs).
func New(id uuid.UUID, path entity.Path, rowIDs []rowid.ID,
	timelines map[timeline.Name]TimelineColumn, components map[string]*Column) (*Chunk, error) {

	if err := validateColumns(rowIDs, timelines, components); err != nil {
		return nil, err
	}
	c := &Chunk{
		ID:         id,
		EntityPath: path,
		rowIDs:     rowIDs,
		timelines:  timelines,
		components: components,
	}
	c.heapSizeBytes = c.estimateSize()
	return c, nil
}

// validateColumns checks the structural invariants every chunk must
// satisfy: equal column lengths across timelines and components, and
// no duplicate row ids. A chunk with zero timelines is static; one
// with at least one timeline is temporal. Both are legal shapes.
func validateColumns(rowIDs []rowid.ID,
	timelines map[timeline.Name]TimelineColumn, components map[string]*Column) error {

	n := len(rowIDs)
	for name, tc := range timelines {
		if len(tc.Times) != n {
			return &InvalidChunk{Reason: fmt.Sprintf(
				"timeline %q has %d rows, expected %d", name, len(tc.Times), n)}
		}
	}
	for name, col := range components {
		if col == nil || col.Array == nil {
			return &InvalidChunk{Reason: fmt.Sprintf("component %q has no array", name)}
		}
		if col.Array.Len() != n {
			return &InvalidChunk{Reason: fmt.Sprintf(
				"component %q has %d rows, expected %d", name, col.Array.Len(), n)}
		}
	}
	seen := make(map[string]bool, n)
	for _, id := range rowIDs {
		k := string(id[:])
		if seen[k] {
			return &InvalidChunk{Reason: "duplicate row id within chunk"}
		}
		seen[k] = true
	}
	return nil
}

// Validate re-checks the invariants enforced at construction time. A
// chunk that fails Validate after having been accepted indicates a
// bug upstream or memory corruption; stores quarantine such chunks
// rather than keep serving them.
func (c *Chunk) Validate() error {
	return validateColumns(c.rowIDs, c.timelines, c.components)
}

func (c *Chunk) estimateSize() int64 {
	var n int64
	n += int64(len(c.rowIDs)) * 16
	for _, tc := range c.timelines {
		n += int64(len(tc.Times)) * 8
	}
	for _, col := range c.components {
		n += arrayDataSizeInBytes(col.Array.Data())
	}
	return n
}

// arrayDataSizeInBytes sums the byte length of all buffers referenced by
// an Arrow ArrayData, including nested children and dictionaries.
func arrayDataSizeInBytes(d arrow.ArrayData) int64 {
	var n int64
	for _, buf := range d.Buffers() {
		if buf != nil {
			n += int64(buf.Len())
		}
	}
	for _, child := range d.Children() {
		n += arrayDataSizeInBytes(child)
	}
	if dict := d.Dictionary(); dict != nil && !reflect.ValueOf(dict).IsNil() {
		n += arrayDataSizeInBytes(dict)
	}
	return n
}

// RowCount returns N, the number of rows in the chunk.
func (c *Chunk) RowCount() int { return len(c.rowIDs) }

// HeapSizeBytes is the precomputed size hint used by the garbage
// collector's eviction policy.
func (c *Chunk) HeapSizeBytes() int64 { return c.heapSizeBytes }

// ComponentNames returns the set of component names present.
func (c *Chunk) ComponentNames() []string {
	out := make([]string, 0, len(c.components))
	for name := range c.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TimelineNames returns the set of timeline names present.
func (c *Chunk) TimelineNames() []timeline.Name {
	out := make([]timeline.Name, 0, len(c.timelines))
	for name := range c.timelines {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsStatic reports whether the chunk carries no timelines, i.e. its
// rows apply at every time on every timeline for its entity+components.
func (c *Chunk) IsStatic() bool { return len(c.timelines) == 0 }

func (c *Chunk) memoize() {
	c.once.Do(func() {
		if len(c.rowIDs) == 0 {
			return
		}
		min, max := c.rowIDs[0], c.rowIDs[0]
		idx := make([]int, len(c.rowIDs))
		for i, id := range c.rowIDs {
			idx[i] = i
			if id.Less(min) {
				min = id
			}
			if max.Less(id) {
				max = id
			}
		}
		sort.Slice(idx, func(i, j int) bool {
			return c.rowIDs[idx[i]].Less(c.rowIDs[idx[j]])
		})
		c.minRow, c.maxRow, c.sortedIndex = min, max, idx
	})
}

// RowIDRange returns the (min, max) row ids present in the chunk. It
// is O(1) after the first call (lazily memoized).
func (c *Chunk) RowIDRange() (min, max rowid.ID, ok bool) {
	if len(c.rowIDs) == 0 {
		return rowid.ID{}, rowid.ID{}, false
	}
	c.memoize()
	return c.minRow, c.maxRow, true
}

// TimeRange returns the (min, max) time values on the named timeline,
// or ok=false if the chunk does not carry that timeline.
func (c *Chunk) TimeRange(name timeline.Name) (rng timeline.Range, ok bool) {
	tc, present := c.timelines[name]
	if !present || len(tc.Times) == 0 {
		return timeline.Range{}, false
	}
	min, max := tc.Times[0], tc.Times[0]
	for _, t := range tc.Times[1:] {
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	return timeline.Range{Min: min, Max: max}, true
}

// IsSortedOn reports the is_sorted flag recorded for a timeline.
func (c *Chunk) IsSortedOn(name timeline.Name) bool {
	return c.timelines[name].Sorted
}

// RowID returns the row id at row index i.
func (c *Chunk) RowID(i int) rowid.ID { return c.rowIDs[i] }

// Time returns the time value at row index i on the named timeline.
func (c *Chunk) Time(name timeline.Name, i int) (timeline.Time, bool) {
	tc, ok := c.timelines[name]
	if !ok {
		return 0, false
	}
	return tc.Times[i], true
}

// IterIndices calls fn(time, rowID) for every row in row order on the
// named timeline. If the chunk is static, fn is called with the
// caller-agnostic sentinel timeline.MinTime for every row.
func (c *Chunk) IterIndices(name timeline.Name, fn func(t timeline.Time, id rowid.ID)) {
	if c.IsStatic() {
		for _, id := range c.rowIDs {
			fn(timeline.MinTime, id)
		}
		return
	}
	tc, ok := c.timelines[name]
	if !ok {
		return
	}
	for i, t := range tc.Times {
		fn(t, c.rowIDs[i])
	}
}

// Cell returns the opaque cell for (rowID, component), found via
// O(log N) binary search over the memoized row-id ordering.
func (c *Chunk) Cell(id rowid.ID, component string) (Cell, bool) {
	col, ok := c.components[component]
	if !ok {
		return Cell{}, false
	}
	c.memoize()
	idx := sort.Search(len(c.sortedIndex), func(i int) bool {
		return !c.rowIDs[c.sortedIndex[i]].Less(id)
	})
	if idx >= len(c.sortedIndex) || c.rowIDs[c.sortedIndex[idx]] != id {
		return Cell{}, false
	}
	return cellAt(col, c.sortedIndex[idx]), true
}

func cellAt(col *Column, row int) Cell {
	lst := col.Array
	if lst.IsNull(row) {
		return Cell{Valid: false}
	}
	start, end := lst.ValueOffsets(row)
	values := lst.ListValues().(*array.Binary)
	out := make([][]byte, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, values.Value(int(i)))
	}
	return Cell{Values: out, Valid: true}
}

// Slice returns a zero-copy view of rows [from, to).
func (c *Chunk) Slice(from, to int) *Chunk {
	if from < 0 || to > len(c.rowIDs) || from > to {
		panic("chunk.Slice: row range out of bounds")
	}
	out := &Chunk{
		ID:         c.ID,
		EntityPath: c.EntityPath,
		rowIDs:     c.rowIDs[from:to],
		timelines:  make(map[timeline.Name]TimelineColumn, len(c.timelines)),
		components: make(map[string]*Column, len(c.components)),
	}
	for name, tc := range c.timelines {
		out.timelines[name] = TimelineColumn{
			Kind:   tc.Kind,
			Times:  tc.Times[from:to],
			Sorted: tc.Sorted,
		}
	}
	for name, col := range c.components {
		sliced := array.NewSlice(col.Array, int64(from), int64(to)).(*array.List)
		out.components[name] = &Column{Array: sliced}
	}
	out.heapSizeBytes = out.estimateSize()
	return out
}

// FilterByRowIDs returns a new Chunk containing only the rows whose
// row id is present in ids.
func (c *Chunk) FilterByRowIDs(ids map[rowid.ID]bool) *Chunk {
	keep := make([]int, 0, len(ids))
	for i, id := range c.rowIDs {
		if ids[id] {
			keep = append(keep, i)
		}
	}
	return c.take(keep)
}

// SortBy returns a copy sorted non-decreasingly by (time, row_id) on
// the named timeline.
func (c *Chunk) SortBy(name timeline.Name) *Chunk {
	tc, ok := c.timelines[name]
	if !ok || len(tc.Times) == 0 {
		return c
	}
	order := make([]int, len(c.rowIDs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if tc.Times[a] != tc.Times[b] {
			return tc.Times[a] < tc.Times[b]
		}
		return c.rowIDs[a].Less(c.rowIDs[b])
	})
	return c.take(order)
}

func (c *Chunk) take(order []int) *Chunk {
	rowIDs := make([]rowid.ID, len(order))
	for i, idx := range order {
		rowIDs[i] = c.rowIDs[idx]
	}
	timelines := make(map[timeline.Name]TimelineColumn, len(c.timelines))
	for name, tc := range c.timelines {
		times := make([]timeline.Time, len(order))
		for i, idx := range order {
			times[i] = tc.Times[idx]
		}
		// recompute rather than carry over: the permutation may have
		// broken (or restored) non-decreasing order on this timeline
		timelines[name] = TimelineColumn{Kind: tc.Kind, Times: times, Sorted: nonDecreasing(times)}
	}
	components := make(map[string]*Column, len(c.components))
	for name, col := range c.components {
		components[name] = &Column{Array: takeList(col.Array, order)}
	}
	out := &Chunk{
		ID:         c.ID,
		EntityPath: c.EntityPath,
		rowIDs:     rowIDs,
		timelines:  timelines,
		components: components,
	}
	out.heapSizeBytes = out.estimateSize()
	return out
}

func nonDecreasing(times []timeline.Time) bool {
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			return false
		}
	}
	return true
}

// takeList rebuilds a List(Binary) array containing only the rows
// named by order, preserving per-row null/value semantics.
func takeList(lst *array.List, order []int) *array.List {
	lb := array.NewListBuilder(Allocator, arrow.BinaryTypes.Binary)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.BinaryBuilder)
	values := lst.ListValues().(*array.Binary)
	for _, row := range order {
		if lst.IsNull(row) {
			lb.AppendNull()
			continue
		}
		lb.Append(true)
		start, end := lst.ValueOffsets(row)
		for i := start; i < end; i++ {
			vb.Append(values.Value(int(i)))
		}
	}
	return lb.NewListArray()
}

// NewColumn builds a Column from per-row instance lists; a nil slice
// for a row marks that row's component as absent (null).
func NewColumn(rows [][][]byte) *Column {
	lb := array.NewListBuilder(Allocator, arrow.BinaryTypes.Binary)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.BinaryBuilder)
	for _, row := range rows {
		if row == nil {
			lb.AppendNull()
			continue
		}
		lb.Append(true)
		for _, instance := range row {
			vb.Append(instance)
		}
	}
	return &Column{Array: lb.NewListArray()}
}

// Concat returns a new Chunk with the given id, holding a's rows
// followed by b's rows. a and b must share the same entity path, the
// same set of timeline names and the same set of component names;
// Concat does not reorder rows, so callers that need the result
// sorted on a timeline must call SortBy afterward. It is used to
// coalesce a newly inserted chunk into an existing one when both are
// small (store/mutate.go).
func Concat(id uuid.UUID, a, b *Chunk) (*Chunk, error) {
	if !a.EntityPath.Equal(b.EntityPath) {
		return nil, &InvalidChunk{Reason: "Concat: entity path mismatch"}
	}
	if len(a.timelines) != len(b.timelines) {
		return nil, &InvalidChunk{Reason: "Concat: timeline set mismatch"}
	}
	if len(a.components) != len(b.components) {
		return nil, &InvalidChunk{Reason: "Concat: component set mismatch"}
	}
	rowIDs := make([]rowid.ID, 0, len(a.rowIDs)+len(b.rowIDs))
	rowIDs = append(rowIDs, a.rowIDs...)
	rowIDs = append(rowIDs, b.rowIDs...)

	timelines := make(map[timeline.Name]TimelineColumn, len(a.timelines))
	for name, ta := range a.timelines {
		tb, ok := b.timelines[name]
		if !ok {
			return nil, &InvalidChunk{Reason: fmt.Sprintf("Concat: timeline %q missing from second chunk", name)}
		}
		times := make([]timeline.Time, 0, len(ta.Times)+len(tb.Times))
		times = append(times, ta.Times...)
		times = append(times, tb.Times...)
		timelines[name] = TimelineColumn{
			Kind:   ta.Kind,
			Times:  times,
			Sorted: ta.Sorted && tb.Sorted && (len(ta.Times) == 0 || len(tb.Times) == 0 || ta.Times[len(ta.Times)-1] <= tb.Times[0]),
		}
	}
	components := make(map[string]*Column, len(a.components))
	for name, ca := range a.components {
		cb, ok := b.components[name]
		if !ok {
			return nil, &InvalidChunk{Reason: fmt.Sprintf("Concat: component %q missing from second chunk", name)}
		}
		components[name] = &Column{Array: concatList(ca.Array, cb.Array)}
	}
	out := &Chunk{
		ID:         id,
		EntityPath: a.EntityPath,
		rowIDs:     rowIDs,
		timelines:  timelines,
		components: components,
	}
	out.heapSizeBytes = out.estimateSize()
	return out, nil
}

// concatList builds a single List(Binary) array holding a's rows
// followed by b's rows.
func concatList(a, b *array.List) *array.List {
	lb := array.NewListBuilder(Allocator, arrow.BinaryTypes.Binary)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.BinaryBuilder)
	appendAll := func(lst *array.List) {
		values := lst.ListValues().(*array.Binary)
		for row := 0; row < lst.Len(); row++ {
			if lst.IsNull(row) {
				lb.AppendNull()
				continue
			}
			lb.Append(true)
			start, end := lst.ValueOffsets(row)
			for i := start; i < end; i++ {
				vb.Append(values.Value(int(i)))
			}
		}
	}
	appendAll(a)
	appendAll(b)
	return lb.NewListArray()
}
