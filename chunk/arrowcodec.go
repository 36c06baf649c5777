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

package chunk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/rowid"
	"github.com/sneller-labs/chunkstore/timeline"
)

// This file implements the Arrow IPC payload shape used by package
// rrd to move a Chunk over the wire. Row ids become a
// FixedSizeBinary(16) column, each
// timeline becomes an Int64 column, and each component stays the
// List(Binary) array it already is; chunk-level metadata that has no
// natural Arrow column (chunk id, entity path, per-timeline kind/sorted
// flags, the heap size hint) rides in the record's Schema.Metadata.
const (
	rowIDField    = "__row_id__"
	timePrefix    = "__time__:"
	metaChunkID   = "chunkstore.chunk_id"
	metaEntity    = "chunkstore.entity_path"
	metaHeapSize  = "chunkstore.heap_size_bytes"
	metaTimeKind  = "chunkstore.timeline_kind:"
	metaTimeSort  = "chunkstore.timeline_sorted:"
	metaComponent = "chunkstore.component:" // marks a field as a component (vs. a timeline)
)

// ToRecord encodes c as a single Arrow record plus its schema.
func (c *Chunk) ToRecord() (arrow.Record, error) {
	fields := make([]arrow.Field, 0, 1+len(c.timelines)+len(c.components))
	cols := make([]arrow.Array, 0, cap(fields))
	keys := []string{metaChunkID, metaEntity, metaHeapSize}
	vals := []string{c.ID.String(), encodePath(c.EntityPath), strconv.FormatInt(c.heapSizeBytes, 10)}

	ridBuilder := array.NewFixedSizeBinaryBuilder(Allocator, &arrow.FixedSizeBinaryType{ByteWidth: 16})
	for _, id := range c.rowIDs {
		b := id
		ridBuilder.Append(b[:])
	}
	fields = append(fields, arrow.Field{Name: rowIDField, Type: ridBuilder.Type()})
	cols = append(cols, ridBuilder.NewArray())
	ridBuilder.Release()

	for _, name := range c.TimelineNames() {
		tc := c.timelines[name]
		ib := array.NewInt64Builder(Allocator)
		for _, t := range tc.Times {
			ib.Append(int64(t))
		}
		fields = append(fields, arrow.Field{Name: timePrefix + string(name), Type: arrow.PrimitiveTypes.Int64})
		cols = append(cols, ib.NewArray())
		ib.Release()
		keys = append(keys, metaTimeKind+string(name), metaTimeSort+string(name))
		vals = append(vals, strconv.Itoa(int(tc.Kind)), strconv.FormatBool(tc.Sorted))
	}

	for _, name := range c.ComponentNames() {
		col := c.components[name]
		fields = append(fields, arrow.Field{Name: name, Type: col.Array.DataType(), Nullable: true})
		cols = append(cols, col.Array)
		keys = append(keys, metaComponent+name)
		vals = append(vals, "1")
	}

	meta := arrow.NewMetadata(keys, vals)
	schema := arrow.NewSchema(fields, &meta)
	return array.NewRecord(schema, cols, int64(len(c.rowIDs))), nil
}

// FromRecord reconstructs a Chunk from a record produced by ToRecord.
func FromRecord(rec arrow.Record) (*Chunk, error) {
	schema := rec.Schema()
	meta := schema.Metadata()
	get := func(key string) (string, bool) {
		for i, k := range meta.Keys() {
			if k == key {
				return meta.Values()[i], true
			}
		}
		return "", false
	}

	idStr, ok := get(metaChunkID)
	if !ok {
		return nil, fmt.Errorf("chunk record missing %s", metaChunkID)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("chunk record: bad chunk id: %w", err)
	}
	pathStr, ok := get(metaEntity)
	if !ok {
		return nil, fmt.Errorf("chunk record missing %s", metaEntity)
	}
	path, err := decodePath(pathStr)
	if err != nil {
		return nil, err
	}

	var rowIDs []rowid.ID
	timelines := make(map[timeline.Name]TimelineColumn)
	components := make(map[string]*Column)

	for i, field := range schema.Fields() {
		col := rec.Column(i)
		switch {
		case field.Name == rowIDField:
			arr := col.(*array.FixedSizeBinary)
			rowIDs = make([]rowid.ID, arr.Len())
			for r := 0; r < arr.Len(); r++ {
				copy(rowIDs[r][:], arr.Value(r))
			}
		case strings.HasPrefix(field.Name, timePrefix):
			name := timeline.Name(strings.TrimPrefix(field.Name, timePrefix))
			arr := col.(*array.Int64)
			times := make([]timeline.Time, arr.Len())
			for r := 0; r < arr.Len(); r++ {
				times[r] = timeline.Time(arr.Value(r))
			}
			kind := timeline.Sequence
			if k, ok := get(metaTimeKind + string(name)); ok {
				if v, err := strconv.Atoi(k); err == nil {
					kind = timeline.Kind(v)
				}
			}
			sorted, _ := strconv.ParseBool(firstOr(get(metaTimeSort + string(name))))
			timelines[name] = TimelineColumn{Kind: kind, Times: times, Sorted: sorted}
		default:
			if _, isComponent := get(metaComponent + field.Name); isComponent {
				// rebuild the array from its data so the column stays
				// valid after the enclosing record is released
				components[field.Name] = &Column{Array: array.NewListData(col.Data())}
			}
		}
	}

	return New(id, path, rowIDs, timelines, components)
}

func firstOr(s string, ok bool) string {
	if ok {
		return s
	}
	return "false"
}

func encodePath(p entity.Path) string {
	b, _ := json.Marshal([]string(p))
	return string(b)
}

func decodePath(s string) (entity.Path, error) {
	var parts []string
	if err := json.Unmarshal([]byte(s), &parts); err != nil {
		return nil, fmt.Errorf("decoding entity path: %w", err)
	}
	return entity.Path(parts), nil
}
