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
	"testing"

	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/rowid"
	"github.com/sneller-labs/chunkstore/storeid"
	"github.com/sneller-labs/chunkstore/timeline"
)

func temporalChunk(t *testing.T, path string, frames []timeline.Time, component string, values [][][]byte) *chunk.Chunk {
	t.Helper()
	ids := make([]rowid.ID, len(frames))
	for i := range ids {
		ids[i] = rowid.New(int64(1000 + i))
	}
	tl := map[timeline.Name]chunk.TimelineColumn{
		"frame": {Kind: timeline.Sequence, Times: frames, Sorted: true},
	}
	comps := map[string]*chunk.Column{component: chunk.NewColumn(values)}
	c, err := chunk.New(uuid.New(), entity.ParsePath(path), ids, tl, comps)
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	return c
}

func staticChunk(t *testing.T, path, component string, value []byte) *chunk.Chunk {
	t.Helper()
	ids := []rowid.ID{rowid.New(1)}
	comps := map[string]*chunk.Column{component: chunk.NewColumn([][][]byte{{value}})}
	c, err := chunk.New(uuid.New(), entity.ParsePath(path), ids, nil, comps)
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	return c
}

// Entity a/b/c, timeline frame=[1,2,3],
// component points. Latest-at frame=2 returns the second row; range
// [1,3] returns three rows in order.
func TestLatestAtAndRange(t *testing.T) {
	s := New(storeid.New(storeid.Recording), DefaultOptions())
	points := [][][]byte{
		{[]byte("p0")},
		{[]byte("p1")},
		{[]byte("p2")},
	}
	c := temporalChunk(t, "a/b/c", []timeline.Time{1, 2, 3}, "points", points)
	s.Insert(c)

	res := s.LatestAt(entity.ParsePath("a/b/c"), "frame", 2, []string{"points"})
	val, ok := res.Values["points"]
	if !ok {
		t.Fatalf("expected points in latest-at result")
	}
	if val.Time != 2 || string(val.Cell.Values[0]) != "p1" {
		t.Fatalf("latest-at(2) = %+v, want row 1 (p1)", val)
	}

	rows := s.Range(entity.ParsePath("a/b/c"), "frame", timeline.Range{Min: 1, Max: 3}, []string{"points"})["points"]
	if len(rows) != 3 {
		t.Fatalf("range[1,3] returned %d rows, want 3", len(rows))
	}
	for i, row := range rows {
		want := "p" + string(rune('0'+i))
		if string(row.Cell.Values[0]) != want {
			t.Fatalf("range row %d = %q, want %q", i, row.Cell.Values[0], want)
		}
	}
}

// Static colors=[red] and temporal
// colors=[blue] at frame=10, both for "a". Latest-at at frame=5 and
// frame=20 both return red: static precedence.
func TestLatestAtStaticPrecedence(t *testing.T) {
	s := New(storeid.New(storeid.Recording), DefaultOptions())
	s.Insert(staticChunk(t, "a", "colors", []byte("red")))
	s.Insert(temporalChunk(t, "a", []timeline.Time{10}, "colors", [][][]byte{{[]byte("blue")}}))

	for _, at := range []timeline.Time{5, 20} {
		res := s.LatestAt(entity.ParsePath("a"), "frame", at, []string{"colors"})
		val, ok := res.Values["colors"]
		if !ok {
			t.Fatalf("latest-at(%d): missing colors", at)
		}
		if string(val.Cell.Values[0]) != "red" {
			t.Fatalf("latest-at(%d) = %q, want red (static precedence)", at, val.Cell.Values[0])
		}
	}
}

func TestLatestAtUnknownEntityIsEmpty(t *testing.T) {
	s := New(storeid.New(storeid.Recording), DefaultOptions())
	res := s.LatestAt(entity.ParsePath("nowhere"), "frame", 0, []string{"colors"})
	if len(res.Values) != 0 {
		t.Fatalf("expected empty result for unknown entity, got %+v", res.Values)
	}
}

func TestRangeOrderingAcrossChunks(t *testing.T) {
	s := New(storeid.New(storeid.Recording), DefaultOptions())
	s.Insert(temporalChunk(t, "a", []timeline.Time{5}, "v", [][][]byte{{[]byte("five")}}))
	s.Insert(temporalChunk(t, "a", []timeline.Time{1}, "v", [][][]byte{{[]byte("one")}}))
	s.Insert(temporalChunk(t, "a", []timeline.Time{3}, "v", [][][]byte{{[]byte("three")}}))

	rows := s.Range(entity.ParsePath("a"), "frame", timeline.Range{Min: timeline.MinTime, Max: timeline.MaxTime}, []string{"v"})["v"]
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	want := []string{"one", "three", "five"}
	for i, row := range rows {
		if string(row.Cell.Values[0]) != want[i] {
			t.Fatalf("row %d = %q, want %q", i, row.Cell.Values[0], want[i])
		}
	}
}
