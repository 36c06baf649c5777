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
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/rowid"
	"github.com/sneller-labs/chunkstore/storeid"
	"github.com/sneller-labs/chunkstore/timeline"
)

// blobChunk builds a single-row temporal chunk under path carrying a
// component whose value is a fixed-size byte blob, so HeapSizeBytes is
// dominated by (and roughly proportional to) blobLen across chunks
// built by repeated calls.
func blobChunk(t *testing.T, path string, frame timeline.Time, blobLen int) *chunk.Chunk {
	t.Helper()
	ids := []rowid.ID{rowid.New(int64(frame) + 1)}
	tl := map[timeline.Name]chunk.TimelineColumn{
		"frame": {Kind: timeline.Sequence, Times: []timeline.Time{frame}, Sorted: true},
	}
	comps := map[string]*chunk.Column{"blob": chunk.NewColumn([][][]byte{{make([]byte, blobLen)}})}
	c, err := chunk.New(uuid.New(), entity.ParsePath(path), ids, tl, comps)
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	return c
}

// Two inserts claiming the same chunk_id; the
// second is a silent no-op and emits no event.
func TestInsertDuplicateChunkIDIsNoop(t *testing.T) {
	s := New(storeid.New(storeid.Recording), DefaultOptions())
	id := uuid.New()
	c1, err := chunk.New(id, entity.ParsePath("a"), []rowid.ID{rowid.New(1)}, nil,
		map[string]*chunk.Column{"x": chunk.NewColumn([][][]byte{{[]byte("v1")}})})
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	c2, err := chunk.New(id, entity.ParsePath("a"), []rowid.ID{rowid.New(2)}, nil,
		map[string]*chunk.Column{"x": chunk.NewColumn([][][]byte{{[]byte("v2")}})})
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}

	events1 := s.Insert(c1)
	if len(events1) != 1 || events1[0].Kind != Addition {
		t.Fatalf("first insert: got %+v, want one Addition", events1)
	}
	events2 := s.Insert(c2)
	if len(events2) != 0 {
		t.Fatalf("duplicate chunk_id insert emitted %+v, want no events", events2)
	}
	if s.Len() != 1 {
		t.Fatalf("store has %d chunks, want 1", s.Len())
	}
}

// insert(c); insert(c) observably
// equals insert(c).
func TestInsertSameChunkTwiceIsIdempotent(t *testing.T) {
	s := New(storeid.New(storeid.Recording), DefaultOptions())
	c := blobChunk(t, "a", 1, 16)

	first := s.Insert(c)
	if len(first) != 1 || first[0].Kind != Addition {
		t.Fatalf("first insert: got %+v, want one Addition", first)
	}
	second := s.Insert(c)
	if len(second) != 0 {
		t.Fatalf("re-insert of the same chunk emitted %+v, want none", second)
	}
	if s.Len() != 1 {
		t.Fatalf("store has %d chunks, want 1", s.Len())
	}
}

// Register a subscriber; insert X; insert Y;
// drop entity a. S.events is [Add(X), Add(Y), Del(X), Del(Y)], in that
// order.
func TestSubscriberEventOrder(t *testing.T) {
	s := New(storeid.New(storeid.Recording), DefaultOptions())

	var mu sync.Mutex
	var got []Event
	s.Subscribe(func(events []Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, events...)
	})

	x := blobChunk(t, "a", 1, 16)
	y := blobChunk(t, "a/b", 2, 16)

	s.Insert(x)
	s.Insert(y)
	s.DropEntityPath(entity.ParsePath("a"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(got), got)
	}
	wantKinds := []EventKind{Addition, Addition, Deletion, Deletion}
	wantIDs := []uuid.UUID{x.ID, y.ID, x.ID, y.ID}
	for i, e := range got {
		if e.Kind != wantKinds[i] || e.ChunkID != wantIDs[i] {
			t.Fatalf("event %d = %+v, want kind %v chunk %v", i, e, wantKinds[i], wantIDs[i])
		}
	}
}

// Insert N equal-size chunks; gc with a byte
// budget covering exactly the oldest K deletes exactly those K chunks,
// oldest first, and emits one Deletion event per chunk, in insertion
// order.
func TestGCDeletesOldestFirst(t *testing.T) {
	// A tiny coalesce threshold keeps each insert a distinct chunk;
	// otherwise these same-entity/timeline/component chunks would
	// merge via the automatic coalescing policy
	// and there would be nothing left to evict chunk-by-chunk.
	s := New(storeid.New(storeid.Recording), Options{CoalesceThresholdBytes: 1})

	const n = 10
	const evict = 5
	chunks := make([]*chunk.Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = blobChunk(t, "a", timeline.Time(i), 1<<16)
		s.Insert(chunks[i])
	}

	var target int64
	for i := 0; i < evict; i++ {
		target += chunks[i].HeapSizeBytes()
	}

	events := s.GC(GCOptions{TargetBytesToDrop: target})
	if len(events) != evict {
		t.Fatalf("GC evicted %d chunks, want %d", len(events), evict)
	}
	for i, e := range events {
		if e.Kind != Deletion {
			t.Fatalf("event %d kind = %v, want Deletion", i, e.Kind)
		}
		if e.ChunkID != chunks[i].ID {
			t.Fatalf("event %d chunk = %v, want oldest-first chunk %v", i, e.ChunkID, chunks[i].ID)
		}
	}
	if s.Len() != n-evict {
		t.Fatalf("store has %d chunks, want %d", s.Len(), n-evict)
	}
	for i := evict; i < n; i++ {
		if _, ok := s.Chunk(chunks[i].ID); !ok {
			t.Fatalf("surviving chunk %d missing after GC", i)
		}
	}
}

// After gc(protect_latest_per_timeline),
// every latest-at(+inf) answerable before the call is still answerable
// after, even though the chunk holding it is the oldest in the store.
func TestGCProtectsLatestPerTimeline(t *testing.T) {
	s := New(storeid.New(storeid.Recording), Options{CoalesceThresholdBytes: 1})

	// oldest holds the only row for component "blob" on entity "a",
	// but it is also the chronologically oldest chunk on "a"/"frame";
	// later chunks carry an unrelated component at later times, so a
	// protection scheme that only tracks "whichever chunk has the
	// greatest time on this (entity, timeline)" (ignoring component)
	// would protect one of those instead and wrongly let oldest go.
	oldest := blobChunk(t, "a", 0, 1<<16)
	s.Insert(oldest)
	for i := 1; i <= 5; i++ {
		ids := []rowid.ID{rowid.New(int64(i) + 1)}
		tl := map[timeline.Name]chunk.TimelineColumn{
			"frame": {Kind: timeline.Sequence, Times: []timeline.Time{timeline.Time(i)}, Sorted: true},
		}
		comps := map[string]*chunk.Column{"other": chunk.NewColumn([][][]byte{{make([]byte, 1<<16)}})}
		c, err := chunk.New(uuid.New(), entity.ParsePath("a"), ids, tl, comps)
		if err != nil {
			t.Fatalf("chunk.New: %v", err)
		}
		s.Insert(c)
	}

	before := s.LatestAt(entity.ParsePath("a"), "frame", timeline.MaxTime, []string{"blob"})
	if _, ok := before.Values["blob"]; !ok {
		t.Fatalf("precondition: latest-at(blob) should be answerable before GC")
	}

	events := s.GC(GCOptions{
		TargetBytesToDrop:        1 << 30, // large enough to try to evict everything
		ProtectLatestPerTimeline: true,
	})
	for _, e := range events {
		if e.ChunkID == oldest.ID {
			t.Fatalf("GC evicted the protected latest-per-timeline chunk")
		}
	}

	after := s.LatestAt(entity.ParsePath("a"), "frame", timeline.MaxTime, []string{"blob"})
	if _, ok := after.Values["blob"]; !ok {
		t.Fatalf("latest-at(blob) became unanswerable after protected GC")
	}
}

func TestVerifyHealthyStoreIsQuiet(t *testing.T) {
	s := New(storeid.New(storeid.Recording), DefaultOptions())
	s.Insert(blobChunk(t, "a", 1, 16))
	s.Insert(blobChunk(t, "b", 2, 16))

	events, errs := s.Verify()
	if len(events) != 0 || len(errs) != 0 {
		t.Fatalf("Verify on a healthy store quarantined %d chunk(s): %v", len(events), errs)
	}
	if s.Len() != 2 {
		t.Fatalf("store has %d chunks after Verify, want 2", s.Len())
	}
}
