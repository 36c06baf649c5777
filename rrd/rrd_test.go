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

package rrd

import (
	"bytes"
	"math/rand"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/rowid"
	"github.com/sneller-labs/chunkstore/storeid"
	"github.com/sneller-labs/chunkstore/timeline"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sid := storeid.New(storeid.Recording)
	msgs := []LogMsg{
		BeginRecording{StoreID: sid, ApplicationID: "demo", StartedNs: 1000, Source: "sdk"},
		BlueprintActivation{StoreID: sid},
	}
	var buf bytes.Buffer
	n, err := Encode(&buf, Options{CompressionID: CompressionNone}, msgs)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("Encode returned %d, buffer has %d bytes", n, buf.Len())
	}

	results, err := Decode(bytes.NewReader(buf.Bytes()), Strict)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(results) != len(msgs) {
		t.Fatalf("got %d results, want %d", len(results), len(msgs))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("result %d: %v", i, r.Err)
		}
	}
	got, ok := results[0].Msg.(BeginRecording)
	if !ok || got.ApplicationID != "demo" || got.StartedNs != 1000 {
		t.Fatalf("BeginRecording round-trip mismatch: %+v", results[0].Msg)
	}
	if _, ok := results[1].Msg.(BlueprintActivation); !ok {
		t.Fatalf("expected BlueprintActivation, got %T", results[1].Msg)
	}
}

func TestEncodeDecodeCompressed(t *testing.T) {
	sid := storeid.New(storeid.Blueprint)
	msgs := []LogMsg{
		SetStoreInfo{StoreID: sid, Info: map[string]string{"k": "v"}},
	}
	var buf bytes.Buffer
	if _, err := Encode(&buf, Options{CompressionID: CompressionLZ4}, msgs); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	results, err := Decode(bytes.NewReader(buf.Bytes()), Strict)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := results[0].Msg.(SetStoreInfo)
	if !ok || got.Info["k"] != "v" {
		t.Fatalf("round-trip mismatch: %+v", results[0])
	}
}

func TestDecodeTruncatedStreamIsRecoverable(t *testing.T) {
	sid := storeid.New(storeid.Recording)
	msgs := []LogMsg{
		BeginRecording{StoreID: sid, ApplicationID: "a", StartedNs: 1, Source: "s"},
		BeginRecording{StoreID: sid, ApplicationID: "b", StartedNs: 2, Source: "s"},
	}
	var full bytes.Buffer
	if _, err := Encode(&full, Options{}, msgs); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Cut off the trailing End frame to simulate a crash mid-stream.
	truncated := full.Bytes()[:full.Len()-frameHeaderSize]

	results, err := Decode(bytes.NewReader(truncated), Strict)
	if err != nil {
		t.Fatalf("Decode should not fail outright: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected at least the 2 decoded messages, got %d", len(results))
	}
	if results[0].Err != nil || results[1].Err != nil {
		t.Fatalf("expected first two messages to decode cleanly: %+v %+v", results[0], results[1])
	}
}

func testChunk(t *testing.T) *chunk.Chunk {
	t.Helper()
	ids := []rowid.ID{rowid.New(1), rowid.New(2), rowid.New(3)}
	tl := map[timeline.Name]chunk.TimelineColumn{
		"frame": {Kind: timeline.Sequence, Times: []timeline.Time{1, 2, 3}, Sorted: true},
	}
	comps := map[string]*chunk.Column{
		"points": chunk.NewColumn([][][]byte{
			{[]byte("p0a"), []byte("p0b")},
			{[]byte("p1")},
			nil,
		}),
	}
	c, err := chunk.New(uuid.New(), entity.ParsePath("a/b/c"), ids, tl, comps)
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	return c
}

// A chunk-bearing stream must survive being fed to the decoder one
// byte at a time: framing never depends on read boundaries.
func TestChunkStreamSplitReads(t *testing.T) {
	sid := storeid.New(storeid.Recording)
	want := testChunk(t)
	msgs := []LogMsg{
		BeginRecording{StoreID: sid, ApplicationID: "demo", StartedNs: 7, Source: "sdk"},
		ArrowChunk{StoreID: sid, Chunk: want},
		ArrowChunk{StoreID: sid, Chunk: testChunk(t)},
	}
	var buf bytes.Buffer
	if _, err := Encode(&buf, Options{CompressionID: CompressionLZ4}, msgs); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	results, err := Decode(iotest.OneByteReader(bytes.NewReader(buf.Bytes())), Strict)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("result %d: %v", i, r.Err)
		}
	}
	got, ok := results[1].Msg.(ArrowChunk)
	if !ok {
		t.Fatalf("expected ArrowChunk, got %T", results[1].Msg)
	}
	if got.Chunk.ID != want.ID || !got.Chunk.EntityPath.Equal(want.EntityPath) {
		t.Fatalf("chunk identity mismatch: %v vs %v", got.Chunk.ID, want.ID)
	}
	if got.Chunk.RowCount() != 3 {
		t.Fatalf("RowCount = %d, want 3", got.Chunk.RowCount())
	}
	cell, ok := got.Chunk.Cell(got.Chunk.RowID(0), "points")
	if !ok || len(cell.Values) != 2 || string(cell.Values[0]) != "p0a" {
		t.Fatalf("cell round-trip mismatch: %+v %v", cell, ok)
	}
	if cell, ok := got.Chunk.Cell(got.Chunk.RowID(2), "points"); !ok || cell.Valid {
		t.Fatalf("null cell should survive the round trip, got %+v %v", cell, ok)
	}
}

// Concatenating two complete streams yields a valid stream; the
// reader resumes after each End frame.
func TestDecodeAllConcatenatedStreams(t *testing.T) {
	sid := storeid.New(storeid.Recording)
	var buf bytes.Buffer
	if _, err := Encode(&buf, Options{}, []LogMsg{
		BeginRecording{StoreID: sid, ApplicationID: "one", StartedNs: 1, Source: "s"},
	}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Encode(&buf, Options{CompressionID: CompressionLZ4}, []LogMsg{
		BeginRecording{StoreID: sid, ApplicationID: "two", StartedNs: 2, Source: "s"},
	}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	results, err := DecodeAll(bytes.NewReader(buf.Bytes()), Strict)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	apps := []string{"one", "two"}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("result %d: %v", i, r.Err)
		}
		if got := r.Msg.(BeginRecording).ApplicationID; got != apps[i] {
			t.Fatalf("result %d app = %q, want %q", i, got, apps[i])
		}
	}
}

// Incompressible payloads are stored verbatim under lz4 and must
// still decode.
func TestLZ4IncompressiblePassthrough(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	noise := make([]byte, 1<<12)
	rng.Read(noise)

	sid := storeid.New(storeid.Recording)
	msgs := []LogMsg{
		SetStoreInfo{StoreID: sid, Info: map[string]string{"noise": string(noise)}},
	}
	var buf bytes.Buffer
	if _, err := Encode(&buf, Options{CompressionID: CompressionLZ4}, msgs); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	results, err := Decode(bytes.NewReader(buf.Bytes()), Strict)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("decode: %v", results[0].Err)
	}
	got := results[0].Msg.(SetStoreInfo)
	if got.Info["noise"] != string(noise) {
		t.Fatalf("noise payload corrupted in round trip")
	}
}
