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
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v12/arrow/ipc"

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/storeid"
)

// ArrowChunk wraps an ingested Chunk addressed to a store. Its wire
// payload is the Arrow IPC stream produced by chunk.ToRecord.
type ArrowChunk struct {
	StoreID storeid.ID
	Chunk   *chunk.Chunk
}

func (ArrowChunk) logMsg() {}

// Policy selects how Decode reacts to a header whose Version differs
// from the Version this package was built to read.
type Policy int

const (
	Strict Policy = iota
	WarnOnVersionMismatch
)

// SupportedVersion is the RRD stream version this package writes and
// expects to read.
var SupportedVersion = Version{Major: 0, Minor: 1, Patch: 0}

const storeIDWireSize = 1 + 16 // kind byte + uuid bytes

func encodeArrowChunkPayload(msg ArrowChunk) ([]byte, error) {
	rec, err := msg.Chunk.ToRecord()
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	var buf bytes.Buffer
	buf.WriteByte(byte(msg.StoreID.Kind))
	u := msg.StoreID.UUID
	buf.Write(u[:])

	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("rrd: writing arrow ipc payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("rrd: closing arrow ipc writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeArrowChunkPayload(payload []byte) (ArrowChunk, error) {
	if len(payload) < storeIDWireSize {
		return ArrowChunk{}, fmt.Errorf("rrd: chunk payload too short")
	}
	var id storeid.ID
	id.Kind = storeid.Kind(payload[0])
	copy(id.UUID[:], payload[1:storeIDWireSize])

	r, err := ipc.NewReader(bytes.NewReader(payload[storeIDWireSize:]))
	if err != nil {
		return ArrowChunk{}, fmt.Errorf("rrd: opening arrow ipc reader: %w", err)
	}
	defer r.Release()
	if !r.Next() {
		return ArrowChunk{}, fmt.Errorf("rrd: arrow ipc payload has no record")
	}
	rec := r.Record()
	c, err := chunk.FromRecord(rec)
	if err != nil {
		return ArrowChunk{}, fmt.Errorf("rrd: decoding chunk record: %w", err)
	}
	return ArrowChunk{StoreID: id, Chunk: c}, nil
}

func payloadFor(msg LogMsg) (FrameKind, []byte, error) {
	switch m := msg.(type) {
	case ArrowChunk:
		p, err := encodeArrowChunkPayload(m)
		return FrameChunk, p, err
	case BlueprintActivation:
		return FrameBlueprint, encodeBlueprintActivation(m), nil
	default:
		return FrameBegin, encodeControl(msg), nil
	}
}

func compressPayload(raw []byte, compID byte) ([]byte, error) {
	if compID == CompressionNone {
		return raw, nil
	}
	c := compressorFor(compID)
	if c == nil {
		return nil, fmt.Errorf("rrd: unknown compression id %d", compID)
	}
	var lenPrefix [8]byte
	binary.LittleEndian.PutUint64(lenPrefix[:], uint64(len(raw)))
	out := c.Compress(raw, nil)
	return append(lenPrefix[:], out...), nil
}

func decompressPayload(data []byte, compID byte) ([]byte, error) {
	if compID == CompressionNone {
		return data, nil
	}
	d := decompressorFor(compID)
	if d == nil {
		return nil, fmt.Errorf("rrd: unknown compression id %d", compID)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("rrd: compressed payload missing length prefix")
	}
	origLen := binary.LittleEndian.Uint64(data[:8])
	if compID == CompressionLZ4 && uint64(len(data)-8) == origLen {
		// incompressible input is stored verbatim: an lz4 block is
		// never emitted at exactly the input size, so equal lengths
		// can only mean passthrough
		return data[8:], nil
	}
	dst := make([]byte, origLen)
	if err := d.Decompress(data[8:], dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Encode writes header, opts, messages and a terminating End frame to
// sink, returning the number of bytes written. Writers must always
// emit the End frame on a graceful close.
func Encode(sink io.Writer, opts Options, messages []LogMsg) (int64, error) {
	var total int64
	if err := WriteHeader(sink, Header{Version: SupportedVersion, Options: opts}); err != nil {
		return total, fmt.Errorf("rrd: encode: %w", err)
	}
	total += headerSize
	for i, msg := range messages {
		kind, payload, err := payloadFor(msg)
		if err != nil {
			return total, fmt.Errorf("rrd: encode: message %d: %w", i, err)
		}
		payload, err = compressPayload(payload, opts.CompressionID)
		if err != nil {
			return total, fmt.Errorf("rrd: encode: message %d: %w", i, err)
		}
		n, err := writeFrame(sink, kind, payload)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("rrd: encode: message %d: %w", i, err)
		}
	}
	n, err := writeFrame(sink, FrameEnd, nil)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("rrd: encode: end frame: %w", err)
	}
	return total, nil
}

// DecodeError pairs a decode failure with the frame index that
// produced it, so a lazy consumer can keep whatever it already
// decoded: codec errors are recoverable at the stream level.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("rrd: decode: frame %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Result is one decoded element of a Decode stream: either a LogMsg
// or a recoverable error.
type Result struct {
	Msg LogMsg
	Err error
}

// Decode reads a single RRD stream from src and returns every decoded
// message plus any errors encountered along the way. It stops at a
// graceful End frame or at EOF; if EOF arrives before an End frame, a
// final Result carrying ErrTruncated is appended and decoding stops,
// but everything decoded up to that point is still returned.
func Decode(src io.Reader, policy Policy) ([]Result, error) {
	hdr, err := ReadHeader(src)
	if err != nil {
		return nil, fmt.Errorf("rrd: decode: %w", err)
	}
	if hdr.Version != SupportedVersion {
		if policy == Strict {
			return nil, fmt.Errorf("rrd: decode: unsupported version %+v", hdr.Version)
		}
		// WarnOnVersionMismatch: proceed; the frame shape is stable
		// across the versions this package has ever emitted.
	}

	var results []Result
	for i := 0; ; i++ {
		kind, payload, err := readFrame(src)
		if err != nil {
			if err == io.EOF {
				// the stream ended on a frame boundary without an End frame
				results = append(results, Result{Err: &DecodeError{Index: i, Err: ErrTruncated}})
				return results, nil
			}
			results = append(results, Result{Err: &DecodeError{Index: i, Err: err}})
			return results, nil
		}
		if kind == FrameEnd {
			return results, nil
		}
		payload, err = decompressPayload(payload, hdr.Options.CompressionID)
		if err != nil {
			results = append(results, Result{Err: &DecodeError{Index: i, Err: err}})
			continue
		}
		msg, err := decodeFrame(kind, payload)
		if err != nil {
			results = append(results, Result{Err: &DecodeError{Index: i, Err: err}})
			continue
		}
		results = append(results, Result{Msg: msg})
	}
}

// DecodeAll reads back-to-back RRD streams from src until EOF:
// concatenating valid streams yields a valid stream, and the reader
// resumes after each End frame by expecting a fresh header. Results
// from every constituent stream are appended in order.
func DecodeAll(src io.Reader, policy Policy) ([]Result, error) {
	br := bufio.NewReader(src)
	var results []Result
	for {
		if _, err := br.Peek(1); err == io.EOF {
			return results, nil
		}
		part, err := Decode(br, policy)
		results = append(results, part...)
		if err != nil {
			return results, err
		}
	}
}

func decodeFrame(kind FrameKind, payload []byte) (LogMsg, error) {
	switch kind {
	case FrameChunk:
		return decodeArrowChunkPayload(payload)
	case FrameBlueprint:
		return decodeBlueprintActivation(payload)
	case FrameBegin:
		return decodeControl(payload)
	default:
		return nil, fmt.Errorf("rrd: unknown frame kind %s", kind)
	}
}
