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

// Package rrd implements the versioned, framed wire/on-disk format
// used to move log messages (chunks plus a handful of control
// messages) between processes.
//
// The framing follows the "fixed header, then a sequence of
// length-prefixed frames" shape used for block-of-ion-chunks framing
// elsewhere in this codebase, adapted to log-message framing.
package rrd

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the 4-byte file/stream magic.
var Magic = [4]byte{'R', 'R', 'F', '0'}

// Version is a semver triple.
type Version struct {
	Major, Minor, Patch uint64
}

// Options selects the serializer and compression algorithm used for
// every frame payload in the stream.
type Options struct {
	SerializerID  byte // currently always 0 (record codec + arrow ipc)
	CompressionID byte
}

const (
	CompressionNone byte = iota
	CompressionLZ4
	CompressionZstd
	CompressionS2
)

func compressionName(id byte) string {
	switch id {
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionS2:
		return "s2"
	default:
		return ""
	}
}

// Header is the fixed 4+24+8 = 36 byte preamble of every RRD stream.
type Header struct {
	Version Version
	Options Options
}

// headerSize is magic(4) + version+reserved(24) + options(8).
const headerSize = 4 + 24 + 8

// WriteHeader writes the fixed file header to w.
func WriteHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint64(buf[4:12], h.Version.Major)
	binary.LittleEndian.PutUint64(buf[12:20], h.Version.Minor)
	binary.LittleEndian.PutUint64(buf[20:28], h.Version.Patch)
	// buf[28:32] reserved
	buf[32] = h.Options.SerializerID
	buf[33] = h.Options.CompressionID
	// buf[34:36] reserved
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates the fixed file header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("rrd: reading header: %w", err)
	}
	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != Magic {
		return Header{}, fmt.Errorf("rrd: bad magic %q", magic)
	}
	h := Header{
		Version: Version{
			Major: binary.LittleEndian.Uint64(buf[4:12]),
			Minor: binary.LittleEndian.Uint64(buf[12:20]),
			Patch: binary.LittleEndian.Uint64(buf[20:28]),
		},
		Options: Options{
			SerializerID:  buf[32],
			CompressionID: buf[33],
		},
	}
	return h, nil
}
