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

// Package rowid implements the 128-bit, time-ordered row identifiers
// used as the finest-grained tiebreak throughout the chunk store.
package rowid

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// ID is a 128-bit row identifier. The high 8 bytes are a nanosecond
// timestamp and the low 8 bytes are a counter seeded from crypto/rand
// at process start, so that within one process IDs generated earlier
// always compare less than IDs generated later (the counter breaks
// same-nanosecond ties), while IDs generated by distinct processes
// are still overwhelmingly unlikely to collide.
type ID [16]byte

var counter uint64

func init() {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("rowid: failed to seed counter: %v", err))
	}
	counter = binary.BigEndian.Uint64(buf[:])
}

// New returns a fresh row ID stamped with nowNanos (nanoseconds since the
// Unix epoch). Callers typically pass time.Now().UnixNano().
func New(nowNanos int64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[:8], uint64(nowNanos))
	binary.BigEndian.PutUint64(id[8:], atomic.AddUint64(&counter, 1))
	return id
}

// Nanos extracts the timestamp component stamped into id by New.
func (id ID) Nanos() int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}

// Less reports whether id sorts strictly before other. It is the total
// order used to tiebreak rows that share a timeline key: (time, row-id)
// pairs compare id.Less(other) exactly when the byte representation
// compares less, which is consistent with Nanos() ordering.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// Compare returns -1, 0 or 1 as id is less than, equal to, or greater
// than other.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

func (id ID) String() string {
	return fmt.Sprintf("%016x-%016x",
		binary.BigEndian.Uint64(id[:8]), binary.BigEndian.Uint64(id[8:]))
}

// Min and Max are sentinel IDs useful as open range endpoints.
var (
	Min = ID{}
	Max = func() ID {
		var id ID
		for i := range id {
			id[i] = 0xff
		}
		return id
	}()
)
