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
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sneller-labs/chunkstore/storeid"
)

// EventKind distinguishes an addition from a deletion.
type EventKind int

const (
	Addition EventKind = iota
	Deletion
)

func (k EventKind) String() string {
	if k == Deletion {
		return "Deletion"
	}
	return "Addition"
}

// CompactedBounds describes the row span affected when an Addition
// was compacted with an existing chunk. It is advisory: consumers
// must tolerate a nil Compacted field.
type CompactedBounds struct {
	FirstRow, LastRow int
}

// Event is the record of one atomic store mutation, broadcast to every
// subscriber before the mutating call returns.
type Event struct {
	EventID   uint64
	StoreID   storeid.ID
	ChunkID   uuid.UUID
	Kind      EventKind
	Compacted *CompactedBounds
}

var globalEventCounter uint64

// nextEventID returns a process-wide monotonic event id; subscribers
// use gaps in the sequence to detect events they missed.
func nextEventID() uint64 {
	return atomic.AddUint64(&globalEventCounter, 1)
}
