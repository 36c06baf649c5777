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
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// CorruptChunkError reports a previously-accepted chunk that no
// longer passes its structural assertions. It is surfaced to the
// caller, never fatal: the offending chunk is quarantined (removed
// from every index and announced with a Deletion event) and the store
// keeps operating on the rest of its data.
type CorruptChunkError struct {
	ChunkID uuid.UUID
	Reason  string
}

func (e *CorruptChunkError) Error() string {
	return fmt.Sprintf("corrupt chunk %s: %s", e.ChunkID, e.Reason)
}

// Verify re-checks every resident chunk against its structural
// invariants under the write lease. Chunks that fail are quarantined
// in insertion order, each one removed from the index and announced
// with a Deletion event before Verify returns, so the chunk table and
// the indices never diverge silently. The returned errors describe
// each quarantined chunk.
func (s *Store) Verify() ([]Event, []error) {
	s.mu.Lock()
	entries := s.idx.entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	var events []Event
	var errs []error
	for _, e := range entries {
		err := e.chunk.Validate()
		if err == nil {
			continue
		}
		s.idx.remove(e.chunk.ID)
		events = append(events, Event{EventID: nextEventID(), StoreID: s.id, ChunkID: e.chunk.ID, Kind: Deletion})
		errs = append(errs, &CorruptChunkError{ChunkID: e.chunk.ID, Reason: err.Error()})
	}
	s.mu.Unlock()
	s.bus.Publish(events)
	return events, errs
}
