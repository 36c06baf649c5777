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

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/sneller-labs/chunkstore/chunk"
	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/storeid"
)

// Options configures a Store. It is yaml-decodable so a deployment
// can ship it alongside other service config.
type Options struct {
	// CoalesceThresholdBytes bounds automatic chunk coalescing on
	// insert; see DefaultCoalesceThresholdBytes.
	CoalesceThresholdBytes int64 `yaml:"coalesce_threshold_bytes"`

	// Logf is kept with the Options but no Store method writes to it;
	// GC passes log through GCOptions.Logf instead.
	// Not YAML-decodable; set directly after loading the rest of Options.
	Logf func(f string, args ...interface{}) `yaml:"-"`
}

// DefaultOptions returns the Options a Store uses when none are given.
func DefaultOptions() Options {
	return Options{CoalesceThresholdBytes: DefaultCoalesceThresholdBytes}
}

// ParseOptions decodes Options from YAML.
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, err
	}
	if opts.CoalesceThresholdBytes <= 0 {
		opts.CoalesceThresholdBytes = DefaultCoalesceThresholdBytes
	}
	return opts, nil
}

// Store is the top-level, single-process chunk store: one index, one
// subscriber bus, one identity. Queries take the read lease;
// Insert/DropEntityPath/GC take the write lease. Chunks themselves
// are immutable, so holding a *chunk.Chunk needs no store lock.
type Store struct {
	id   storeid.ID
	opts Options

	mu  sync.RWMutex
	idx *index
	bus *Bus
}

// New constructs an empty Store with the given identity.
func New(id storeid.ID, opts Options) *Store {
	if opts.CoalesceThresholdBytes <= 0 {
		opts.CoalesceThresholdBytes = DefaultCoalesceThresholdBytes
	}
	return &Store{
		id:   id,
		opts: opts,
		idx:  newIndex(),
		bus:  NewBus(),
	}
}

// ID returns the store's identity.
func (s *Store) ID() storeid.ID { return s.id }

// Subscribe registers handler with the store's bus and returns a
// handle valid until Unsubscribe.
func (s *Store) Subscribe(handler Handler) Handle {
	return s.bus.Register(handler)
}

// Unsubscribe removes a previously registered handler.
func (s *Store) Unsubscribe(h Handle) {
	s.bus.Unregister(h)
}

// Insert adds c to the store. Re-inserting an already-present chunk id
// is a silent no-op. On success, every resulting Event is broadcast to
// subscribers synchronously, before Insert returns.
func (s *Store) Insert(c *chunk.Chunk) []Event {
	s.mu.Lock()
	events := insertInto(s.idx, s.id, c, s.opts.CoalesceThresholdBytes)
	s.mu.Unlock()
	s.bus.Publish(events)
	return events
}

// DropEntityPath removes every chunk whose entity path equals or
// descends from path, broadcasting one Deletion event per removed
// chunk before returning.
func (s *Store) DropEntityPath(path entity.Path) []Event {
	s.mu.Lock()
	events := dropEntityPathFrom(s.idx, s.id, path)
	s.mu.Unlock()
	s.bus.Publish(events)
	return events
}

// GC runs one garbage-collection pass under the write lease,
// broadcasting a Deletion event per evicted chunk.
func (s *Store) GC(opts GCOptions) []Event {
	s.mu.Lock()
	events := runGC(s.idx, s.id, opts)
	s.mu.Unlock()
	s.bus.Publish(events)
	return events
}

// Chunk returns the chunk with the given id, if present, taking only
// the read lease.
func (s *Store) Chunk(id uuid.UUID) (*chunk.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.get(id)
}

// Len reports how many chunks the store currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.len()
}
