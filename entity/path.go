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

// Package entity implements hierarchical entity paths and the
// process-wide interner that gives them an O(1) amortized identity.
//
// The interner is a bidirectional string<->id table, append-only for
// the process lifetime; paths are never themselves serialized as
// interned symbols, so it carries no wire-format bookkeeping.
package entity

import (
	"strings"
	"sync"

	"github.com/dchest/siphash"
)

// Path is an ordered sequence of string parts forming a hierarchical
// key, e.g. "world/robot/camera" as Path{"world", "robot", "camera"}.
type Path []string

// ParsePath splits a slash-separated string into a Path. Empty parts
// (leading/trailing/doubled slashes) are dropped.
func ParsePath(s string) Path {
	raw := strings.Split(s, "/")
	out := make(Path, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Compare performs a bytewise, part-by-part comparison of p and other,
// returning -1, 0, or 1.
func (p Path) Compare(other Path) int {
	n := len(p)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if p[i] < other[i] {
			return -1
		}
		if p[i] > other[i] {
			return 1
		}
	}
	switch {
	case len(p) < len(other):
		return -1
	case len(p) > len(other):
		return 1
	default:
		return 0
	}
}

// Equal reports whether p and other have the same parts.
func (p Path) Equal(other Path) bool {
	return p.Compare(other) == 0
}

// IsDescendantOf reports whether p is equal to ancestor or nests under it.
func (p Path) IsDescendantOf(ancestor Path) bool {
	if len(ancestor) > len(p) {
		return false
	}
	for i := range ancestor {
		if p[i] != ancestor[i] {
			return false
		}
	}
	return true
}

// siphash keys used to compute the stable hash of a Path. These are
// fixed per process (not randomized at startup) so that Hash is stable
// for the lifetime of the store.
const (
	hashKey0 = 0x9e3779b97f4a7c15
	hashKey1 = 0xbf58476d1ce4e5b9
)

// Hash returns a stable 64-bit hash of p.
func (p Path) Hash() uint64 {
	h := uint64(hashKey0)
	for _, part := range p {
		h = siphash.Hash(h, hashKey1, []byte(part))
	}
	return h
}

// ID is the interned identity of a Path, stable for the process
// lifetime. The zero ID never refers to a valid path.
type ID uint32

// Interner is a process-wide, concurrency-safe string<->ID table for
// entity paths. The zero value is ready to use.
type Interner struct {
	mu    sync.RWMutex
	byStr map[string]ID
	byID  []string
}

// global is the process-wide interner shared by every Store in the
// process: initialized on first use and never torn down.
var global = &Interner{}

// Global returns the process-wide entity-path interner.
func Global() *Interner { return global }

// Intern returns the stable ID for p, assigning a new one on first use.
func (in *Interner) Intern(p Path) ID {
	key := p.String()
	in.mu.RLock()
	id, ok := in.byStr[key]
	in.mu.RUnlock()
	if ok {
		return id
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.byStr[key]; ok {
		return id
	}
	if in.byStr == nil {
		in.byStr = make(map[string]ID)
	}
	id = ID(len(in.byID) + 1)
	in.byID = append(in.byID, key)
	in.byStr[key] = id
	return id
}

// Lookup returns the Path interned under id, or (nil, false) if id is
// unknown to this interner.
func (in *Interner) Lookup(id ID) (Path, bool) {
	if id == 0 {
		return nil, false
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	idx := int(id) - 1
	if idx < 0 || idx >= len(in.byID) {
		return nil, false
	}
	return ParsePath(in.byID[idx]), true
}
