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

// Package storeid implements store identity: a (kind, uuid) pair that
// tags every event and wire message so that global subscribers and
// multi-store clients can disambiguate which store they concern.
package storeid

import "github.com/google/uuid"

// Kind distinguishes a normal recording store from a blueprint store.
type Kind int

const (
	Recording Kind = iota
	Blueprint
)

func (k Kind) String() string {
	if k == Blueprint {
		return "blueprint"
	}
	return "recording"
}

// ID identifies one store for its entire process lifetime.
type ID struct {
	Kind Kind
	UUID uuid.UUID
}

// New mints a fresh store ID with a random v4 UUID.
func New(kind Kind) ID {
	return ID{Kind: kind, UUID: uuid.New()}
}

func (id ID) String() string {
	return id.Kind.String() + ":" + id.UUID.String()
}
