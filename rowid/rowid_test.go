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

package rowid

import "testing"

func TestMonotonic(t *testing.T) {
	a := New(1000)
	b := New(1000)
	c := New(2000)
	if !a.Less(b) {
		t.Fatalf("expected a < b within the same nanosecond, got a=%s b=%s", a, b)
	}
	if !b.Less(c) {
		t.Fatalf("expected b < c across nanoseconds, got b=%s c=%s", b, c)
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected a == a")
	}
}

func TestNanos(t *testing.T) {
	id := New(1234567)
	if id.Nanos() != 1234567 {
		t.Fatalf("got %d", id.Nanos())
	}
}

func TestUnique(t *testing.T) {
	seen := make(map[ID]bool)
	for i := 0; i < 1000; i++ {
		id := New(42)
		if seen[id] {
			t.Fatalf("duplicate row id generated")
		}
		seen[id] = true
	}
}
