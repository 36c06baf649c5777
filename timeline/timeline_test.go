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

package timeline

import "testing"

func TestRangeOverlaps(t *testing.T) {
	a := Range{Min: 0, Max: 10}
	b := Range{Min: 10, Max: 20}
	c := Range{Min: 11, Max: 20}
	if !a.Overlaps(b) {
		t.Fatalf("touching ranges should overlap")
	}
	if a.Overlaps(c) {
		t.Fatalf("disjoint ranges should not overlap")
	}
}

func TestRangeContains(t *testing.T) {
	r := Range{Min: 5, Max: 10}
	if !r.Contains(5) || !r.Contains(10) {
		t.Fatalf("Contains should be inclusive on both ends")
	}
	if r.Contains(4) || r.Contains(11) {
		t.Fatalf("Contains should reject points outside the range")
	}
}

func TestRangeUnion(t *testing.T) {
	a := Range{Min: 0, Max: 5}
	b := Range{Min: 3, Max: 10}
	got := a.Union(b)
	if got != (Range{Min: 0, Max: 10}) {
		t.Fatalf("got %+v", got)
	}
}

func TestKindString(t *testing.T) {
	if Sequence.String() != "sequence" || Temporal.String() != "temporal" {
		t.Fatalf("unexpected Kind.String()")
	}
}
