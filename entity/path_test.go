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

package entity

import "testing"

func TestParsePath(t *testing.T) {
	got := ParsePath("/world//robot/camera/")
	want := Path{"world", "robot", "camera"}
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got.String() != "world/robot/camera" {
		t.Fatalf("got %q", got.String())
	}
}

func TestPathCompare(t *testing.T) {
	a := Path{"a", "b"}
	b := Path{"a", "c"}
	c := Path{"a"}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if c.Compare(a) >= 0 {
		t.Fatalf("expected shorter prefix to sort before its descendant")
	}
	if !a.Equal(Path{"a", "b"}) {
		t.Fatalf("expected equal paths to compare equal")
	}
}

func TestIsDescendantOf(t *testing.T) {
	world := Path{"world"}
	cam := Path{"world", "robot", "camera"}
	if !cam.IsDescendantOf(world) {
		t.Fatalf("expected %v to descend from %v", cam, world)
	}
	if !world.IsDescendantOf(world) {
		t.Fatalf("a path is its own descendant")
	}
	if world.IsDescendantOf(cam) {
		t.Fatalf("a shorter path cannot descend from a longer one")
	}
}

func TestHashStable(t *testing.T) {
	p := Path{"world", "robot"}
	if p.Hash() != p.Hash() {
		t.Fatalf("Hash must be stable across calls")
	}
	other := Path{"world", "drone"}
	if p.Hash() == other.Hash() {
		t.Fatalf("distinct paths should (overwhelmingly likely) hash differently")
	}
}

func TestInterner(t *testing.T) {
	in := &Interner{}
	a := Path{"a", "b"}
	id1 := in.Intern(a)
	id2 := in.Intern(Path{"a", "b"})
	if id1 != id2 {
		t.Fatalf("interning the same path twice must return the same id")
	}
	got, ok := in.Lookup(id1)
	if !ok || !got.Equal(a) {
		t.Fatalf("Lookup(%d) = %v, %v", id1, got, ok)
	}
	if _, ok := in.Lookup(ID(9999)); ok {
		t.Fatalf("expected Lookup of an unknown id to fail")
	}
}
