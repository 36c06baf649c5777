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

package rrd

import (
	"encoding/binary"
	"fmt"
)

// reclite.go is a small, purpose-built structured-record codec used only
// by control.go to encode the non-chunk log messages. It borrows the
// shape of a symbol-interned, tag-and-length-framed value tree, but
// carries none of a general-purpose serializer's machinery: no canonical
// field ordering, no float/timestamp/annotation types, no
// reflection-based marshal/unmarshal. It exists to give BeginRecording/
// SetStoreInfo/EntityPathOp/BlueprintActivation a compact wire body,
// nothing else.

// recTag is the one-byte type discriminator each encoded value carries,
// in the same spirit as the kind byte that already fronts every message
// frame (frame.go).
type recTag byte

const (
	recInt recTag = iota
	recString
	recBlob
	recStruct
	recList
)

// recSymtab is a message-local, insertion-ordered string table: encode
// interns field/kind names once per message and writes them as a
// prefix table; decode reads the table back into an index-addressable
// slice.
type recSymtab struct {
	byStr map[string]uint32
	byIdx []string
}

func (t *recSymtab) intern(s string) uint32 {
	if t.byStr == nil {
		t.byStr = make(map[string]uint32)
	}
	if id, ok := t.byStr[s]; ok {
		return id
	}
	id := uint32(len(t.byIdx))
	t.byIdx = append(t.byIdx, s)
	t.byStr[s] = id
	return id
}

func (t *recSymtab) name(id uint32) (string, bool) {
	if int(id) >= len(t.byIdx) {
		return "", false
	}
	return t.byIdx[id], true
}

// marshal writes the table as a count followed by length-prefixed
// strings, in interning order.
func (t *recSymtab) marshal() []byte {
	out := appendUint32(nil, uint32(len(t.byIdx)))
	for _, s := range t.byIdx {
		out = appendUint32(out, uint32(len(s)))
		out = append(out, s...)
	}
	return out
}

// unmarshal reads a table written by marshal and returns whatever
// trails it.
func (t *recSymtab) unmarshal(data []byte) ([]byte, error) {
	n, data, err := readUint32(data)
	if err != nil {
		return nil, fmt.Errorf("rrd: reclite: symbol table count: %w", err)
	}
	t.byIdx = make([]string, 0, n)
	t.byStr = make(map[string]uint32, n)
	for i := uint32(0); i < n; i++ {
		var slen uint32
		slen, data, err = readUint32(data)
		if err != nil {
			return nil, fmt.Errorf("rrd: reclite: symbol %d length: %w", i, err)
		}
		if uint32(len(data)) < slen {
			return nil, fmt.Errorf("rrd: reclite: symbol %d: truncated", i)
		}
		s := string(data[:slen])
		data = data[slen:]
		t.byIdx = append(t.byIdx, s)
		t.byStr[s] = i
	}
	return data, nil
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("short read")
	}
	return binary.LittleEndian.Uint32(data[:4]), data[4:], nil
}

// wrap frames a value as tag + length + payload, the unit every reader
// and writer below operates on.
func wrap(tag recTag, payload []byte) []byte {
	out := make([]byte, 0, 5+len(payload))
	out = append(out, byte(tag))
	out = appendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// sliceValue splits one wrapped value off the front of data, returning
// it (tag + length + payload, unwrapped no further) and whatever
// trails it.
func sliceValue(data []byte) (value, rest []byte, err error) {
	if len(data) < 5 {
		return nil, nil, fmt.Errorf("rrd: reclite: short value header")
	}
	n, _, err := readUint32(data[1:])
	if err != nil {
		return nil, nil, err
	}
	total := 5 + int(n)
	if len(data) < total {
		return nil, nil, fmt.Errorf("rrd: reclite: truncated value")
	}
	return data[:total], data[total:], nil
}

func readValue(wrapped []byte) (tag recTag, payload []byte, err error) {
	value, _, err := sliceValue(wrapped)
	if err != nil {
		return 0, nil, err
	}
	return recTag(value[0]), value[5:], nil
}

// recFrame is the in-progress body of one open struct or list.
type recFrame struct {
	isList      bool
	count       uint32
	body        []byte
	pendingSym  uint32
	havePending bool
}

// recBuffer builds a tag-framed value tree: structs of named fields,
// lists of elements, and int/string/blob leaves. Every BeginStruct or
// BeginList must be paired with EndStruct/EndList before Bytes is
// called.
type recBuffer struct {
	st    *recSymtab
	stack []*recFrame
	root  []byte
}

func newRecBuffer(st *recSymtab) *recBuffer {
	return &recBuffer{st: st}
}

func (b *recBuffer) top() *recFrame {
	return b.stack[len(b.stack)-1]
}

func (b *recBuffer) BeginStruct() {
	b.stack = append(b.stack, &recFrame{})
}

func (b *recBuffer) BeginList() {
	b.stack = append(b.stack, &recFrame{isList: true})
}

// BeginField names the next value written in the current struct,
// interning name against the buffer's symbol table.
func (b *recBuffer) BeginField(name string) {
	f := b.top()
	f.pendingSym = b.st.intern(name)
	f.havePending = true
}

func (b *recBuffer) emit(tag recTag, payload []byte) {
	value := wrap(tag, payload)
	if len(b.stack) == 0 {
		b.root = value
		return
	}
	f := b.top()
	if f.isList {
		f.body = append(f.body, value...)
		f.count++
		return
	}
	if !f.havePending {
		panic("rrd: reclite: WriteX called without a preceding BeginField")
	}
	f.body = appendUint32(f.body, f.pendingSym)
	f.body = append(f.body, value...)
	f.count++
	f.havePending = false
}

func (b *recBuffer) WriteInt(i int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(i))
	b.emit(recInt, buf[:])
}

func (b *recBuffer) WriteString(s string) { b.emit(recString, []byte(s)) }

func (b *recBuffer) WriteBlob(p []byte) { b.emit(recBlob, p) }

func (b *recBuffer) endFrame(tag recTag) {
	f := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	payload := appendUint32(nil, f.count)
	payload = append(payload, f.body...)
	b.emit(tag, payload)
}

func (b *recBuffer) EndStruct() { b.endFrame(recStruct) }
func (b *recBuffer) EndList()   { b.endFrame(recList) }

// Bytes returns the single top-level value built so far.
func (b *recBuffer) Bytes() []byte { return b.root }

// unpackStruct unwraps a recStruct-tagged value and calls fn once per
// field, in encoding order, with the field's interned name and its
// still-wrapped value (pass it to readInt/readBytes/readString, or
// back into unpackStruct/unpackList if it is itself a struct or list).
func unpackStruct(st *recSymtab, wrapped []byte, fn func(name string, field []byte) error) error {
	tag, body, err := readValue(wrapped)
	if err != nil {
		return fmt.Errorf("rrd: reclite: unpackStruct: %w", err)
	}
	if tag != recStruct {
		return fmt.Errorf("rrd: reclite: unpackStruct: expected struct, got tag %d", tag)
	}
	n, body, err := readUint32(body)
	if err != nil {
		return fmt.Errorf("rrd: reclite: unpackStruct: field count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		var symID uint32
		symID, body, err = readUint32(body)
		if err != nil {
			return fmt.Errorf("rrd: reclite: unpackStruct: field %d symbol: %w", i, err)
		}
		name, ok := st.name(symID)
		if !ok {
			return fmt.Errorf("rrd: reclite: unpackStruct: unknown symbol %d", symID)
		}
		var fv []byte
		fv, body, err = sliceValue(body)
		if err != nil {
			return fmt.Errorf("rrd: reclite: unpackStruct: field %d value: %w", i, err)
		}
		if err := fn(name, fv); err != nil {
			return err
		}
	}
	return nil
}

// unpackList unwraps a recList-tagged value and calls fn once per
// element, in encoding order.
func unpackList(wrapped []byte, fn func(elt []byte) error) error {
	tag, body, err := readValue(wrapped)
	if err != nil {
		return fmt.Errorf("rrd: reclite: unpackList: %w", err)
	}
	if tag != recList {
		return fmt.Errorf("rrd: reclite: unpackList: expected list, got tag %d", tag)
	}
	n, body, err := readUint32(body)
	if err != nil {
		return fmt.Errorf("rrd: reclite: unpackList: element count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		var elt []byte
		elt, body, err = sliceValue(body)
		if err != nil {
			return fmt.Errorf("rrd: reclite: unpackList: element %d: %w", i, err)
		}
		if err := fn(elt); err != nil {
			return err
		}
	}
	return nil
}

func readInt(field []byte) (int64, error) {
	tag, payload, err := readValue(field)
	if err != nil {
		return 0, err
	}
	if tag != recInt || len(payload) != 8 {
		return 0, fmt.Errorf("rrd: reclite: readInt: not an int value")
	}
	return int64(binary.LittleEndian.Uint64(payload)), nil
}

func readBytes(field []byte) ([]byte, error) {
	tag, payload, err := readValue(field)
	if err != nil {
		return nil, err
	}
	if tag != recBlob {
		return nil, fmt.Errorf("rrd: reclite: readBytes: not a blob value")
	}
	return payload, nil
}

func readString(field []byte) (string, error) {
	tag, payload, err := readValue(field)
	if err != nil {
		return "", err
	}
	if tag != recString {
		return "", fmt.Errorf("rrd: reclite: readString: not a string value")
	}
	return string(payload), nil
}
