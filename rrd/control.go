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
	"fmt"

	"github.com/sneller-labs/chunkstore/entity"
	"github.com/sneller-labs/chunkstore/storeid"
)

// LogMsg is any message that can appear inside an RRD stream.
type LogMsg interface {
	logMsg()
}

// BeginRecording opens a new recording or blueprint store.
type BeginRecording struct {
	StoreID       storeid.ID
	ApplicationID string
	StartedNs     int64
	Source        string
}

// BlueprintActivation switches the viewer to the named blueprint
// store. It carries no payload beyond the store id itself.
type BlueprintActivation struct {
	StoreID storeid.ID
}

// SetStoreInfo attaches free-form key/value metadata to a store.
type SetStoreInfo struct {
	StoreID storeid.ID
	Info    map[string]string
}

// EntityPathOp is a deprecated control message (rename/clear of an
// entity path) that readers must still be able to decode even though
// writers no longer emit it.
type EntityPathOp struct {
	StoreID storeid.ID
	Path    entity.Path
	Op      string
}

func (BeginRecording) logMsg()      {}
func (BlueprintActivation) logMsg() {}
func (SetStoreInfo) logMsg()        {}
func (EntityPathOp) logMsg()        {}

// ArrowChunk implements logMsg in codec.go, where the chunk package is
// already imported for chunk.ToRecord/FromRecord.

const (
	controlKindBegin    = "begin_recording"
	controlKindSetInfo  = "set_store_info"
	controlKindEntityOp = "entity_path_op"
	symStoreKind        = "store_kind"
	symStoreUUID        = "store_uuid"
)

func encodeStoreID(buf *recBuffer, id storeid.ID) {
	buf.BeginStruct()
	buf.BeginField(symStoreKind)
	buf.WriteInt(int64(id.Kind))
	buf.BeginField(symStoreUUID)
	b := id.UUID
	buf.WriteBlob(b[:])
	buf.EndStruct()
}

func decodeStoreID(st *recSymtab, field []byte) (storeid.ID, error) {
	var id storeid.ID
	err := unpackStruct(st, field, func(name string, field []byte) error {
		switch name {
		case symStoreKind:
			v, err := readInt(field)
			if err != nil {
				return err
			}
			id.Kind = storeid.Kind(v)
		case symStoreUUID:
			b, err := readBytes(field)
			if err != nil {
				return err
			}
			copy(id.UUID[:], b)
		}
		return nil
	})
	return id, err
}

// encodeControl encodes any non-chunk, non-blueprint-activation LogMsg
// as a single record: {"kind": <name>, "store": {...}, ...}, prefixed
// by the message-local symbol table built up as fields are interned.
func encodeControl(msg LogMsg) []byte {
	var st recSymtab
	buf := newRecBuffer(&st)
	buf.BeginStruct()
	buf.BeginField("kind")

	switch m := msg.(type) {
	case BeginRecording:
		buf.WriteString(controlKindBegin)
		buf.BeginField("store")
		encodeStoreID(buf, m.StoreID)
		buf.BeginField("application_id")
		buf.WriteString(m.ApplicationID)
		buf.BeginField("started_ns")
		buf.WriteInt(m.StartedNs)
		buf.BeginField("source")
		buf.WriteString(m.Source)
	case SetStoreInfo:
		buf.WriteString(controlKindSetInfo)
		buf.BeginField("store")
		encodeStoreID(buf, m.StoreID)
		buf.BeginField("info")
		buf.BeginStruct()
		for k, v := range m.Info {
			buf.BeginField(k)
			buf.WriteString(v)
		}
		buf.EndStruct()
	case EntityPathOp:
		buf.WriteString(controlKindEntityOp)
		buf.BeginField("store")
		encodeStoreID(buf, m.StoreID)
		buf.BeginField("path")
		buf.BeginList()
		for _, p := range m.Path {
			buf.WriteString(p)
		}
		buf.EndList()
		buf.BeginField("op")
		buf.WriteString(m.Op)
	default:
		panic(fmt.Sprintf("rrd: encodeControl: unsupported message type %T", msg))
	}
	buf.EndStruct()

	return append(st.marshal(), buf.Bytes()...)
}

func decodeControl(body []byte) (LogMsg, error) {
	var st recSymtab
	rest, err := st.unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("rrd: decoding control symbol table: %w", err)
	}

	var kind string
	var storeField []byte
	var appID, source, op string
	var startedNs int64
	var path []string
	info := map[string]string{}

	err = unpackStruct(&st, rest, func(name string, field []byte) error {
		var err error
		switch name {
		case "kind":
			kind, err = readString(field)
		case "store":
			storeField = field
		case "application_id":
			appID, err = readString(field)
		case "started_ns":
			startedNs, err = readInt(field)
		case "source":
			source, err = readString(field)
		case "path":
			err = unpackList(field, func(elt []byte) error {
				s, e := readString(elt)
				if e != nil {
					return e
				}
				path = append(path, s)
				return nil
			})
		case "op":
			op, err = readString(field)
		case "info":
			err = unpackStruct(&st, field, func(k string, v []byte) error {
				s, e := readString(v)
				if e != nil {
					return e
				}
				info[k] = s
				return nil
			})
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rrd: decoding control message: %w", err)
	}

	storeID, err := decodeStoreID(&st, storeField)
	if err != nil {
		return nil, fmt.Errorf("rrd: decoding control message store id: %w", err)
	}

	switch kind {
	case controlKindBegin:
		return BeginRecording{StoreID: storeID, ApplicationID: appID, StartedNs: startedNs, Source: source}, nil
	case controlKindSetInfo:
		return SetStoreInfo{StoreID: storeID, Info: info}, nil
	case controlKindEntityOp:
		return EntityPathOp{StoreID: storeID, Path: entity.Path(path), Op: op}, nil
	default:
		return nil, fmt.Errorf("rrd: unknown control message kind %q", kind)
	}
}

func encodeBlueprintActivation(msg BlueprintActivation) []byte {
	var st recSymtab
	buf := newRecBuffer(&st)
	encodeStoreID(buf, msg.StoreID)
	return append(st.marshal(), buf.Bytes()...)
}

func decodeBlueprintActivation(body []byte) (BlueprintActivation, error) {
	var st recSymtab
	rest, err := st.unmarshal(body)
	if err != nil {
		return BlueprintActivation{}, err
	}
	id, err := decodeStoreID(&st, rest)
	if err != nil {
		return BlueprintActivation{}, err
	}
	return BlueprintActivation{StoreID: id}, nil
}
