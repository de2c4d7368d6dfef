/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package ikv

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FieldType tags the wire/arena representation of a FieldValue. It is
// written as a little-endian uint16 immediately before the value's payload.
type FieldType uint16

const (
	FieldTypeUnknown FieldType = 0
	FieldTypeInt32   FieldType = 1
	FieldTypeInt64   FieldType = 2
	FieldTypeFloat32 FieldType = 3
	FieldTypeFloat64 FieldType = 4
	FieldTypeBoolean FieldType = 5
	FieldTypeString  FieldType = 6
	FieldTypeBytes   FieldType = 7
)

// fixedWidth returns the payload size in bytes for fixed-width types, and
// false for the dynamic-length (STRING/BYTES) and no-payload (UNKNOWN) types.
func (t FieldType) fixedWidth() (int, bool) {
	switch t {
	case FieldTypeInt32, FieldTypeFloat32:
		return 4, true
	case FieldTypeInt64, FieldTypeFloat64:
		return 8, true
	case FieldTypeBoolean:
		return 1, true
	default:
		return 0, false
	}
}

func (t FieldType) String() string {
	switch t {
	case FieldTypeInt32:
		return "INT32"
	case FieldTypeInt64:
		return "INT64"
	case FieldTypeFloat32:
		return "FLOAT32"
	case FieldTypeFloat64:
		return "FLOAT64"
	case FieldTypeBoolean:
		return "BOOLEAN"
	case FieldTypeString:
		return "STRING"
	case FieldTypeBytes:
		return "BYTES"
	default:
		return "UNKNOWN"
	}
}

// FieldValue is a typed, already-serialized field: Bytes holds the raw
// little-endian payload for fixed-width types, and the raw string/byte
// content (without its own length prefix) for STRING/BYTES.
type FieldValue struct {
	Type  FieldType
	Bytes []byte
}

func Int32Value(v int32) FieldValue {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return FieldValue{Type: FieldTypeInt32, Bytes: b}
}

func Int64Value(v int64) FieldValue {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return FieldValue{Type: FieldTypeInt64, Bytes: b}
}

func Float32Value(v float32) FieldValue {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return FieldValue{Type: FieldTypeFloat32, Bytes: b}
}

func Float64Value(v float64) FieldValue {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return FieldValue{Type: FieldTypeFloat64, Bytes: b}
}

func BoolValue(v bool) FieldValue {
	b := byte(0)
	if v {
		b = 1
	}
	return FieldValue{Type: FieldTypeBoolean, Bytes: []byte{b}}
}

func StringValue(v string) FieldValue {
	return FieldValue{Type: FieldTypeString, Bytes: []byte(v)}
}

func BytesValue(v []byte) FieldValue {
	return FieldValue{Type: FieldTypeBytes, Bytes: v}
}

func (v FieldValue) AsInt32() (int32, bool) {
	if v.Type != FieldTypeInt32 || len(v.Bytes) != 4 {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(v.Bytes)), true
}

func (v FieldValue) AsInt64() (int64, bool) {
	if v.Type != FieldTypeInt64 || len(v.Bytes) != 8 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(v.Bytes)), true
}

func (v FieldValue) AsFloat32() (float32, bool) {
	if v.Type != FieldTypeFloat32 || len(v.Bytes) != 4 {
		return 0, false
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(v.Bytes)), true
}

func (v FieldValue) AsFloat64() (float64, bool) {
	if v.Type != FieldTypeFloat64 || len(v.Bytes) != 8 {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Bytes)), true
}

func (v FieldValue) AsBool() (bool, bool) {
	if v.Type != FieldTypeBoolean || len(v.Bytes) != 1 {
		return false, false
	}
	return v.Bytes[0] != 0, true
}

func (v FieldValue) AsString() (string, bool) {
	if v.Type != FieldTypeString {
		return "", false
	}
	return string(v.Bytes), true
}

// arenaRecordSize returns the number of bytes encodeArenaRecord would write
// into the arena for this value: 2 bytes of type tag, plus payload, plus (for
// dynamic types) a varint length prefix.
func (v FieldValue) arenaRecordSize() int {
	size := 2 // type tag
	if _, fixed := v.Type.fixedWidth(); fixed {
		return size + len(v.Bytes)
	}
	switch v.Type {
	case FieldTypeString, FieldTypeBytes:
		var lenBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenBuf[:], uint64(len(v.Bytes)))
		return size + n + len(v.Bytes)
	case FieldTypeUnknown:
		return size
	default:
		return size
	}
}

// encodeArenaRecord writes v's on-disk representation into dst, which must be
// at least v.arenaRecordSize() bytes long, and returns the number of bytes
// written.
func encodeArenaRecord(dst []byte, v FieldValue) int {
	binary.LittleEndian.PutUint16(dst[0:2], uint16(v.Type))
	off := 2
	if _, fixed := v.Type.fixedWidth(); fixed {
		off += copy(dst[off:], v.Bytes)
		return off
	}
	switch v.Type {
	case FieldTypeString, FieldTypeBytes:
		n := binary.PutUvarint(dst[off:], uint64(len(v.Bytes)))
		off += n
		off += copy(dst[off:], v.Bytes)
		return off
	default:
		return off
	}
}

// decodeArenaRecord parses a FieldValue starting at src[0], returning the
// value and the number of bytes consumed.
func decodeArenaRecord(src []byte) (FieldValue, int, error) {
	if len(src) < 2 {
		return FieldValue{}, 0, fmt.Errorf("%w: truncated type tag", ErrCorruptLog)
	}
	t := FieldType(binary.LittleEndian.Uint16(src[0:2]))
	off := 2
	if width, fixed := t.fixedWidth(); fixed {
		if len(src)-off < width {
			return FieldValue{}, 0, fmt.Errorf("%w: truncated fixed-width payload", ErrCorruptLog)
		}
		b := make([]byte, width)
		copy(b, src[off:off+width])
		return FieldValue{Type: t, Bytes: b}, off + width, nil
	}
	switch t {
	case FieldTypeString, FieldTypeBytes:
		n, consumed := binary.Uvarint(src[off:])
		if consumed <= 0 {
			return FieldValue{}, 0, fmt.Errorf("%w: malformed length prefix", ErrCorruptLog)
		}
		off += consumed
		if uint64(len(src)-off) < n {
			return FieldValue{}, 0, fmt.Errorf("%w: truncated variable-length payload", ErrCorruptLog)
		}
		b := make([]byte, n)
		copy(b, src[off:off+int(n)])
		return FieldValue{Type: t, Bytes: b}, off + int(n), nil
	case FieldTypeUnknown:
		return FieldValue{Type: FieldTypeUnknown}, off, nil
	default:
		return FieldValue{}, 0, fmt.Errorf("%w: tag %d", ErrUnsupportedFieldType, t)
	}
}
