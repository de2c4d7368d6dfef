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
	"bufio"
	"encoding/binary"
	"io"
)

type logRecordKind byte

const (
	logUpdateDocFields logRecordKind = 0
	logDeleteDocFields logRecordKind = 1
	logDeleteDoc       logRecordKind = 2
)

// logRecord is the decoded form of one operation-log entry. Offsets is only
// populated for logUpdateDocFields and is parallel to FieldIDs.
type logRecord struct {
	Kind     logRecordKind
	PK       []byte
	FieldIDs []FieldID
	Offsets  []uint64
}

func appendBytes(dst []byte, b []byte) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	dst = append(dst, lenBuf[:n]...)
	return append(dst, b...)
}

func appendFieldIDs(dst []byte, ids []FieldID) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(ids)))
	dst = append(dst, lenBuf[:n]...)
	for _, id := range ids {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(id))
		dst = append(dst, b[:]...)
	}
	return dst
}

// encodeLogRecord builds the full on-disk record, including its leading
// 4-byte little-endian payload length, for one operation-log entry.
func encodeLogRecord(r logRecord) []byte {
	payload := make([]byte, 0, 32+len(r.PK)+4*len(r.FieldIDs))
	payload = append(payload, byte(r.Kind))
	payload = appendBytes(payload, r.PK)
	switch r.Kind {
	case logUpdateDocFields:
		payload = appendFieldIDs(payload, r.FieldIDs)
		for _, off := range r.Offsets {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], off)
			payload = append(payload, b[:]...)
		}
	case logDeleteDocFields:
		payload = appendFieldIDs(payload, r.FieldIDs)
	case logDeleteDoc:
		// pk only
	}
	out := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(payload)))
	return append(out, payload...)
}

// replayLog reads every complete record from r in order. An incomplete
// length-prefix (a truncated tail, the result of a crash mid-append) ends
// the replay without error: everything before it is durable, everything
// from it onward never was. A length prefix that was read in full but
// declares more payload than remains in the stream is corruption, not a
// benign truncation — it can only mean the length field itself is garbage,
// since a clean crash mid-append always truncates at a record boundary or
// within the 4-byte length prefix, never partway through a payload whose
// length was already fully written.
func replayLog(r io.Reader) ([]logRecord, error) {
	br := bufio.NewReader(r)
	var records []logRecord
	for {
		var lenBuf [4]byte
		n, err := io.ReadFull(br, lenBuf[:])
		if n == 0 && (err == io.EOF) {
			return records, nil
		}
		if err != nil {
			// short length header: truncated tail, stop here.
			return records, nil
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return records, errCorruptf("record declares length %d past end of log", length)
		}
		rec, err := decodeLogPayload(payload)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

func decodeLogPayload(payload []byte) (logRecord, error) {
	if len(payload) < 1 {
		return logRecord{}, errCorruptf("empty log record")
	}
	kind := logRecordKind(payload[0])
	off := 1
	pkLen, n := binary.Uvarint(payload[off:])
	if n <= 0 {
		return logRecord{}, errCorruptf("malformed primary key length")
	}
	off += n
	if uint64(len(payload)-off) < pkLen {
		return logRecord{}, errCorruptf("truncated primary key")
	}
	pk := make([]byte, pkLen)
	copy(pk, payload[off:off+int(pkLen)])
	off += int(pkLen)

	rec := logRecord{Kind: kind, PK: pk}
	switch kind {
	case logUpdateDocFields:
		ids, newOff, err := decodeFieldIDs(payload, off)
		if err != nil {
			return logRecord{}, err
		}
		off = newOff
		offsets := make([]uint64, len(ids))
		for i := range ids {
			if len(payload)-off < 8 {
				return logRecord{}, errCorruptf("truncated offset vector")
			}
			offsets[i] = binary.LittleEndian.Uint64(payload[off : off+8])
			off += 8
		}
		rec.FieldIDs = ids
		rec.Offsets = offsets
	case logDeleteDocFields:
		ids, _, err := decodeFieldIDs(payload, off)
		if err != nil {
			return logRecord{}, err
		}
		rec.FieldIDs = ids
	case logDeleteDoc:
		// nothing further
	default:
		return logRecord{}, errCorruptf("unknown log record kind %d", kind)
	}
	return rec, nil
}

func decodeFieldIDs(payload []byte, off int) ([]FieldID, int, error) {
	count, n := binary.Uvarint(payload[off:])
	if n <= 0 {
		return nil, 0, errCorruptf("malformed field id count")
	}
	off += n
	ids := make([]FieldID, count)
	for i := range ids {
		if len(payload)-off < 2 {
			return nil, 0, errCorruptf("truncated field id")
		}
		ids[i] = FieldID(binary.LittleEndian.Uint16(payload[off : off+2]))
		off += 2
	}
	return ids, off, nil
}
