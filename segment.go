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
	"encoding/json"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/edsrzf/mmap-go"
	"github.com/rs/zerolog"
)

// chunkSize is the growth increment for a shard's mmap arena: the backing
// file is extended by whole chunks, zero-filled, flushed, then remapped.
const chunkSize = 8 * 1024 * 1024

// absentOffset marks a (primary key, field id) pair that has never been
// written, or has been explicitly deleted, in a shard's offset table.
const absentOffset = math.MaxUint64

// segment is one of a facade's 16 hash shards: an append-only operation log
// (replayed to rebuild the offset table on open), a growable mmap arena
// holding the actual field bytes, and the in-memory offset table itself.
type segment struct {
	dir string

	mu rwGuard

	arenaFile   *os.File
	arena       mmap.MMap
	writeOffset uint64

	logFile *os.File

	// offsets[pk][fieldID] is the byte offset into arena where that field's
	// record begins, or absentOffset if never written / deleted.
	offsets map[string][]uint64

	log zerolog.Logger
}

func segmentDir(partitionDir string, i int) string {
	return partitionDir + "/index/segment_" + strconv.Itoa(i)
}

func metadataPath(dir string) string { return dir + "/metadata" }

// segmentMetadata is the small sidecar file recording the arena's next-free
// byte, so a reopen doesn't have to re-derive it (the operation log alone
// only reconstructs the offset table, not the write cursor).
type segmentMetadata struct {
	MmapWriteOffset uint64 `json:"mmap_write_offset"`
}

// openSegment opens (creating if necessary) the shard directory at dir,
// mmapping its arena file, restoring its write cursor from metadata, and
// replaying its operation log to rebuild the in-memory offset table.
func openSegment(dir string, log zerolog.Logger) (*segment, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	s := &segment{
		dir:     dir,
		offsets: make(map[string][]uint64),
		log:     log,
	}

	arenaFile, err := os.OpenFile(dir+"/mmap", os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, err
	}
	s.arenaFile = arenaFile
	if err := s.remap(); err != nil {
		arenaFile.Close()
		return nil, err
	}

	if err := s.readMetadata(); err != nil {
		arenaFile.Close()
		return nil, err
	}
	if _, err := os.Stat(metadataPath(dir)); os.IsNotExist(err) {
		if err := s.writeMetadataLocked(); err != nil {
			arenaFile.Close()
			return nil, err
		}
	}

	logFile, err := os.OpenFile(dir+"/offset_table", os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, err
	}
	s.logFile = logFile

	records, err := replayLog(logFile)
	if err != nil {
		return nil, errCorruptf("segment %s: %v", dir, err)
	}
	for _, r := range records {
		s.apply(r)
	}
	if _, err := logFile.Seek(0, os.SEEK_END); err != nil {
		return nil, err
	}

	s.log.Info().Str("dir", dir).Int("records", len(records)).Msg("segment opened")
	return s, nil
}

// readMetadata restores s.writeOffset from the sidecar metadata file. A
// freshly created segment has no metadata file yet, so absence is not an
// error; a present-but-unparseable file is (the store's own corruption
// taxonomy names "metadata unparseable" as a fatal condition for the
// partition, not something to silently paper over).
func (s *segment) readMetadata() error {
	b, err := os.ReadFile(metadataPath(s.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(b) == 0 {
		return nil
	}
	var m segmentMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return errCorruptf("segment %s: unparseable metadata: %v", s.dir, err)
	}
	s.writeOffset = m.MmapWriteOffset
	return nil
}

// writeMetadataLocked rewrites the sidecar metadata file with the current
// write cursor. Caller must already hold s.mu.
func (s *segment) writeMetadataLocked() error {
	b, err := json.Marshal(segmentMetadata{MmapWriteOffset: s.writeOffset})
	if err != nil {
		return err
	}
	return os.WriteFile(metadataPath(s.dir), b, 0o640)
}

// remap (re)maps the arena file's current contents into s.arena. It must be
// called with the arena file's length already at a consistent chunk
// boundary (or zero, for a freshly created file).
func (s *segment) remap() error {
	if s.arena != nil {
		if err := s.arena.Unmap(); err != nil {
			return err
		}
	}
	fi, err := s.arenaFile.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		s.arena = nil
		return nil
	}
	m, err := mmap.Map(s.arenaFile, mmap.RDWR, 0)
	if err != nil {
		return err
	}
	s.arena = m
	return nil
}

// ensureCapacity grows the arena (in whole chunkSize increments) until it
// can hold endOffset bytes, flushing and remapping as needed.
func (s *segment) ensureCapacity(endOffset uint64) error {
	haveLen := uint64(0)
	if s.arena != nil {
		haveLen = uint64(len(s.arena))
	}
	if endOffset <= haveLen {
		return nil
	}
	grow := endOffset - haveLen
	numChunks := grow / chunkSize
	if grow%chunkSize != 0 {
		numChunks++
	}
	zeros := make([]byte, numChunks*chunkSize)
	if _, err := s.arenaFile.WriteAt(zeros, int64(haveLen)); err != nil {
		return err
	}
	if err := s.arenaFile.Sync(); err != nil {
		return err
	}
	if err := s.remap(); err != nil {
		return err
	}
	s.log.Debug().Uint64("new_size", haveLen+uint64(len(zeros))).Msg("arena grown")
	return nil
}

func (s *segment) fieldOffsets(pk string, minLen int) []uint64 {
	offs := s.offsets[pk]
	if len(offs) < minLen {
		grown := make([]uint64, minLen)
		for i := range grown {
			grown[i] = absentOffset
		}
		copy(grown, offs)
		offs = grown
		s.offsets[pk] = offs
	}
	return offs
}

// apply folds one replayed (or just-appended) log record into the in-memory
// offset table. It never touches the log file or the arena itself.
func (s *segment) apply(r logRecord) {
	pk := string(r.PK)
	switch r.Kind {
	case logUpdateDocFields:
		maxID := 0
		for _, id := range r.FieldIDs {
			if int(id)+1 > maxID {
				maxID = int(id) + 1
			}
		}
		offs := s.fieldOffsets(pk, maxID)
		for i, id := range r.FieldIDs {
			offs[id] = r.Offsets[i]
		}
	case logDeleteDocFields:
		offs, ok := s.offsets[pk]
		if !ok {
			return
		}
		for _, id := range r.FieldIDs {
			if int(id) < len(offs) {
				offs[id] = absentOffset
			}
		}
	case logDeleteDoc:
		delete(s.offsets, pk)
	}
}

// Upsert writes each field's record into the arena, appends the
// corresponding log entry, updates the in-memory offset table, and commits
// via flushWritesLocked. It holds the shard's lock exclusively for its
// entire duration.
func (s *segment) Upsert(pk []byte, fields map[FieldID]FieldValue) error {
	release := s.mu.lock()
	defer release()

	ids := make([]FieldID, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	offsets := make([]uint64, len(ids))

	writeAt := s.writeOffset
	total := uint64(0)
	for _, id := range ids {
		total += uint64(fields[id].arenaRecordSize())
	}
	if err := s.ensureCapacity(writeAt + total); err != nil {
		return err
	}

	cursor := writeAt
	for i, id := range ids {
		v := fields[id]
		n := encodeArenaRecord(s.arena[cursor:], v)
		offsets[i] = cursor
		cursor += uint64(n)
	}
	s.writeOffset = cursor

	rec := logRecord{Kind: logUpdateDocFields, PK: pk, FieldIDs: ids, Offsets: offsets}
	if err := s.appendLog(rec); err != nil {
		return err
	}
	s.apply(rec)
	return s.flushWritesLocked()
}

// DeleteFields marks the given field ids absent for pk, without reclaiming
// their arena bytes.
func (s *segment) DeleteFields(pk []byte, ids []FieldID) error {
	release := s.mu.lock()
	defer release()
	rec := logRecord{Kind: logDeleteDocFields, PK: pk, FieldIDs: ids}
	if err := s.appendLog(rec); err != nil {
		return err
	}
	s.apply(rec)
	return s.flushWritesLocked()
}

// DeleteDocument removes all knowledge of pk from the offset table.
func (s *segment) DeleteDocument(pk []byte) error {
	release := s.mu.lock()
	defer release()
	rec := logRecord{Kind: logDeleteDoc, PK: pk}
	if err := s.appendLog(rec); err != nil {
		return err
	}
	s.apply(rec)
	return s.flushWritesLocked()
}

// appendLog writes r's bytes to the log file without syncing; durability is
// committed separately by flushWritesLocked, which syncs the log last.
func (s *segment) appendLog(r logRecord) error {
	b := encodeLogRecord(r)
	_, err := s.logFile.Write(b)
	return err
}

// flushWritesLocked is the shard's sole commit point: flush the arena,
// persist the write cursor to metadata, then sync the log, in that order, so
// a crash between any two steps never leaves metadata or the log pointing
// past bytes the arena hasn't actually committed. Caller must already hold
// s.mu exclusively.
func (s *segment) flushWritesLocked() error {
	if s.arena != nil {
		if err := s.arena.Flush(); err != nil {
			return err
		}
	}
	if err := s.writeMetadataLocked(); err != nil {
		return err
	}
	return s.logFile.Sync()
}

// FlushWrites is the exported, independently-lockable form of
// flushWritesLocked, used by Facade.FlushAll to force a commit outside of a
// mutating call (e.g. before the consumer persists a batch checkpoint).
func (s *segment) FlushWrites() error {
	release := s.mu.lock()
	defer release()
	return s.flushWritesLocked()
}

// ReadField returns the bytes of field id for pk, and whether it is present.
// A stored UNKNOWN-type sentinel reads as absent here, same as a never
// written or deleted field; it is only a hard error during compaction copy.
// The returned FieldValue shares no memory with the arena.
func (s *segment) ReadField(pk []byte, id FieldID) (FieldValue, bool) {
	release := s.mu.rlock()
	defer release()
	out := s.readFieldsLocked(pk, []FieldID{id})
	return out[0].Value, out[0].Present
}

// ReadFields returns values for every requested field id, in order, using
// at most one lock acquisition.
func (s *segment) ReadFields(pk []byte, ids []FieldID) []OptionalValue {
	release := s.mu.rlock()
	defer release()
	return s.readFieldsLocked(pk, ids)
}

// readFieldsLocked is the unlocked core of ReadField/ReadFields, also used
// by Facade.BatchGetFieldValues to resolve every key routed to this shard
// under a single guard acquisition.
func (s *segment) readFieldsLocked(pk []byte, ids []FieldID) []OptionalValue {
	out := make([]OptionalValue, len(ids))
	offs, ok := s.offsets[string(pk)]
	if !ok {
		return out
	}
	for i, id := range ids {
		if int(id) >= len(offs) || offs[id] == absentOffset {
			continue
		}
		v, _, err := decodeArenaRecord(s.arena[offs[id]:])
		if err != nil || v.Type == FieldTypeUnknown {
			continue
		}
		out[i] = OptionalValue{Value: v, Present: true}
	}
	return out
}

// OptionalValue is a FieldValue plus a presence flag, used wherever a field
// may legitimately be absent (never an error condition).
type OptionalValue struct {
	Value   FieldValue
	Present bool
}

// DeleteAllDocuments truncates the arena and the operation log to empty,
// resets the write cursor to zero (rewriting the metadata sidecar with it),
// and remaps against the now-zero-length arena file. Used by
// drop_all_documents.
func (s *segment) DeleteAllDocuments() error {
	release := s.mu.lock()
	defer release()

	if s.arena != nil {
		if err := s.arena.Unmap(); err != nil {
			return err
		}
		s.arena = nil
	}
	if err := s.arenaFile.Truncate(0); err != nil {
		return err
	}
	if err := s.logFile.Truncate(0); err != nil {
		return err
	}
	if _, err := s.logFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.writeOffset = 0
	s.offsets = make(map[string][]uint64)
	if err := s.remap(); err != nil {
		return err
	}
	return s.writeMetadataLocked()
}

func (s *segment) Close() error {
	release := s.mu.lock()
	defer release()
	return s.closeLocked()
}

// closeLocked releases the arena mapping and underlying file handles. The
// caller must already hold s.mu exclusively (directly, or by way of Close).
func (s *segment) closeLocked() error {
	var firstErr error
	if s.arena != nil {
		if err := s.arena.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.arenaFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.logFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
