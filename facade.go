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
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// numShards is fixed: IKV partitions never repartition themselves, they are
// repartitioned by the surrounding store-level control plane which owns
// process placement.
const numShards = 16

// Facade aggregates one partition's schema, header, offset store, and 16
// hash shards behind the single entry point the rest of the engine (the
// processor, the consumer, the compactor) calls into.
type Facade struct {
	cfg      Config
	schema   *schema
	header   *header
	offsets  *offsetStore
	segments [numShards]*segment
	log      zerolog.Logger
}

// OpenFacade opens (creating on first use) the partition named by cfg.
func OpenFacade(cfg Config) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir := cfg.PartitionDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	log := newLogger(cfg, "facade")

	resumeInterruptedCompaction(dir, log)

	sch, err := openOrCreateSchema(dir, cfg.PrimaryKeyField, log)
	if err != nil {
		return nil, err
	}
	hdr, err := openOrCreateHeader(dir)
	if err != nil {
		return nil, err
	}
	offs, err := openOrCreateOffsetStore(dir)
	if err != nil {
		return nil, err
	}
	f := &Facade{cfg: cfg, schema: sch, header: hdr, offsets: offs, log: log}
	for i := 0; i < numShards; i++ {
		seg, err := openSegment(segmentDir(dir, i), log)
		if err != nil {
			return nil, err
		}
		f.segments[i] = seg
	}
	f.log.Info().Str("dir", dir).Msg("facade opened")
	return f, nil
}

// Offsets returns the partition's Kafka offset store, used by Consumer to
// resume from where a previous process left off.
func (f *Facade) Offsets() *offsetStore {
	return f.offsets
}

func (f *Facade) Close() error {
	var firstErr error
	for _, s := range f.segments {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Facade) shardFor(pk []byte) *segment {
	return f.segments[fnvHash(pk)%numShards]
}

// Upsert assigns (or reuses) a field id for every field in doc, extracts and
// validates the primary key, and writes the document into its shard.
func (f *Facade) Upsert(doc Document) error {
	pk, err := primaryKeyBytes(doc, f.cfg.PrimaryKeyField)
	if err != nil {
		return err
	}
	fields := make(map[FieldID]FieldValue, len(doc))
	for name, v := range doc {
		if v.Type == FieldTypeUnknown {
			continue
		}
		id, err := f.schema.EnsureFieldID(name)
		if err != nil {
			return err
		}
		fields[id] = v
	}
	return f.shardFor(pk).Upsert(pk, fields)
}

// DeleteFields removes the named fields from the document identified by pk.
// Field names that were never registered are silently ignored.
func (f *Facade) DeleteFields(doc Document, fieldNames []string) error {
	pk, err := primaryKeyBytes(doc, f.cfg.PrimaryKeyField)
	if err != nil {
		return err
	}
	ids := make([]FieldID, 0, len(fieldNames))
	for _, name := range fieldNames {
		if id, ok := f.schema.FieldIDFor(name); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return f.shardFor(pk).DeleteFields(pk, ids)
}

// DeleteDocument removes every field of the document identified by pk.
func (f *Facade) DeleteDocument(doc Document) error {
	pk, err := primaryKeyBytes(doc, f.cfg.PrimaryKeyField)
	if err != nil {
		return err
	}
	return f.shardFor(pk).DeleteDocument(pk)
}

// GetFieldValue resolves one field of the document named by pkValue. Absence
// (unknown field name, never-written value, or deleted value) is reported
// via the second return, never an error.
func (f *Facade) GetFieldValue(pkValue FieldValue, fieldName string) (FieldValue, bool) {
	id, ok := f.schema.FieldIDFor(fieldName)
	if !ok {
		return FieldValue{}, false
	}
	return f.shardFor(pkValue.Bytes).ReadField(pkValue.Bytes, id)
}

// BatchGetFieldValues resolves fieldNames for every primaryKey, acquiring
// each touched shard's read lock at most once regardless of how many keys
// land on it.
func (f *Facade) BatchGetFieldValues(primaryKeys []FieldValue, fieldNames []string) [][]OptionalValue {
	ids := make([]FieldID, len(fieldNames))
	present := make([]bool, len(fieldNames))
	for i, name := range fieldNames {
		id, ok := f.schema.FieldIDFor(name)
		ids[i] = id
		present[i] = ok
	}

	results := make([][]OptionalValue, len(primaryKeys))
	byShard := make(map[int][]int) // shard index -> positions in primaryKeys
	for i, pk := range primaryKeys {
		shardIdx := int(fnvHash(pk.Bytes) % numShards)
		byShard[shardIdx] = append(byShard[shardIdx], i)
	}
	for shardIdx, positions := range byShard {
		seg := f.segments[shardIdx]
		release := seg.mu.rlock()
		for _, pos := range positions {
			vals := seg.readFieldsLocked(primaryKeys[pos].Bytes, ids)
			for i, ok := range present {
				if !ok {
					vals[i] = OptionalValue{}
				}
			}
			results[pos] = vals
		}
		release()
	}
	return results
}

// BatchGetFieldValuesWire is BatchGetFieldValues encoded in the wire format
// the client binding expects: for every primary key, for every requested
// field, a little-endian i32 length followed by that many bytes. A length of
// -1 means absent or UNKNOWN; 0 means a present, zero-length value; any
// other n means n bytes follow.
func (f *Facade) BatchGetFieldValuesWire(primaryKeys []FieldValue, fieldNames []string) []byte {
	results := f.BatchGetFieldValues(primaryKeys, fieldNames)
	return encodeBatchGetFieldValues(results)
}

func encodeBatchGetFieldValues(results [][]OptionalValue) []byte {
	var out []byte
	var lenBuf [4]byte
	for _, row := range results {
		for _, ov := range row {
			if !ov.Present {
				binary.LittleEndian.PutUint32(lenBuf[:], uint32(int32(-1)))
				out = append(out, lenBuf[:]...)
				continue
			}
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(ov.Value.Bytes)))
			out = append(out, lenBuf[:]...)
			out = append(out, ov.Value.Bytes...)
		}
	}
	return out
}

func fnvHash(pk []byte) uint32 {
	h := fnv.New32a()
	h.Write(pk)
	return h.Sum32()
}

// Compact renumbers field ids densely and rewrites every shard into a fresh
// directory that then replaces the shard's own. See compactor.go.
func (f *Facade) Compact() (CompactStats, error) {
	return compactFacade(f)
}

// CompactAndClose performs a full compaction, then closes every
// subcomponent. The compaction takes the schema lock exclusively to renumber
// ids and releases it, then takes each shard's lock exclusively in turn, in
// shard order 0..15; it never holds two of these locks at once.
func (f *Facade) CompactAndClose() (CompactStats, error) {
	stats, err := f.Compact()
	if err != nil {
		return stats, err
	}
	return stats, f.Close()
}

// FlushAll forces flush_writes on every shard. The consumer calls this
// before persisting each batch's Kafka offset checkpoint, so a checkpoint
// is never recorded ahead of the writes it accounts for.
func (f *Facade) FlushAll() error {
	for _, s := range f.segments {
		if err := s.FlushWrites(); err != nil {
			return err
		}
	}
	return nil
}

// DropFields soft-deletes every field whose name is in exactNames or starts
// with one of prefixes from the schema. Stored values for dropped fields
// become unreachable and are reclaimed at the next compaction.
func (f *Facade) DropFields(exactNames, prefixes []string) error {
	return f.schema.SoftDeleteFields(exactNames, prefixes)
}

// DropAllDocuments hard-resets the schema to just the primary key field and
// truncates every shard's arena and log to empty, resetting its metadata's
// write cursor to zero.
func (f *Facade) DropAllDocuments() error {
	if err := f.schema.HardDeleteAllFields(); err != nil {
		return err
	}
	for _, s := range f.segments {
		if err := s.DeleteAllDocuments(); err != nil {
			return err
		}
	}
	return nil
}

// requiredPartitionFiles are the paths that must all exist for a partition
// directory to count as a valid index, independent of any facade being open
// against it.
func requiredPartitionFiles(cfg Config) []string {
	dir := cfg.PartitionDir()
	files := []string{schemaPath(dir), headerPath(dir), offsetStorePath(dir)}
	for i := 0; i < numShards; i++ {
		segDir := segmentDir(dir, i)
		files = append(files,
			filepath.Join(segDir, "mmap"),
			filepath.Join(segDir, "offset_table"),
			metadataPath(segDir),
		)
	}
	return files
}

// IndexNotPresent reports whether cfg's partition directory has never been
// initialized at all (no schema file written yet).
func IndexNotPresent(cfg Config) bool {
	_, err := os.Stat(schemaPath(cfg.PartitionDir()))
	return os.IsNotExist(err)
}

// IsValidIndex reports whether every file a partition requires is present:
// schema, header, kafka offsets, and every shard's mmap, operation log, and
// metadata. Used by the loader before trusting a downloaded or locally
// resident index well enough to open it.
func IsValidIndex(cfg Config) bool {
	for _, p := range requiredPartitionFiles(cfg) {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// DeleteAll removes cfg's entire partition directory subtree. Used to clear
// a corrupt or stale local index before re-fetching a fresh base index.
func DeleteAll(cfg Config) error {
	return os.RemoveAll(cfg.PartitionDir())
}
