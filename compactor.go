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
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

func compactedSegmentName(i int) string {
	return "compacted_segment_" + strconv.Itoa(i)
}

// resumeInterruptedCompaction is run before a facade opens its segments. If
// a prior compaction crashed after finishing a shard's rewrite but before
// renaming it over the live segment, that shard's compacted_segment_i
// directory is still present; finishing the swap is always safe because the
// compactor never starts writing a compacted_segment_i until the old one
// has already been fully read.
func resumeInterruptedCompaction(partitionDir string, log zerolog.Logger) {
	indexDir := filepath.Join(partitionDir, "index")
	for i := 0; i < numShards; i++ {
		compactedDir := filepath.Join(indexDir, compactedSegmentName(i))
		if _, err := os.Stat(compactedDir); err != nil {
			continue
		}
		log.Warn().Int("shard", i).Msg("resuming interrupted compaction")
		liveDir := segmentDir(partitionDir, i)
		if err := os.RemoveAll(liveDir); err != nil {
			log.Error().Err(err).Int("shard", i).Msg("failed to clear live segment before compaction swap")
			continue
		}
		if err := os.Rename(compactedDir, liveDir); err != nil {
			log.Error().Err(err).Int("shard", i).Msg("failed to finish compaction swap")
		}
	}
}

// CompactStats aggregates each shard's operation-log and arena file sizes,
// before and after a compaction, across all 16 shards.
type CompactStats struct {
	PreOffsetTableFileSize  int64
	PreMmapFileSize         int64
	PostOffsetTableFileSize int64
	PostMmapFileSize        int64
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func shardFileSizes(dir string) (offsetTable, mmapFile int64) {
	return fileSize(filepath.Join(dir, "offset_table")), fileSize(filepath.Join(dir, "mmap"))
}

// compactFacade renumbers every field id densely (via schema.compact), then
// rewrites each shard's arena with translated field ids, one shard at a
// time, in fixed order. Each shard's rewrite lands in a freshly named
// compacted_segment_i directory and is only swapped over the live segment_i
// once fully flushed, so a crash mid-compaction never corrupts a live shard.
func compactFacade(f *Facade) (CompactStats, error) {
	var stats CompactStats

	newToOld, err := f.schema.compact()
	if err != nil {
		return stats, err
	}
	oldToNew := make(map[FieldID]FieldID, len(newToOld))
	for newID, oldID := range newToOld {
		oldToNew[oldID] = newID
	}

	partitionDir := f.cfg.PartitionDir()
	indexDir := filepath.Join(partitionDir, "index")

	for i := 0; i < numShards; i++ {
		shardStats, err := compactShard(f, i, indexDir, oldToNew)
		if err != nil {
			return stats, fmt.Errorf("compacting shard %d: %w", i, err)
		}
		stats.PreOffsetTableFileSize += shardStats.PreOffsetTableFileSize
		stats.PreMmapFileSize += shardStats.PreMmapFileSize
		stats.PostOffsetTableFileSize += shardStats.PostOffsetTableFileSize
		stats.PostMmapFileSize += shardStats.PostMmapFileSize
	}
	return stats, nil
}

func compactShard(f *Facade, i int, indexDir string, oldToNew map[FieldID]FieldID) (CompactStats, error) {
	var stats CompactStats
	old := f.segments[i]
	release := old.mu.lock()

	stats.PreOffsetTableFileSize, stats.PreMmapFileSize = shardFileSizes(old.dir)

	stagingDir := filepath.Join(indexDir, compactedSegmentName(i)+"-"+newUUID().String())
	fresh, err := openSegment(stagingDir, old.log)
	if err != nil {
		release()
		return stats, err
	}

	for pk, offs := range old.offsets {
		fields := make(map[FieldID]FieldValue)
		for oldID := 0; oldID < len(offs); oldID++ {
			if offs[oldID] == absentOffset {
				continue
			}
			newID, ok := oldToNew[FieldID(oldID)]
			if !ok {
				// field was dropped from the schema entirely: drop its
				// stored values too, rather than aborting the compaction.
				continue
			}
			v, _, err := decodeArenaRecord(old.arena[offs[oldID]:])
			if err != nil {
				release()
				fresh.Close()
				os.RemoveAll(stagingDir)
				return stats, fmt.Errorf("%w: %v", ErrUnsupportedFieldType, err)
			}
			if v.Type == FieldTypeUnknown {
				release()
				fresh.Close()
				os.RemoveAll(stagingDir)
				return stats, fmt.Errorf("%w: shard %d: stored UNKNOWN field type encountered during compaction", ErrUnsupportedFieldType, i)
			}
			fields[newID] = v
		}
		if len(fields) == 0 {
			continue
		}
		if err := fresh.Upsert([]byte(pk), fields); err != nil {
			release()
			fresh.Close()
			os.RemoveAll(stagingDir)
			return stats, err
		}
	}

	if err := fresh.Close(); err != nil {
		release()
		return stats, err
	}

	liveDir := old.dir
	closeErr := old.closeLocked()
	release()
	if closeErr != nil {
		return stats, closeErr
	}

	finalCompactedDir := filepath.Join(indexDir, compactedSegmentName(i))
	if err := os.Rename(stagingDir, finalCompactedDir); err != nil {
		return stats, err
	}
	if err := os.RemoveAll(liveDir); err != nil {
		return stats, err
	}
	if err := os.Rename(finalCompactedDir, liveDir); err != nil {
		return stats, err
	}

	reopened, err := openSegment(liveDir, old.log)
	if err != nil {
		return stats, err
	}
	f.segments[i] = reopened

	stats.PostOffsetTableFileSize, stats.PostMmapFileSize = shardFileSizes(liveDir)
	return stats, nil
}
