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
	"os"
)

// OffsetRecord names the last committed position this partition has
// consumed from its log topic.
type OffsetRecord struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

// offsetStore is a full-rewrite-on-every-write record of committed log
// positions, checked at consumer startup to resume where a previous process
// left off.
type offsetStore struct {
	path string
	mu   rwGuard
}

func offsetStorePath(partitionDir string) string { return partitionDir + "/kafka_offsets" }

func openOrCreateOffsetStore(partitionDir string) (*offsetStore, error) {
	s := &offsetStore{path: offsetStorePath(partitionDir)}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := s.WriteAll(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *offsetStore) ReadAll() ([]OffsetRecord, error) {
	release := s.mu.rlock()
	defer release()
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var recs []OffsetRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, wrapf(ErrCorruptHeader, err.Error())
	}
	return recs, nil
}

func (s *offsetStore) WriteAll(recs []OffsetRecord) error {
	release := s.mu.lock()
	defer release()
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o640)
}

// CommittedOffset returns the last committed offset for (topic, partition),
// and false if none has ever been recorded.
func (s *offsetStore) CommittedOffset(topic string, partition int) (int64, bool, error) {
	recs, err := s.ReadAll()
	if err != nil {
		return 0, false, err
	}
	for _, r := range recs {
		if r.Topic == topic && r.Partition == partition {
			return r.Offset, true, nil
		}
	}
	return 0, false, nil
}

// SetCommittedOffset upserts the committed offset for (topic, partition).
func (s *offsetStore) SetCommittedOffset(topic string, partition int, offset int64) error {
	release := s.mu.lock()
	defer release()
	b, err := os.ReadFile(s.path)
	var recs []OffsetRecord
	if err == nil && len(b) > 0 {
		if err := json.Unmarshal(b, &recs); err != nil {
			return wrapf(ErrCorruptHeader, err.Error())
		}
	}
	found := false
	for i := range recs {
		if recs[i].Topic == topic && recs[i].Partition == partition {
			recs[i].Offset = offset
			found = true
			break
		}
	}
	if !found {
		recs = append(recs, OffsetRecord{Topic: topic, Partition: partition, Offset: offset})
	}
	out, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o640)
}
