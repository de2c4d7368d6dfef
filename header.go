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
	"time"
)

type headerData struct {
	BaseIndexEpochMillis int64 `json:"base_index_epoch_millis"`
}

// header stores a single fact about a partition: the epoch (in millis) of
// the base index it was last built or restored from.
type header struct {
	path string
	mu   rwGuard
}

func headerPath(partitionDir string) string { return partitionDir + "/header" }

func openOrCreateHeader(partitionDir string) (*header, error) {
	h := &header{path: headerPath(partitionDir)}
	if _, err := os.Stat(h.path); os.IsNotExist(err) {
		if err := h.write(headerData{BaseIndexEpochMillis: time.Now().UnixMilli()}); err != nil {
			return nil, err
		}
		return h, nil
	}
	return h, nil
}

func (h *header) read() (headerData, error) {
	release := h.mu.rlock()
	defer release()
	b, err := os.ReadFile(h.path)
	if err != nil {
		return headerData{}, err
	}
	if len(b) == 0 {
		return headerData{}, nil
	}
	var d headerData
	if err := json.Unmarshal(b, &d); err != nil {
		return headerData{}, wrapf(ErrCorruptHeader, err.Error())
	}
	return d, nil
}

func (h *header) write(d headerData) error {
	release := h.mu.lock()
	defer release()
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(h.path, b, 0o640)
}

func (h *header) BaseIndexEpochMillis() (int64, error) {
	d, err := h.read()
	return d.BaseIndexEpochMillis, err
}

func (h *header) SetBaseIndexEpochMillis(v int64) error {
	return h.write(headerData{BaseIndexEpochMillis: v})
}
