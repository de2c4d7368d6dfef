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
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// FieldID is a dense-or-sparse identifier in [0, 2^16) assigned the first
// time a field name is seen, and never reused for a different name except
// across a compaction.
type FieldID = uint16

type persistedSchema struct {
	PrimaryKeyFieldName string             `json:"primary_key_field_name"`
	FieldNameToID       map[string]FieldID `json:"field_name_to_id"`
	FieldIDCounter      uint32             `json:"field_id_counter"`
}

// schema is the name<->id registry for one partition. Every lookup and
// mutation goes through mu: shared for reads, exclusive for inserts and
// compaction.
type schema struct {
	path string
	mu   rwGuard
	data persistedSchema
	log  zerolog.Logger
}

func schemaPath(partitionDir string) string { return partitionDir + "/schema" }

// openOrCreateSchema loads the schema file under partitionDir, creating a
// fresh one (with only the primary key field registered at id 0) if absent.
func openOrCreateSchema(partitionDir, pkField string, log zerolog.Logger) (*schema, error) {
	p := schemaPath(partitionDir)
	s := &schema{path: p, log: log.With().Str("subcomponent", "schema").Logger()}
	b, err := os.ReadFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.data = persistedSchema{
			PrimaryKeyFieldName: pkField,
			FieldNameToID:       map[string]FieldID{pkField: 0},
			FieldIDCounter:      1,
		}
		if err := s.save(); err != nil {
			return nil, err
		}
		s.log.Info().Msg("created new schema")
		return s, nil
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, errSchemaCorrupt(err)
	}
	if s.data.FieldNameToID == nil {
		return nil, errSchemaCorrupt(nil)
	}
	return s, nil
}

func errSchemaCorrupt(cause error) error {
	if cause == nil {
		return ErrCorruptSchema
	}
	return wrapf(ErrCorruptSchema, cause.Error())
}

// save persists the schema by writing the new version to a temporary file
// and renaming it over the schema file, keeping a .old rescue copy of the
// previous version. The header and offset store files are overwritten in
// place instead.
func (s *schema) save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o640); err != nil {
		return err
	}
	if prev, err := os.ReadFile(s.path); err == nil {
		_ = os.WriteFile(s.path+".old", prev, 0o640)
	}
	return os.Rename(tmp, s.path)
}

// FieldIDFor resolves an existing field name to its id.
func (s *schema) FieldIDFor(name string) (FieldID, bool) {
	release := s.mu.rlock()
	defer release()
	id, ok := s.data.FieldNameToID[name]
	return id, ok
}

// EnsureFieldID returns the id for name, assigning a new one and persisting
// the registry if name has never been seen before.
func (s *schema) EnsureFieldID(name string) (FieldID, error) {
	if id, ok := s.FieldIDFor(name); ok {
		return id, nil
	}
	release := s.mu.lock()
	defer release()
	if id, ok := s.data.FieldNameToID[name]; ok {
		return id, nil
	}
	id := FieldID(s.data.FieldIDCounter)
	s.data.FieldNameToID[name] = id
	s.data.FieldIDCounter++
	if err := s.save(); err != nil {
		return 0, err
	}
	return id, nil
}

// matchesDrop reports whether name is one of exactNames, or starts with any
// of prefixes.
func matchesDrop(name string, exactNames, prefixes []string) bool {
	for _, n := range exactNames {
		if name == n {
			return true
		}
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// SoftDeleteFields removes every registered field matching exactNames or
// prefixes from the registry, except the primary key field, which can never
// be dropped. Ids are never reassigned until the next compaction; the
// counter is not rolled back.
func (s *schema) SoftDeleteFields(exactNames, prefixes []string) error {
	release := s.mu.lock()
	defer release()
	changed := false
	for name := range s.data.FieldNameToID {
		if name == s.data.PrimaryKeyFieldName {
			continue
		}
		if matchesDrop(name, exactNames, prefixes) {
			delete(s.data.FieldNameToID, name)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save()
}

// HardDeleteAllFields resets the registry to only the primary key field at
// id 0 and the counter to 1, as if the schema had just been created.
func (s *schema) HardDeleteAllFields() error {
	release := s.mu.lock()
	defer release()
	s.data.FieldNameToID = map[string]FieldID{s.data.PrimaryKeyFieldName: 0}
	s.data.FieldIDCounter = 1
	return s.save()
}

// compact renumbers every currently-registered field id to a dense range
// starting at 0, ordered by the old id ascending, and returns a mapping from
// new id to old id so callers can translate stored values. The counter is
// reset to the number of fields, mirroring the Rust reference's behavior.
func (s *schema) compact() (newToOld map[FieldID]FieldID, err error) {
	release := s.mu.lock()
	defer release()

	type pair struct {
		name string
		old  FieldID
	}
	pairs := make([]pair, 0, len(s.data.FieldNameToID))
	for name, id := range s.data.FieldNameToID {
		pairs = append(pairs, pair{name, id})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].old < pairs[j].old })

	newToOld = make(map[FieldID]FieldID, len(pairs))
	newNameToID := make(map[string]FieldID, len(pairs))
	for i, p := range pairs {
		newID := FieldID(i)
		newToOld[newID] = p.old
		newNameToID[p.name] = newID
	}
	s.data.FieldNameToID = newNameToID
	s.data.FieldIDCounter = uint32(len(pairs))
	if err := s.save(); err != nil {
		return nil, err
	}
	s.log.Info().Int("fields", len(pairs)).Msg("schema compacted")
	return newToOld, nil
}

func (s *schema) fieldCount() int {
	release := s.mu.rlock()
	defer release()
	return len(s.data.FieldNameToID)
}
