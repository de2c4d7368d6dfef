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

// Processor dispatches decoded write events onto a facade. It holds no
// state of its own beyond the facade reference, so one Processor can be
// shared freely across goroutines reading from the same partition's log.
type Processor struct {
	facade *Facade
}

func NewProcessor(f *Facade) *Processor {
	return &Processor{facade: f}
}

// Apply routes ev to the matching facade operation.
func (p *Processor) Apply(ev Event) error {
	switch e := ev.(type) {
	case UpsertDocumentFields:
		return p.facade.Upsert(e.Document)
	case DeleteDocumentFields:
		return p.facade.DeleteFields(e.Document, e.FieldNames)
	case DeleteDocument:
		return p.facade.DeleteDocument(e.Document)
	case DropFields:
		if e.DropAll {
			return p.facade.DropAllDocuments()
		}
		return p.facade.DropFields(e.FieldNames, e.FieldNamePrefixes)
	default:
		// All other event variants are ignored.
		return nil
	}
}
