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

import "fmt"

const maxPrimaryKeySize = 64 * 1024

// Document is a field-name to value map. Exactly one of its fields, named by
// the facade's configured primary key field, identifies the document.
type Document map[string]FieldValue

// primaryKeyBytes extracts and validates the primary key field's serialized
// bytes (not including its type tag), used both for shard routing and as the
// offset table's map key.
func primaryKeyBytes(doc Document, pkField string) ([]byte, error) {
	if len(doc) == 0 {
		return nil, ErrEmptyDocument
	}
	v, ok := doc[pkField]
	if !ok {
		return nil, fmt.Errorf("%w: field %q absent", ErrMissingPrimaryKey, pkField)
	}
	if len(v.Bytes) > maxPrimaryKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPrimaryKeyTooLarge, len(v.Bytes))
	}
	pk := make([]byte, len(v.Bytes))
	copy(pk, v.Bytes)
	return pk, nil
}
