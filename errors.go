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
	"errors"
	"fmt"
)

// Validation errors: caller passed something the store will never accept.
var (
	ErrMissingPrimaryKey   = errors.New("ikv: document is missing its primary key field")
	ErrPrimaryKeyTooLarge  = errors.New("ikv: primary key exceeds 64KiB serialized")
	ErrEmptyDocument       = errors.New("ikv: document has no fields")
	ErrUnsupportedFieldType = errors.New("ikv: unsupported field type")
)

// Corruption errors: the on-disk state cannot be trusted and the partition
// should be re-downloaded from the base index rather than repaired in place.
var (
	ErrCorruptLog    = errors.New("ikv: operation log record is malformed")
	ErrCorruptSchema = errors.New("ikv: schema file is malformed")
	ErrCorruptHeader = errors.New("ikv: header file is malformed")
	ErrIndexInvalid  = errors.New("ikv: index directory is not a valid partition")
)

// ErrNotFound is never returned by the public read API (absence is
// represented by a boolean/zero-value return); no function in this package
// currently returns it.
var ErrNotFound = errors.New("ikv: not found")

func errCorruptf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrCorruptLog}, args...)...)
}
