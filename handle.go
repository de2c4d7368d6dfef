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
	"sync"
	"sync/atomic"
)

// Handle is an opaque reference a language binding holds instead of a raw
// *Facade pointer, so the binding boundary never has to reason about Go's
// memory layout.
type Handle uint64

var (
	handleCounter uint64
	handles       sync.Map // Handle -> *Facade
)

// OpenHandle opens a facade for cfg and mints a handle for it.
func OpenHandle(cfg Config) (Handle, error) {
	f, err := OpenFacade(cfg)
	if err != nil {
		return 0, err
	}
	h := Handle(atomic.AddUint64(&handleCounter, 1))
	handles.Store(h, f)
	return h, nil
}

// Lookup resolves a handle minted by OpenHandle to its facade.
func Lookup(h Handle) (*Facade, bool) {
	v, ok := handles.Load(h)
	if !ok {
		return nil, false
	}
	return v.(*Facade), true
}

// CloseHandle closes the facade behind h and frees the handle. Closing an
// already-closed or never-opened handle is a no-op.
func CloseHandle(h Handle) error {
	v, ok := handles.LoadAndDelete(h)
	if !ok {
		return nil
	}
	return v.(*Facade).Close()
}

// ReleaseBuffer documents the (pointer, length) release boundary a language
// binding expects; in Go the garbage collector owns every buffer this
// package hands back, so there is nothing to free here.
func ReleaseBuffer([]byte) {}
