/*
Copyright (C) 2025  Carl-Philip Hänsch

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
	"sync"
)

// SharedState mirrors the lazily-loaded-resource states a process monitor
// would track: COLD (not loaded), SHARED (held for read), WRITE (held
// exclusively).
type SharedState uint8

const (
	COLD   SharedState = 0
	SHARED SharedState = 1
	WRITE  SharedState = 2
)

// rwGuard wraps a sync.RWMutex behind the same rlock()/lock()
// release-closure shape used across this store's subcomponents (segment,
// schema, header, offset store), so every lock acquisition site reads the
// same way regardless of which resource it guards.
type rwGuard struct {
	mu sync.RWMutex
}

func (g *rwGuard) rlock() func() {
	g.mu.RLock()
	return g.mu.RUnlock
}

func (g *rwGuard) lock() func() {
	g.mu.Lock()
	return g.mu.Unlock
}

func wrapf(sentinel error, detail string) error {
	return fmt.Errorf("%w: %s", sentinel, detail)
}
