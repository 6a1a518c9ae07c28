// Copyright 2026 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"sync"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// connState is the per-connection side table: every hook registration for
// one open native connection lives in exactly one of these. At most one
// connState exists per live native pointer.
//
// Entries are exclusively owned by the connection that allocated them until
// release, then recycled through the store's free list. The id field is the
// dispatch context the bridge registers with the native engine; it is
// freshly assigned on every alloc, so a trampoline firing with a stale id
// after release finds nothing instead of a recycled stranger.
type connState struct {
	ptr      capi.Ptr
	handle   Handle
	mainName string
	id       uintptr

	mu       sync.Mutex
	hooks    [numHookKinds]any
	collName string

	next, prev *connState
	nextFree   *connState
}

// hook returns the installed callback object for kind, copied out under the
// state's own lock so dispatch never runs while holding it.
func (st *connState) hook(kind HookKind) any {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.hooks[kind]
}

// connStore pools connState entries: a doubly linked used list, a singly
// linked free list, one mutex. alloc prefers the free list to bound memory
// growth across open/close cycles; nAlloc counts only fresh allocations so
// tests can assert the pool's high-water mark.
//
// release here is purely mechanical (unlink, clear, recycle); hook teardown
// and destroy notifications happen in Runtime.releaseState before the entry
// reaches this store. Double-release is a caller bug the store does not
// defend against.
type connStore struct {
	mu     sync.Mutex
	used   *connState
	free   *connState
	nLive  int
	nAlloc uint64
	nextID uintptr
}

func (s *connStore) alloc(ptr capi.Ptr, handle Handle) *connState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.free
	if st != nil {
		s.free = st.nextFree
		st.nextFree = nil
		brMetrics.statePoolRecycled.Inc()
	} else {
		st = &connState{}
		s.nAlloc++
		brMetrics.statePoolFresh.Inc()
	}
	s.nextID++
	st.ptr = ptr
	st.handle = handle
	st.id = s.nextID
	st.next = s.used
	st.prev = nil
	if s.used != nil {
		s.used.prev = st
	}
	s.used = st
	s.nLive++
	return st
}

// find scans the used list for the entry bound to ptr. Callers holding a
// handle dereference it to its pointer first. A zero ptr never matches:
// staged entries are reachable only through the thread context that staged
// them.
func (s *connStore) find(ptr capi.Ptr) *connState {
	if ptr == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for st := s.used; st != nil; st = st.next {
		if st.ptr == ptr {
			return st
		}
	}
	return nil
}

// byID resolves a dispatch context back to its state. Trampolines use this;
// a stale id (connection already released) resolves to nil.
func (s *connStore) byID(id uintptr) *connState {
	if id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for st := s.used; st != nil; st = st.next {
		if st.id == id {
			return st
		}
	}
	return nil
}

func (s *connStore) release(st *connState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.prev != nil {
		st.prev.next = st.next
	} else {
		s.used = st.next
	}
	if st.next != nil {
		st.next.prev = st.prev
	}
	*st = connState{}
	st.nextFree = s.free
	s.free = st
	s.nLive--
	brMetrics.statePoolReleased.Inc()
}

func (s *connStore) stats() (live int, allocated uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nLive, s.nAlloc
}
