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
	"fmt"
	"sync"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// HandleKind is the closed enumeration of wrapper types the bridge hands to
// host code. Kind resolution is fixed at compile time; there is no runtime
// metadata lookup that could fail.
type HandleKind uint8

const (
	KindConnection HandleKind = iota + 1
	KindStatement
	KindValue
	KindFuncContext
	kindMax
)

func (k HandleKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindStatement:
		return "statement"
	case KindValue:
		return "value"
	case KindFuncContext:
		return "func-context"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Handle is a host-side reference to a native object: a slot index into the
// bridge-owned handle table plus a generation tag. The zero Handle is "not
// bound". A Handle outlives its native object only in the detectably-dead
// sense: once the slot is invalidated, Unwrap returns zero forever.
type Handle uint64

func packHandle(idx int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(idx+1))
}

func (h Handle) slot() (idx int, gen uint32) {
	return int(uint32(h)) - 1, uint32(h >> 32)
}

type handleSlot struct {
	ptr      capi.Ptr
	gen      uint32
	kind     HandleKind
	free     bool
	nextFree int32
}

// handleTable maps native pointers to and from handles. Slots are recycled
// through a free list; each recycle bumps the generation so a reused slot
// never aliases a stale handle. One mutex guards the table; slot contents
// are write-once between Wrap and Invalidate apart from SetPtr during the
// open-staging protocol.
type handleTable struct {
	mu       sync.Mutex
	slots    []handleSlot
	freeHead int32
}

func newHandleTable() handleTable {
	return handleTable{freeHead: -1}
}

// Wrap creates a handle of the given kind for ptr. ptr may be zero: the
// open protocol stages a connection wrapper before the native pointer
// exists and binds it later via SetPtr. An out-of-range kind is a
// programming error with no recovery path and panics.
func (t *handleTable) Wrap(ptr capi.Ptr, kind HandleKind) Handle {
	if kind == 0 || kind >= kindMax {
		panic(fmt.Sprintf("bridge: Wrap with invalid handle kind %d", kind))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var idx int
	if t.freeHead >= 0 {
		idx = int(t.freeHead)
		t.freeHead = t.slots[idx].nextFree
	} else {
		t.slots = append(t.slots, handleSlot{gen: 1})
		idx = len(t.slots) - 1
	}
	s := &t.slots[idx]
	s.ptr = ptr
	s.kind = kind
	s.free = false
	brMetrics.handleWraps.Inc()
	return packHandle(idx, s.gen)
}

// Unwrap returns the native pointer behind h, or zero when h is the zero
// Handle, refers to an invalidated slot, or is otherwise dead. A live
// handle of the wrong kind is a programming error and panics.
func (t *handleTable) Unwrap(h Handle, kind HandleKind) capi.Ptr {
	if h == 0 {
		return 0
	}
	idx, gen := h.slot()
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.slots) {
		return 0
	}
	s := &t.slots[idx]
	if s.free || s.gen != gen {
		return 0
	}
	if s.kind != kind {
		panic(fmt.Sprintf("bridge: handle kind mismatch: have %s, want %s", s.kind, kind))
	}
	return s.ptr
}

// SetPtr binds ptr into an existing wrapper. This is the only sanctioned
// write to a wrapper's pointer field after Wrap.
func (t *handleTable) SetPtr(h Handle, ptr capi.Ptr) {
	idx, gen := h.slot()
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.slots) {
		return
	}
	s := &t.slots[idx]
	if !s.free && s.gen == gen {
		s.ptr = ptr
	}
}

// Invalidate kills h: the slot's generation is bumped and the slot joins
// the free list, so both h and any copy of it unwrap to zero from now on.
// Invalidating an already-dead handle is a no-op.
func (t *handleTable) Invalidate(h Handle) {
	if h == 0 {
		return
	}
	idx, gen := h.slot()
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.slots) {
		return
	}
	s := &t.slots[idx]
	if s.free || s.gen != gen {
		return
	}
	s.ptr = 0
	s.gen++
	s.free = true
	s.nextFree = t.freeHead
	t.freeHead = int32(idx)
	brMetrics.handleInvalidations.Inc()
}

// Live reports whether h still refers to its original slot generation.
func (t *handleTable) Live(h Handle) bool {
	if h == 0 {
		return false
	}
	idx, gen := h.slot()
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.slots) {
		return false
	}
	s := &t.slots[idx]
	return !s.free && s.gen == gen
}
