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
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// Runtime is the singly-instantiated registry structure holding all bridge
// state for one engine: the handle table, the thread-context cache, the
// connection-state pool, the auto-extension list, and the callback token
// table. There are no ambient globals; everything reachable from a Runtime
// is owned by it.
//
// Locking discipline: each of the contained structures has its own mutex
// with non-overlapping critical sections, and no code path holds two of
// them at once. No host callback ever runs under any of them.
type Runtime struct {
	api *capi.API
	log *slog.Logger

	handles handleTable
	envs    threadCache
	states  connStore
	autoExt autoExtList
	cbs     cbTable
	agg     aggStore
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithLogger sets the logger used for suppressed-panic warnings and
// auto-extension diagnostics. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.log = l
		}
	}
}

// New builds a Runtime around the given engine table. The table is
// validated once here; entry points for absent capabilities are stubbed to
// return Unsupported so later calls never nil-check.
func New(api *capi.API, opts ...Option) (*Runtime, error) {
	if api == nil {
		return nil, fmt.Errorf("bridge: nil engine table")
	}
	if err := api.Validate(); err != nil {
		return nil, err
	}
	api.FillUnsupported()
	brMetrics.init()
	rt := &Runtime{
		api:     api,
		log:     slog.Default(),
		handles: newHandleTable(),
	}
	rt.cbs.regs = make(map[uintptr]*cbReg)
	rt.agg.slots = make(map[capi.Ptr]any)
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

// API returns the engine table the runtime was built around.
func (rt *Runtime) API() *capi.API { return rt.api }

// Caps reports the engine's capability flags.
func (rt *Runtime) Caps() capi.Capability { return rt.api.Caps }

var tokenSeq atomic.Uint64

// NewToken allocates a fresh caller token. Each concurrently calling
// thread of execution needs its own; reusing one token from two threads at
// once violates the thread-context design invariant.
func NewToken() capi.Token {
	return capi.Token(tokenSeq.Add(1))
}

// Uncache drops the thread context cached for tok, reporting whether one
// existed. Long-lived callers that never uncache keep their entry for the
// life of the runtime; that is a documented leak, not a fatal one.
func (rt *Runtime) Uncache(tok capi.Token) bool {
	return rt.envs.uncache(tok)
}

// PoolStats reports the connection-state pool's live count and the total
// number of fresh (non-recycled) allocations ever made. Allocated is the
// pool's high-water mark: it must stay bounded across repeated open/close
// cycles.
type PoolStats struct {
	Live      int
	Allocated uint64
}

func (rt *Runtime) PoolStats() PoolStats {
	live, allocated := rt.states.stats()
	return PoolStats{Live: live, Allocated: allocated}
}

// Error is a bridge-level failure carrying the native result code and, when
// available, the engine's error message.
type Error struct {
	Code capi.Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("sqlbridge: %s", e.Code)
	}
	return fmt.Sprintf("sqlbridge: %s: %s", e.Code, e.Msg)
}

func codeError(rc capi.Code, msg string) error {
	return &Error{Code: rc, Msg: msg}
}

// bind completes the native-pointer-to-handle binding for a staged
// connection state. Subsequent code must tolerate the binding having
// already happened (an auto-extension may have completed it early).
func (rt *Runtime) bind(st *connState, ptr capi.Ptr) {
	st.ptr = ptr
	rt.handles.SetPtr(st.handle, ptr)
}

// Open opens name read-write, creating it if needed.
func (rt *Runtime) Open(tok capi.Token, name string) (*Conn, error) {
	return rt.OpenV2(tok, name, capi.OpenReadWrite|capi.OpenCreate, "")
}

// OpenV2 opens a connection, coordinating the auto-extension staging
// protocol: the host wrapper and connection state exist before the native
// open call, parked in the caller's thread context, so auto-extensions
// running inside that call can bind and use the connection early.
func (rt *Runtime) OpenV2(tok capi.Token, name string, flags capi.OpenFlags, vfs string) (*Conn, error) {
	tc := rt.envs.current(tok)
	h := rt.handles.Wrap(0, KindConnection)
	st := rt.states.alloc(0, h)
	st.mainName = name
	tc.opening = st

	var out capi.OutPtr
	rc := rt.api.OpenV2(tok, name, &out, flags, vfs)
	tc.opening = nil

	if out.Value == 0 {
		// Open failed before producing a connection; unwind the staging.
		rt.handles.Invalidate(h)
		rt.states.release(st)
		if rc == capi.OK {
			rc = capi.Error
		}
		return nil, codeError(rc, "open returned no connection")
	}
	if st.ptr == 0 {
		// No auto-extension completed the binding; do it now.
		rt.bind(st, out.Value)
	}
	if rc != capi.OK {
		msg := rt.api.ErrMsg(out.Value)
		rt.releaseState(st)
		rt.api.Close(out.Value)
		return nil, codeError(rc, msg)
	}
	return &Conn{rt: rt, st: st, h: h}, nil
}

// releaseState tears down every hook registration held by st, runs the
// destroy notifications owed (busy handler, and any collation the engine
// has not already notified), invalidates the connection handle, and
// recycles the state. Callers must not release the same state twice.
func (rt *Runtime) releaseState(st *connState) {
	st.mu.Lock()
	var busy, coll any
	for k := HookKind(0); k < numHookKinds; k++ {
		obj := st.hooks[k]
		st.hooks[k] = nil
		switch k {
		case HookBusy:
			busy = obj
		case HookCollation:
			coll = obj
		}
	}
	st.collName = ""
	st.mu.Unlock()

	rt.notifyDestroy(busy, "busy handler")
	// Collation teardown is normally engine-driven at close; only notify
	// here if the token is still outstanding.
	if coll != nil {
		if tok := rt.cbs.findObj(coll); tok != 0 {
			rt.cbs.remove(tok)
			rt.notifyDestroy(coll, "collation")
		}
	}

	rt.handles.Invalidate(st.handle)
	rt.states.release(st)
}

// cbReg is one host callback registration addressed by an opaque token:
// UDFs and collations, whose native lifetimes outlive the registering call
// and end with an engine-driven destroy notification.
type cbReg struct {
	obj  any
	name string
	role udfRole
}

// cbTable hands out dispatch tokens for cbRegs. A leaf mutex: never held
// together with any other bridge lock, and nothing is invoked under it.
type cbTable struct {
	mu   sync.Mutex
	next uintptr
	regs map[uintptr]*cbReg
}

func (t *cbTable) put(reg *cbReg) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.regs[t.next] = reg
	return t.next
}

func (t *cbTable) get(tok uintptr) *cbReg {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs[tok]
}

func (t *cbTable) remove(tok uintptr) *cbReg {
	t.mu.Lock()
	defer t.mu.Unlock()
	reg := t.regs[tok]
	delete(t.regs, tok)
	return reg
}

func (t *cbTable) findObj(obj any) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tok, reg := range t.regs {
		if sameObject(reg.obj, obj) {
			return tok
		}
	}
	return 0
}
