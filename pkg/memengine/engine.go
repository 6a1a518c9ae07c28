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

package memengine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// OpenFailPrefix marks a database name whose open is refused before a
// connection object exists (out pointer stays zero).
const OpenFailPrefix = "fail:"

// Version reported through Libversion.
const Version = "3.46.0-mem"

type hookSlot[F any] struct {
	fn  F
	ctx uintptr
}

type collReg struct {
	ctx     uintptr
	cmp     capi.CompareFunc
	destroy capi.DestroyFunc
}

type funcReg struct {
	ctx      uintptr
	nArg     int32
	xFunc    capi.FuncFunc
	xStep    capi.FuncFunc
	xInverse capi.FuncFunc
	xFinal   capi.FinalFunc
	xValue   capi.FinalFunc
	xDestroy capi.DestroyFunc
}

type conn struct {
	ptr         capi.Ptr
	name        string
	lastCode    capi.Code
	lastMsg     string
	nStmts      int
	interrupted bool

	commit     hookSlot[capi.CommitFunc]
	rollback   hookSlot[capi.RollbackFunc]
	update     hookSlot[capi.UpdateFunc]
	busy       hookSlot[capi.BusyFunc]
	auth       hookSlot[capi.AuthorizerFunc]
	collNeeded hookSlot[capi.CollationNeededFunc]

	trace     hookSlot[capi.TraceFunc]
	traceMask capi.TraceMask
	progress  hookSlot[capi.ProgressFunc]
	progressN int32

	collations map[string]collReg
	funcs      map[string]funcReg

	// busyUnlockAfter is how many handler retries free a simulated lock.
	busyUnlockAfter int32
}

type stmt struct {
	owner    *conn
	sql      string
	rowsLeft int
	busyWait bool
	stepped  bool
	steps    int
}

// funcCtx is one UDF call context. The engine reuses a single context per
// invocation group; the aggregate slot is allocated lazily on first demand.
type funcCtx struct {
	owner   *conn
	aggSlot capi.Ptr
	// Result channel: exactly one of these is meaningful after a call.
	result  any
	errMsg  string
	errCode capi.Code
	hasErr  bool
}

// Engine implements the capi function table in process. All methods are
// safe for concurrent use; callbacks are invoked with no engine lock held.
type Engine struct {
	mu      sync.Mutex
	nextPtr uintptr
	conns   map[capi.Ptr]*conn
	stmts   map[capi.Ptr]*stmt
	fctxs   map[capi.Ptr]*funcCtx
	values  map[capi.Ptr]cell
	startup capi.StartupFunc

	apiOnce sync.Once
	api     capi.API
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		nextPtr: 0x1000,
		conns:   map[capi.Ptr]*conn{},
		stmts:   map[capi.Ptr]*stmt{},
		fctxs:   map[capi.Ptr]*funcCtx{},
		values:  map[capi.Ptr]cell{},
	}
}

func (e *Engine) alloc() capi.Ptr {
	e.nextPtr += 0x10
	return capi.Ptr(e.nextPtr)
}

func (e *Engine) conn(db capi.Ptr) *conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[db]
}

// API returns the engine's function table. The table is built once; the
// returned pointer is stable.
func (e *Engine) API() *capi.API {
	e.apiOnce.Do(e.buildAPI)
	return &e.api
}

func (e *Engine) buildAPI() {
	e.api = capi.API{
		Caps: capi.CapTrace | capi.CapProgress | capi.CapAuthorizer,

		OpenV2:       e.openV2,
		Close:        e.close,
		Interrupt:    e.interrupt,
		ErrMsg:       e.errMsg,
		SetLastError: e.setLastError,

		Prepare:  e.prepare,
		Step:     e.step,
		Finalize: e.finalize,

		CommitHook:      e.commitHook,
		RollbackHook:    e.rollbackHook,
		UpdateHook:      e.updateHook,
		TraceV2:         e.traceV2,
		ProgressHandler: e.progressHandler,
		BusyHandler:     e.busyHandler,
		SetAuthorizer:   e.setAuthorizer,
		CollationNeeded: e.collationNeeded,
		CreateCollation: e.createCollation,

		AutoExtension: e.autoExtension,

		CreateFunction:   e.createFunction,
		AggregateContext: e.aggregateContext,

		ResultNull:       func(f capi.Ptr) { e.setResult(f, nil) },
		ResultInt64:      func(f capi.Ptr, v int64) { e.setResult(f, v) },
		ResultDouble:     func(f capi.Ptr, v float64) { e.setResult(f, v) },
		ResultText:       func(f capi.Ptr, s string) { e.setResult(f, s) },
		ResultBlob:       func(f capi.Ptr, b []byte) { e.setResult(f, b) },
		ResultError:      e.resultError,
		ResultErrorCode:  e.resultErrorCode,
		ResultErrorNoMem: func(f capi.Ptr) { e.resultErrorCode(f, capi.NoMem) },

		ValueType:   e.valueType,
		ValueInt64:  e.valueInt64,
		ValueDouble: e.valueDouble,
		ValueText:   e.valueText,
		ValueBlob:   e.valueBlob,

		Libversion:       func() string { return Version },
		LibversionNumber: func() int32 { return 3046000 },
		CompileOptionUsed: func(opt string) bool {
			return opt == "ENABLE_MEMENGINE"
		},
		CompileOptionGet: func(i int32) string {
			if i == 0 {
				return "ENABLE_MEMENGINE"
			}
			return ""
		},
	}
}

func (e *Engine) openV2(tok capi.Token, name string, out *capi.OutPtr, flags capi.OpenFlags, vfs string) capi.Code {
	if strings.HasPrefix(name, OpenFailPrefix) {
		out.Value = 0
		return capi.Error
	}
	e.mu.Lock()
	ptr := e.alloc()
	c := &conn{
		ptr:             ptr,
		name:            name,
		collations:      map[string]collReg{},
		funcs:           map[string]funcReg{},
		busyUnlockAfter: 3,
	}
	e.conns[ptr] = c
	startup := e.startup
	e.mu.Unlock()

	out.Value = ptr
	if startup != nil {
		if rc, msg := startup(tok, ptr); rc != capi.OK {
			// The failed connection stays allocated; the caller is
			// expected to read the message and close it.
			c.lastCode, c.lastMsg = rc, msg
			return rc
		}
	}
	return capi.OK
}

func (e *Engine) close(db capi.Ptr) capi.Code {
	e.mu.Lock()
	c := e.conns[db]
	if c == nil {
		e.mu.Unlock()
		return capi.Misuse
	}
	if c.nStmts > 0 {
		e.mu.Unlock()
		c.lastCode, c.lastMsg = capi.Busy, "unable to close due to unfinalized statements"
		return capi.Busy
	}
	delete(e.conns, db)
	colls := c.collations
	funcs := c.funcs
	trace := c.trace
	mask := c.traceMask
	e.mu.Unlock()

	if trace.fn != nil && mask&capi.TraceClose != 0 {
		trace.fn(trace.ctx, capi.TraceClose, db, "", 0)
	}
	for _, reg := range colls {
		if reg.destroy != nil {
			reg.destroy(reg.ctx)
		}
	}
	for _, reg := range funcs {
		if reg.xDestroy != nil {
			reg.xDestroy(reg.ctx)
		}
	}
	return capi.OK
}

func (e *Engine) interrupt(db capi.Ptr) {
	e.mu.Lock()
	if c := e.conns[db]; c != nil {
		c.interrupted = true
	}
	e.mu.Unlock()
}

func (e *Engine) errMsg(db capi.Ptr) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.conns[db]; c != nil {
		return c.lastMsg
	}
	return "invalid database handle"
}

func (e *Engine) setLastError(db capi.Ptr, rc capi.Code, msg string) {
	e.mu.Lock()
	if c := e.conns[db]; c != nil {
		c.lastCode, c.lastMsg = rc, msg
	}
	e.mu.Unlock()
}

// LastError returns the connection's stored error state.
func (e *Engine) LastError(db capi.Ptr) (capi.Code, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.conns[db]; c != nil {
		return c.lastCode, c.lastMsg
	}
	return capi.Misuse, "invalid database handle"
}

// OpenConns reports how many connections are live.
func (e *Engine) OpenConns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Statement command language: "rows N" yields N Row codes then Done;
// "busy" blocks on a simulated lock until the busy handler gives up or
// has retried busyUnlockAfter times; anything else is Done immediately.
func (e *Engine) prepare(db capi.Ptr, sql string, out *capi.OutPtr) capi.Code {
	e.mu.Lock()
	c := e.conns[db]
	if c == nil {
		e.mu.Unlock()
		return capi.Misuse
	}
	auth := c.auth
	e.mu.Unlock()

	if auth.fn != nil {
		res := auth.fn(auth.ctx, capi.AuthActionSelect, sql, "", "main", "")
		if res == capi.AuthDeny {
			e.setLastError(db, capi.Auth, "not authorized")
			return capi.Auth
		}
	}

	s := &stmt{owner: c, sql: sql}
	switch {
	case strings.HasPrefix(sql, "rows "):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(sql, "rows ")))
		if err != nil || n < 0 {
			e.setLastError(db, capi.Error, fmt.Sprintf("cannot parse %q", sql))
			return capi.Error
		}
		s.rowsLeft = n
	case sql == "busy":
		s.busyWait = true
	}

	e.mu.Lock()
	ptr := e.alloc()
	e.stmts[ptr] = s
	c.nStmts++
	e.mu.Unlock()
	out.Value = ptr
	return capi.OK
}

func (e *Engine) step(p capi.Ptr) capi.Code {
	e.mu.Lock()
	s := e.stmts[p]
	if s == nil {
		e.mu.Unlock()
		return capi.Misuse
	}
	c := s.owner
	interrupted := c.interrupted
	c.interrupted = false
	trace := c.trace
	mask := c.traceMask
	progress := c.progress
	busy := c.busy
	unlockAfter := c.busyUnlockAfter
	first := !s.stepped
	s.stepped = true
	s.steps++
	e.mu.Unlock()

	if interrupted {
		e.setLastError(c.ptr, capi.Interrupt, "interrupted")
		return capi.Interrupt
	}
	if first && trace.fn != nil && mask&capi.TraceStmt != 0 {
		trace.fn(trace.ctx, capi.TraceStmt, p, s.sql, 0)
	}
	if progress.fn != nil {
		if progress.fn(progress.ctx) != 0 {
			e.setLastError(c.ptr, capi.Interrupt, "interrupted")
			return capi.Interrupt
		}
	}
	if s.busyWait {
		if busy.fn == nil {
			e.setLastError(c.ptr, capi.Busy, "database is locked")
			return capi.Busy
		}
		var count int32
		for ; count < unlockAfter; count++ {
			if busy.fn(busy.ctx, count) == 0 {
				e.setLastError(c.ptr, capi.Busy, "database is locked")
				return capi.Busy
			}
		}
		e.mu.Lock()
		s.busyWait = false
		e.mu.Unlock()
	}

	e.mu.Lock()
	done := s.rowsLeft == 0
	if !done {
		s.rowsLeft--
	}
	e.mu.Unlock()

	if !done {
		if trace.fn != nil && mask&capi.TraceRow != 0 {
			trace.fn(trace.ctx, capi.TraceRow, p, "", 0)
		}
		return capi.Row
	}
	if trace.fn != nil && mask&capi.TraceProfile != 0 {
		trace.fn(trace.ctx, capi.TraceProfile, p, s.sql, int64(s.steps))
	}
	return capi.Done
}

func (e *Engine) finalize(p capi.Ptr) capi.Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stmts[p]
	if s == nil {
		return capi.Misuse
	}
	delete(e.stmts, p)
	s.owner.nStmts--
	return capi.OK
}

func (e *Engine) commitHook(db capi.Ptr, fn capi.CommitFunc, ctx uintptr) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[db]
	if c == nil {
		return 0
	}
	prev := c.commit.ctx
	c.commit = hookSlot[capi.CommitFunc]{fn: fn, ctx: ctx}
	return prev
}

func (e *Engine) rollbackHook(db capi.Ptr, fn capi.RollbackFunc, ctx uintptr) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[db]
	if c == nil {
		return 0
	}
	prev := c.rollback.ctx
	c.rollback = hookSlot[capi.RollbackFunc]{fn: fn, ctx: ctx}
	return prev
}

func (e *Engine) updateHook(db capi.Ptr, fn capi.UpdateFunc, ctx uintptr) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[db]
	if c == nil {
		return 0
	}
	prev := c.update.ctx
	c.update = hookSlot[capi.UpdateFunc]{fn: fn, ctx: ctx}
	return prev
}

func (e *Engine) traceV2(db capi.Ptr, mask capi.TraceMask, fn capi.TraceFunc, ctx uintptr) capi.Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[db]
	if c == nil {
		return capi.Misuse
	}
	c.trace = hookSlot[capi.TraceFunc]{fn: fn, ctx: ctx}
	c.traceMask = mask
	return capi.OK
}

func (e *Engine) progressHandler(db capi.Ptr, numOps int32, fn capi.ProgressFunc, ctx uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[db]
	if c == nil {
		return
	}
	c.progress = hookSlot[capi.ProgressFunc]{fn: fn, ctx: ctx}
	c.progressN = numOps
}

func (e *Engine) busyHandler(db capi.Ptr, fn capi.BusyFunc, ctx uintptr) capi.Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[db]
	if c == nil {
		return capi.Misuse
	}
	c.busy = hookSlot[capi.BusyFunc]{fn: fn, ctx: ctx}
	return capi.OK
}

func (e *Engine) setAuthorizer(db capi.Ptr, fn capi.AuthorizerFunc, ctx uintptr) capi.Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[db]
	if c == nil {
		return capi.Misuse
	}
	c.auth = hookSlot[capi.AuthorizerFunc]{fn: fn, ctx: ctx}
	return capi.OK
}

func (e *Engine) collationNeeded(db capi.Ptr, ctx uintptr, fn capi.CollationNeededFunc) capi.Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[db]
	if c == nil {
		return capi.Misuse
	}
	c.collNeeded = hookSlot[capi.CollationNeededFunc]{fn: fn, ctx: ctx}
	return capi.OK
}

func (e *Engine) createCollation(db capi.Ptr, name string, enc capi.TextEncoding, ctx uintptr, cmp capi.CompareFunc, destroy capi.DestroyFunc) capi.Code {
	if enc != capi.EncUTF8 {
		return capi.Misuse
	}
	e.mu.Lock()
	c := e.conns[db]
	if c == nil {
		e.mu.Unlock()
		return capi.Misuse
	}
	old, had := c.collations[name]
	if cmp == nil {
		delete(c.collations, name)
	} else {
		c.collations[name] = collReg{ctx: ctx, cmp: cmp, destroy: destroy}
	}
	e.mu.Unlock()

	if had && old.destroy != nil {
		old.destroy(old.ctx)
	}
	return capi.OK
}

func (e *Engine) autoExtension(fn capi.StartupFunc) capi.Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startup = fn
	return capi.OK
}

func (e *Engine) createFunction(db capi.Ptr, name string, nArg int32, enc capi.TextEncoding, ctx uintptr,
	xFunc, xStep, xInverse capi.FuncFunc, xFinal, xValue capi.FinalFunc, xDestroy capi.DestroyFunc) capi.Code {
	if enc != capi.EncUTF8 {
		return capi.Misuse
	}
	e.mu.Lock()
	c := e.conns[db]
	if c == nil {
		e.mu.Unlock()
		return capi.Misuse
	}
	key := strings.ToLower(name)
	old, had := c.funcs[key]
	if xFunc == nil && xStep == nil && xFinal == nil {
		delete(c.funcs, key)
	} else {
		c.funcs[key] = funcReg{
			ctx: ctx, nArg: nArg,
			xFunc: xFunc, xStep: xStep, xInverse: xInverse,
			xFinal: xFinal, xValue: xValue, xDestroy: xDestroy,
		}
	}
	e.mu.Unlock()

	if had && old.xDestroy != nil {
		old.xDestroy(old.ctx)
	}
	return capi.OK
}

func (e *Engine) aggregateContext(fctx capi.Ptr, n int32) capi.Ptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc := e.fctxs[fctx]
	if fc == nil {
		return 0
	}
	if fc.aggSlot == 0 && n > 0 {
		fc.aggSlot = e.alloc()
	}
	return fc.aggSlot
}

func (e *Engine) setResult(fctx capi.Ptr, v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fc := e.fctxs[fctx]; fc != nil {
		fc.result = v
		fc.hasErr = false
	}
}

func (e *Engine) resultError(fctx capi.Ptr, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fc := e.fctxs[fctx]; fc != nil {
		fc.hasErr = true
		fc.errCode = capi.Error
		fc.errMsg = msg
	}
}

func (e *Engine) resultErrorCode(fctx capi.Ptr, rc capi.Code) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fc := e.fctxs[fctx]; fc != nil {
		fc.hasErr = true
		fc.errCode = rc
		fc.errMsg = rc.String()
	}
}
