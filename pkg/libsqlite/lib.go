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

//go:build darwin || linux

package libsqlite

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// sqliteTransient tells the library to copy a text or blob result before
// the registration call returns (SQLITE_TRANSIENT, the all-ones sentinel).
const sqliteTransient = ^uintptr(0)

const encUTF8 = 1

// syms holds the bound C entry points. Pointer-typed C parameters are
// uintptr here; purego marshals string arguments to temporary C strings.
type syms struct {
	openV2    func(name string, out *uintptr, flags int32, vfs uintptr) int32
	close     func(db uintptr) int32
	interrupt func(db uintptr)
	errmsg    func(db uintptr) string

	prepareV2 func(db uintptr, sql string, n int32, outStmt *uintptr, outTail uintptr) int32
	step      func(stmt uintptr) int32
	finalize  func(stmt uintptr) int32

	commitHook      func(db, cb, ctx uintptr) uintptr
	rollbackHook    func(db, cb, ctx uintptr) uintptr
	updateHook      func(db, cb, ctx uintptr) uintptr
	traceV2         func(db uintptr, mask uint32, cb, ctx uintptr) int32
	progressHandler func(db uintptr, n int32, cb, ctx uintptr)
	busyHandler     func(db, cb, ctx uintptr) int32
	setAuthorizer   func(db, cb, ctx uintptr) int32
	collationNeeded func(db, ctx, cb uintptr) int32
	createCollation func(db uintptr, name string, enc int32, ctx, cmp, destroy uintptr) int32

	autoExtension func(entry uintptr) int32

	createFunction func(db uintptr, name string, nArg, enc int32, ctx, xFunc, xStep, xFinal, xDestroy uintptr) int32
	createWindow   func(db uintptr, name string, nArg, enc int32, ctx, xStep, xFinal, xValue, xInverse, xDestroy uintptr) int32

	aggregateContext func(fctx uintptr, n int32) uintptr
	userData         func(fctx uintptr) uintptr

	resultNull       func(fctx uintptr)
	resultInt64      func(fctx uintptr, v int64)
	resultDouble     func(fctx uintptr, v float64)
	resultText       func(fctx uintptr, s string, n int32, destructor uintptr)
	resultBlob       func(fctx uintptr, p unsafe.Pointer, n int32, destructor uintptr)
	resultError      func(fctx uintptr, msg string, n int32)
	resultErrorCode  func(fctx uintptr, code int32)
	resultErrorNoMem func(fctx uintptr)

	valueType   func(v uintptr) int32
	valueInt64  func(v uintptr) int64
	valueDouble func(v uintptr) float64
	valueText   func(v uintptr) string
	valueBlob   func(v uintptr) uintptr
	valueBytes  func(v uintptr) int32

	libversion        func() string
	libversionNumber  func() int32
	compileOptionUsed func(opt string) int32
	compileOptionGet  func(i int32) string
}

// callbacks are the process-facing C function pointers, one per callback
// kind, created once at load time. SQLite hands back the registration
// context (or the function's user data); dispatch looks the Go callback up
// by that context.
type callbacks struct {
	commit, rollback, update         uintptr
	trace, progress, busy, auth      uintptr
	collNeeded, collCmp, collDestroy uintptr
	udfFunc, udfStep, udfInverse     uintptr
	udfFinal, udfValue, udfDestroy   uintptr
	extensionEntry                   uintptr
}

type errState struct {
	rc  capi.Code
	msg string
}

// funcEntry is one UDF registration's Go-side callback set, keyed by its
// dispatch context.
type funcEntry struct {
	xFunc, xStep, xInverse capi.FuncFunc
	xFinal, xValue         capi.FinalFunc
	xDestroy               capi.DestroyFunc
}

type collEntry struct {
	cmp     capi.CompareFunc
	destroy capi.DestroyFunc
}

// Library is a loaded SQLite shared library presented as a capi table.
// Load once per process: each Library pins a fixed set of native callback
// slots that are never released.
type Library struct {
	handle uintptr
	caps   capi.Capability
	s      syms
	cb     callbacks

	// openMu serializes opens so the auto-extension entry point, which
	// receives no user context from the library, can read the opener's
	// token from openTok.
	openMu  sync.Mutex
	openTok capi.Token
	startup capi.StartupFunc

	// errOverride carries host-side errors (SetLastError, startup-hook
	// failures) that the native error slot cannot, keyed by connection.
	// ErrMsg consumes an override on read.
	errOverride sync.Map // capi.Ptr -> errState

	// Per-kind dispatch tables, keyed by registration context. Entries
	// for cleared hooks linger until the context is reused or the prev
	// context comes back from a replacement call; they are unreachable
	// from C either way.
	commitFns     sync.Map // uintptr -> capi.CommitFunc
	rollbackFns   sync.Map // uintptr -> capi.RollbackFunc
	updateFns     sync.Map // uintptr -> capi.UpdateFunc
	traceFns      sync.Map // uintptr -> capi.TraceFunc
	progressFns   sync.Map // uintptr -> capi.ProgressFunc
	busyFns       sync.Map // uintptr -> capi.BusyFunc
	authFns       sync.Map // uintptr -> capi.AuthorizerFunc
	collNeededFns sync.Map // uintptr -> capi.CollationNeededFunc
	collRegs      sync.Map // uintptr -> *collEntry
	funcRegs      sync.Map // uintptr -> *funcEntry

	apiOnce sync.Once
	api     capi.API
}

// DefaultPaths lists the library names tried, in order, when Load is
// called with an empty path.
func DefaultPaths() []string {
	if runtime.GOOS == "darwin" {
		return []string{"libsqlite3.dylib", "/usr/lib/libsqlite3.dylib"}
	}
	return []string{"libsqlite3.so.0", "libsqlite3.so"}
}

// Load opens the SQLite shared library at path, or searches DefaultPaths
// when path is empty, and binds the full entry-point surface. Optional
// families missing from the build are reported through the capability
// flags rather than failing the load.
func Load(path string) (*Library, error) {
	paths := DefaultPaths()
	if path != "" {
		paths = []string{path}
	}
	var handle uintptr
	var loaded string
	var lastErr error
	for _, p := range paths {
		h, err := purego.Dlopen(p, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			handle, loaded = h, p
			break
		}
		lastErr = err
	}
	if handle == 0 {
		return nil, fmt.Errorf("libsqlite: no loadable library in %v: %w", paths, lastErr)
	}
	if _, err := purego.Dlsym(handle, "sqlite3_libversion"); err != nil {
		return nil, fmt.Errorf("libsqlite: %s is not a SQLite library", loaded)
	}

	l := &Library{handle: handle}
	l.bind()
	l.probe()
	l.makeCallbacks()
	return l, nil
}

func (l *Library) bind() {
	h := l.handle
	purego.RegisterLibFunc(&l.s.openV2, h, "sqlite3_open_v2")
	purego.RegisterLibFunc(&l.s.close, h, "sqlite3_close")
	purego.RegisterLibFunc(&l.s.interrupt, h, "sqlite3_interrupt")
	purego.RegisterLibFunc(&l.s.errmsg, h, "sqlite3_errmsg")
	purego.RegisterLibFunc(&l.s.prepareV2, h, "sqlite3_prepare_v2")
	purego.RegisterLibFunc(&l.s.step, h, "sqlite3_step")
	purego.RegisterLibFunc(&l.s.finalize, h, "sqlite3_finalize")
	purego.RegisterLibFunc(&l.s.commitHook, h, "sqlite3_commit_hook")
	purego.RegisterLibFunc(&l.s.rollbackHook, h, "sqlite3_rollback_hook")
	purego.RegisterLibFunc(&l.s.updateHook, h, "sqlite3_update_hook")
	purego.RegisterLibFunc(&l.s.busyHandler, h, "sqlite3_busy_handler")
	purego.RegisterLibFunc(&l.s.collationNeeded, h, "sqlite3_collation_needed")
	purego.RegisterLibFunc(&l.s.createCollation, h, "sqlite3_create_collation_v2")
	purego.RegisterLibFunc(&l.s.autoExtension, h, "sqlite3_auto_extension")
	purego.RegisterLibFunc(&l.s.createFunction, h, "sqlite3_create_function_v2")
	purego.RegisterLibFunc(&l.s.createWindow, h, "sqlite3_create_window_function")
	purego.RegisterLibFunc(&l.s.aggregateContext, h, "sqlite3_aggregate_context")
	purego.RegisterLibFunc(&l.s.userData, h, "sqlite3_user_data")
	purego.RegisterLibFunc(&l.s.resultNull, h, "sqlite3_result_null")
	purego.RegisterLibFunc(&l.s.resultInt64, h, "sqlite3_result_int64")
	purego.RegisterLibFunc(&l.s.resultDouble, h, "sqlite3_result_double")
	purego.RegisterLibFunc(&l.s.resultText, h, "sqlite3_result_text")
	purego.RegisterLibFunc(&l.s.resultBlob, h, "sqlite3_result_blob")
	purego.RegisterLibFunc(&l.s.resultError, h, "sqlite3_result_error")
	purego.RegisterLibFunc(&l.s.resultErrorCode, h, "sqlite3_result_error_code")
	purego.RegisterLibFunc(&l.s.resultErrorNoMem, h, "sqlite3_result_error_nomem")
	purego.RegisterLibFunc(&l.s.valueType, h, "sqlite3_value_type")
	purego.RegisterLibFunc(&l.s.valueInt64, h, "sqlite3_value_int64")
	purego.RegisterLibFunc(&l.s.valueDouble, h, "sqlite3_value_double")
	purego.RegisterLibFunc(&l.s.valueText, h, "sqlite3_value_text")
	purego.RegisterLibFunc(&l.s.valueBlob, h, "sqlite3_value_blob")
	purego.RegisterLibFunc(&l.s.valueBytes, h, "sqlite3_value_bytes")
	purego.RegisterLibFunc(&l.s.libversion, h, "sqlite3_libversion")
	purego.RegisterLibFunc(&l.s.libversionNumber, h, "sqlite3_libversion_number")
	purego.RegisterLibFunc(&l.s.compileOptionUsed, h, "sqlite3_compileoption_used")
	purego.RegisterLibFunc(&l.s.compileOptionGet, h, "sqlite3_compileoption_get")
}

// probe binds optional families and records their presence as capability
// flags.
func (l *Library) probe() {
	opt := func(name string) bool {
		p, err := purego.Dlsym(l.handle, name)
		return err == nil && p != 0
	}
	if opt("sqlite3_trace_v2") {
		purego.RegisterLibFunc(&l.s.traceV2, l.handle, "sqlite3_trace_v2")
		l.caps |= capi.CapTrace
	}
	if opt("sqlite3_progress_handler") {
		purego.RegisterLibFunc(&l.s.progressHandler, l.handle, "sqlite3_progress_handler")
		l.caps |= capi.CapProgress
	}
	if opt("sqlite3_set_authorizer") {
		purego.RegisterLibFunc(&l.s.setAuthorizer, l.handle, "sqlite3_set_authorizer")
		l.caps |= capi.CapAuthorizer
	}
	if opt("sqlite3_preupdate_hook") {
		l.caps |= capi.CapPreupdate
	}
	if opt("sqlite3_column_table_name") {
		l.caps |= capi.CapColumnMetadata
	}
	if opt("sqlite3_normalized_sql") {
		l.caps |= capi.CapNormalizedSQL
	}
	if opt("sqlite3_serialize") {
		l.caps |= capi.CapSerialize
	}
}

// Caps reports the loaded library's optional-family flags.
func (l *Library) Caps() capi.Capability { return l.caps }

// Version reports the library's version string.
func (l *Library) Version() string { return l.s.libversion() }

// API returns the capi table for this library. Stable after first call.
func (l *Library) API() *capi.API {
	l.apiOnce.Do(l.buildAPI)
	return &l.api
}

func (l *Library) buildAPI() {
	l.api = capi.API{
		Caps: l.caps,

		OpenV2: l.openV2,
		Close: func(db capi.Ptr) capi.Code {
			rc := capi.Code(l.s.close(uintptr(db)))
			if rc == capi.OK {
				l.errOverride.Delete(db)
			}
			return rc
		},
		Interrupt: func(db capi.Ptr) { l.s.interrupt(uintptr(db)) },
		ErrMsg: func(db capi.Ptr) string {
			if v, ok := l.errOverride.LoadAndDelete(db); ok {
				return v.(errState).msg
			}
			return l.s.errmsg(uintptr(db))
		},
		SetLastError: func(db capi.Ptr, rc capi.Code, msg string) {
			l.errOverride.Store(db, errState{rc: rc, msg: msg})
		},

		Prepare: func(db capi.Ptr, sql string, out *capi.OutPtr) capi.Code {
			var stmt uintptr
			rc := l.s.prepareV2(uintptr(db), sql, -1, &stmt, 0)
			out.Value = capi.Ptr(stmt)
			return capi.Code(rc)
		},
		Step:     func(p capi.Ptr) capi.Code { return capi.Code(l.s.step(uintptr(p))) },
		Finalize: func(p capi.Ptr) capi.Code { return capi.Code(l.s.finalize(uintptr(p))) },

		CommitHook:      l.setCommitHook,
		RollbackHook:    l.setRollbackHook,
		UpdateHook:      l.setUpdateHook,
		BusyHandler:     l.setBusyHandler,
		CollationNeeded: l.setCollationNeeded,
		CreateCollation: l.createCollation,

		AutoExtension: func(fn capi.StartupFunc) capi.Code {
			l.openMu.Lock()
			defer l.openMu.Unlock()
			l.startup = fn
			return capi.Code(l.s.autoExtension(l.cb.extensionEntry))
		},

		CreateFunction:   l.createFunction,
		AggregateContext: func(fctx capi.Ptr, n int32) capi.Ptr { return capi.Ptr(l.s.aggregateContext(uintptr(fctx), n)) },

		ResultNull:   func(f capi.Ptr) { l.s.resultNull(uintptr(f)) },
		ResultInt64:  func(f capi.Ptr, v int64) { l.s.resultInt64(uintptr(f), v) },
		ResultDouble: func(f capi.Ptr, v float64) { l.s.resultDouble(uintptr(f), v) },
		ResultText:   func(f capi.Ptr, s string) { l.s.resultText(uintptr(f), s, int32(len(s)), sqliteTransient) },
		ResultBlob: func(f capi.Ptr, b []byte) {
			if len(b) == 0 {
				b = []byte{0}
				l.s.resultBlob(uintptr(f), unsafe.Pointer(&b[0]), 0, sqliteTransient)
				return
			}
			l.s.resultBlob(uintptr(f), unsafe.Pointer(&b[0]), int32(len(b)), sqliteTransient)
		},
		ResultError:      func(f capi.Ptr, msg string) { l.s.resultError(uintptr(f), msg, int32(len(msg))) },
		ResultErrorCode:  func(f capi.Ptr, rc capi.Code) { l.s.resultErrorCode(uintptr(f), int32(rc)) },
		ResultErrorNoMem: func(f capi.Ptr) { l.s.resultErrorNoMem(uintptr(f)) },

		ValueType:   func(v capi.Ptr) capi.ValueType { return capi.ValueType(l.s.valueType(uintptr(v))) },
		ValueInt64:  func(v capi.Ptr) int64 { return l.s.valueInt64(uintptr(v)) },
		ValueDouble: func(v capi.Ptr) float64 { return l.s.valueDouble(uintptr(v)) },
		ValueText:   func(v capi.Ptr) string { return l.s.valueText(uintptr(v)) },
		ValueBlob: func(v capi.Ptr) []byte {
			n := l.s.valueBytes(uintptr(v))
			p := l.s.valueBlob(uintptr(v))
			return goBytes(p, n)
		},

		Libversion:        l.s.libversion,
		LibversionNumber:  l.s.libversionNumber,
		CompileOptionUsed: func(opt string) bool { return l.s.compileOptionUsed(opt) != 0 },
		CompileOptionGet:  l.s.compileOptionGet,
	}

	if l.caps.Has(capi.CapTrace) {
		l.api.TraceV2 = l.setTraceV2
	}
	if l.caps.Has(capi.CapProgress) {
		l.api.ProgressHandler = l.setProgressHandler
	}
	if l.caps.Has(capi.CapAuthorizer) {
		l.api.SetAuthorizer = l.setAuthorizerFn
	}
}

func (l *Library) openV2(tok capi.Token, name string, out *capi.OutPtr, flags capi.OpenFlags, vfs string) capi.Code {
	l.openMu.Lock()
	defer l.openMu.Unlock()
	l.openTok = tok

	var vfsPtr uintptr
	var keep []byte
	if vfs != "" {
		keep = append([]byte(vfs), 0)
		vfsPtr = uintptr(unsafe.Pointer(&keep[0]))
	}
	var db uintptr
	rc := l.s.openV2(name, &db, int32(flags), vfsPtr)
	runtime.KeepAlive(keep)
	out.Value = capi.Ptr(db)
	return capi.Code(rc)
}

// Registration wrappers. Each stores the Go callback under its dispatch
// context before handing the fixed C trampoline to the library, and prunes
// the superseded context using the library's returned previous argument
// where the API provides one.

func (l *Library) setCommitHook(db capi.Ptr, fn capi.CommitFunc, ctx uintptr) uintptr {
	var cb, c uintptr
	if fn != nil {
		l.commitFns.Store(ctx, fn)
		cb, c = l.cb.commit, ctx
	}
	prev := l.s.commitHook(uintptr(db), cb, c)
	if prev != 0 && prev != ctx {
		l.commitFns.Delete(prev)
	}
	return prev
}

func (l *Library) setRollbackHook(db capi.Ptr, fn capi.RollbackFunc, ctx uintptr) uintptr {
	var cb, c uintptr
	if fn != nil {
		l.rollbackFns.Store(ctx, fn)
		cb, c = l.cb.rollback, ctx
	}
	prev := l.s.rollbackHook(uintptr(db), cb, c)
	if prev != 0 && prev != ctx {
		l.rollbackFns.Delete(prev)
	}
	return prev
}

func (l *Library) setUpdateHook(db capi.Ptr, fn capi.UpdateFunc, ctx uintptr) uintptr {
	var cb, c uintptr
	if fn != nil {
		l.updateFns.Store(ctx, fn)
		cb, c = l.cb.update, ctx
	}
	prev := l.s.updateHook(uintptr(db), cb, c)
	if prev != 0 && prev != ctx {
		l.updateFns.Delete(prev)
	}
	return prev
}

func (l *Library) setTraceV2(db capi.Ptr, mask capi.TraceMask, fn capi.TraceFunc, ctx uintptr) capi.Code {
	var cb, c uintptr
	var m uint32
	if fn != nil {
		l.traceFns.Store(ctx, fn)
		cb, c, m = l.cb.trace, ctx, uint32(mask)
	}
	return capi.Code(l.s.traceV2(uintptr(db), m, cb, c))
}

func (l *Library) setProgressHandler(db capi.Ptr, numOps int32, fn capi.ProgressFunc, ctx uintptr) {
	var cb, c uintptr
	if fn != nil {
		l.progressFns.Store(ctx, fn)
		cb, c = l.cb.progress, ctx
	} else {
		numOps = 0
	}
	l.s.progressHandler(uintptr(db), numOps, cb, c)
}

func (l *Library) setBusyHandler(db capi.Ptr, fn capi.BusyFunc, ctx uintptr) capi.Code {
	var cb, c uintptr
	if fn != nil {
		l.busyFns.Store(ctx, fn)
		cb, c = l.cb.busy, ctx
	}
	return capi.Code(l.s.busyHandler(uintptr(db), cb, c))
}

func (l *Library) setAuthorizerFn(db capi.Ptr, fn capi.AuthorizerFunc, ctx uintptr) capi.Code {
	var cb, c uintptr
	if fn != nil {
		l.authFns.Store(ctx, fn)
		cb, c = l.cb.auth, ctx
	}
	return capi.Code(l.s.setAuthorizer(uintptr(db), cb, c))
}

func (l *Library) setCollationNeeded(db capi.Ptr, ctx uintptr, fn capi.CollationNeededFunc) capi.Code {
	var cb, c uintptr
	if fn != nil {
		l.collNeededFns.Store(ctx, fn)
		cb, c = l.cb.collNeeded, ctx
	}
	return capi.Code(l.s.collationNeeded(uintptr(db), c, cb))
}

func (l *Library) createCollation(db capi.Ptr, name string, enc capi.TextEncoding, ctx uintptr, cmp capi.CompareFunc, destroy capi.DestroyFunc) capi.Code {
	if cmp == nil {
		return capi.Code(l.s.createCollation(uintptr(db), name, encUTF8, 0, 0, 0))
	}
	l.collRegs.Store(ctx, &collEntry{cmp: cmp, destroy: destroy})
	rc := capi.Code(l.s.createCollation(uintptr(db), name, int32(enc), ctx, l.cb.collCmp, l.cb.collDestroy))
	if rc != capi.OK {
		l.collRegs.Delete(ctx)
	}
	return rc
}

func (l *Library) createFunction(db capi.Ptr, name string, nArg int32, enc capi.TextEncoding, ctx uintptr,
	xFunc, xStep, xInverse capi.FuncFunc, xFinal, xValue capi.FinalFunc, xDestroy capi.DestroyFunc) capi.Code {

	if xFunc == nil && xStep == nil && xFinal == nil {
		// Clearing: register the name with no implementation.
		return capi.Code(l.s.createFunction(uintptr(db), name, nArg, int32(enc), 0, 0, 0, 0, 0))
	}

	l.funcRegs.Store(ctx, &funcEntry{
		xFunc: xFunc, xStep: xStep, xInverse: xInverse,
		xFinal: xFinal, xValue: xValue, xDestroy: xDestroy,
	})

	var rc capi.Code
	if xValue != nil {
		rc = capi.Code(l.s.createWindow(uintptr(db), name, nArg, int32(enc), ctx,
			l.cb.udfStep, l.cb.udfFinal, l.cb.udfValue, l.cb.udfInverse, l.cb.udfDestroy))
	} else if xFunc != nil {
		rc = capi.Code(l.s.createFunction(uintptr(db), name, nArg, int32(enc), ctx,
			l.cb.udfFunc, 0, 0, l.cb.udfDestroy))
	} else {
		rc = capi.Code(l.s.createFunction(uintptr(db), name, nArg, int32(enc), ctx,
			0, l.cb.udfStep, l.cb.udfFinal, l.cb.udfDestroy))
	}
	if rc != capi.OK {
		l.funcRegs.Delete(ctx)
	}
	return rc
}

func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}

func goBytes(p uintptr, n int32) []byte {
	if p == 0 || n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
	return out
}
