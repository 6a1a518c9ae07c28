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
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// makeCallbacks creates the process-wide C trampolines. purego callback
// slots are a finite resource and are never freed, so this runs exactly
// once per Library and every registration of a given kind shares one slot.
func (l *Library) makeCallbacks() {
	l.cb.commit = purego.NewCallback(func(ctx uintptr) uintptr {
		if fn, ok := l.commitFns.Load(ctx); ok {
			return uintptr(fn.(capi.CommitFunc)(ctx))
		}
		return 0
	})
	l.cb.rollback = purego.NewCallback(func(ctx uintptr) uintptr {
		if fn, ok := l.rollbackFns.Load(ctx); ok {
			fn.(capi.RollbackFunc)(ctx)
		}
		return 0
	})
	l.cb.update = purego.NewCallback(func(ctx, op, dbName, tblName uintptr, rowid int64) uintptr {
		if fn, ok := l.updateFns.Load(ctx); ok {
			fn.(capi.UpdateFunc)(ctx, capi.UpdateOp(op), goString(dbName), goString(tblName), rowid)
		}
		return 0
	})
	l.cb.trace = purego.NewCallback(func(ev, ctx, p, x uintptr) uintptr {
		fn, ok := l.traceFns.Load(ctx)
		if !ok {
			return 0
		}
		var text string
		var nanos int64
		switch capi.TraceMask(ev) {
		case capi.TraceStmt:
			text = goString(x)
		case capi.TraceProfile:
			if x != 0 {
				nanos = *(*int64)(unsafe.Pointer(x))
			}
		}
		return uintptr(fn.(capi.TraceFunc)(ctx, capi.TraceMask(ev), capi.Ptr(p), text, nanos))
	})
	l.cb.progress = purego.NewCallback(func(ctx uintptr) uintptr {
		if fn, ok := l.progressFns.Load(ctx); ok {
			return uintptr(fn.(capi.ProgressFunc)(ctx))
		}
		return 0
	})
	l.cb.busy = purego.NewCallback(func(ctx uintptr, count int32) uintptr {
		if fn, ok := l.busyFns.Load(ctx); ok {
			return uintptr(fn.(capi.BusyFunc)(ctx, count))
		}
		return 0
	})
	l.cb.auth = purego.NewCallback(func(ctx, action, arg1, arg2, dbName, trigger uintptr) uintptr {
		if fn, ok := l.authFns.Load(ctx); ok {
			res := fn.(capi.AuthorizerFunc)(ctx, capi.AuthAction(action),
				goString(arg1), goString(arg2), goString(dbName), goString(trigger))
			return uintptr(res)
		}
		return uintptr(capi.AuthAllow)
	})
	l.cb.collNeeded = purego.NewCallback(func(ctx, db uintptr, enc int32, name uintptr) uintptr {
		if fn, ok := l.collNeededFns.Load(ctx); ok {
			fn.(capi.CollationNeededFunc)(ctx, capi.Ptr(db), capi.TextEncoding(enc), goString(name))
		}
		return 0
	})
	l.cb.collCmp = purego.NewCallback(func(ctx uintptr, nA int32, pA uintptr, nB int32, pB uintptr) uintptr {
		if reg, ok := l.collRegs.Load(ctx); ok {
			return uintptr(int(reg.(*collEntry).cmp(ctx, goBytes(pA, nA), goBytes(pB, nB))))
		}
		return 0
	})
	l.cb.collDestroy = purego.NewCallback(func(ctx uintptr) uintptr {
		if reg, ok := l.collRegs.LoadAndDelete(ctx); ok {
			if d := reg.(*collEntry).destroy; d != nil {
				d(ctx)
			}
		}
		return 0
	})

	l.cb.udfFunc = l.udfCallback(func(e *funcEntry) capi.FuncFunc { return e.xFunc })
	l.cb.udfStep = l.udfCallback(func(e *funcEntry) capi.FuncFunc { return e.xStep })
	l.cb.udfInverse = l.udfCallback(func(e *funcEntry) capi.FuncFunc { return e.xInverse })
	l.cb.udfFinal = l.udfFinalCallback(func(e *funcEntry) capi.FinalFunc { return e.xFinal })
	l.cb.udfValue = l.udfFinalCallback(func(e *funcEntry) capi.FinalFunc { return e.xValue })
	l.cb.udfDestroy = purego.NewCallback(func(ctx uintptr) uintptr {
		if reg, ok := l.funcRegs.LoadAndDelete(ctx); ok {
			if d := reg.(*funcEntry).xDestroy; d != nil {
				d(ctx)
			}
		}
		return 0
	})

	// The extension entry point gets no user context from the library;
	// the opener's token is stashed under openMu, held for the whole
	// open call that runs us.
	l.cb.extensionEntry = purego.NewCallback(func(db, pzErrMsg, pThunk uintptr) uintptr {
		fn := l.startup
		if fn == nil {
			return 0
		}
		rc, msg := fn(l.openTok, capi.Ptr(db))
		if rc != capi.OK {
			l.errOverride.Store(capi.Ptr(db), errState{rc: rc, msg: msg})
			return uintptr(rc)
		}
		return 0
	})
}

// udfCallback builds one value-array trampoline (xFunc, xStep or xInverse).
// The registration context comes back through sqlite3_user_data.
func (l *Library) udfCallback(pick func(*funcEntry) capi.FuncFunc) uintptr {
	return purego.NewCallback(func(fctx uintptr, argc int32, argv uintptr) uintptr {
		ctx := l.s.userData(fctx)
		reg, ok := l.funcRegs.Load(ctx)
		if !ok {
			return 0
		}
		fn := pick(reg.(*funcEntry))
		if fn == nil {
			return 0
		}
		var args []capi.Ptr
		if argc > 0 && argv != 0 {
			args = make([]capi.Ptr, argc)
			for i, p := range unsafe.Slice((*uintptr)(unsafe.Pointer(argv)), argc) {
				args[i] = capi.Ptr(p)
			}
		}
		fn(ctx, capi.Ptr(fctx), args)
		return 0
	})
}

func (l *Library) udfFinalCallback(pick func(*funcEntry) capi.FinalFunc) uintptr {
	return purego.NewCallback(func(fctx uintptr) uintptr {
		ctx := l.s.userData(fctx)
		reg, ok := l.funcRegs.Load(ctx)
		if !ok {
			return 0
		}
		if fn := pick(reg.(*funcEntry)); fn != nil {
			fn(ctx, capi.Ptr(fctx))
		}
		return 0
	})
}
