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

import "github.com/kraklabs/sqlbridge/pkg/capi"

// Conn is the host wrapper for one open native connection. It is a
// non-owning view: the native library owns the memory, and Close is the
// single authoritative teardown path. A Conn used after Close reports
// Misuse rather than touching freed native state, because its handle was
// invalidated.
type Conn struct {
	rt *Runtime
	st *connState
	h  Handle
}

// Handle returns the connection's bridge handle.
func (c *Conn) Handle() Handle { return c.h }

// NativePtr returns the wrapped native pointer, zero once closed. This is
// the sanctioned accessor for the wrapper's pointer field.
func (c *Conn) NativePtr() capi.Ptr {
	return c.rt.handles.Unwrap(c.h, KindConnection)
}

// MainName returns the database name the connection was opened with.
func (c *Conn) MainName() string { return c.st.mainName }

// ErrMsg returns the engine's error message for the most recent failure on
// this connection.
func (c *Conn) ErrMsg() string {
	db := c.NativePtr()
	if db == 0 {
		return "connection is closed"
	}
	return c.rt.api.ErrMsg(db)
}

// Interrupt flags any in-flight operation on this connection to abort. It
// deliberately takes no bridge mutex so it stays responsive while another
// thread is mid-call; the pointer read is unsynchronized, an accepted race
// because the interrupt flag itself is atomic at the engine level.
func (c *Conn) Interrupt() {
	if ptr := c.st.ptr; ptr != 0 {
		c.rt.api.Interrupt(ptr)
	}
}

// Close closes the native connection and, on success, tears down every
// hook registration and recycles the connection state. The engine may
// refuse (Busy) while statements are unfinalized; the wrapper stays valid
// then. Closing an already-closed Conn returns Misuse.
func (c *Conn) Close() capi.Code {
	db := c.rt.handles.Unwrap(c.h, KindConnection)
	if db == 0 {
		return capi.Misuse
	}
	rc := c.rt.api.Close(db)
	if rc == capi.OK {
		c.rt.releaseState(c.st)
	}
	return rc
}

// Prepare compiles sql into a statement.
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	db := c.NativePtr()
	if db == 0 {
		return nil, codeError(capi.Misuse, "connection is closed")
	}
	var out capi.OutPtr
	if rc := c.rt.api.Prepare(db, sql, &out); rc != capi.OK {
		return nil, codeError(rc, c.rt.api.ErrMsg(db))
	}
	return &Stmt{
		rt: c.rt,
		c:  c,
		h:  c.rt.handles.Wrap(out.Value, KindStatement),
	}, nil
}

// Hook setters. Each returns the previously installed object of its kind
// (nil if none) along with a result code; on a non-OK code the previous
// registration is untouched. Passing nil clears the hook. Installing the
// object already installed is a no-op that returns it unchanged.

func (c *Conn) SetCommitHook(h CommitHook) (CommitHook, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	var obj any
	if h != nil {
		obj = h
	}
	prev, rc := c.rt.installHook(c.st, HookCommit, obj, func(install bool) capi.Code {
		if install {
			c.rt.api.CommitHook(db, c.rt.commitTrampoline, c.st.id)
		} else {
			c.rt.api.CommitHook(db, nil, 0)
		}
		return capi.OK
	})
	p, _ := prev.(CommitHook)
	return p, rc
}

func (c *Conn) SetRollbackHook(h RollbackHook) (RollbackHook, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	var obj any
	if h != nil {
		obj = h
	}
	prev, rc := c.rt.installHook(c.st, HookRollback, obj, func(install bool) capi.Code {
		if install {
			c.rt.api.RollbackHook(db, c.rt.rollbackTrampoline, c.st.id)
		} else {
			c.rt.api.RollbackHook(db, nil, 0)
		}
		return capi.OK
	})
	p, _ := prev.(RollbackHook)
	return p, rc
}

func (c *Conn) SetUpdateHook(h UpdateHook) (UpdateHook, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	var obj any
	if h != nil {
		obj = h
	}
	prev, rc := c.rt.installHook(c.st, HookUpdate, obj, func(install bool) capi.Code {
		if install {
			c.rt.api.UpdateHook(db, c.rt.updateTrampoline, c.st.id)
		} else {
			c.rt.api.UpdateHook(db, nil, 0)
		}
		return capi.OK
	})
	p, _ := prev.(UpdateHook)
	return p, rc
}

// SetTraceHook installs h for the event families in mask. Returns
// Unsupported when the engine lacks the trace family.
func (c *Conn) SetTraceHook(mask capi.TraceMask, h TraceHook) (TraceHook, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	var obj any
	if h != nil {
		obj = h
	}
	prev, rc := c.rt.installHook(c.st, HookTrace, obj, func(install bool) capi.Code {
		if install {
			return c.rt.api.TraceV2(db, mask, c.rt.traceTrampoline, c.st.id)
		}
		return c.rt.api.TraceV2(db, 0, nil, 0)
	})
	p, _ := prev.(TraceHook)
	return p, rc
}

// SetProgressHandler installs h, invoked roughly every numOps virtual
// machine operations. A no-op table entry means the progress family is
// compiled out; installation then silently has no effect at the engine but
// the bookkeeping still answers "what was installed".
func (c *Conn) SetProgressHandler(numOps int32, h ProgressHandler) (ProgressHandler, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	var obj any
	if h != nil {
		obj = h
	}
	prev, rc := c.rt.installHook(c.st, HookProgress, obj, func(install bool) capi.Code {
		if install {
			c.rt.api.ProgressHandler(db, numOps, c.rt.progressTrampoline, c.st.id)
		} else {
			c.rt.api.ProgressHandler(db, 0, nil, 0)
		}
		return capi.OK
	})
	p, _ := prev.(ProgressHandler)
	return p, rc
}

func (c *Conn) SetBusyHandler(h BusyHandler) (BusyHandler, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	var obj any
	if h != nil {
		obj = h
	}
	prev, rc := c.rt.installHook(c.st, HookBusy, obj, func(install bool) capi.Code {
		if install {
			return c.rt.api.BusyHandler(db, c.rt.busyTrampoline, c.st.id)
		}
		return c.rt.api.BusyHandler(db, nil, 0)
	})
	p, _ := prev.(BusyHandler)
	return p, rc
}

func (c *Conn) SetAuthorizer(h Authorizer) (Authorizer, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	var obj any
	if h != nil {
		obj = h
	}
	prev, rc := c.rt.installHook(c.st, HookAuthorizer, obj, func(install bool) capi.Code {
		if install {
			return c.rt.api.SetAuthorizer(db, c.rt.authorizerTrampoline, c.st.id)
		}
		return c.rt.api.SetAuthorizer(db, nil, 0)
	})
	p, _ := prev.(Authorizer)
	return p, rc
}

func (c *Conn) SetCollationNeededHandler(h CollationNeededHandler) (CollationNeededHandler, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	var obj any
	if h != nil {
		obj = h
	}
	prev, rc := c.rt.installHook(c.st, HookCollationNeeded, obj, func(install bool) capi.Code {
		if install {
			return c.rt.api.CollationNeeded(db, c.st.id, c.rt.collationNeededTrampoline)
		}
		return c.rt.api.CollationNeeded(db, 0, nil)
	})
	p, _ := prev.(CollationNeededHandler)
	return p, rc
}

// CreateCollation registers coll under name, returning the previously
// registered collation object. Unlike the other hook kinds, the engine
// owns collation registration lifetimes: replacing or clearing one (and
// closing the connection) destroy-notifies the outgoing object through the
// engine's destroy callback, not through this call.
func (c *Conn) CreateCollation(name string, coll Collation) (Collation, capi.Code) {
	db := c.NativePtr()
	if db == 0 {
		return nil, capi.Misuse
	}
	rt := c.rt

	c.st.mu.Lock()
	prevAny := c.st.hooks[HookCollation]
	prev, _ := prevAny.(Collation)
	if coll != nil && sameObject(prevAny, coll) && c.st.collName == name {
		c.st.mu.Unlock()
		return prev, capi.OK
	}
	c.st.mu.Unlock()

	if coll == nil {
		rc := rt.api.CreateCollation(db, name, capi.EncUTF8, 0, nil, nil)
		if rc == capi.OK {
			c.st.mu.Lock()
			c.st.hooks[HookCollation] = nil
			c.st.collName = ""
			c.st.mu.Unlock()
		}
		return prev, rc
	}

	tok := rt.cbs.put(&cbReg{obj: coll, name: name})
	rc := rt.api.CreateCollation(db, name, capi.EncUTF8, tok,
		rt.collationCompareTrampoline, rt.collationDestroyTrampoline)
	if rc != capi.OK {
		rt.cbs.remove(tok)
		return prev, rc
	}
	c.st.mu.Lock()
	c.st.hooks[HookCollation] = coll
	c.st.collName = name
	c.st.mu.Unlock()
	brMetrics.hookInstalls.Inc()
	return prev, capi.OK
}

// Stmt wraps one prepared statement. Statement semantics live entirely in
// the engine; the bridge provides the handle pairing and teardown.
type Stmt struct {
	rt *Runtime
	c  *Conn
	h  Handle
}

// Handle returns the statement's bridge handle.
func (s *Stmt) Handle() Handle { return s.h }

// Step advances the statement. Registered trace and progress callbacks on
// the owning connection fire synchronously on the calling thread.
func (s *Stmt) Step() capi.Code {
	p := s.rt.handles.Unwrap(s.h, KindStatement)
	if p == 0 {
		return capi.Misuse
	}
	return s.rt.api.Step(p)
}

// Finalize releases the statement and invalidates its handle. Safe to call
// once; a second call reports Misuse through the dead handle.
func (s *Stmt) Finalize() capi.Code {
	p := s.rt.handles.Unwrap(s.h, KindStatement)
	if p == 0 {
		return capi.Misuse
	}
	rc := s.rt.api.Finalize(p)
	s.rt.handles.Invalidate(s.h)
	return rc
}
