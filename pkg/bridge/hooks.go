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
	"reflect"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// HookKind identifies one native event family a host callback can be
// installed for. Each kind's registration is independent state on the
// connection, so there is no cross-kind ordering to worry about.
type HookKind uint8

const (
	HookBusy HookKind = iota
	HookCollation
	HookCollationNeeded
	HookCommit
	HookProgress
	HookRollback
	HookTrace
	HookUpdate
	HookAuthorizer
	numHookKinds
)

func (k HookKind) String() string {
	switch k {
	case HookBusy:
		return "busy"
	case HookCollation:
		return "collation"
	case HookCollationNeeded:
		return "collation-needed"
	case HookCommit:
		return "commit"
	case HookProgress:
		return "progress"
	case HookRollback:
		return "rollback"
	case HookTrace:
		return "trace"
	case HookUpdate:
		return "update"
	case HookAuthorizer:
		return "authorizer"
	default:
		return fmt.Sprintf("hook(%d)", uint8(k))
	}
}

// destroyNotified reports whether clearing this kind (or tearing it down at
// connection close) owes the host object a destroy notification. Only
// collations and busy handlers get one; for every other kind the previous
// object is simply handed back to the caller.
func (k HookKind) destroyNotified() bool {
	return k == HookBusy || k == HookCollation
}

// Host callback contracts, one per hook kind. Objects implementing a
// contract are installed via the corresponding Conn setter. Any of them may
// additionally implement Destroyer.
type (
	// CommitHook fires before a transaction commits. Returning true
	// vetoes the commit, converting it into a rollback.
	CommitHook interface {
		OnCommit() bool
	}

	// RollbackHook fires after a transaction rolls back.
	RollbackHook interface {
		OnRollback()
	}

	// UpdateHook fires after a row changes.
	UpdateHook interface {
		OnUpdate(op capi.UpdateOp, db, table string, rowid int64)
	}

	// TraceHook receives the trace events selected at installation.
	// target is a statement handle, or the connection handle for
	// TraceClose. The handle is only valid for the duration of the call.
	TraceHook interface {
		OnTrace(ev capi.TraceMask, target Handle, detailText string, detailInt int64)
	}

	// ProgressHandler fires periodically during long-running native
	// operations. Returning true interrupts the operation.
	ProgressHandler interface {
		OnProgress() bool
	}

	// BusyHandler fires when a lock cannot be obtained. Returning true
	// asks the engine to retry.
	BusyHandler interface {
		OnBusy(count int32) bool
	}

	// Authorizer approves operations during statement preparation.
	Authorizer interface {
		Authorize(action capi.AuthAction, arg1, arg2, db, trigger string) capi.AuthResult
	}

	// Collation orders text values. Compare must define a total order.
	Collation interface {
		Compare(a, b []byte) int
	}

	// CollationNeededHandler fires when a statement needs a collation
	// that is not registered, giving the host a chance to register it on
	// the spot.
	CollationNeededHandler interface {
		OnCollationNeeded(c *Conn, name string)
	}

	// Destroyer is notified when the bridge releases the last reference to
	// a destroy-notified registration (collation, busy handler, UDF).
	Destroyer interface {
		OnDestroy()
	}
)

// installHook runs the generic "set hook H of kind K on connection C,
// return previous" protocol:
//
//  1. installing the identical object is a no-op;
//  2. installing nil unregisters natively and releases the previous
//     registration, with a destroy notification only for destroy-notified
//     kinds;
//  3. otherwise the native registration happens first and the slot is
//     updated only on success, leaving the previous registration untouched
//     on failure. The previous object goes back to the caller without a
//     destroy notification, since ownership transfers with it.
//
// nativeSet performs the kind-specific native call; install=false means
// unregister. The state's own lock is held across the native call, which
// keeps per-connection hook operations linearizable; destroy notifications
// run after it is dropped, like all host callbacks.
// sameObject reports whether a and b are the same registered object.
// Hook types carrying func, map, or slice fields are uncomparable; Go's ==
// panics on those, so they are never considered identical. Callers that
// want their installs recognized as duplicates register pointers.
func sameObject(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func (rt *Runtime) installHook(st *connState, kind HookKind, obj any, nativeSet func(install bool) capi.Code) (prev any, rc capi.Code) {
	st.mu.Lock()
	prev = st.hooks[kind]
	if obj != nil && sameObject(obj, prev) {
		st.mu.Unlock()
		return prev, capi.OK
	}
	if obj == nil {
		nativeSet(false)
		st.hooks[kind] = nil
		st.mu.Unlock()
		if kind.destroyNotified() {
			rt.notifyDestroy(prev, kind.String())
		}
		return prev, capi.OK
	}
	if rc = nativeSet(true); rc != capi.OK {
		st.mu.Unlock()
		return prev, rc
	}
	st.hooks[kind] = obj
	st.mu.Unlock()
	brMetrics.hookInstalls.Inc()
	return prev, capi.OK
}

// notifyDestroy invokes OnDestroy if obj has one, suppressing panics: the
// notification is a courtesy, never an error channel.
func (rt *Runtime) notifyDestroy(obj any, site string) {
	d, ok := obj.(Destroyer)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			brMetrics.panicsSuppressed.Inc()
			rt.log.Warn("bridge.hook.destroy_panic_suppressed", "site", site, "recovered", r)
		}
	}()
	d.OnDestroy()
}

// guard runs a host callback under the bridge's panic-translation policy.
// With a result channel, a panic is converted to an error code set on the
// owning connection and guard returns nonzero; without one, the panic is
// logged and suppressed. A panic never propagates past this frame.
func (rt *Runtime) guard(st *connState, site string, resultChannel bool, fn func()) (failed int32) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		brMetrics.panicsSuppressed.Inc()
		if resultChannel {
			failed = 1
			if st != nil && st.ptr != 0 {
				rt.api.SetLastError(st.ptr, capi.Error, fmt.Sprintf("%s panicked: %v", site, r))
			}
		} else {
			rt.log.Warn("bridge.hook.panic_suppressed", "site", site, "recovered", r)
		}
	}()
	fn()
	return 0
}

// Dispatch trampolines, one per hook kind. Each resolves its connection
// state from the dispatch context, copies the hook identity out under the
// state lock, and invokes it with no bridge mutex held, so a hook that
// re-enters the bridge (a commit hook issuing further calls, say) cannot
// deadlock.

func (rt *Runtime) commitTrampoline(ctx uintptr) int32 {
	st := rt.states.byID(ctx)
	if st == nil {
		return 0
	}
	h, _ := st.hook(HookCommit).(CommitHook)
	if h == nil {
		return 0
	}
	brMetrics.hookDispatches.Inc()
	veto := false
	if failed := rt.guard(st, "commit hook", true, func() { veto = h.OnCommit() }); failed != 0 {
		return failed
	}
	if veto {
		return 1
	}
	return 0
}

func (rt *Runtime) rollbackTrampoline(ctx uintptr) {
	st := rt.states.byID(ctx)
	if st == nil {
		return
	}
	h, _ := st.hook(HookRollback).(RollbackHook)
	if h == nil {
		return
	}
	brMetrics.hookDispatches.Inc()
	rt.guard(st, "rollback hook", false, h.OnRollback)
}

func (rt *Runtime) updateTrampoline(ctx uintptr, op capi.UpdateOp, db, table string, rowid int64) {
	st := rt.states.byID(ctx)
	if st == nil {
		return
	}
	h, _ := st.hook(HookUpdate).(UpdateHook)
	if h == nil {
		return
	}
	brMetrics.hookDispatches.Inc()
	rt.guard(st, "update hook", false, func() { h.OnUpdate(op, db, table, rowid) })
}

func (rt *Runtime) traceTrampoline(ctx uintptr, ev capi.TraceMask, p capi.Ptr, detailText string, detailInt int64) int32 {
	st := rt.states.byID(ctx)
	if st == nil {
		return 0
	}
	h, _ := st.hook(HookTrace).(TraceHook)
	if h == nil {
		return 0
	}
	brMetrics.hookDispatches.Inc()
	target := st.handle
	if ev != capi.TraceClose {
		// Fresh statement wrapper for the duration of the callback.
		target = rt.handles.Wrap(p, KindStatement)
		defer rt.handles.Invalidate(target)
	}
	rt.guard(st, "trace hook", false, func() { h.OnTrace(ev, target, detailText, detailInt) })
	return 0
}

func (rt *Runtime) progressTrampoline(ctx uintptr) int32 {
	st := rt.states.byID(ctx)
	if st == nil {
		return 0
	}
	h, _ := st.hook(HookProgress).(ProgressHandler)
	if h == nil {
		return 0
	}
	brMetrics.hookDispatches.Inc()
	interrupt := false
	if failed := rt.guard(st, "progress handler", true, func() { interrupt = h.OnProgress() }); failed != 0 {
		return failed
	}
	if interrupt {
		return 1
	}
	return 0
}

func (rt *Runtime) busyTrampoline(ctx uintptr, count int32) int32 {
	st := rt.states.byID(ctx)
	if st == nil {
		return 0
	}
	h, _ := st.hook(HookBusy).(BusyHandler)
	if h == nil {
		return 0
	}
	brMetrics.hookDispatches.Inc()
	retry := false
	// A busy-handler panic reads as "give up": zero tells the engine to
	// stop retrying, and the error code lands on the connection.
	if failed := rt.guard(st, "busy handler", true, func() { retry = h.OnBusy(count) }); failed != 0 {
		return 0
	}
	if retry {
		return 1
	}
	return 0
}

func (rt *Runtime) authorizerTrampoline(ctx uintptr, action capi.AuthAction, arg1, arg2, db, trigger string) capi.AuthResult {
	st := rt.states.byID(ctx)
	if st == nil {
		return capi.AuthAllow
	}
	h, _ := st.hook(HookAuthorizer).(Authorizer)
	if h == nil {
		return capi.AuthAllow
	}
	brMetrics.hookDispatches.Inc()
	verdict := capi.AuthAllow
	if failed := rt.guard(st, "authorizer", true, func() { verdict = h.Authorize(action, arg1, arg2, db, trigger) }); failed != 0 {
		return capi.AuthDeny
	}
	return verdict
}

func (rt *Runtime) collationNeededTrampoline(ctx uintptr, db capi.Ptr, enc capi.TextEncoding, name string) {
	st := rt.states.byID(ctx)
	if st == nil {
		return
	}
	h, _ := st.hook(HookCollationNeeded).(CollationNeededHandler)
	if h == nil {
		return
	}
	brMetrics.hookDispatches.Inc()
	c := &Conn{rt: rt, st: st, h: st.handle}
	rt.guard(st, "collation-needed handler", false, func() { h.OnCollationNeeded(c, name) })
}

// Collation trampolines resolve a per-registration token rather than the
// connection id: collations are keyed by name on the engine side and the
// engine itself destroy-notifies a replaced registration, possibly while
// the bridge is mid-install. The token keeps those two lifecycles from
// treading on each other.

func (rt *Runtime) collationCompareTrampoline(ctx uintptr, a, b []byte) int32 {
	reg := rt.cbs.get(ctx)
	if reg == nil {
		return 0
	}
	h, _ := reg.obj.(Collation)
	if h == nil {
		return 0
	}
	brMetrics.hookDispatches.Inc()
	// There is no error channel in the middle of a sort; a panicking
	// comparison collapses to "equal".
	res := 0
	rt.guard(nil, "collation compare", false, func() { res = h.Compare(a, b) })
	switch {
	case res < 0:
		return -1
	case res > 0:
		return 1
	default:
		return 0
	}
}

// collationDestroyTrampoline fires when the engine discards a collation
// registration (replacement, explicit clear, or connection close). It only
// retires the token and notifies the object; the connection's hook slot is
// maintained by the install protocol.
func (rt *Runtime) collationDestroyTrampoline(ctx uintptr) {
	reg := rt.cbs.remove(ctx)
	if reg == nil {
		return
	}
	rt.notifyDestroy(reg.obj, "collation")
}
