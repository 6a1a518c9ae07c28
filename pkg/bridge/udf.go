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

// User-defined-function contracts. An object registered with
// Conn.CreateFunction must implement exactly one shape:
//
//   - ScalarFunction alone: a scalar;
//   - AggregateFunction (without ScalarFunction): an aggregate;
//   - WindowFunction (which embeds AggregateFunction): a window function.
//
// Implementing both ScalarFunction and AggregateFunction is ambiguous and
// rejected at registration. The role is decided once, there; dispatch
// switches on the recorded role and never re-probes.
type (
	ScalarFunction interface {
		Apply(fc *FuncContext, args []Value)
	}

	AggregateFunction interface {
		Step(fc *FuncContext, args []Value)
		Final(fc *FuncContext)
	}

	WindowFunction interface {
		AggregateFunction
		Value(fc *FuncContext)
		Inverse(fc *FuncContext, args []Value)
	}
)

type udfRole uint8

const (
	udfNone udfRole = iota
	udfScalar
	udfAggregate
	udfWindow
)

func (r udfRole) String() string {
	switch r {
	case udfScalar:
		return "scalar"
	case udfAggregate:
		return "aggregate"
	case udfWindow:
		return "window"
	default:
		return "unknown"
	}
}

// detectRole classifies obj by its method set, once, at registration.
func detectRole(obj any) udfRole {
	_, scalar := obj.(ScalarFunction)
	_, agg := obj.(AggregateFunction)
	_, win := obj.(WindowFunction)
	switch {
	case scalar && !agg:
		return udfScalar
	case !scalar && win:
		return udfWindow
	case !scalar && agg:
		return udfAggregate
	default:
		return udfNone
	}
}

// CreateFunction registers f under name with nArg arguments (-1 for
// variadic). f's role is detected from its method set; an ambiguous or
// empty method set is misuse and the registration does not take effect.
// The engine destroy-notifies the function when it is replaced or the
// connection closes; f may implement Destroyer to observe that.
func (c *Conn) CreateFunction(name string, nArg int, f any) capi.Code {
	db := c.rt.handles.Unwrap(c.h, KindConnection)
	if db == 0 {
		return capi.Misuse
	}
	if f == nil {
		// Clearing: register name with no callbacks.
		return c.rt.api.CreateFunction(db, name, int32(nArg), capi.EncUTF8, 0,
			nil, nil, nil, nil, nil, nil)
	}
	role := detectRole(f)
	if role == udfNone {
		c.rt.api.SetLastError(db, capi.Misuse,
			fmt.Sprintf("function %q has an ambiguous or empty callback set", name))
		return capi.Misuse
	}

	rt := c.rt
	tok := rt.cbs.put(&cbReg{obj: f, name: name, role: role})

	var xFunc, xStep, xInverse capi.FuncFunc
	var xFinal, xValue capi.FinalFunc
	switch role {
	case udfScalar:
		xFunc = rt.udfApplyTrampoline
	case udfWindow:
		xValue = rt.udfValueTrampoline
		xInverse = rt.udfInverseTrampoline
		fallthrough
	case udfAggregate:
		xStep = rt.udfStepTrampoline
		xFinal = rt.udfFinalTrampoline
	}

	rc := rt.api.CreateFunction(db, name, int32(nArg), capi.EncUTF8, tok,
		xFunc, xStep, xInverse, xFinal, xValue, rt.udfDestroyTrampoline)
	if rc != capi.OK {
		rt.cbs.remove(tok)
	}
	return rc
}

// aggStore maps a native aggregate-context slot to the host accumulator
// bound to it. The slot pointer from capi.AggregateContext is stable for
// the lifetime of one invocation group and serves as the key; the entry is
// dropped when the group's final (or a zero-row final's absence of a slot)
// retires it. Leaf mutex, never held with another bridge lock.
type aggStore struct {
	mu    sync.Mutex
	slots map[capi.Ptr]any
}

func (a *aggStore) get(slot capi.Ptr) any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots[slot]
}

func (a *aggStore) set(slot capi.Ptr, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots[slot] = v
}

func (a *aggStore) drop(slot capi.Ptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.slots, slot)
}

// udfInvoke is the shared marshaling path for every UDF callback: resolve
// the registration, build a fresh context handle and argument array, bind
// the aggregate slot where the role calls for one, invoke, and translate a
// panic into a native result error tagged with the function name and
// callback role. Handles minted here die when the invocation returns.
//
// wantAgg selects aggregate-slot binding; allocAgg distinguishes step-side
// calls (which allocate the slot on first use) from final/value calls
// (which must tolerate a missing slot, meaning zero input rows).
func (rt *Runtime) udfInvoke(ctx uintptr, fctx capi.Ptr, args []capi.Ptr,
	phase string, wantAgg, allocAgg, retireAgg bool,
	call func(reg *cbReg, fc *FuncContext, vals []Value)) {

	reg := rt.cbs.get(ctx)
	if reg == nil {
		rt.api.ResultError(fctx, "function registration no longer exists")
		return
	}

	fc := &FuncContext{
		rt:  rt,
		h:   rt.handles.Wrap(fctx, KindFuncContext),
		ptr: fctx,
	}
	defer rt.handles.Invalidate(fc.h)

	if wantAgg {
		n := int32(0)
		if allocAgg {
			n = int32(8) // engine only needs to key the group; size is token-sized
		}
		fc.aggSlot = rt.api.AggregateContext(fctx, n)
		if allocAgg && fc.aggSlot == 0 {
			rt.api.ResultErrorNoMem(fctx)
			return
		}
		if retireAgg && fc.aggSlot != 0 {
			defer rt.agg.drop(fc.aggSlot)
		}
	}

	vals := make([]Value, len(args))
	for i, p := range args {
		vals[i] = Value{rt: rt, h: rt.handles.Wrap(p, KindValue)}
	}
	defer func() {
		for _, v := range vals {
			rt.handles.Invalidate(v.h)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			brMetrics.panicsSuppressed.Inc()
			rt.api.ResultError(fctx, fmt.Sprintf("%s.%s() panicked: %v", reg.name, phase, r))
		}
	}()
	call(reg, fc, vals)
}

func (rt *Runtime) udfApplyTrampoline(ctx uintptr, fctx capi.Ptr, args []capi.Ptr) {
	brMetrics.udfScalarCalls.Inc()
	rt.udfInvoke(ctx, fctx, args, "Apply", false, false, false,
		func(reg *cbReg, fc *FuncContext, vals []Value) {
			reg.obj.(ScalarFunction).Apply(fc, vals)
		})
}

func (rt *Runtime) udfStepTrampoline(ctx uintptr, fctx capi.Ptr, args []capi.Ptr) {
	brMetrics.udfStepCalls.Inc()
	rt.udfInvoke(ctx, fctx, args, "Step", true, true, false,
		func(reg *cbReg, fc *FuncContext, vals []Value) {
			reg.obj.(AggregateFunction).Step(fc, vals)
		})
}

func (rt *Runtime) udfInverseTrampoline(ctx uintptr, fctx capi.Ptr, args []capi.Ptr) {
	rt.udfInvoke(ctx, fctx, args, "Inverse", true, true, false,
		func(reg *cbReg, fc *FuncContext, vals []Value) {
			reg.obj.(WindowFunction).Inverse(fc, vals)
		})
}

func (rt *Runtime) udfFinalTrampoline(ctx uintptr, fctx capi.Ptr) {
	brMetrics.udfFinalCalls.Inc()
	rt.udfInvoke(ctx, fctx, nil, "Final", true, false, true,
		func(reg *cbReg, fc *FuncContext, _ []Value) {
			reg.obj.(AggregateFunction).Final(fc)
		})
}

func (rt *Runtime) udfValueTrampoline(ctx uintptr, fctx capi.Ptr) {
	rt.udfInvoke(ctx, fctx, nil, "Value", true, false, false,
		func(reg *cbReg, fc *FuncContext, _ []Value) {
			reg.obj.(WindowFunction).Value(fc)
		})
}

func (rt *Runtime) udfDestroyTrampoline(ctx uintptr) {
	reg := rt.cbs.remove(ctx)
	if reg == nil {
		return
	}
	rt.notifyDestroy(reg.obj, "function "+reg.name)
}
