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

// Value is a UDF argument: a handle to a native value object. Values are
// built fresh for each invocation and are dead as soon as the callback
// returns; reading a kept Value later yields zero results, not garbage.
type Value struct {
	rt *Runtime
	h  Handle
}

func (v Value) ptr() capi.Ptr {
	return v.rt.handles.Unwrap(v.h, KindValue)
}

// Type returns the value's dynamic type, or TypeNull for a dead Value.
func (v Value) Type() capi.ValueType {
	p := v.ptr()
	if p == 0 {
		return capi.TypeNull
	}
	return v.rt.api.ValueType(p)
}

func (v Value) Int64() int64 {
	p := v.ptr()
	if p == 0 {
		return 0
	}
	return v.rt.api.ValueInt64(p)
}

func (v Value) Double() float64 {
	p := v.ptr()
	if p == 0 {
		return 0
	}
	return v.rt.api.ValueDouble(p)
}

func (v Value) Text() string {
	p := v.ptr()
	if p == 0 {
		return ""
	}
	return v.rt.api.ValueText(p)
}

func (v Value) Blob() []byte {
	p := v.ptr()
	if p == 0 {
		return nil
	}
	return v.rt.api.ValueBlob(p)
}

// FuncContext is the result/context object handed to every UDF callback.
// It is valid only for the duration of the callback. Exactly one Result*
// call should be made per scalar apply, final, or window-value invocation.
type FuncContext struct {
	rt      *Runtime
	h       Handle
	ptr     capi.Ptr
	aggSlot capi.Ptr
}

// Handle returns the context's bridge handle, dead after the callback.
func (fc *FuncContext) Handle() Handle { return fc.h }

func (fc *FuncContext) ResultNull()            { fc.rt.api.ResultNull(fc.ptr) }
func (fc *FuncContext) ResultInt64(v int64)    { fc.rt.api.ResultInt64(fc.ptr, v) }
func (fc *FuncContext) ResultDouble(v float64) { fc.rt.api.ResultDouble(fc.ptr, v) }
func (fc *FuncContext) ResultText(s string)    { fc.rt.api.ResultText(fc.ptr, s) }
func (fc *FuncContext) ResultBlob(b []byte)    { fc.rt.api.ResultBlob(fc.ptr, b) }
func (fc *FuncContext) ResultError(msg string) { fc.rt.api.ResultError(fc.ptr, msg) }

// Aggregate returns the accumulator bound to the current invocation group,
// or nil when none has been set. On the final call of a group that saw no
// input rows there is no slot at all; Aggregate returns nil then rather
// than failing.
func (fc *FuncContext) Aggregate() any {
	if fc.aggSlot == 0 {
		return nil
	}
	return fc.rt.agg.get(fc.aggSlot)
}

// SetAggregate binds the accumulator for the current invocation group. A
// no-op when the group has no slot (only possible on a zero-row final).
func (fc *FuncContext) SetAggregate(v any) {
	if fc.aggSlot == 0 {
		return
	}
	fc.rt.agg.set(fc.aggSlot, v)
}
