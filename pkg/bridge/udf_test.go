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

package bridge_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sbtest "github.com/kraklabs/sqlbridge/internal/testing"
	"github.com/kraklabs/sqlbridge/pkg/bridge"
	"github.com/kraklabs/sqlbridge/pkg/capi"
)

type upperFn struct{ destroys int }

func (u *upperFn) Apply(fc *bridge.FuncContext, args []bridge.Value) {
	fc.ResultText(strings.ToUpper(args[0].Text()))
}

func (u *upperFn) OnDestroy() { u.destroys++ }

type panicFn struct{}

func (panicFn) Apply(fc *bridge.FuncContext, args []bridge.Value) { panic("scalar blew up") }

// sumAgg keeps a running int64 total in the aggregate slot.
type sumAgg struct{}

func (sumAgg) Step(fc *bridge.FuncContext, args []bridge.Value) {
	var acc int64
	if v := fc.Aggregate(); v != nil {
		acc = v.(int64)
	}
	fc.SetAggregate(acc + args[0].Int64())
}

func (sumAgg) Final(fc *bridge.FuncContext) {
	if v := fc.Aggregate(); v != nil {
		fc.ResultInt64(v.(int64))
		return
	}
	// No slot means no input rows.
	fc.ResultNull()
}

// failSum errors out on every step. Its finalizer must still run so the
// accumulator slot is released, the way the native engine always invokes
// xFinal after a failed step.
type failSum struct{ finals *int }

func (f failSum) Step(fc *bridge.FuncContext, args []bridge.Value) {
	fc.ResultError("step refused")
}

func (f failSum) Final(fc *bridge.FuncContext) {
	*f.finals++
	fc.ResultInt64(99)
}

// winSum extends sumAgg into a window function.
type winSum struct{ sumAgg }

func (winSum) Value(fc *bridge.FuncContext) {
	var acc int64
	if v := fc.Aggregate(); v != nil {
		acc = v.(int64)
	}
	fc.ResultInt64(acc)
}

func (winSum) Inverse(fc *bridge.FuncContext, args []bridge.Value) {
	acc := fc.Aggregate().(int64)
	fc.SetAggregate(acc - args[0].Int64())
}

// stepOnly has an incomplete aggregate shape.
type stepOnly struct{}

func (stepOnly) Step(fc *bridge.FuncContext, args []bridge.Value) {}

// scalarAndAgg implements both shapes, which is ambiguous.
type scalarAndAgg struct {
	sumAgg
}

func (scalarAndAgg) Apply(fc *bridge.FuncContext, args []bridge.Value) {}

func TestCreateFunction_Scalar(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	require.Equal(t, capi.OK, c.CreateFunction("upper_go", 1, &upperFn{}))

	res, err := eng.InvokeScalar(c.NativePtr(), "upper_go", "hello")
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, "HELLO", res.Value)
}

func TestCreateFunction_ScalarPanicBecomesResultError(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	require.Equal(t, capi.OK, c.CreateFunction("kaboom", 0, panicFn{}))

	res, err := eng.InvokeScalar(c.NativePtr(), "kaboom")
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Contains(t, res.Err, "kaboom.Apply() panicked")
	assert.Contains(t, res.Err, "scalar blew up")
}

func TestCreateFunction_Aggregate(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	require.Equal(t, capi.OK, c.CreateFunction("sum_go", 1, sumAgg{}))

	res, err := eng.RunAggregate(c.NativePtr(), "sum_go", [][]any{{1}, {2}, {3}})
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, int64(6), res.Value)
}

func TestCreateFunction_AggregateZeroRows(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	require.Equal(t, capi.OK, c.CreateFunction("sum_go", 1, sumAgg{}))

	// With no input rows the final call has no aggregate slot; the
	// function must see a nil accumulator, not fail.
	res, err := eng.RunAggregate(c.NativePtr(), "sum_go", nil)
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Nil(t, res.Value)
}

func TestCreateFunction_AggregateStepErrorStillFinalizes(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	finals := 0
	require.Equal(t, capi.OK, c.CreateFunction("failsum", 1, failSum{finals: &finals}))

	res, err := eng.RunAggregate(c.NativePtr(), "failsum", [][]any{{1}, {2}})
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Contains(t, res.Err, "step refused")

	// The finalizer ran exactly once after the failed step, and its
	// result did not displace the step error.
	assert.Equal(t, 1, finals)
}

func TestCreateFunction_Window(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	require.Equal(t, capi.OK, c.CreateFunction("wsum", 1, winSum{}))

	results, err := eng.RunWindow(c.NativePtr(), "wsum", [][]any{{10}, {20}})
	require.NoError(t, err)
	// Values after each step: 10, 30; after inverse of the first row: 20;
	// then the final.
	require.Len(t, results, 4)
	assert.Equal(t, int64(10), results[0].Value)
	assert.Equal(t, int64(30), results[1].Value)
	assert.Equal(t, int64(20), results[2].Value)
	assert.Equal(t, int64(20), results[3].Value)
}

func TestCreateFunction_RoleDetection(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	tests := []struct {
		name string
		f    any
		want capi.Code
	}{
		{"scalar", &upperFn{}, capi.OK},
		{"aggregate", sumAgg{}, capi.OK},
		{"window", winSum{}, capi.OK},
		{"incomplete aggregate", stepOnly{}, capi.Misuse},
		{"scalar plus aggregate", scalarAndAgg{}, capi.Misuse},
		{"unrelated type", struct{}{}, capi.Misuse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := c.CreateFunction("probe", 1, tt.f)
			if rc != tt.want {
				t.Fatalf("CreateFunction(%s) = %v, want %v", tt.name, rc, tt.want)
			}
			if tt.want == capi.Misuse {
				_, msg := eng.LastError(c.NativePtr())
				assert.Contains(t, msg, "ambiguous or empty callback set")
			}
		})
	}
}

func TestCreateFunction_ReplaceNotifiesDestroy(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	f1 := &upperFn{}
	require.Equal(t, capi.OK, c.CreateFunction("upper_go", 1, f1))

	f2 := &upperFn{}
	require.Equal(t, capi.OK, c.CreateFunction("upper_go", 1, f2))
	assert.Equal(t, 1, f1.destroys)
	assert.Zero(t, f2.destroys)

	// Dispatch reaches the replacement.
	res, err := eng.InvokeScalar(c.NativePtr(), "upper_go", "x")
	require.NoError(t, err)
	assert.Equal(t, "X", res.Value)
}

func TestCreateFunction_ClearAndClose(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	f := &upperFn{}
	require.Equal(t, capi.OK, c.CreateFunction("upper_go", 1, f))

	// Clearing unregisters and destroy-notifies.
	require.Equal(t, capi.OK, c.CreateFunction("upper_go", 1, nil))
	assert.Equal(t, 1, f.destroys)
	_, err := eng.InvokeScalar(c.NativePtr(), "upper_go", "x")
	assert.Error(t, err)

	// Close destroy-notifies whatever is still registered.
	f3 := &upperFn{}
	require.Equal(t, capi.OK, c.CreateFunction("other", 1, f3))
	require.Equal(t, capi.OK, c.Close())
	assert.Equal(t, 1, f3.destroys)
}

func TestCreateFunction_ArgValues(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	var gotTypes []capi.ValueType
	probe := scalarProbe{fn: func(fc *bridge.FuncContext, args []bridge.Value) {
		for _, a := range args {
			gotTypes = append(gotTypes, a.Type())
		}
		fc.ResultDouble(args[1].Double() + float64(args[0].Int64()))
	}}
	require.Equal(t, capi.OK, c.CreateFunction("mix", 2, probe))

	res, err := eng.InvokeScalar(c.NativePtr(), "mix", 2, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []capi.ValueType{capi.TypeInteger, capi.TypeFloat}, gotTypes)
	assert.Equal(t, 2.5, res.Value)
}

type scalarProbe struct {
	fn func(fc *bridge.FuncContext, args []bridge.Value)
}

func (p scalarProbe) Apply(fc *bridge.FuncContext, args []bridge.Value) { p.fn(fc, args) }
