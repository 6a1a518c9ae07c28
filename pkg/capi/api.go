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

package capi

import "fmt"

// Ptr is an opaque native pointer. Zero means "not bound" or "closed".
// The bridge never dereferences a Ptr; it only hands it back through the
// function table that produced it.
type Ptr uintptr

// Token identifies one calling thread of execution. Tokens are allocated by
// the embedder (see bridge.NewToken) and must be unique per concurrently
// calling thread.
type Token uint64

// Output-pointer boxes for multi-value native calls. A box's prior value is
// undefined until the call returns OK.
type (
	OutPtr   struct{ Value Ptr }
	OutInt32 struct{ Value int32 }
	OutInt64 struct{ Value int64 }
)

// Capability flags record which optional entry-point families the engine
// provides. Entries for absent families still exist in the table but return
// Unsupported (see FillUnsupported).
type Capability uint32

const (
	CapTrace Capability = 1 << iota
	CapProgress
	CapAuthorizer
	CapPreupdate
	CapColumnMetadata
	CapNormalizedSQL
	CapSerialize
)

// Has reports whether all bits in want are set.
func (c Capability) Has(want Capability) bool { return c&want == want }

func (c Capability) String() string {
	names := []struct {
		bit  Capability
		name string
	}{
		{CapTrace, "trace"},
		{CapProgress, "progress"},
		{CapAuthorizer, "authorizer"},
		{CapPreupdate, "preupdate"},
		{CapColumnMetadata, "column_metadata"},
		{CapNormalizedSQL, "normalized_sql"},
		{CapSerialize, "serialize"},
	}
	out := ""
	for _, n := range names {
		if c&n.bit != 0 {
			if out != "" {
				out += ","
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// Callback signatures for native event dispatch. Each registration carries
// an opaque ctx that the engine passes back verbatim on every invocation;
// the bridge uses it to locate per-connection state. A nil callback in a
// registration call clears the hook.
type (
	// CommitFunc fires before a transaction commits. A nonzero return
	// converts the commit into a rollback.
	CommitFunc func(ctx uintptr) int32

	// RollbackFunc fires after a transaction rolls back. No return channel.
	RollbackFunc func(ctx uintptr)

	// UpdateFunc fires after a row is inserted, updated, or deleted.
	UpdateFunc func(ctx uintptr, op UpdateOp, db, table string, rowid int64)

	// TraceFunc receives trace events selected by the registration mask.
	// For TraceStmt, detailText is the SQL text; for TraceProfile,
	// detailInt is elapsed nanoseconds. p is the statement (or, for
	// TraceClose, the connection) the event concerns.
	TraceFunc func(ctx uintptr, ev TraceMask, p Ptr, detailText string, detailInt int64) int32

	// ProgressFunc fires periodically during long-running operations.
	// A nonzero return interrupts the operation.
	ProgressFunc func(ctx uintptr) int32

	// BusyFunc fires when a lock cannot be obtained; count is the number
	// of prior invocations for this lock attempt. A nonzero return asks
	// the engine to retry.
	BusyFunc func(ctx uintptr, count int32) int32

	// AuthorizerFunc approves or rejects an operation during statement
	// preparation.
	AuthorizerFunc func(ctx uintptr, action AuthAction, arg1, arg2, db, trigger string) AuthResult

	// CollationNeededFunc fires when a statement requires an unknown
	// collation, giving the host a chance to register it.
	CollationNeededFunc func(ctx uintptr, db Ptr, enc TextEncoding, name string)

	// CompareFunc is a collation comparison. Returns negative, zero, or
	// positive, and must define a total order.
	CompareFunc func(ctx uintptr, a, b []byte) int32

	// DestroyFunc notifies that the engine has discarded a registration
	// and its ctx will not be used again.
	DestroyFunc func(ctx uintptr)

	// StartupFunc is the process-wide startup hook invoked synchronously
	// inside every connection open, before OpenV2 returns. tok is the
	// token the opener passed to OpenV2. A non-OK code fails the open and
	// errmsg becomes part of the open error.
	StartupFunc func(tok Token, db Ptr) (rc Code, errmsg string)

	// FuncFunc is a UDF invocation with arguments (scalar apply, aggregate
	// step, window inverse).
	FuncFunc func(ctx uintptr, fctx Ptr, args []Ptr)

	// FinalFunc is a UDF invocation without arguments (aggregate final,
	// window value).
	FinalFunc func(ctx uintptr, fctx Ptr)
)

// API is the fixed function table a native engine presents to the bridge.
// Required entries must be non-nil (see Validate); optional entries may be
// nil before FillUnsupported runs.
type API struct {
	// Caps records which optional families are functional.
	Caps Capability

	// Lifecycle.
	OpenV2    func(tok Token, name string, out *OutPtr, flags OpenFlags, vfs string) Code
	Close     func(db Ptr) Code
	Interrupt func(db Ptr)
	ErrMsg    func(db Ptr) string

	// SetLastError reports a host-side failure through the connection's
	// error state, so a code is always produced even when the fault
	// originates in a host callback.
	SetLastError func(db Ptr, rc Code, msg string)

	// Statements. Statement semantics beyond prepare/step/finalize are the
	// engine's business; the bridge only wraps the pointers.
	Prepare  func(db Ptr, sql string, out *OutPtr) Code
	Step     func(stmt Ptr) Code
	Finalize func(stmt Ptr) Code

	// Hook registrations. Commit, rollback, and update return the ctx of
	// the previously installed callback.
	CommitHook      func(db Ptr, fn CommitFunc, ctx uintptr) uintptr
	RollbackHook    func(db Ptr, fn RollbackFunc, ctx uintptr) uintptr
	UpdateHook      func(db Ptr, fn UpdateFunc, ctx uintptr) uintptr
	TraceV2         func(db Ptr, mask TraceMask, fn TraceFunc, ctx uintptr) Code
	ProgressHandler func(db Ptr, numOps int32, fn ProgressFunc, ctx uintptr)
	BusyHandler     func(db Ptr, fn BusyFunc, ctx uintptr) Code
	SetAuthorizer   func(db Ptr, fn AuthorizerFunc, ctx uintptr) Code
	CollationNeeded func(db Ptr, ctx uintptr, fn CollationNeededFunc) Code
	CreateCollation func(db Ptr, name string, enc TextEncoding, ctx uintptr, cmp CompareFunc, destroy DestroyFunc) Code

	// AutoExtension installs the single process-wide startup hook. The
	// bridge calls this at most once per engine.
	AutoExtension func(fn StartupFunc) Code

	// UDF registration and invocation support. xStep/xInverse/xFinal/xValue
	// are nil for scalar functions; xFunc is nil for aggregates and
	// windows. xDestroy fires when the engine discards the function.
	CreateFunction func(db Ptr, name string, nArg int32, enc TextEncoding, ctx uintptr,
		xFunc, xStep, xInverse FuncFunc, xFinal, xValue FinalFunc, xDestroy DestroyFunc) Code

	// AggregateContext returns the per-invocation-group slot for an
	// aggregate or window call. With n > 0 it allocates the slot on first
	// use; with n == 0 it returns the existing slot or zero. A zero slot
	// on the final call means the group saw no input rows.
	AggregateContext func(fctx Ptr, n int32) Ptr

	// Result setters for UDF callbacks.
	ResultNull       func(fctx Ptr)
	ResultInt64      func(fctx Ptr, v int64)
	ResultDouble     func(fctx Ptr, v float64)
	ResultText       func(fctx Ptr, s string)
	ResultBlob       func(fctx Ptr, b []byte)
	ResultError      func(fctx Ptr, msg string)
	ResultErrorCode  func(fctx Ptr, rc Code)
	ResultErrorNoMem func(fctx Ptr)

	// Value accessors for UDF arguments.
	ValueType   func(v Ptr) ValueType
	ValueInt64  func(v Ptr) int64
	ValueDouble func(v Ptr) float64
	ValueText   func(v Ptr) string
	ValueBlob   func(v Ptr) []byte

	// Introspection.
	Libversion        func() string
	LibversionNumber  func() int32
	CompileOptionUsed func(opt string) bool
	CompileOptionGet  func(i int32) string
}

// Validate checks that every required table entry is populated. Optional
// families (trace, progress, authorizer) may be nil; FillUnsupported stubs
// them. Hook families the bridge depends on unconditionally are required.
func (a *API) Validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"OpenV2", a.OpenV2 != nil},
		{"Close", a.Close != nil},
		{"Interrupt", a.Interrupt != nil},
		{"ErrMsg", a.ErrMsg != nil},
		{"SetLastError", a.SetLastError != nil},
		{"Prepare", a.Prepare != nil},
		{"Step", a.Step != nil},
		{"Finalize", a.Finalize != nil},
		{"CommitHook", a.CommitHook != nil},
		{"RollbackHook", a.RollbackHook != nil},
		{"UpdateHook", a.UpdateHook != nil},
		{"BusyHandler", a.BusyHandler != nil},
		{"CollationNeeded", a.CollationNeeded != nil},
		{"CreateCollation", a.CreateCollation != nil},
		{"AutoExtension", a.AutoExtension != nil},
		{"CreateFunction", a.CreateFunction != nil},
		{"AggregateContext", a.AggregateContext != nil},
		{"ResultNull", a.ResultNull != nil},
		{"ResultInt64", a.ResultInt64 != nil},
		{"ResultDouble", a.ResultDouble != nil},
		{"ResultText", a.ResultText != nil},
		{"ResultBlob", a.ResultBlob != nil},
		{"ResultError", a.ResultError != nil},
		{"ResultErrorCode", a.ResultErrorCode != nil},
		{"ResultErrorNoMem", a.ResultErrorNoMem != nil},
		{"ValueType", a.ValueType != nil},
		{"ValueInt64", a.ValueInt64 != nil},
		{"ValueDouble", a.ValueDouble != nil},
		{"ValueText", a.ValueText != nil},
		{"ValueBlob", a.ValueBlob != nil},
		{"Libversion", a.Libversion != nil},
	}
	for _, r := range required {
		if !r.ok {
			return fmt.Errorf("capi: function table entry %s is nil", r.name)
		}
	}
	return nil
}

// FillUnsupported installs Unsupported-returning stubs for every optional
// entry left nil, so callers never have to nil-check the table. Entry
// points for compiled-out features exist but report a fixed status.
func (a *API) FillUnsupported() {
	if a.TraceV2 == nil {
		a.TraceV2 = func(Ptr, TraceMask, TraceFunc, uintptr) Code { return Unsupported }
	}
	if a.ProgressHandler == nil {
		a.ProgressHandler = func(Ptr, int32, ProgressFunc, uintptr) {}
	}
	if a.SetAuthorizer == nil {
		a.SetAuthorizer = func(Ptr, AuthorizerFunc, uintptr) Code { return Unsupported }
	}
	if a.LibversionNumber == nil {
		a.LibversionNumber = func() int32 { return 0 }
	}
	if a.CompileOptionUsed == nil {
		a.CompileOptionUsed = func(string) bool { return false }
	}
	if a.CompileOptionGet == nil {
		a.CompileOptionGet = func(int32) string { return "" }
	}
}
