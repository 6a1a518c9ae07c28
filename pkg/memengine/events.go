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
	"strings"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// Event triggers. These drive the engine-originated callback paths the
// command language cannot reach: transaction hooks, update notification,
// collation resolution, and direct UDF invocation.

// FireCommit runs db's commit hook and reports whether the transaction
// committed. A veto fires the rollback hook, mirroring the engine turning
// the commit into a rollback.
func (e *Engine) FireCommit(db capi.Ptr) bool {
	c := e.conn(db)
	if c == nil {
		return false
	}
	e.mu.Lock()
	commit := c.commit
	rollback := c.rollback
	e.mu.Unlock()

	if commit.fn != nil && commit.fn(commit.ctx) != 0 {
		if rollback.fn != nil {
			rollback.fn(rollback.ctx)
		}
		return false
	}
	return true
}

// FireRollback runs db's rollback hook.
func (e *Engine) FireRollback(db capi.Ptr) {
	c := e.conn(db)
	if c == nil {
		return
	}
	e.mu.Lock()
	rollback := c.rollback
	e.mu.Unlock()
	if rollback.fn != nil {
		rollback.fn(rollback.ctx)
	}
}

// FireUpdate reports a row change through db's update hook.
func (e *Engine) FireUpdate(db capi.Ptr, op capi.UpdateOp, dbName, table string, rowid int64) {
	c := e.conn(db)
	if c == nil {
		return
	}
	e.mu.Lock()
	update := c.update
	e.mu.Unlock()
	if update.fn != nil {
		update.fn(update.ctx, op, dbName, table, rowid)
	}
}

// SetBusyUnlockAfter tunes how many busy-handler retries free a simulated
// lock (default 3).
func (e *Engine) SetBusyUnlockAfter(db capi.Ptr, n int32) {
	e.mu.Lock()
	if c := e.conns[db]; c != nil {
		c.busyUnlockAfter = n
	}
	e.mu.Unlock()
}

// ResolveCollation looks up a collation, firing the collation-needed
// callback first when the name is unknown, exactly once. It reports
// whether the name is registered afterwards.
func (e *Engine) ResolveCollation(db capi.Ptr, name string) bool {
	c := e.conn(db)
	if c == nil {
		return false
	}
	e.mu.Lock()
	_, ok := c.collations[name]
	needed := c.collNeeded
	e.mu.Unlock()
	if !ok && needed.fn != nil {
		needed.fn(needed.ctx, db, capi.EncUTF8, name)
		e.mu.Lock()
		_, ok = c.collations[name]
		e.mu.Unlock()
	}
	return ok
}

// CompareUsing compares a and b under the named collation, resolving it
// first if needed.
func (e *Engine) CompareUsing(db capi.Ptr, name string, a, b []byte) (int32, error) {
	if !e.ResolveCollation(db, name) {
		return 0, fmt.Errorf("memengine: no such collation: %s", name)
	}
	c := e.conn(db)
	e.mu.Lock()
	reg := c.collations[name]
	e.mu.Unlock()
	return reg.cmp(reg.ctx, a, b), nil
}

// Result is the outcome of a UDF invocation.
type Result struct {
	Value any
	Code  capi.Code
	Err   string
}

// Failed reports whether the invocation set an error result.
func (r Result) Failed() bool { return r.Code != capi.OK }

func (e *Engine) newFuncCtx(c *conn) capi.Ptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.alloc()
	e.fctxs[p] = &funcCtx{owner: c}
	return p
}

func (e *Engine) takeResult(fctx capi.Ptr) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc := e.fctxs[fctx]
	delete(e.fctxs, fctx)
	if fc == nil {
		return Result{Code: capi.Misuse, Err: "invalid function context"}
	}
	if fc.hasErr {
		return Result{Code: fc.errCode, Err: fc.errMsg}
	}
	return Result{Value: fc.result, Code: capi.OK}
}

func (e *Engine) lookupFunc(db capi.Ptr, name string) (*conn, funcReg, error) {
	c := e.conn(db)
	if c == nil {
		return nil, funcReg{}, fmt.Errorf("memengine: invalid database handle")
	}
	e.mu.Lock()
	reg, ok := c.funcs[strings.ToLower(name)]
	e.mu.Unlock()
	if !ok {
		return nil, funcReg{}, fmt.Errorf("memengine: no such function: %s", name)
	}
	return c, reg, nil
}

// InvokeScalar calls the named scalar function with args and returns its
// result.
func (e *Engine) InvokeScalar(db capi.Ptr, name string, args ...any) (Result, error) {
	c, reg, err := e.lookupFunc(db, name)
	if err != nil {
		return Result{}, err
	}
	if reg.xFunc == nil {
		return Result{}, fmt.Errorf("memengine: %s is not a scalar function", name)
	}
	if reg.nArg >= 0 && int(reg.nArg) != len(args) {
		return Result{}, fmt.Errorf("memengine: %s wants %d args, got %d", name, reg.nArg, len(args))
	}
	fctx := e.newFuncCtx(c)
	ptrs := e.boxArgs(args)
	reg.xFunc(reg.ctx, fctx, ptrs)
	e.unboxArgs(ptrs)
	return e.takeResult(fctx), nil
}

// RunAggregate feeds rows through the named aggregate's step callback and
// finishes with final, returning the final result. With zero rows only
// final runs, against a never-allocated aggregate slot. All calls of the
// group share one function context, as the real engine shares the
// aggregate slot across a group.
func (e *Engine) RunAggregate(db capi.Ptr, name string, rows [][]any) (Result, error) {
	c, reg, err := e.lookupFunc(db, name)
	if err != nil {
		return Result{}, err
	}
	if reg.xStep == nil || reg.xFinal == nil {
		return Result{}, fmt.Errorf("memengine: %s is not an aggregate function", name)
	}
	fctx := e.newFuncCtx(c)
	for _, row := range rows {
		ptrs := e.boxArgs(row)
		reg.xStep(reg.ctx, fctx, ptrs)
		e.unboxArgs(ptrs)
		if e.peekErr(fctx) {
			break
		}
	}
	if e.peekErr(fctx) {
		// The real engine still invokes xFinal after a step error so
		// the aggregate slot is released; whatever the finalizer sets
		// is discarded and the step error is reported.
		res := e.peekResult(fctx)
		reg.xFinal(reg.ctx, fctx)
		e.takeResult(fctx)
		return res, nil
	}
	reg.xFinal(reg.ctx, fctx)
	return e.takeResult(fctx), nil
}

// RunWindow drives a window function over rows: step for each row, value
// after each, then inverse of the first row and one more value. It returns
// the sequence of value results.
func (e *Engine) RunWindow(db capi.Ptr, name string, rows [][]any) ([]Result, error) {
	c, reg, err := e.lookupFunc(db, name)
	if err != nil {
		return nil, err
	}
	if reg.xValue == nil || reg.xInverse == nil {
		return nil, fmt.Errorf("memengine: %s is not a window function", name)
	}
	fctx := e.newFuncCtx(c)
	var out []Result
	for _, row := range rows {
		ptrs := e.boxArgs(row)
		reg.xStep(reg.ctx, fctx, ptrs)
		e.unboxArgs(ptrs)
		reg.xValue(reg.ctx, fctx)
		out = append(out, e.peekResult(fctx))
	}
	if len(rows) > 0 {
		ptrs := e.boxArgs(rows[0])
		reg.xInverse(reg.ctx, fctx, ptrs)
		e.unboxArgs(ptrs)
		reg.xValue(reg.ctx, fctx)
		out = append(out, e.peekResult(fctx))
	}
	reg.xFinal(reg.ctx, fctx)
	out = append(out, e.takeResult(fctx))
	return out, nil
}

func (e *Engine) peekErr(fctx capi.Ptr) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc := e.fctxs[fctx]
	return fc != nil && fc.hasErr
}

func (e *Engine) peekResult(fctx capi.Ptr) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	fc := e.fctxs[fctx]
	if fc == nil {
		return Result{Code: capi.Misuse, Err: "invalid function context"}
	}
	if fc.hasErr {
		return Result{Code: fc.errCode, Err: fc.errMsg}
	}
	return Result{Value: fc.result, Code: capi.OK}
}
