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
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sbtest "github.com/kraklabs/sqlbridge/internal/testing"
	"github.com/kraklabs/sqlbridge/pkg/bridge"
	"github.com/kraklabs/sqlbridge/pkg/capi"
)

func TestCommitHook_InstallDispatchReplace(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	r1 := &sbtest.Recorder{}
	prev, rc := c.SetCommitHook(r1)
	require.Equal(t, capi.OK, rc)
	assert.Nil(t, prev)

	require.True(t, eng.FireCommit(c.NativePtr()))
	assert.Equal(t, 1, r1.Commits)

	// Installing the identical object is a no-op that returns it.
	prev, rc = c.SetCommitHook(r1)
	require.Equal(t, capi.OK, rc)
	assert.Same(t, r1, prev)

	// Replacement returns the old hook; dispatch goes to the new one.
	r2 := &sbtest.Recorder{}
	prev, rc = c.SetCommitHook(r2)
	require.Equal(t, capi.OK, rc)
	assert.Same(t, r1, prev)

	eng.FireCommit(c.NativePtr())
	assert.Equal(t, 1, r1.Commits)
	assert.Equal(t, 1, r2.Commits)

	// Clearing returns the current hook and stops dispatch.
	prev, rc = c.SetCommitHook(nil)
	require.Equal(t, capi.OK, rc)
	assert.Same(t, r2, prev)
	assert.Zero(t, r2.Destroys, "commit hooks are not destroy-notified")

	eng.FireCommit(c.NativePtr())
	assert.Equal(t, 1, r2.Commits)
}

func TestCommitHook_VetoFiresRollback(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{Veto: true}
	_, rc := c.SetCommitHook(rec)
	require.Equal(t, capi.OK, rc)
	_, rc = c.SetRollbackHook(rec)
	require.Equal(t, capi.OK, rc)

	assert.False(t, eng.FireCommit(c.NativePtr()))
	assert.Equal(t, 1, rec.Commits)
	assert.Equal(t, 1, rec.Rollbacks)
}

func TestCommitHook_PanicBecomesConnectionError(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{PanicMsg: "boom"}
	_, rc := c.SetCommitHook(rec)
	require.Equal(t, capi.OK, rc)

	// A panicking commit hook reads as a veto, with the panic recorded
	// on the connection's error state.
	assert.False(t, eng.FireCommit(c.NativePtr()))
	code, msg := eng.LastError(c.NativePtr())
	assert.Equal(t, capi.Error, code)
	assert.Contains(t, msg, "commit hook panicked")
	assert.Contains(t, msg, "boom")
}

func TestUpdateHook_ReceivesRowDetails(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{}
	_, rc := c.SetUpdateHook(rec)
	require.Equal(t, capi.OK, rc)

	eng.FireUpdate(c.NativePtr(), capi.OpInsert, "main", "users", 42)
	require.Equal(t, 1, rec.Updates)
	assert.Equal(t, capi.OpInsert, rec.LastOp)
	assert.Equal(t, "users", rec.LastTable)
	assert.Equal(t, int64(42), rec.LastRowid)
}

func TestRollbackHook_PanicIsSuppressed(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{PanicMsg: "boom"}
	_, rc := c.SetRollbackHook(rec)
	require.Equal(t, capi.OK, rc)

	// No result channel: the panic must not propagate or corrupt state.
	assert.NotPanics(t, func() { eng.FireRollback(c.NativePtr()) })
	assert.Equal(t, 1, rec.Rollbacks)

	// The connection is still fully usable.
	s, err := c.Prepare("rows 1")
	require.NoError(t, err)
	assert.Equal(t, capi.Row, s.Step())
	s.Finalize()
}

func TestTraceHook_EventsAndMask(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{}
	_, rc := c.SetTraceHook(capi.TraceStmt|capi.TraceRow|capi.TraceProfile, rec)
	require.Equal(t, capi.OK, rc)

	s, err := c.Prepare("rows 2")
	require.NoError(t, err)
	for s.Step() == capi.Row {
	}
	s.Finalize()

	// One Stmt event, two Row events, one Profile event.
	assert.Equal(t, 4, rec.Traces)
	assert.Equal(t, capi.TraceProfile, rec.LastTrace)

	// Row-only mask sees only rows.
	rec2 := &sbtest.Recorder{}
	_, rc = c.SetTraceHook(capi.TraceRow, rec2)
	require.Equal(t, capi.OK, rc)
	s, err = c.Prepare("rows 3")
	require.NoError(t, err)
	for s.Step() == capi.Row {
	}
	s.Finalize()
	assert.Equal(t, 3, rec2.Traces)
}

func TestTraceHook_StmtDetailIsSQL(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{}
	_, rc := c.SetTraceHook(capi.TraceStmt, rec)
	require.Equal(t, capi.OK, rc)

	s, err := c.Prepare("rows 1")
	require.NoError(t, err)
	s.Step()
	s.Finalize()

	assert.Equal(t, capi.TraceStmt, rec.LastTrace)
	assert.Equal(t, "rows 1", rec.LastDetail)
}

func TestProgressHandler_Interrupts(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{Veto: true}
	_, rc := c.SetProgressHandler(100, rec)
	require.Equal(t, capi.OK, rc)

	s, err := c.Prepare("rows 5")
	require.NoError(t, err)
	defer s.Finalize()

	assert.Equal(t, capi.Interrupt, s.Step())
	assert.Equal(t, 1, rec.Progress)
}

func TestBusyHandler_RetriesUntilUnlocked(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{}
	_, rc := c.SetBusyHandler(rec)
	require.Equal(t, capi.OK, rc)

	s, err := c.Prepare("busy")
	require.NoError(t, err)
	defer s.Finalize()

	assert.Equal(t, capi.Done, s.Step(), "persistent handler should outlast the lock")
	assert.Equal(t, 3, rec.BusyCalls)
}

func TestBusyHandler_GiveUpReturnsBusy(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{Veto: true}
	_, rc := c.SetBusyHandler(rec)
	require.Equal(t, capi.OK, rc)

	s, err := c.Prepare("busy")
	require.NoError(t, err)
	defer s.Finalize()

	assert.Equal(t, capi.Busy, s.Step())
	assert.Equal(t, 1, rec.BusyCalls)
}

func TestBusyHandler_ClearNotifiesDestroy(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{}
	_, rc := c.SetBusyHandler(rec)
	require.Equal(t, capi.OK, rc)

	prev, rc := c.SetBusyHandler(nil)
	require.Equal(t, capi.OK, rc)
	assert.Same(t, rec, prev)
	assert.Equal(t, 1, rec.Destroys, "busy handlers are destroy-notified on clear")
}

func TestBusyHandler_ReplacementSkipsDestroy(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	r1 := &sbtest.Recorder{}
	_, rc := c.SetBusyHandler(r1)
	require.Equal(t, capi.OK, rc)

	r2 := &sbtest.Recorder{}
	prev, rc := c.SetBusyHandler(r2)
	require.Equal(t, capi.OK, rc)
	assert.Same(t, r1, prev)
	assert.Zero(t, r1.Destroys, "ownership returns to the caller, no notification")
}

func TestBusyHandler_DestroyNotifiedOnClose(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	rec := &sbtest.Recorder{}
	_, rc := c.SetBusyHandler(rec)
	require.Equal(t, capi.OK, rc)

	require.Equal(t, capi.OK, c.Close())
	assert.Equal(t, 1, rec.Destroys)
}

type denyAll struct{ calls int }

func (d *denyAll) Authorize(action capi.AuthAction, arg1, arg2, db, trigger string) capi.AuthResult {
	d.calls++
	return capi.AuthDeny
}

func TestAuthorizer_DenyBlocksPrepare(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	auth := &denyAll{}
	_, rc := c.SetAuthorizer(auth)
	require.Equal(t, capi.OK, rc)

	_, err := c.Prepare("rows 1")
	require.Error(t, err)
	assert.Equal(t, 1, auth.calls)

	// Clearing restores normal preparation.
	prev, rc := c.SetAuthorizer(nil)
	require.Equal(t, capi.OK, rc)
	assert.Same(t, auth, prev)

	s, err := c.Prepare("rows 1")
	require.NoError(t, err)
	s.Finalize()
}

// caseBlind collates case-insensitively and records destroy notifications.
type caseBlind struct{ destroys int }

func (cb *caseBlind) Compare(a, b []byte) int {
	return bytes.Compare(bytes.ToLower(a), bytes.ToLower(b))
}

func (cb *caseBlind) OnDestroy() { cb.destroys++ }

func TestCreateCollation_CompareAndReplace(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	c1 := &caseBlind{}
	prev, rc := c.CreateCollation("nocase", c1)
	require.Equal(t, capi.OK, rc)
	assert.Nil(t, prev)

	res, err := eng.CompareUsing(c.NativePtr(), "nocase", []byte("ABC"), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, int32(0), res)

	// Replacement: the engine destroy-notifies the outgoing object.
	c2 := &caseBlind{}
	prev, rc = c.CreateCollation("nocase", c2)
	require.Equal(t, capi.OK, rc)
	assert.Same(t, c1, prev)
	assert.Equal(t, 1, c1.destroys)
	assert.Zero(t, c2.destroys)
}

func TestCreateCollation_DestroyNotifiedOnClose(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	coll := &caseBlind{}
	_, rc := c.CreateCollation("nocase", coll)
	require.Equal(t, capi.OK, rc)

	require.Equal(t, capi.OK, c.Close())
	assert.Equal(t, 1, coll.destroys, "exactly one notification at close")
}

func TestCreateCollation_PanicCollapsesToEqual(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	_, rc := c.CreateCollation("explosive", panicCollation{})
	require.Equal(t, capi.OK, rc)

	res, err := eng.CompareUsing(c.NativePtr(), "explosive", []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, int32(0), res)
}

type panicCollation struct{}

func (panicCollation) Compare(a, b []byte) int { panic("bad comparison") }

// registerOnDemand registers a case-blind collation when asked for it.
type registerOnDemand struct{ asked []string }

func (r *registerOnDemand) OnCollationNeeded(c *bridge.Conn, name string) {
	r.asked = append(r.asked, name)
	c.CreateCollation(name, &caseBlind{})
}

func TestCollationNeeded_RegistersOnDemand(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	handler := &registerOnDemand{}
	_, rc := c.SetCollationNeededHandler(handler)
	require.Equal(t, capi.OK, rc)

	require.True(t, eng.ResolveCollation(c.NativePtr(), "utf8up"))
	require.Equal(t, []string{"utf8up"}, handler.asked)

	// Once registered, the handler is not consulted again.
	require.True(t, eng.ResolveCollation(c.NativePtr(), "utf8up"))
	assert.Len(t, handler.asked, 1)
}

func TestHookSetters_MisuseAfterClose(t *testing.T) {
	rt, _ := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")
	require.Equal(t, capi.OK, c.Close())

	if _, rc := c.SetCommitHook(&sbtest.Recorder{}); rc != capi.Misuse {
		t.Errorf("SetCommitHook after close = %v, want Misuse", rc)
	}
	if _, rc := c.SetBusyHandler(&sbtest.Recorder{}); rc != capi.Misuse {
		t.Errorf("SetBusyHandler after close = %v, want Misuse", rc)
	}
	if _, rc := c.CreateCollation("x", &caseBlind{}); rc != capi.Misuse {
		t.Errorf("CreateCollation after close = %v, want Misuse", rc)
	}
	if !strings.Contains(c.ErrMsg(), "closed") {
		t.Errorf("ErrMsg after close = %q, want mention of closed", c.ErrMsg())
	}
}

// closureHook carries its behavior in a func field, which makes the value
// type uncomparable. Installing one must never trip the identity check.
type closureHook struct {
	fn func() bool
}

func (h closureHook) OnCommit() bool { return h.fn() }

type closureCollation struct {
	cmp func(a, b []byte) int
}

func (c closureCollation) Compare(a, b []byte) int { return c.cmp(a, b) }

func TestHookInstall_UncomparableHookType(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	commits := 0
	h := closureHook{fn: func() bool { commits++; return false }}

	_, rc := c.SetCommitHook(h)
	require.Equal(t, capi.OK, rc)

	// A second install of an uncomparable value has no identity to match;
	// it must re-register cleanly instead of panicking.
	prev, rc := c.SetCommitHook(h)
	require.Equal(t, capi.OK, rc)
	require.NotNil(t, prev)

	eng.FireCommit(c.NativePtr())
	assert.Equal(t, 1, commits, "one dispatch per event after reinstall")

	prev, rc = c.SetCommitHook(nil)
	require.Equal(t, capi.OK, rc)
	require.NotNil(t, prev)
}

func TestCreateCollation_UncomparableCollationType(t *testing.T) {
	rt, eng := sbtest.SetupRuntime(t)
	c := sbtest.OpenConn(t, rt, ":memory:")

	coll := closureCollation{cmp: func(a, b []byte) int { return bytes.Compare(a, b) }}

	_, rc := c.CreateCollation("closure", coll)
	require.Equal(t, capi.OK, rc)

	// Re-registering under the same name replaces instead of panicking on
	// the identity check.
	_, rc = c.CreateCollation("closure", coll)
	require.Equal(t, capi.OK, rc)

	res, err := eng.CompareUsing(c.NativePtr(), "closure", []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.Negative(t, res)
	require.Equal(t, capi.OK, c.Close())
}
