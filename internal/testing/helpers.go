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

package testing

import (
	"sync"
	"testing"

	"github.com/kraklabs/sqlbridge/pkg/bridge"
	"github.com/kraklabs/sqlbridge/pkg/capi"
	"github.com/kraklabs/sqlbridge/pkg/memengine"
)

// SetupRuntime creates a bridge runtime backed by a fresh in-memory
// engine.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    rt, eng := testing.SetupRuntime(t)
//	    c := testing.OpenConn(t, rt, ":memory:")
//
//	    // Register hooks, then trigger them through eng.Fire*...
//	    _ = eng
//	    _ = c
//	}
func SetupRuntime(t *testing.T) (*bridge.Runtime, *memengine.Engine) {
	t.Helper()

	eng := memengine.New()
	rt, err := bridge.New(eng.API())
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}
	return rt, eng
}

// OpenConn opens a connection and registers cleanup to close it. Closing
// an already-closed connection in cleanup is harmless (Misuse, ignored).
func OpenConn(t *testing.T, rt *bridge.Runtime, name string) *bridge.Conn {
	t.Helper()

	c, err := rt.Open(bridge.NewToken(), name)
	if err != nil {
		t.Fatalf("failed to open %q: %v", name, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// Recorder counts every callback it receives and can be primed to veto,
// panic, or give up. One Recorder may serve several hook roles at once.
type Recorder struct {
	mu sync.Mutex

	Commits   int
	Rollbacks int
	Updates   int
	Traces    int
	Progress  int
	BusyCalls int
	Destroys  int

	// Veto makes OnCommit veto, OnProgress interrupt, and OnBusy give up.
	Veto bool
	// PanicMsg, when non-empty, makes every callback panic with it.
	PanicMsg string

	LastOp     capi.UpdateOp
	LastTable  string
	LastRowid  int64
	LastTrace  capi.TraceMask
	LastDetail string
}

func (r *Recorder) maybePanic() {
	if r.PanicMsg != "" {
		panic(r.PanicMsg)
	}
}

func (r *Recorder) OnCommit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commits++
	r.maybePanic()
	return r.Veto
}

func (r *Recorder) OnRollback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rollbacks++
	r.maybePanic()
}

func (r *Recorder) OnUpdate(op capi.UpdateOp, db, table string, rowid int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates++
	r.LastOp, r.LastTable, r.LastRowid = op, table, rowid
	r.maybePanic()
}

func (r *Recorder) OnTrace(ev capi.TraceMask, target bridge.Handle, detailText string, detailInt int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Traces++
	r.LastTrace, r.LastDetail = ev, detailText
	r.maybePanic()
}

func (r *Recorder) OnProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress++
	r.maybePanic()
	return r.Veto
}

func (r *Recorder) OnBusy(count int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BusyCalls++
	r.maybePanic()
	return !r.Veto
}

func (r *Recorder) OnDestroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Destroys++
}

// Counts returns a stable snapshot for assertions.
func (r *Recorder) Counts() (commits, rollbacks, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Commits, r.Rollbacks, r.Updates
}
