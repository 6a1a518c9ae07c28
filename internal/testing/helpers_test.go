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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// TestSetupRuntime verifies the runtime is created and usable.
func TestSetupRuntime(t *testing.T) {
	rt, eng := SetupRuntime(t)
	require.NotNil(t, rt)
	require.NotNil(t, eng)

	c := OpenConn(t, rt, ":memory:")
	require.NotZero(t, c.NativePtr())
	assert.Equal(t, 1, eng.OpenConns())
}

// TestRecorder_CommitVeto verifies Veto flows through the hook return.
func TestRecorder_CommitVeto(t *testing.T) {
	rt, eng := SetupRuntime(t)
	c := OpenConn(t, rt, ":memory:")

	rec := &Recorder{Veto: true}
	_, rc := c.SetCommitHook(rec)
	require.Equal(t, capi.OK, rc)
	_, rc = c.SetRollbackHook(rec)
	require.Equal(t, capi.OK, rc)

	committed := eng.FireCommit(c.NativePtr())
	assert.False(t, committed, "vetoed commit should not commit")

	commits, rollbacks, _ := rec.Counts()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks, "veto should trigger the rollback hook")
}
