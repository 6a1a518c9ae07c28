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

// Package testing provides test helpers for sqlbridge integration tests.
//
// # Quick Start
//
// Use SetupRuntime to get a bridge runtime wired to a fresh in-memory
// engine, and OpenConn to open connections that close themselves on test
// cleanup:
//
//	func TestMyFeature(t *testing.T) {
//	    rt, eng := testing.SetupRuntime(t)
//	    c := testing.OpenConn(t, rt, ":memory:")
//
//	    rec := &testing.Recorder{}
//	    _, rc := c.SetCommitHook(rec)
//	    require.Equal(t, capi.OK, rc)
//
//	    require.True(t, eng.FireCommit(c.NativePtr()))
//	    require.Equal(t, 1, rec.Commits)
//	}
//
// # Recorder
//
// Recorder implements every per-connection hook interface at once and
// counts invocations. Set Veto to exercise the failure returns (commit
// veto, progress interrupt, busy give-up) and PanicMsg to exercise the
// bridge's panic containment.
package testing
