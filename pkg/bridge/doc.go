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

// Package bridge is the runtime that lets garbage-collected host code drive
// a manually-memory-managed native engine and receive callbacks from it.
//
// The engine is supplied as a capi.API function table; the bridge owns
// everything on the host side of that table:
//
//   - a generation-tagged handle table pairing native pointers with host
//     handles, with explicit invalidation so stale handles are detectably
//     dead rather than dangling;
//   - a per-caller thread-context cache whose staging slot coordinates
//     auto-extension execution during connection open;
//   - a pooled per-connection state store holding every hook registration
//     for that connection;
//   - the hook registry and dispatch trampolines, including the
//     panic-translation policy for each call site;
//   - the process-wide auto-extension registry;
//   - user-defined-function dispatch with role detection at registration.
//
// # Construction
//
// A Runtime is built around one engine table:
//
//	eng := memengine.New()
//	rt, err := bridge.New(eng.API())
//	...
//	tok := bridge.NewToken()
//	conn, err := rt.Open(tok, ":memory:")
//
// All dispatch is synchronous: a callback runs on whichever thread
// re-entered the bridge, and no bridge mutex is held while any host
// callback executes, so callbacks may freely re-enter the bridge.
//
// # Callback contracts
//
// Host callbacks are plain Go objects implementing the per-kind interfaces
// (CommitHook, BusyHandler, ScalarFunction, ...). A panic escaping a
// callback never crosses the native boundary: for call sites with a result
// channel (commit, busy, progress, authorizer, UDFs) it is converted to an
// error code on the owning connection; for the rest (rollback, update,
// trace, collation-needed) it is logged and suppressed.
package bridge
