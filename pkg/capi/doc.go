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

// Package capi defines the capability surface a native SQLite-style engine
// presents to the bridge runtime.
//
// The engine is described entirely by API, a fixed C-style function table.
// The bridge never imports an engine package directly; it is handed a
// populated *API and drives the engine through it. Two implementations ship
// with this module:
//
//   - pkg/memengine: a pure-Go, in-memory engine with explicit event
//     triggering, used for tests and embedding.
//   - pkg/libsqlite: a dynamic loader that fills the table from a real
//     libsqlite3 shared library.
//
// # Pointers and tokens
//
// Ptr is an opaque native pointer. The bridge treats it as a number: it is
// never dereferenced on the Go side, only passed back through the table.
// A zero Ptr means "not bound" or "closed".
//
// Token identifies a calling thread of execution. The table threads the
// token supplied to OpenV2 through to the startup hook installed with
// AutoExtension, so the hook can locate per-caller state staged before the
// open call. This replaces the thread-local lookup a C binding would use.
//
// # Output parameters
//
// Calls that produce more than a result code write through output-pointer
// boxes (OutPtr, OutInt32, OutInt64). A box's prior value is undefined
// until the call returns OK.
//
// # Capability flags
//
// Engines may be built without optional hook families. The corresponding
// table entries must still be callable; FillUnsupported installs stubs that
// return Unsupported for any entry left nil, and Caps records which
// families are functional.
package capi
