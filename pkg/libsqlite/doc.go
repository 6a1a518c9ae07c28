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

// Package libsqlite adapts a dynamically loaded SQLite library to the capi
// function table, without cgo. Symbols are bound through purego; host
// callbacks cross into C through a fixed set of process-wide trampolines
// (one per callback kind) that dispatch on the registration context, so
// the number of native callback slots stays constant no matter how many
// hooks are registered.
//
// Optional entry points are probed at load time and reported as
// capability flags: a library compiled without the trace or authorizer
// family yields a table whose entries return Unsupported instead of a
// load failure.
//
//	lib, err := libsqlite.Load("")        // "" = search DefaultPaths
//	if err != nil { ... }
//	rt, err := bridge.New(lib.API())
package libsqlite
