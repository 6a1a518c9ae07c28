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

// Package memengine is a pure-Go engine that implements the capi function
// table without loading a native library. It models the registration and
// callback contracts of the real engine -- hook replacement semantics,
// destroy notification, the startup hook inside open, aggregate-context
// slots -- and adds Fire*/Simulate* methods so tests and the probe command
// can trigger engine-originated events deterministically.
//
// It is not a SQL engine. Prepare accepts a tiny command language
// ("rows N" yields N Row steps; "busy" exercises the busy handler) that
// exists only to drive the statement and callback paths.
package memengine
