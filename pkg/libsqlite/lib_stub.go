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

//go:build !darwin && !linux

package libsqlite

import (
	"fmt"
	"runtime"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// Library is unavailable on this platform.
type Library struct{}

func Load(path string) (*Library, error) {
	return nil, fmt.Errorf("libsqlite: dynamic loading is not supported on %s", runtime.GOOS)
}

func DefaultPaths() []string { return nil }

func (l *Library) Caps() capi.Capability { return 0 }
func (l *Library) Version() string       { return "" }
func (l *Library) API() *capi.API        { return nil }
