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
	"strconv"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// cell is one boxed value, typed the way the engine types it.
type cell struct {
	typ capi.ValueType
	i   int64
	f   float64
	s   string
	b   []byte
}

func makeCell(v any) cell {
	switch x := v.(type) {
	case nil:
		return cell{typ: capi.TypeNull}
	case int:
		return cell{typ: capi.TypeInteger, i: int64(x)}
	case int32:
		return cell{typ: capi.TypeInteger, i: int64(x)}
	case int64:
		return cell{typ: capi.TypeInteger, i: x}
	case bool:
		c := cell{typ: capi.TypeInteger}
		if x {
			c.i = 1
		}
		return c
	case float64:
		return cell{typ: capi.TypeFloat, f: x}
	case string:
		return cell{typ: capi.TypeText, s: x}
	case []byte:
		return cell{typ: capi.TypeBlob, b: x}
	default:
		return cell{typ: capi.TypeNull}
	}
}

// boxArgs allocates value cells for args and returns their pointers.
// Callers must release them with unboxArgs when the invocation ends.
func (e *Engine) boxArgs(args []any) []capi.Ptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	ptrs := make([]capi.Ptr, len(args))
	for i, a := range args {
		p := e.alloc()
		e.values[p] = makeCell(a)
		ptrs[i] = p
	}
	return ptrs
}

func (e *Engine) unboxArgs(ptrs []capi.Ptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range ptrs {
		delete(e.values, p)
	}
}

func (e *Engine) valueType(p capi.Ptr) capi.ValueType {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.values[p]; ok {
		return c.typ
	}
	return capi.TypeNull
}

func (e *Engine) valueInt64(p capi.Ptr) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.values[p]
	if !ok {
		return 0
	}
	switch c.typ {
	case capi.TypeInteger:
		return c.i
	case capi.TypeFloat:
		return int64(c.f)
	case capi.TypeText:
		n, _ := strconv.ParseInt(c.s, 10, 64)
		return n
	}
	return 0
}

func (e *Engine) valueDouble(p capi.Ptr) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.values[p]
	if !ok {
		return 0
	}
	switch c.typ {
	case capi.TypeInteger:
		return float64(c.i)
	case capi.TypeFloat:
		return c.f
	case capi.TypeText:
		f, _ := strconv.ParseFloat(c.s, 64)
		return f
	}
	return 0
}

func (e *Engine) valueText(p capi.Ptr) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.values[p]
	if !ok {
		return ""
	}
	switch c.typ {
	case capi.TypeInteger:
		return strconv.FormatInt(c.i, 10)
	case capi.TypeFloat:
		return strconv.FormatFloat(c.f, 'g', -1, 64)
	case capi.TypeText:
		return c.s
	case capi.TypeBlob:
		return string(c.b)
	}
	return ""
}

func (e *Engine) valueBlob(p capi.Ptr) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.values[p]
	if !ok {
		return nil
	}
	switch c.typ {
	case capi.TypeText:
		return []byte(c.s)
	case capi.TypeBlob:
		return c.b
	}
	return nil
}
