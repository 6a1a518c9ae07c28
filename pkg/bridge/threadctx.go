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

package bridge

import (
	"sync"

	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// threadContext is per-caller scratch state, keyed by the caller's opaque
// token. Its one interesting field is the staging slot used while a
// connection is mid-open: OpenV2 parks the half-built connection state here
// so the auto-extension startup hook, running synchronously inside the
// native open call, can find and finish it.
//
// A threadContext must not be used for the same token from two OS threads
// at once. That is a design invariant of the callers, not something the
// cache enforces.
type threadContext struct {
	tok     capi.Token
	opening *connState

	next, prev *threadContext
}

// threadCache is the used/free list pair for thread contexts, guarded by
// its own mutex (one of the independently locked bridge domains). Tokens
// that are never uncached occupy an entry for the life of the process; that
// leak is documented and bounded by the number of distinct tokens.
type threadCache struct {
	mu   sync.Mutex
	used *threadContext
	free *threadContext
}

// current returns the context for tok, allocating from the free list or
// fresh when tok has none yet.
func (c *threadCache) current(tok capi.Token) *threadContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tc := c.used; tc != nil; tc = tc.next {
		if tc.tok == tok {
			return tc
		}
	}
	tc := c.free
	if tc != nil {
		c.free = tc.next
		*tc = threadContext{}
	} else {
		tc = &threadContext{}
		brMetrics.threadCtxCreated.Inc()
	}
	tc.tok = tok
	tc.next = c.used
	if c.used != nil {
		c.used.prev = tc
	}
	c.used = tc
	return tc
}

// uncache drops tok's context, returning it to the free list. Reports
// whether an entry existed. One-shot per cached token: a second call for
// the same token returns false.
func (c *threadCache) uncache(tok capi.Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tc := c.used; tc != nil; tc = tc.next {
		if tc.tok != tok {
			continue
		}
		if tc.prev != nil {
			tc.prev.next = tc.next
		} else {
			c.used = tc.next
		}
		if tc.next != nil {
			tc.next.prev = tc.prev
		}
		*tc = threadContext{}
		tc.next = c.free
		c.free = tc
		brMetrics.threadCtxUncached.Inc()
		return true
	}
	return false
}
