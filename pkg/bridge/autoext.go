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
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// AutoExtension is a process-wide startup callback invoked once per new
// connection, synchronously inside the native open call, before the
// connection is returned to its opener. The connection passed to OnOpen is
// fully bound and may install hooks, register functions, and so on.
//
// A non-nil error (or a panic) contributes to the open error; the
// remaining registered extensions still run.
type AutoExtension interface {
	OnOpen(c *Conn) error
}

// autoExtList is the process-wide ordered extension list, guarded by its
// own mutex. Entries are unique by object identity. Removal swap-deletes,
// so order among the remaining entries is not preserved across a cancel.
type autoExtList struct {
	mu        sync.Mutex
	exts      []AutoExtension
	installed bool
}

// RegisterAutoExtension adds ext to the startup list. Registering an
// already-registered extension is a no-op, not a second registration. The
// first-ever registration also installs the bridge's single startup hook
// with the engine.
func (rt *Runtime) RegisterAutoExtension(ext AutoExtension) capi.Code {
	if ext == nil {
		return capi.Misuse
	}
	l := &rt.autoExt
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.exts {
		if sameObject(e, ext) {
			return capi.OK
		}
	}
	if !l.installed {
		if rc := rt.api.AutoExtension(rt.runAutoExtensions); rc != capi.OK {
			return rc
		}
		l.installed = true
	}
	l.exts = append(l.exts, ext)
	return capi.OK
}

// CancelAutoExtension removes ext from the startup list, reporting whether
// it was registered. The scan runs in reverse so the most recent duplicate
// registration attempt is the one found first.
func (rt *Runtime) CancelAutoExtension(ext AutoExtension) bool {
	if ext == nil {
		return false
	}
	l := &rt.autoExt
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.exts) - 1; i >= 0; i-- {
		if !sameObject(l.exts[i], ext) {
			continue
		}
		last := len(l.exts) - 1
		l.exts[i] = l.exts[last]
		l.exts[last] = nil
		l.exts = l.exts[:last]
		return true
	}
	return false
}

// runAutoExtensions is the startup hook registered with the engine. It
// runs inside the native open call: the connection being opened exists
// natively (db) but the host-side binding is still staged in the opener's
// thread context. The hook completes the binding early, then walks the
// extension list.
//
// Each entry is copied out under the list mutex and invoked without it. A
// failing or panicking extension does not stop the walk; failures
// aggregate into the open error. Mutating the list from inside an
// extension while this walk is in progress has no defined order, matching
// the native behavior.
func (rt *Runtime) runAutoExtensions(tok capi.Token, db capi.Ptr) (capi.Code, string) {
	l := &rt.autoExt
	l.mu.Lock()
	n := len(l.exts)
	l.mu.Unlock()
	if n == 0 {
		return capi.OK, ""
	}

	tc := rt.envs.current(tok)
	st := tc.opening
	if st == nil {
		rt.log.Warn("bridge.autoext.no_staged_connection", "token", uint64(tok))
		return capi.Error, "auto-extension run with no staged connection"
	}
	tc.opening = nil
	rt.bind(st, db)
	c := &Conn{rt: rt, st: st, h: st.handle}

	var errs *multierror.Error
	for i := 0; ; i++ {
		l.mu.Lock()
		if i >= len(l.exts) {
			l.mu.Unlock()
			break
		}
		ext := l.exts[i]
		l.mu.Unlock()

		brMetrics.autoExtRuns.Inc()
		if err := rt.runOneExtension(ext, c); err != nil {
			brMetrics.autoExtFailures.Inc()
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		return capi.Error, fmt.Sprintf("auto-extension failed: %v", errs)
	}
	return capi.OK, ""
}

func (rt *Runtime) runOneExtension(ext AutoExtension, c *Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			brMetrics.panicsSuppressed.Inc()
			err = fmt.Errorf("auto-extension panicked: %v", r)
		}
	}()
	return ext.OnOpen(c)
}
