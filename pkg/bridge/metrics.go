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

	"github.com/prometheus/client_golang/prometheus"
)

// metricsBridge holds Prometheus metrics for the bridge runtime.
type metricsBridge struct {
	once sync.Once

	// Handle table
	handleWraps         prometheus.Counter
	handleInvalidations prometheus.Counter

	// Thread-context cache
	threadCtxCreated  prometheus.Counter
	threadCtxUncached prometheus.Counter

	// Connection-state pool
	statePoolFresh    prometheus.Counter
	statePoolRecycled prometheus.Counter
	statePoolReleased prometheus.Counter

	// Hooks
	hookInstalls     prometheus.Counter
	hookDispatches   prometheus.Counter
	panicsSuppressed prometheus.Counter

	// Auto-extensions
	autoExtRuns     prometheus.Counter
	autoExtFailures prometheus.Counter

	// UDFs
	udfScalarCalls prometheus.Counter
	udfStepCalls   prometheus.Counter
	udfFinalCalls  prometheus.Counter
}

var brMetrics metricsBridge

func (m *metricsBridge) init() {
	m.once.Do(func() {
		m.handleWraps = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_handle_wraps_total", Help: "Native pointers wrapped into handles"})
		m.handleInvalidations = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_handle_invalidations_total", Help: "Handles invalidated"})

		m.threadCtxCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_threadctx_created_total", Help: "Thread contexts allocated fresh"})
		m.threadCtxUncached = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_threadctx_uncached_total", Help: "Thread contexts moved to the free list"})

		m.statePoolFresh = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_statepool_fresh_total", Help: "Connection states allocated fresh"})
		m.statePoolRecycled = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_statepool_recycled_total", Help: "Connection states reused from the free list"})
		m.statePoolReleased = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_statepool_released_total", Help: "Connection states returned to the free list"})

		m.hookInstalls = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_hook_installs_total", Help: "Hook registrations applied"})
		m.hookDispatches = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_hook_dispatches_total", Help: "Engine callbacks dispatched to host hooks"})
		m.panicsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_panics_suppressed_total", Help: "Host callback panics converted to error results or logs"})

		m.autoExtRuns = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_autoext_runs_total", Help: "Auto-extension sweeps on connection open"})
		m.autoExtFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_autoext_failures_total", Help: "Auto-extension callbacks that returned an error or panicked"})

		m.udfScalarCalls = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_udf_scalar_calls_total", Help: "Scalar UDF invocations"})
		m.udfStepCalls = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_udf_step_calls_total", Help: "Aggregate/window step and inverse invocations"})
		m.udfFinalCalls = prometheus.NewCounter(prometheus.CounterOpts{Name: "sqlbridge_udf_final_calls_total", Help: "Aggregate final and window value invocations"})

		prometheus.MustRegister(
			m.handleWraps, m.handleInvalidations,
			m.threadCtxCreated, m.threadCtxUncached,
			m.statePoolFresh, m.statePoolRecycled, m.statePoolReleased,
			m.hookInstalls, m.hookDispatches, m.panicsSuppressed,
			m.autoExtRuns, m.autoExtFailures,
			m.udfScalarCalls, m.udfStepCalls, m.udfFinalCalls,
		)
	})
}
