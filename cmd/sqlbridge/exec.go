// Copyright 2025 KrakLabs
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

package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/sqlbridge/internal/bootstrap"
	"github.com/kraklabs/sqlbridge/internal/errors"
	"github.com/kraklabs/sqlbridge/internal/output"
	"github.com/kraklabs/sqlbridge/internal/ui"
	"github.com/kraklabs/sqlbridge/pkg/bridge"
	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// StatementResult reports one executed statement for JSON output.
type StatementResult struct {
	SQL   string `json:"sql"`
	Rows  int    `json:"rows"`
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

// ExecResult reports an exec run for JSON output.
type ExecResult struct {
	Database   string            `json:"database"`
	Statements []StatementResult `json:"statements"`
	Commits    int               `json:"commits,omitempty"`
	Rollbacks  int               `json:"rollbacks,omitempty"`
	Updates    int               `json:"updates,omitempty"`
}

// execHooks counts transaction and row events during an exec run.
type execHooks struct {
	commits, rollbacks, updates int
}

func (h *execHooks) OnCommit() bool { h.commits++; return false }
func (h *execHooks) OnRollback()    { h.rollbacks++ }
func (h *execHooks) OnUpdate(op capi.UpdateOp, db, table string, rowid int64) {
	h.updates++
}

// traceLogger forwards engine trace events to the process logger.
type traceLogger struct {
	log *slog.Logger
}

func (t *traceLogger) OnTrace(ev capi.TraceMask, target bridge.Handle, detailText string, detailInt int64) {
	switch ev {
	case capi.TraceStmt:
		t.log.Info("trace.stmt", "sql", detailText)
	case capi.TraceRow:
		t.log.Debug("trace.row")
	case capi.TraceProfile:
		t.log.Info("trace.profile", "nanos", detailInt)
	case capi.TraceClose:
		t.log.Info("trace.close")
	}
}

// runExec executes the 'exec' CLI command.
//
// It opens a database through the bridge runtime, optionally installs
// transaction hooks and a trace hook, and runs each argument as one
// statement through the prepare/step/finalize cycle.
//
// Flags:
//   - --db: Database to open (default: ":memory:")
//   - --library, --engine: Engine overrides, as in probe
//   - --hooks: Install commit/rollback/update hooks and report their counts
//   - --trace: Log engine trace events
//
// Examples:
//
//	sqlbridge exec "CREATE TABLE t (x)" "INSERT INTO t VALUES (1)"
//	sqlbridge exec --db app.db --hooks "INSERT INTO t VALUES (2)"
func runExec(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	db := fs.String("db", ":memory:", "Database to open")
	library := fs.String("library", "", "Shared library path (overrides config)")
	engine := fs.String("engine", "", "Engine: sqlite or memory (overrides config)")
	hooks := fs.Bool("hooks", false, "Install transaction hooks and report counts")
	trace := fs.Bool("trace", false, "Log engine trace events")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: sqlbridge exec [options] <sql> [<sql>...]

Description:
  Open a database through the bridge runtime and run each argument as
  one statement. Row-producing statements report the number of rows
  stepped; the connection is closed at the end.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  sqlbridge exec "CREATE TABLE t (x)"
  sqlbridge exec --db app.db --hooks "INSERT INTO t VALUES (1)"
  sqlbridge exec --trace "SELECT * FROM t"
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	stmts := fs.Args()
	if len(stmts) == 0 {
		errors.FatalError(errors.NewInputError(
			"No statements given",
			"exec needs at least one SQL argument",
			"Pass statements as arguments: sqlbridge exec \"SELECT 1\"",
		), globals.JSON)
	}

	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load sqlbridge configuration",
			err.Error(),
			"Fix the config file or delete it to use defaults",
			err,
		), globals.JSON)
	}
	if *library != "" {
		cfg.Library = *library
	}
	if *engine != "" {
		cfg.Engine = *engine
	}

	logger := bootstrap.SetupLogger(cfg)
	rt, _, err := bootstrap.NewRuntime(cfg, logger)
	if err != nil {
		errors.FatalError(errors.NewLibraryError(
			"Cannot load the engine",
			err.Error(),
			"Install sqlite3 or point --library at a shared library",
			err,
		), globals.JSON)
	}

	c, err := rt.Open(bridge.NewToken(), *db)
	if err != nil {
		errors.FatalError(errors.NewLibraryError(
			fmt.Sprintf("Cannot open %s", *db),
			err.Error(),
			"Check that the path exists and is writable",
			err,
		), globals.JSON)
	}
	defer c.Close()

	var counters *execHooks
	if *hooks {
		counters = &execHooks{}
		if _, rc := c.SetCommitHook(counters); rc != capi.OK {
			logger.Warn("exec.hook.install_failed", "hook", "commit", "code", rc.String())
		}
		if _, rc := c.SetRollbackHook(counters); rc != capi.OK {
			logger.Warn("exec.hook.install_failed", "hook", "rollback", "code", rc.String())
		}
		if _, rc := c.SetUpdateHook(counters); rc != capi.OK {
			logger.Warn("exec.hook.install_failed", "hook", "update", "code", rc.String())
		}
	}
	if *trace {
		mask := capi.TraceStmt | capi.TraceProfile | capi.TraceClose
		if _, rc := c.SetTraceHook(mask, &traceLogger{log: logger}); rc != capi.OK {
			logger.Warn("exec.trace.install_failed", "code", rc.String())
		}
	}

	result := &ExecResult{Database: *db}
	failed := false
	for _, sql := range stmts {
		sr := StatementResult{SQL: sql}
		s, err := c.Prepare(sql)
		if err != nil {
			sr.Code = capi.Error.String()
			sr.Error = c.ErrMsg()
			failed = true
			result.Statements = append(result.Statements, sr)
			continue
		}
		var rc capi.Code
		for {
			rc = s.Step()
			if rc != capi.Row {
				break
			}
			sr.Rows++
		}
		if rc != capi.Done {
			sr.Error = c.ErrMsg()
			failed = true
		}
		sr.Code = rc.String()
		s.Finalize()
		result.Statements = append(result.Statements, sr)
	}

	if counters != nil {
		result.Commits = counters.commits
		result.Rollbacks = counters.rollbacks
		result.Updates = counters.updates
	}

	if globals.JSON {
		if err := output.JSON(result); err != nil {
			errors.FatalError(err, true)
		}
	} else {
		for _, sr := range result.Statements {
			if sr.Error != "" {
				ui.Errorf("%s: %s (%s)", sr.SQL, sr.Error, sr.Code)
				continue
			}
			if sr.Rows > 0 {
				ui.Successf("%s (%d rows)", sr.SQL, sr.Rows)
			} else {
				ui.Success(sr.SQL)
			}
		}
		if counters != nil {
			fmt.Printf("%s commits=%d rollbacks=%d updates=%d\n",
				ui.Label("Hooks:"), counters.commits, counters.rollbacks, counters.updates)
		}
	}

	if failed {
		os.Exit(errors.ExitLibrary)
	}
}
