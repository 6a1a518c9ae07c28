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
// Package main implements the sqlbridge CLI for inspecting and exercising
// a SQLite engine through the bridge runtime.
//
// Usage:
//
//	sqlbridge probe [--json]        Load the engine and report its capabilities
//	sqlbridge exec <sql...>         Open a database and run statements
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kraklabs/sqlbridge/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags carries flags that apply to every command.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
}

// main is the entry point for the sqlbridge CLI.
//
// It parses global flags and dispatches to command handlers.
//
// Global flags:
//   - --version: Display version information and exit
//   - --config: Path to config.yaml (default: ~/.sqlbridge/config.yaml)
//   - --json: Machine-readable output
//   - --no-color: Disable colored output
//
// Commands:
//   - probe: Load the engine and report version, capabilities, compile options
//   - exec: Open a database and run statements through the bridge
func main() {
	// Global flags
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "", "Path to config.yaml (default: ~/.sqlbridge/config.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output as JSON")
		noColor     = flag.Bool("no-color", false, "Disable colored output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `sqlbridge - host bridge for the SQLite C library

sqlbridge loads a SQLite shared library without cgo and drives it
through a handle-based bridge runtime: connections, statements, hooks,
collations, and user functions all cross the boundary through stable
host handles.

Usage:
  sqlbridge <command> [options]

Commands:
  probe         Load the engine and report version and capabilities
  exec          Open a database and run statements

Global Options:
  --config      Path to config.yaml (default: ~/.sqlbridge/config.yaml)
  --json        Machine-readable output
  --no-color    Disable colored output
  --version     Show version and exit

Examples:
  sqlbridge probe                    Report the default library's capabilities
  sqlbridge probe --json             Output as JSON
  sqlbridge exec "CREATE TABLE t (x)" "INSERT INTO t VALUES (1)"
  sqlbridge exec --db app.db --trace "SELECT * FROM t"

Configuration:
  ~/.sqlbridge/config.yaml selects the engine ("sqlite" or "memory"),
  the shared library path, and logging. A missing file means defaults.

For detailed command help: sqlbridge <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("sqlbridge version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	globals := GlobalFlags{JSON: *jsonOutput, NoColor: *noColor}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "probe":
		runProbe(cmdArgs, *configPath, globals)
	case "exec":
		runExec(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
