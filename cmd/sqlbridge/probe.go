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
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/sqlbridge/internal/bootstrap"
	"github.com/kraklabs/sqlbridge/internal/errors"
	"github.com/kraklabs/sqlbridge/internal/output"
	"github.com/kraklabs/sqlbridge/internal/ui"
	"github.com/kraklabs/sqlbridge/pkg/bridge"
	"github.com/kraklabs/sqlbridge/pkg/capi"
)

// ProbeResult represents the probe report for JSON output.
type ProbeResult struct {
	Engine         string   `json:"engine"`
	Source         string   `json:"source"`
	Version        string   `json:"version"`
	VersionNumber  int32    `json:"version_number"`
	Caps           string   `json:"caps"`
	OpenOK         bool     `json:"open_ok"`
	CompileOptions []string `json:"compile_options,omitempty"`
}

// runProbe executes the 'probe' CLI command.
//
// It loads the configured engine, builds a bridge runtime, opens and closes
// a scratch in-memory connection to verify the open path, and reports the
// engine's version and optional-family capabilities.
//
// Flags:
//   - --library: Shared library path (overrides config)
//   - --engine: Engine selection, "sqlite" or "memory" (overrides config)
//   - --compile-options: Also list the engine's compile-time options
//
// Examples:
//
//	sqlbridge probe                      Probe the default library
//	sqlbridge probe --library ./my.so    Probe a specific build
//	sqlbridge probe --compile-options    Include compile options
func runProbe(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	library := fs.String("library", "", "Shared library path (overrides config)")
	engine := fs.String("engine", "", "Engine: sqlite or memory (overrides config)")
	compileOpts := fs.Bool("compile-options", false, "List compile-time options")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: sqlbridge probe [options]

Description:
  Load the engine, verify the connection open path, and report the
  engine's version and optional capabilities (trace, progress,
  authorizer, preupdate, column metadata, normalized SQL, serialize).

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  sqlbridge probe
  sqlbridge probe --library /usr/lib/libsqlite3.so.0
  sqlbridge probe --engine memory --json
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
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
	rt, info, err := bootstrap.NewRuntime(cfg, logger)
	if err != nil {
		errors.FatalError(errors.NewLibraryError(
			"Cannot load the engine",
			err.Error(),
			"Install sqlite3 or point --library at a shared library",
			err,
		), globals.JSON)
	}

	result := &ProbeResult{
		Engine:        info.Kind,
		Source:        info.Source,
		Version:       info.Version,
		VersionNumber: rt.API().LibversionNumber(),
		Caps:          info.Caps.String(),
	}

	// Verify the open path end to end with a scratch connection.
	c, err := rt.Open(bridge.NewToken(), ":memory:")
	if err == nil {
		result.OpenOK = c.Close() == capi.OK
	}

	if *compileOpts {
		for i := int32(0); ; i++ {
			opt := rt.API().CompileOptionGet(i)
			if opt == "" {
				break
			}
			result.CompileOptions = append(result.CompileOptions, opt)
		}
	}

	if globals.JSON {
		if err := output.JSON(result); err != nil {
			errors.FatalError(err, true)
		}
		return
	}

	ui.Header("sqlbridge Probe Report")
	fmt.Printf("%s %s\n", ui.Label("Engine:"), result.Engine)
	fmt.Printf("%s %s\n", ui.Label("Source:"), ui.DimText(result.Source))
	fmt.Printf("%s %s (%d)\n", ui.Label("Version:"), result.Version, result.VersionNumber)
	caps := result.Caps
	if caps == "none" {
		caps = ui.DimText(caps)
	}
	fmt.Printf("%s %s\n", ui.Label("Capabilities:"), caps)
	if result.OpenOK {
		ui.Success("Opened and closed a scratch connection")
	} else {
		ui.Error("Scratch connection failed")
	}
	if *compileOpts {
		ui.SubHeader("Compile options:")
		for _, opt := range result.CompileOptions {
			fmt.Printf("  %s\n", opt)
		}
	}

	if !result.OpenOK {
		os.Exit(errors.ExitLibrary)
	}
}
