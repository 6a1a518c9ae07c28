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

// Package bootstrap handles sqlbridge configuration and runtime setup.
//
// This internal package loads the YAML configuration, configures the
// process logger, and builds a bridge.Runtime around the selected engine.
// It is the single place the CLI goes from "flags and files" to a working
// runtime.
//
// # Workflow
//
// A typical startup sequence:
//
//	cfg, err := bootstrap.LoadConfig("") // ~/.sqlbridge/config.yaml
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger := bootstrap.SetupLogger(cfg)
//	rt, info, err := bootstrap.NewRuntime(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("engine %s %s\n", info.Kind, info.Version)
//
// # Configuration
//
// Config controls runtime construction:
//
//   - Engine: "sqlite" (native shared library, default) or "memory"
//     (in-process engine, useful for smoke tests without a library).
//   - Library: path to the SQLite shared library. Empty uses the
//     platform's default search list.
//   - LogLevel: "debug", "info", "warn", or "error". Defaults to "info".
//   - LogFormat: "text" or "json". Defaults to "text".
//
// A missing config file is not an error; defaults apply.
package bootstrap
