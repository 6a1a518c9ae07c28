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

package capi

import "fmt"

// Code is a native result code. Values match the SQLite numbering so that
// codes produced by a real library pass through the bridge unchanged.
type Code int32

const (
	OK        Code = 0
	Error     Code = 1
	Internal  Code = 2
	Abort     Code = 4
	Busy      Code = 5
	Locked    Code = 6
	NoMem     Code = 7
	Interrupt Code = 9
	NotFound  Code = 12
	Auth      Code = 23
	Misuse    Code = 21
	Range     Code = 25
	Row       Code = 100
	Done      Code = 101
)

// Unsupported is returned by entry points whose capability is compiled out
// of, or missing from, the loaded engine. It aliases NotFound, the engine's
// own convention for unknown operations.
const Unsupported = NotFound

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	case Internal:
		return "INTERNAL"
	case Abort:
		return "ABORT"
	case Busy:
		return "BUSY"
	case Locked:
		return "LOCKED"
	case NoMem:
		return "NOMEM"
	case Interrupt:
		return "INTERRUPT"
	case NotFound:
		return "NOTFOUND"
	case Auth:
		return "AUTH"
	case Misuse:
		return "MISUSE"
	case Range:
		return "RANGE"
	case Row:
		return "ROW"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("CODE(%d)", int32(c))
	}
}

// IsError reports whether c represents a failure. OK, Row, and Done are the
// only non-error codes.
func (c Code) IsError() bool {
	switch c {
	case OK, Row, Done:
		return false
	}
	return true
}

// AuthAction identifies the operation an authorizer callback is asked to
// approve. Values match the SQLITE_* action codes.
type AuthAction int32

const (
	AuthActionDelete      AuthAction = 9
	AuthActionInsert      AuthAction = 18
	AuthActionPragma      AuthAction = 19
	AuthActionRead        AuthAction = 20
	AuthActionSelect      AuthAction = 21
	AuthActionTransaction AuthAction = 22
	AuthActionUpdate      AuthAction = 23
)

// AuthResult is an authorizer callback's verdict.
type AuthResult int32

const (
	AuthAllow  AuthResult = 0 // proceed
	AuthDeny   AuthResult = 1 // abort the statement with an error
	AuthIgnore AuthResult = 2 // treat the column/value as NULL
)

// UpdateOp identifies the row operation reported by an update hook.
type UpdateOp int32

const (
	OpDelete UpdateOp = 9
	OpInsert UpdateOp = 18
	OpUpdate UpdateOp = 23
)

func (op UpdateOp) String() string {
	switch op {
	case OpDelete:
		return "DELETE"
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	default:
		return fmt.Sprintf("OP(%d)", int32(op))
	}
}

// TraceMask selects the trace event families delivered to a trace callback.
type TraceMask uint32

const (
	TraceStmt    TraceMask = 0x01 // statement begins running; detail is the SQL text
	TraceProfile TraceMask = 0x02 // statement finished; detail is elapsed nanoseconds
	TraceRow     TraceMask = 0x04 // statement produced a row
	TraceClose   TraceMask = 0x08 // connection closed
)

// OpenFlags control OpenV2 behavior. Values match SQLITE_OPEN_*.
type OpenFlags int32

const (
	OpenReadOnly  OpenFlags = 0x00000001
	OpenReadWrite OpenFlags = 0x00000002
	OpenCreate    OpenFlags = 0x00000004
	OpenURI       OpenFlags = 0x00000040
	OpenMemory    OpenFlags = 0x00000080
	OpenNoMutex   OpenFlags = 0x00008000
	OpenFullMutex OpenFlags = 0x00010000
)

// ValueType is the dynamic type of a native value.
type ValueType int32

const (
	TypeInteger ValueType = 1
	TypeFloat   ValueType = 2
	TypeText    ValueType = 3
	TypeBlob    ValueType = 4
	TypeNull    ValueType = 5
)

// TextEncoding selects the text encoding for collations and functions.
// The bridge only registers UTF-8 callables; the copying cost of converting
// between host and native encodings is accepted.
type TextEncoding int32

const EncUTF8 TextEncoding = 1
