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

import "testing"

func TestCode_IsError(t *testing.T) {
	tests := []struct {
		rc   Code
		want bool
	}{
		{OK, false},
		{Row, false},
		{Done, false},
		{Error, true},
		{Busy, true},
		{Misuse, true},
	}
	for _, tt := range tests {
		if got := tt.rc.IsError(); got != tt.want {
			t.Errorf("%v.IsError() = %v, want %v", tt.rc, got, tt.want)
		}
	}
}

func TestCapability_String(t *testing.T) {
	if got := Capability(0).String(); got != "none" {
		t.Errorf("empty caps = %q, want none", got)
	}
	got := (CapTrace | CapProgress).String()
	if got != "trace,progress" {
		t.Errorf("caps = %q, want trace,progress", got)
	}
}

func TestAPI_ValidateAndFill(t *testing.T) {
	var a API
	if err := a.Validate(); err == nil {
		t.Fatal("empty table must not validate")
	}

	a.FillUnsupported()
	if rc := a.TraceV2(0, 0, nil, 0); rc != Unsupported {
		t.Errorf("stubbed TraceV2 = %v, want Unsupported", rc)
	}
	if rc := a.SetAuthorizer(0, nil, 0); rc != Unsupported {
		t.Errorf("stubbed SetAuthorizer = %v, want Unsupported", rc)
	}
	// The progress stub is a no-op, not a panic.
	a.ProgressHandler(0, 0, nil, 0)
}
