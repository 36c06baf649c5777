// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import "testing"

func TestClassifySource(t *testing.T) {
	cases := map[string]sourceKind{
		"-":                         sourceStdin,
		"file:///tmp/x.rrd":         sourceFile,
		"/tmp/x.rrd":                sourceFile,
		"http://example.com/x.rrd":  sourceHTTP,
		"https://example.com/x.rrd": sourceHTTP,
		"ws://example.com/stream":   sourceWebSocket,
		"wss://example.com/stream":  sourceWebSocket,
		"rerun+http://host:1234":    sourceRerunHTTP,
	}
	for uri, want := range cases {
		if got := classifySource(uri); got != want {
			t.Errorf("classifySource(%q) = %v, want %v", uri, got, want)
		}
	}
}

func TestOpenSourceRejectsTransportSchemes(t *testing.T) {
	if _, err := openSource("ws://example.com/stream"); err == nil {
		t.Fatalf("expected websocket sources to be rejected")
	}
	if _, err := openSource("rerun+http://host:1234"); err == nil {
		t.Fatalf("expected rerun+http sources to be rejected")
	}
}
