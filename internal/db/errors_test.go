// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"testing"
)

func TestMapDBError(t *testing.T) {
	if got := MapDBError(nil); got != nil {
		t.Fatalf("expected nil for nil input, got %v", got)
	}

	cases := []struct {
		name    string
		msg     string
		wantDup bool
	}{
		{"mysql duplicate", "Error 1062: Duplicate entry 'venus.local' for key 'PRIMARY'", true},
		{"postgres unique", `ERROR: duplicate key value violates unique constraint "known_hosts_pkey" (SQLSTATE 23505)`, true},
		{"sqlite unique", "constraint failed: UNIQUE constraint failed: known_hosts.hostname", true},
		{"unrelated error", "disk I/O error", false},
		{"not found", "no such table: deployments", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := errors.New(tc.msg)
			got := MapDBError(in)
			if tc.wantDup != errors.Is(got, ErrDuplicate) {
				t.Errorf("MapDBError(%q) = %v, wantDup=%v", tc.msg, got, tc.wantDup)
			}
			if !tc.wantDup && got != in {
				t.Errorf("expected unrelated errors to pass through unchanged, got %v", got)
			}
		})
	}
}
