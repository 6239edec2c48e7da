// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "testing"

func TestTargetString(t *testing.T) {
	tgt := Target{User: "root", Host: "venus.local", Port: "22"}
	if got := tgt.String(); got != "root@venus.local" {
		t.Errorf("unexpected Target.String(): %q", got)
	}

	tgt.Port = "2222"
	if got := tgt.String(); got != "root@venus.local:2222" {
		t.Errorf("unexpected Target.String() with port: %q", got)
	}

	tgt.Port = ""
	if got := tgt.String(); got != "root@venus.local" {
		t.Errorf("unexpected Target.String() with empty port: %q", got)
	}
}

func TestTargetAddr(t *testing.T) {
	tgt := Target{User: "root", Host: "192.168.1.50", Port: ""}
	if got := tgt.Addr(); got != "192.168.1.50:22" {
		t.Errorf("unexpected Target.Addr(): %q", got)
	}

	tgt = Target{User: "root", Host: "fe80::1", Port: "22"}
	if got := tgt.Addr(); got != "[fe80::1]:22" {
		t.Errorf("IPv6 address should be bracketed: %q", got)
	}
}

func TestDeploymentRecordSucceeded(t *testing.T) {
	ok := DeploymentRecord{Status: "ok"}
	if !ok.Succeeded() {
		t.Error("status ok should count as succeeded")
	}
	failed := DeploymentRecord{Status: "transfer", Detail: "session lost"}
	if failed.Succeeded() {
		t.Error("failed stage should not count as succeeded")
	}
}
