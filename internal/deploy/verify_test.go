// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"path"
	"testing"

	"github.com/morphZ/dbus-mqtt-meter/internal/manifest"
)

// seedFromSource mirrors the local payload into the fake device, as a
// successful deployment would.
func seedFromSource(fs *mockSftp) {
	for name, content := range sourceFiles {
		fs.files[path.Join("/data/dbus-mqtt-meter", name)] = []byte(content)
	}
	fs.links["/service/dbus-mqtt-meter"] = "/data/dbus-mqtt-meter/service"
	fs.files["/data/rc.local"] = []byte("#!/bin/sh\n" + testLine + "\n")
}

func TestAnalyzeDriftClean(t *testing.T) {
	src := writeSourceTree(t)
	fs := newMockSftp()
	seedFromSource(fs)
	d := newTestDeployer(t, fs, nil)

	report, err := d.AnalyzeDrift(testOptions(src), manifest.Default())
	if err != nil {
		t.Fatalf("AnalyzeDrift: %v", err)
	}
	if report.HasDrift() {
		t.Errorf("clean state reported as drifted: %+v", report)
	}
	if len(report.Files) != len(sourceFiles) {
		t.Errorf("checked %d files, want %d", len(report.Files), len(sourceFiles))
	}
	for _, f := range report.Files {
		if f.Status != DriftNone {
			t.Errorf("file %s = %s (%s), want ok", f.Path, f.Status, f.Detail)
		}
	}
	if !report.SymlinkOK || !report.AutostartOK {
		t.Errorf("SymlinkOK=%v AutostartOK=%v, want both true", report.SymlinkOK, report.AutostartOK)
	}
}

func TestAnalyzeDriftModifiedFile(t *testing.T) {
	src := writeSourceTree(t)
	fs := newMockSftp()
	seedFromSource(fs)
	fs.files["/data/dbus-mqtt-meter/service/run"] = []byte("#!/bin/sh\n# edited on the device\n")
	d := newTestDeployer(t, fs, nil)

	report, err := d.AnalyzeDrift(testOptions(src), manifest.Default())
	if err != nil {
		t.Fatalf("AnalyzeDrift: %v", err)
	}
	if !report.HasDrift() {
		t.Fatal("modified file not reported as drift")
	}
	found := false
	for _, f := range report.Files {
		if f.Path == "/data/dbus-mqtt-meter/service/run" {
			found = true
			if f.Status != DriftModified {
				t.Errorf("status = %s, want modified", f.Status)
			}
		} else if f.Status != DriftNone {
			t.Errorf("unexpected drift for %s: %s", f.Path, f.Status)
		}
	}
	if !found {
		t.Error("modified file missing from the report")
	}
}

func TestAnalyzeDriftMissingFile(t *testing.T) {
	src := writeSourceTree(t)
	fs := newMockSftp()
	seedFromSource(fs)
	delete(fs.files, "/data/dbus-mqtt-meter/ext/vedbus.py")
	d := newTestDeployer(t, fs, nil)

	report, err := d.AnalyzeDrift(testOptions(src), manifest.Default())
	if err != nil {
		t.Fatalf("AnalyzeDrift: %v", err)
	}
	for _, f := range report.Files {
		if f.Path == "/data/dbus-mqtt-meter/ext/vedbus.py" && f.Status != DriftMissing {
			t.Errorf("status = %s, want missing", f.Status)
		}
	}
	if !report.HasDrift() {
		t.Error("missing file not reported as drift")
	}
}

func TestAnalyzeDriftUnregistered(t *testing.T) {
	src := writeSourceTree(t)
	fs := newMockSftp()
	seedFromSource(fs)
	delete(fs.links, "/service/dbus-mqtt-meter")
	fs.files["/data/rc.local"] = []byte("#!/bin/sh\n")
	d := newTestDeployer(t, fs, nil)

	report, err := d.AnalyzeDrift(testOptions(src), manifest.Default())
	if err != nil {
		t.Fatalf("AnalyzeDrift: %v", err)
	}
	if report.SymlinkOK {
		t.Error("missing symlink reported as ok")
	}
	if report.AutostartOK {
		t.Error("missing autostart entry reported as ok")
	}
	if !report.HasDrift() {
		t.Error("unregistered service not reported as drift")
	}
}
