// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.
package cli

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/morphZ/dbus-mqtt-meter/internal/db"
	"github.com/morphZ/dbus-mqtt-meter/internal/deploy"
)

func TestCheckCmd(t *testing.T) {
	setupTestDB(t)

	orig := checkTargetFunc
	defer func() { checkTargetFunc = orig }()

	t.Run("reports all probes passing", func(t *testing.T) {
		checkTargetFunc = func(opts deploy.Options) (*deploy.CheckResult, error) {
			return &deploy.CheckResult{
				PingOK:    true,
				PingRTT:   3 * time.Millisecond,
				TCPOK:     true,
				SSHOK:     true,
				Version:   "v3.60",
				Installed: true,
			}, nil
		}

		output := executeCommand(t, nil, "check", "root@192.0.2.9")

		for _, want := range []string{
			"Target: root@192.0.2.9",
			"ping: ok",
			"ssh port: open",
			"ssh login: ok",
			"firmware: v3.60",
			"service: dbus-mqtt-meter is installed",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Expected output to contain %q. Output:\n%s", want, output)
			}
		}
	})

	t.Run("reports a missing installation", func(t *testing.T) {
		checkTargetFunc = func(opts deploy.Options) (*deploy.CheckResult, error) {
			return &deploy.CheckResult{TCPOK: true, SSHOK: true}, nil
		}

		output := executeCommand(t, nil, "check", "root@192.0.2.9")

		if !strings.Contains(output, "ping: no reply") {
			t.Errorf("Expected ping failure note. Output:\n%s", output)
		}
		if !strings.Contains(output, "firmware: unknown") {
			t.Errorf("Expected unknown firmware note. Output:\n%s", output)
		}
		if !strings.Contains(output, "service: dbus-mqtt-meter is not installed") {
			t.Errorf("Expected not-installed note. Output:\n%s", output)
		}
	})

	t.Run("fails when ssh login fails", func(t *testing.T) {
		checkTargetFunc = func(opts deploy.Options) (*deploy.CheckResult, error) {
			return &deploy.CheckResult{PingOK: true, PingRTT: time.Millisecond, TCPOK: true},
				fmt.Errorf("ssh: unable to authenticate")
		}

		output, err := executeCommandWithError(t, nil, "check", "root@192.0.2.9")
		if err == nil {
			t.Fatalf("expected an error when the ssh login fails")
		}
		if !strings.Contains(err.Error(), "ssh login failed") {
			t.Errorf("unexpected error: %v", err)
		}
		// The probes that ran before the failure are still reported.
		if !strings.Contains(output, "ssh port: open") {
			t.Errorf("Expected port probe result before the failure. Output:\n%s", output)
		}
	})

	t.Run("fails fast when the target is unreachable", func(t *testing.T) {
		checkTargetFunc = func(opts deploy.Options) (*deploy.CheckResult, error) {
			return nil, fmt.Errorf("dial tcp: connection refused")
		}

		_, err := executeCommandWithError(t, nil, "check", "root@192.0.2.9")
		if err == nil || !strings.Contains(err.Error(), "connection refused") {
			t.Fatalf("expected the dial error to surface, got: %v", err)
		}
	})
}

func TestVerifyCmd(t *testing.T) {
	setupTestDB(t)

	orig := analyzeDriftFunc
	defer func() { analyzeDriftFunc = orig }()

	t.Run("clean device reports no drift", func(t *testing.T) {
		analyzeDriftFunc = func(opts deploy.Options) (*deploy.DriftReport, error) {
			return &deploy.DriftReport{
				Files: []deploy.FileDrift{
					{Path: "dbus-mqtt-meter.py", Status: deploy.DriftNone},
					{Path: "service/run", Status: deploy.DriftNone},
				},
				SymlinkOK:   true,
				AutostartOK: true,
			}, nil
		}

		output := executeCommand(t, nil, "verify", "root@192.0.2.9")

		if !strings.Contains(output, "No drift detected.") {
			t.Errorf("Expected no-drift message. Output:\n%s", output)
		}
		if !strings.Contains(output, "service symlink: ok") || !strings.Contains(output, "autostart entry: ok") {
			t.Errorf("Expected symlink and autostart checks to pass. Output:\n%s", output)
		}
	})

	t.Run("drifted device exits non-zero", func(t *testing.T) {
		analyzeDriftFunc = func(opts deploy.Options) (*deploy.DriftReport, error) {
			return &deploy.DriftReport{
				Files: []deploy.FileDrift{
					{Path: "dbus-mqtt-meter.py", Status: deploy.DriftModified, Detail: "size 4096 -> 4111"},
					{Path: "service/run", Status: deploy.DriftMissing, Detail: "not found on device"},
				},
				SymlinkOK:   true,
				AutostartOK: false,
			}, nil
		}

		output, err := executeCommandWithError(t, nil, "verify", "root@192.0.2.9")
		if err == nil {
			t.Fatalf("expected an error for a drifted device")
		}
		if !strings.Contains(err.Error(), "deviates") {
			t.Errorf("unexpected error: %v", err)
		}
		if !strings.Contains(output, "modified") || !strings.Contains(output, "missing") {
			t.Errorf("Expected per-file drift rows. Output:\n%s", output)
		}
		if !strings.Contains(output, "autostart entry: missing") {
			t.Errorf("Expected autostart drift note. Output:\n%s", output)
		}
	})
}

func TestUninstallCmd(t *testing.T) {
	setupTestDB(t)

	var called bool
	var capturedOpts deploy.Options
	var capturedUninstall deploy.UninstallOptions
	orig := uninstallFunc
	defer func() { uninstallFunc = orig }()
	uninstallFunc = func(opts deploy.Options, uopts deploy.UninstallOptions) error {
		called = true
		capturedOpts = opts
		capturedUninstall = uopts
		return nil
	}

	t.Run("declined confirmation leaves the device alone", func(t *testing.T) {
		called = false
		inputReader, inputWriter, _ := os.Pipe()
		go func() {
			defer func() { _ = inputWriter.Close() }()
			fmt.Fprintln(inputWriter, "no")
		}()

		output := executeCommand(t, inputReader, "uninstall", "root@192.0.2.9")

		if !strings.Contains(output, "Cancelled.") {
			t.Errorf("Expected cancellation message. Output:\n%s", output)
		}
		if called {
			t.Errorf("uninstall must not run after a declined confirmation")
		}
	})

	t.Run("confirmed uninstall runs and is audited", func(t *testing.T) {
		called = false
		inputReader, inputWriter, _ := os.Pipe()
		go func() {
			defer func() { _ = inputWriter.Close() }()
			fmt.Fprintln(inputWriter, "yes")
		}()

		output := executeCommand(t, inputReader, "uninstall", "root@192.0.2.9")

		if !called {
			t.Fatalf("expected the uninstall to run")
		}
		if capturedUninstall.Purge {
			t.Errorf("expected purge to default to false")
		}
		if capturedOpts.Target.Host != "192.0.2.9" {
			t.Errorf("unexpected target: %+v", capturedOpts.Target)
		}
		if !strings.Contains(output, "Uninstalled dbus-mqtt-meter from root@192.0.2.9.") {
			t.Errorf("Expected uninstall success message. Output:\n%s", output)
		}

		entries, err := db.GetAllAuditLogEntries()
		if err != nil {
			t.Fatalf("Failed to read audit log: %v", err)
		}
		var found bool
		for _, e := range entries {
			if e.Action == "UNINSTALL" && strings.Contains(e.Details, "root@192.0.2.9") {
				found = true
			}
		}
		if !found {
			t.Errorf("expected an UNINSTALL audit entry, got %+v", entries)
		}
	})

	// Flags persist on the package-level command, so the force/purge case
	// runs last.
	t.Run("force and purge skip the prompt", func(t *testing.T) {
		called = false

		output := executeCommand(t, nil, "uninstall", "--force", "--purge", "root@192.0.2.9")

		if !called {
			t.Fatalf("expected the uninstall to run without confirmation")
		}
		if !capturedUninstall.Purge {
			t.Errorf("expected purge to be set")
		}
		if strings.Contains(output, "Do you want to continue?") {
			t.Errorf("Did not expect a confirmation prompt with --force. Output:\n%s", output)
		}
	})
}
