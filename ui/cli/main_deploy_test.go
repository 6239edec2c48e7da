// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.
package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/morphZ/dbus-mqtt-meter/internal/deploy"
)

// TestDeployCmd_MockedRun drives the deploy command through the CLI with an
// injected deployment func, so no device is needed. Subtests share one mock
// and run in order; flags set by one invocation persist on the package-level
// command, so the dry-run case runs last.
func TestDeployCmd_MockedRun(t *testing.T) {
	setupTestDB(t)

	var captured deploy.Options
	orig := runDeploymentFunc
	defer func() { runDeploymentFunc = orig }()
	runDeploymentFunc = func(opts deploy.Options) (*deploy.Result, error) {
		captured = opts
		return &deploy.Result{Files: 7, Bytes: 4096, Duration: 1500 * time.Millisecond}, nil
	}

	t.Run("deploys to an explicit target", func(t *testing.T) {
		output := executeCommand(t, nil, "deploy", "root@192.0.2.9")

		if !strings.Contains(output, "Starting deployment to root@192.0.2.9") {
			t.Errorf("Expected starting message, got:\n%s", output)
		}
		if !strings.Contains(output, "Deployment complete: 7 files, 4096 bytes in 1.5s.") {
			t.Errorf("Expected success message, got:\n%s", output)
		}
		if captured.Target.User != "root" || captured.Target.Host != "192.0.2.9" {
			t.Errorf("unexpected target in options: %+v", captured.Target)
		}
		if captured.DryRun {
			t.Errorf("expected DryRun to be false")
		}
	})

	t.Run("fills remote paths from the resolved config", func(t *testing.T) {
		_ = executeCommand(t, nil, "deploy", "root@192.0.2.9")

		if captured.InstallDir != "/data/dbus-mqtt-meter" {
			t.Errorf("unexpected install dir: %s", captured.InstallDir)
		}
		if captured.ServiceDir != "/service" {
			t.Errorf("unexpected service dir: %s", captured.ServiceDir)
		}
		if captured.StartupFile != "/data/rc.local" {
			t.Errorf("unexpected startup file: %s", captured.StartupFile)
		}
	})

	t.Run("falls back to the configured target", func(t *testing.T) {
		output := executeCommand(t, nil, "deploy")

		if !strings.Contains(output, "Starting deployment to root@venus.local") {
			t.Errorf("Expected configured default target, got:\n%s", output)
		}
	})

	t.Run("bare invocation deploys as well", func(t *testing.T) {
		output := executeCommand(t, nil)

		if !strings.Contains(output, "Starting deployment to root@venus.local") {
			t.Errorf("Expected bare invocation to deploy, got:\n%s", output)
		}
		if !strings.Contains(output, "Deployment complete:") {
			t.Errorf("Expected success message, got:\n%s", output)
		}
	})

	t.Run("source-dir flag overrides the configured source", func(t *testing.T) {
		srcDir := t.TempDir()
		_ = executeCommand(t, nil, "deploy", "--source-dir", srcDir, "root@192.0.2.9")

		if captured.SourceDir != srcDir {
			t.Errorf("expected source dir %s, got %s", srcDir, captured.SourceDir)
		}
	})

	t.Run("dry run reports without recording", func(t *testing.T) {
		output := executeCommand(t, nil, "deploy", "--dry-run", "root@192.0.2.9")

		if !captured.DryRun {
			t.Errorf("expected DryRun to be true")
		}
		if !strings.Contains(output, "Dry run complete: 7 files, 4096 bytes would be transferred.") {
			t.Errorf("Expected dry run message, got:\n%s", output)
		}
		if strings.Contains(output, "Deployment complete:") {
			t.Errorf("Did not expect a success message on a dry run, got:\n%s", output)
		}
	})
}
