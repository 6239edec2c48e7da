// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"path"
	"strings"

	"github.com/morphZ/dbus-mqtt-meter/internal/manifest"
)

// startupFileHeader seeds the startup file when the device has none yet.
// Venus OS only ships /data/rc.local once the user creates it.
const startupFileHeader = "#!/bin/sh\n"

// EnsureAutostart makes sure the startup file exists, is executable, and
// contains the given entry line. Presence is decided by comparing whole
// lines, not substrings, so entries for other modules whose text happens to
// contain ours can never suppress registration.
func (d *Deployer) EnsureAutostart(startupFile, line string) error {
	var content []byte
	if d.fileExists(startupFile) {
		var err error
		content, err = d.ReadFile(startupFile)
		if err != nil {
			return err
		}
	} else {
		content = []byte(startupFileHeader)
	}

	for _, l := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(l) == line {
			// Already registered; just keep the file executable.
			return d.SetMode(startupFile, 0o755)
		}
	}

	updated := string(content)
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	updated += line + "\n"
	return d.WriteFile(startupFile, []byte(updated), 0o755)
}

// RemoveAutostart strips the entry line from the startup file. A missing
// file or absent line is not an error.
func (d *Deployer) RemoveAutostart(startupFile, line string) error {
	if !d.fileExists(startupFile) {
		return nil
	}
	content, err := d.ReadFile(startupFile)
	if err != nil {
		return err
	}

	var kept []string
	removed := false
	for _, l := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(l) == line {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	if !removed {
		return nil
	}
	return d.WriteFile(startupFile, []byte(strings.Join(kept, "\n")), 0o755)
}

// RestartService stops the running service instance through the termination
// helper; the daemontools supervisor then brings up the freshly deployed
// payload. The helper exits non-zero when no instance was running yet, which
// is the normal case on a first install, so its exit status is ignored.
func (d *Deployer) RestartService(installDir string) error {
	helper := path.Join(installDir, "kill_me.sh")
	cmd := fmt.Sprintf("sh %s || true", helper)
	if out, err := d.RunCommand(cmd); err != nil {
		return fmt.Errorf("restart via %s failed: %w (output: %s)", helper, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// UninstallOptions controls how much Uninstall removes.
type UninstallOptions struct {
	// Purge also deletes the installation root, including any logs under it.
	Purge bool
}

// Uninstall reverses a deployment: take the service out of supervision, drop
// the service symlink, strip the autostart entry, stop the running process,
// and optionally purge the installation root.
func (d *Deployer) Uninstall(installDir, serviceDir, startupFile string, opts UninstallOptions) error {
	link := path.Join(serviceDir, manifest.ModuleName)

	// Ask the supervisor to stop the service first; tolerate a supervisor
	// that never picked it up.
	_, _ = d.RunCommand(fmt.Sprintf("svc -d %s 2>/dev/null || true", link))

	if d.fileExists(link) {
		if err := d.sftp.Remove(link); err != nil {
			return fmt.Errorf("failed to remove service symlink %s: %w", link, err)
		}
	}

	if err := d.RemoveAutostart(startupFile, AutostartLine(installDir, serviceDir)); err != nil {
		return err
	}

	// Stop the process itself in case the supervisor already lost track.
	if d.fileExists(path.Join(installDir, "kill_me.sh")) {
		_, _ = d.RunCommand(fmt.Sprintf("sh %s || true", path.Join(installDir, "kill_me.sh")))
	}

	if opts.Purge {
		if out, err := d.RunCommand(fmt.Sprintf("rm -rf %s", installDir)); err != nil {
			return fmt.Errorf("failed to purge %s: %w (output: %s)", installDir, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
