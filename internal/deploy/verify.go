// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains drift detection: comparing what is actually on the
// device against what a deployment from the local source tree would put
// there.
package deploy

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/morphZ/dbus-mqtt-meter/internal/manifest"
)

// DriftStatus classifies the state of one deployed file.
type DriftStatus string

const (
	DriftNone     DriftStatus = "ok"       // remote content matches the local source
	DriftMissing  DriftStatus = "missing"  // file absent on the device
	DriftModified DriftStatus = "modified" // remote content differs
)

// FileDrift is the verification result for one manifest entry.
type FileDrift struct {
	Path   string // remote path under the installation root
	Status DriftStatus
	Detail string // human-readable explanation for non-ok statuses
}

// DriftReport summarizes a verification pass over a deployed installation.
type DriftReport struct {
	Files       []FileDrift
	SymlinkOK   bool // service symlink resolves to the installation's service dir
	AutostartOK bool // startup file carries the exact entry line
}

// HasDrift reports whether anything deviates from the deployed-and-registered
// state.
func (r *DriftReport) HasDrift() bool {
	if !r.SymlinkOK || !r.AutostartOK {
		return true
	}
	for _, f := range r.Files {
		if f.Status != DriftNone {
			return true
		}
	}
	return false
}

// AnalyzeDrift compares the device against the local source tree: every
// manifest entry byte for byte, the service symlink target, and the
// autostart entry. It changes nothing on the device.
func (d *Deployer) AnalyzeDrift(opts Options, m manifest.Manifest) (*DriftReport, error) {
	if len(m.Entries) == 0 {
		m = manifest.Default()
	}

	report := &DriftReport{}

	for _, e := range m.Entries {
		remotePath := path.Join(opts.InstallDir, e.Dest)
		fd := FileDrift{Path: remotePath, Status: DriftNone}

		local, err := os.ReadFile(filepath.Join(opts.SourceDir, filepath.FromSlash(e.Source)))
		if err != nil {
			return nil, fmt.Errorf("failed to read local file for %s: %w", e.Source, err)
		}

		if !d.fileExists(remotePath) {
			fd.Status = DriftMissing
			fd.Detail = "not present on the device"
		} else {
			remote, err := d.ReadFile(remotePath)
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(local, remote) {
				fd.Status = DriftModified
				fd.Detail = fmt.Sprintf("content differs (local %d bytes, remote %d bytes)", len(local), len(remote))
			}
		}
		report.Files = append(report.Files, fd)
	}

	link := path.Join(opts.ServiceDir, manifest.ModuleName)
	if target, err := d.sftp.ReadLink(link); err == nil {
		report.SymlinkOK = target == path.Join(opts.InstallDir, "service")
	}

	report.AutostartOK = d.autostartRegistered(opts.StartupFile, AutostartLine(opts.InstallDir, opts.ServiceDir))

	return report, nil
}

// autostartRegistered reports whether the startup file carries the exact
// entry line.
func (d *Deployer) autostartRegistered(startupFile, line string) bool {
	if !d.fileExists(startupFile) {
		return false
	}
	content, err := d.ReadFile(startupFile)
	if err != nil {
		return false
	}
	for _, l := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}
