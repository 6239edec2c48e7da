// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package deploy ships the dbus-mqtt-meter service to a Venus OS device: it
// transfers the fixed file set over SFTP, applies the permission classes,
// registers the autostart entry, activates the daemontools service symlink,
// and restarts the running instance.
package deploy // import "github.com/morphZ/dbus-mqtt-meter/internal/deploy"

import (
	"errors"
	"fmt"
	"math/rand"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/morphZ/dbus-mqtt-meter/internal/db"
	"github.com/morphZ/dbus-mqtt-meter/internal/logging"
	"github.com/morphZ/dbus-mqtt-meter/internal/manifest"
	"github.com/morphZ/dbus-mqtt-meter/internal/model"
)

// Stage identifies one step of the deployment sequence. Stage names double
// as the status column of failed runs in the deployment history.
type Stage string

const (
	StageConnect     Stage = "connect"
	StageDirectories Stage = "directories"
	StageTransfer    Stage = "transfer"
	StagePermissions Stage = "permissions"
	StageAutostart   Stage = "autostart"
	StageActivate    Stage = "activate"
	StageRestart     Stage = "restart"
)

// StageError tags a failure with the deployment stage it occurred in. The
// underlying error is kept verbatim and stays available via Unwrap.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Options describes one deployment run. InstallDir, ServiceDir, and
// StartupFile are remote absolute paths; SourceDir is local.
type Options struct {
	Target          model.Target
	Auth            AuthConfig
	Connection      ConnectionConfig
	InsecureHostKey bool

	Manifest    manifest.Manifest // zero value means manifest.Default()
	SourceDir   string            // local directory holding the payload files
	InstallDir  string            // e.g. /data/dbus-mqtt-meter
	ServiceDir  string            // e.g. /service
	StartupFile string            // e.g. /data/rc.local

	Version string // tool version stamped into the history record
	DryRun  bool
	// Progress, when non-nil, receives the destination name and chunk size
	// of every block written during transfer.
	Progress func(file string, n int)
}

// Result summarizes a completed run.
type Result struct {
	Files    int
	Bytes    int64
	Duration time.Duration
}

// NewDeployerFunc creates the deployer RunDeployment connects with. Tests
// override it to avoid real network connections.
var NewDeployerFunc = func(host, user string, auth AuthConfig, config ConnectionConfig, insecureHostKey bool) (*Deployer, error) {
	return NewDeployerWithConfig(host, user, auth, config, insecureHostKey)
}

// RunDeployment executes the deployment sequence against opts.Target:
// directories, file transfer, permissions, autostart registration, service
// symlink activation, and finally a restart of the running instance. The
// first failing step aborts the run; its StageError names the step. The
// outcome is recorded in the deployment history either way.
func RunDeployment(opts Options) (*Result, error) {
	start := time.Now()

	m := opts.Manifest
	if len(m.Entries) == 0 {
		m = manifest.Default()
	}
	if err := m.Validate(opts.SourceDir); err != nil {
		return nil, stageErr(StageTransfer, err)
	}

	if opts.DryRun {
		total, err := m.TotalSize(opts.SourceDir)
		if err != nil {
			return nil, stageErr(StageTransfer, err)
		}
		return &Result{Files: len(m.Entries), Bytes: total, Duration: time.Since(start)}, nil
	}

	res, err := runStages(opts, m)
	recordRun(opts, res, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func runStages(opts Options, m manifest.Manifest) (*Result, error) {
	res := &Result{}

	d, err := NewDeployerFunc(opts.Target.Addr(), opts.Target.User, opts.Auth, opts.Connection, opts.InsecureHostKey)
	if err != nil {
		return res, stageErr(StageConnect, err)
	}
	defer d.Close()

	// 1. Directory skeleton under the installation root.
	if err := d.CreateDirectories(opts.InstallDir, m.Dirs); err != nil {
		return res, stageErr(StageDirectories, err)
	}

	// 2. Transfer every manifest entry, overwriting what is there.
	for _, e := range m.Entries {
		src := filepath.Join(opts.SourceDir, filepath.FromSlash(e.Source))
		dst := path.Join(opts.InstallDir, e.Dest)
		var onWrite func(int)
		if opts.Progress != nil {
			name := e.Dest
			progress := opts.Progress
			onWrite = func(n int) { progress(name, n) }
		}
		n, err := d.CopyFile(src, dst, onWrite)
		res.Bytes += n
		if err != nil {
			return res, stageErr(StageTransfer, err)
		}
		res.Files++
		logging.Debugf("transferred %s (%d bytes)", dst, n)
	}

	// 3. Permission classes.
	for _, e := range m.Entries {
		if e.Mode == 0 {
			continue
		}
		if err := d.SetMode(path.Join(opts.InstallDir, e.Dest), e.Mode); err != nil {
			return res, stageErr(StagePermissions, err)
		}
	}

	// 4. Autostart entry in the startup file.
	line := AutostartLine(opts.InstallDir, opts.ServiceDir)
	if err := d.EnsureAutostart(opts.StartupFile, line); err != nil {
		return res, stageErr(StageAutostart, err)
	}

	// 5. Activate the service symlink so the supervisor picks it up now,
	// without waiting for a reboot.
	link := path.Join(opts.ServiceDir, manifest.ModuleName)
	if err := d.ReplaceSymlink(path.Join(opts.InstallDir, "service"), link); err != nil {
		return res, stageErr(StageActivate, err)
	}

	// 6. Restart so the new payload is the running one.
	if err := d.RestartService(opts.InstallDir); err != nil {
		return res, stageErr(StageRestart, err)
	}

	return res, nil
}

// recordRun writes the outcome to the deployment history. Failures to record
// are logged, never surfaced; they must not mask the deploy result.
func recordRun(opts Options, res *Result, runErr error, elapsed time.Duration) {
	if !db.IsInitialized() {
		return
	}

	rec := model.DeploymentRecord{
		Target:   opts.Target.String(),
		Version:  opts.Version,
		Files:    res.Files,
		Bytes:    res.Bytes,
		Duration: elapsed.Milliseconds(),
		Status:   "ok",
	}
	if runErr != nil {
		rec.Status = string(stageOf(runErr))
		rec.Detail = runErr.Error()
	}

	var err error
	for i := 0; i < 5; i++ { // Retry on sqlite lock contention.
		if _, err = db.AddDeployment(rec); err == nil || !strings.Contains(err.Error(), "database is locked") {
			break
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
	if err != nil {
		logging.Warnf("failed to record deployment for %s: %v", rec.Target, err)
	}
}

// stageOf extracts the stage from a StageError chain, defaulting to connect
// for errors raised before any stage ran.
func stageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageConnect
}

// AutostartLine returns the startup-file entry that recreates the service
// symlink at boot, tagged with the module name for exact-line matching.
func AutostartLine(installDir, serviceDir string) string {
	return fmt.Sprintf("ln -sfn %s %s # %s",
		path.Join(installDir, "service"),
		path.Join(serviceDir, manifest.ModuleName),
		manifest.ModuleName)
}
