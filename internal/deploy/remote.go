// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"
)

// uploadBufSize is the chunk size for SFTP writes.
const uploadBufSize = 32 * 1024

// CreateDirectories ensures each listed directory exists under base. "."
// stands for the base itself. Existing directories are left alone.
func (d *Deployer) CreateDirectories(base string, dirs []string) error {
	for _, dir := range dirs {
		p := base
		if dir != "." {
			p = path.Join(base, dir)
		}
		if err := d.sftp.MkdirAll(p); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", p, err)
		}
	}
	return nil
}

// CopyFile uploads the local file src to the remote path dst. The upload goes
// to a temporary name next to dst and is renamed into place, so a partial
// transfer never replaces an existing file. onWrite, when non-nil, receives
// the size of each chunk written (for progress display).
func (d *Deployer) CopyFile(src, dst string, onWrite func(int)) (int64, error) {
	local, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open local file %s: %w", src, err)
	}
	defer local.Close()

	tmpPath := fmt.Sprintf("%s.meter-deploy.%d", dst, time.Now().UnixNano())
	remote, err := d.sftp.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote file %s: %w", tmpPath, err)
	}

	var written int64
	buf := make([]byte, uploadBufSize)
	for {
		n, rerr := local.Read(buf)
		if n > 0 {
			if _, werr := remote.Write(buf[:n]); werr != nil {
				remote.Close()
				// Best effort to clean up the failed upload.
				_ = d.sftp.Remove(tmpPath)
				return written, fmt.Errorf("failed to write to remote file %s: %w", tmpPath, werr)
			}
			written += int64(n)
			if onWrite != nil {
				onWrite(n)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			remote.Close()
			_ = d.sftp.Remove(tmpPath)
			return written, fmt.Errorf("failed to read local file %s: %w", src, rerr)
		}
	}
	if err := remote.Close(); err != nil {
		_ = d.sftp.Remove(tmpPath)
		return written, fmt.Errorf("failed to finalize remote file %s: %w", tmpPath, err)
	}

	if err := d.renameOver(tmpPath, dst); err != nil {
		_ = d.sftp.Remove(tmpPath)
		return written, err
	}
	return written, nil
}

// WriteFile places content at the remote path p with the given mode, using
// the same temporary-name-then-rename dance as CopyFile. A zero mode leaves
// the server default in place.
func (d *Deployer) WriteFile(p string, content []byte, mode os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.meter-deploy.%d", p, time.Now().UnixNano())
	f, err := d.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", tmpPath, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		_ = d.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to write to remote file %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		_ = d.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to finalize remote file %s: %w", tmpPath, err)
	}
	if mode != 0 {
		if err := d.sftp.Chmod(tmpPath, mode); err != nil {
			_ = d.sftp.Remove(tmpPath)
			return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
		}
	}
	if err := d.renameOver(tmpPath, p); err != nil {
		_ = d.sftp.Remove(tmpPath)
		return err
	}
	return nil
}

// renameOver moves tmpPath to dst, clearing dst first. Stock OpenSSH rejects
// SFTP renames onto an existing target, so the destination is removed before
// the rename.
func (d *Deployer) renameOver(tmpPath, dst string) error {
	if _, err := d.sftp.Lstat(dst); err == nil {
		if err := d.sftp.Remove(dst); err != nil {
			return fmt.Errorf("failed to replace remote file %s: %w", dst, err)
		}
	}
	if err := d.sftp.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to move %s into place as %s: %w", tmpPath, dst, err)
	}
	return nil
}

// ReadFile reads and returns the content of a remote file.
func (d *Deployer) ReadFile(p string) ([]byte, error) {
	f, err := d.sftp.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", p, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read from remote file %s: %w", p, err)
	}
	return content, nil
}

// SetMode sets the permission bits of a remote path.
func (d *Deployer) SetMode(p string, mode os.FileMode) error {
	if err := d.sftp.Chmod(p, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", p, err)
	}
	return nil
}

// fileExists reports whether a remote path exists (without following
// symlinks, so a dangling service link still counts).
func (d *Deployer) fileExists(p string) bool {
	_, err := d.sftp.Lstat(p)
	return err == nil
}

// ReplaceSymlink points link at target, replacing whatever was there. A link
// that already points at target is left untouched.
func (d *Deployer) ReplaceSymlink(target, link string) error {
	if current, err := d.sftp.ReadLink(link); err == nil && current == target {
		return nil
	}
	if d.fileExists(link) {
		if err := d.sftp.Remove(link); err != nil {
			return fmt.Errorf("failed to remove existing %s: %w", link, err)
		}
	}
	if err := d.sftp.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

// RunCommand executes cmd on the remote host and returns its combined
// output. The command is bounded by the configured CommandTimeout.
func (d *Deployer) RunCommand(cmd string) ([]byte, error) {
	sess, err := newSession(d.client)
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(cmd)
		ch <- result{out: out, err: err}
	}()

	timeout := d.config.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	select {
	case r := <-ch:
		if r.err != nil {
			return r.out, fmt.Errorf("remote command %q failed: %w", cmd, r.err)
		}
		return r.out, nil
	case <-time.After(timeout):
		// The deferred Close tears down the session, which unblocks the
		// goroutine above.
		return nil, fmt.Errorf("remote command %q timed out after %s", cmd, timeout)
	}
}
