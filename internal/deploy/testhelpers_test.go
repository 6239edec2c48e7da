// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/morphZ/dbus-mqtt-meter/internal/db"
)

// mockSftp is an in-memory stand-in for the remote filesystem. It records
// every call in actions and mimics the OpenSSH server behaviors the code has
// to cope with (rename refuses to clobber, symlink refuses existing paths).
type mockSftp struct {
	files   map[string][]byte
	modes   map[string]os.FileMode
	links   map[string]string
	dirs    map[string]bool
	actions []string
	closed  bool

	// Failure injection, keyed by path or path prefix.
	failCreate map[string]bool
	failMkdir  map[string]bool
	failChmod  map[string]bool
	failWrite  map[string]bool
	failRemove map[string]bool
	failRename bool
}

func newMockSftp() *mockSftp {
	return &mockSftp{
		files:      map[string][]byte{},
		modes:      map[string]os.FileMode{},
		links:      map[string]string{},
		dirs:       map[string]bool{},
		failCreate: map[string]bool{},
		failMkdir:  map[string]bool{},
		failChmod:  map[string]bool{},
		failWrite:  map[string]bool{},
		failRemove: map[string]bool{},
	}
}

// pathMatch checks a failure set for the exact path or a registered prefix,
// so injected failures also hit the temporary upload names.
func pathMatch(set map[string]bool, p string) bool {
	if set[p] {
		return true
	}
	for k := range set {
		if strings.HasPrefix(p, k) {
			return true
		}
	}
	return false
}

func (m *mockSftp) exists(p string) bool {
	if _, ok := m.files[p]; ok {
		return true
	}
	if _, ok := m.links[p]; ok {
		return true
	}
	return m.dirs[p]
}

func (m *mockSftp) MkdirAll(p string) error {
	m.actions = append(m.actions, "mkdirall "+p)
	if pathMatch(m.failMkdir, p) {
		return fmt.Errorf("mkdir %s: permission denied", p)
	}
	m.dirs[p] = true
	return nil
}

func (m *mockSftp) Create(p string) (sftpFile, error) {
	m.actions = append(m.actions, "create "+p)
	if pathMatch(m.failCreate, p) {
		return nil, fmt.Errorf("create %s: permission denied", p)
	}
	m.files[p] = nil
	return &mockSftpFile{fs: m, path: p, failWrite: pathMatch(m.failWrite, p)}, nil
}

func (m *mockSftp) Open(p string) (sftpFile, error) {
	m.actions = append(m.actions, "open "+p)
	content, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("open %s: file does not exist", p)
	}
	return &mockSftpFile{fs: m, path: p, r: bytes.NewReader(content)}, nil
}

func (m *mockSftp) Chmod(p string, mode os.FileMode) error {
	m.actions = append(m.actions, fmt.Sprintf("chmod %o %s", mode, p))
	if pathMatch(m.failChmod, p) {
		return fmt.Errorf("chmod %s: permission denied", p)
	}
	if !m.exists(p) {
		return fmt.Errorf("chmod %s: file does not exist", p)
	}
	m.modes[p] = mode
	return nil
}

func (m *mockSftp) Remove(p string) error {
	m.actions = append(m.actions, "remove "+p)
	if pathMatch(m.failRemove, p) {
		return fmt.Errorf("remove %s: permission denied", p)
	}
	if _, ok := m.links[p]; ok {
		delete(m.links, p)
		return nil
	}
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		delete(m.modes, p)
		return nil
	}
	return fmt.Errorf("remove %s: file does not exist", p)
}

func (m *mockSftp) Rename(oldname, newname string) error {
	m.actions = append(m.actions, "rename "+oldname+" -> "+newname)
	if m.failRename {
		return fmt.Errorf("rename %s: failure", oldname)
	}
	content, ok := m.files[oldname]
	if !ok {
		return fmt.Errorf("rename %s: file does not exist", oldname)
	}
	// Stock OpenSSH SFTP rename refuses to replace an existing target.
	if m.exists(newname) {
		return fmt.Errorf("rename %s: target %s exists", oldname, newname)
	}
	m.files[newname] = content
	if mode, ok := m.modes[oldname]; ok {
		m.modes[newname] = mode
	}
	delete(m.files, oldname)
	delete(m.modes, oldname)
	return nil
}

func (m *mockSftp) Symlink(target, link string) error {
	m.actions = append(m.actions, "symlink "+target+" <- "+link)
	if m.exists(link) {
		return fmt.Errorf("symlink %s: file exists", link)
	}
	m.links[link] = target
	return nil
}

func (m *mockSftp) ReadLink(p string) (string, error) {
	target, ok := m.links[p]
	if !ok {
		return "", fmt.Errorf("readlink %s: file does not exist", p)
	}
	return target, nil
}

func (m *mockSftp) Lstat(p string) (os.FileInfo, error) {
	if !m.exists(p) {
		return nil, fmt.Errorf("stat %s: file does not exist", p)
	}
	return fakeFileInfo{name: p, size: int64(len(m.files[p])), dir: m.dirs[p]}, nil
}

func (m *mockSftp) Close() error {
	m.closed = true
	return nil
}

// mockSftpFile is a file handle over the mockSftp map. Writes land in the
// map immediately, reads serve a snapshot taken at Open.
type mockSftpFile struct {
	fs        *mockSftp
	path      string
	r         *bytes.Reader
	failWrite bool
}

func (f *mockSftpFile) Read(p []byte) (int, error) {
	if f.r == nil {
		return 0, fmt.Errorf("file %s not open for reading", f.path)
	}
	return f.r.Read(p)
}

func (f *mockSftpFile) Write(p []byte) (int, error) {
	if f.failWrite {
		return 0, fmt.Errorf("write %s: no space left on device", f.path)
	}
	if f.r != nil {
		return 0, fmt.Errorf("file %s not open for writing", f.path)
	}
	f.fs.files[f.path] = append(f.fs.files[f.path], p...)
	return len(p), nil
}

func (f *mockSftpFile) Close() error { return nil }

type fakeFileInfo struct {
	name string
	size int64
	dir  bool
}

func (fi fakeFileInfo) Name() string       { return fi.name }
func (fi fakeFileInfo) Size() int64        { return fi.size }
func (fi fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (fi fakeFileInfo) IsDir() bool        { return fi.dir }
func (fi fakeFileInfo) Sys() any           { return nil }

// mockSSHClient satisfies sshClientIface.
type mockSSHClient struct {
	closed bool
}

func (c *mockSSHClient) Close() error {
	c.closed = true
	return nil
}

// mockSession scripts remote command execution. Outputs and errors are keyed
// by the exact command string; defaultErr applies to unscripted commands.
type mockSession struct {
	mu         sync.Mutex
	commands   []string
	outputs    map[string][]byte
	errs       map[string]error
	defaultErr error
	delay      time.Duration
}

func (s *mockSession) CombinedOutput(cmd string) ([]byte, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	out := append([]byte(nil), s.outputs[cmd]...)
	err, scripted := s.errs[cmd]
	if !scripted {
		err = s.defaultErr
	}
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return out, err
}

func (s *mockSession) Close() error { return nil }

func (s *mockSession) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// newTestDeployer wires a Deployer directly over the fakes, bypassing the
// connection logic.
func newTestDeployer(t *testing.T, fs *mockSftp, sess *mockSession) *Deployer {
	t.Helper()
	if sess != nil {
		origSession := newSession
		newSession = func(c sshClientIface) (remoteSession, error) { return sess, nil }
		t.Cleanup(func() { newSession = origSession })
	}
	return &Deployer{
		client: &mockSSHClient{},
		sftp:   fs,
		config: DefaultConnectionConfig(),
		host:   "venus.local",
	}
}

// withDialStub replaces sshDial for the duration of the test.
func withDialStub(t *testing.T, dial func(network, addr string, cfg *ssh.ClientConfig) (sshClientIface, error)) {
	t.Helper()
	orig := sshDial
	sshDial = dial
	t.Cleanup(func() { sshDial = orig })
}

// withSftpStub replaces newSftpClient for the duration of the test.
func withSftpStub(t *testing.T, fn func(c sshClientIface) (sftpRaw, error)) {
	t.Helper()
	orig := newSftpClient
	newSftpClient = fn
	t.Cleanup(func() { newSftpClient = orig })
}

// withAgentStub replaces the SSH agent lookup for the duration of the test.
func withAgentStub(t *testing.T, fn func() agent.Agent) {
	t.Helper()
	orig := sshAgentGetter
	sshAgentGetter = fn
	t.Cleanup(func() { sshAgentGetter = orig })
}

// withDeployerStub replaces NewDeployerFunc for the duration of the test.
func withDeployerStub(t *testing.T, fn func(host, user string, auth AuthConfig, config ConnectionConfig, insecureHostKey bool) (*Deployer, error)) {
	t.Helper()
	orig := NewDeployerFunc
	NewDeployerFunc = fn
	t.Cleanup(func() { NewDeployerFunc = orig })
}

// withTestDB points the db package at a fresh in-memory database so host key
// lookups and history writes have somewhere to go.
func withTestDB(t *testing.T) {
	t.Helper()
	dsn := "file:deploy_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	if err := db.InitDB("sqlite", dsn); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
}
