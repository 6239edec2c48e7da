// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/morphZ/dbus-mqtt-meter/internal/db"
	"github.com/morphZ/dbus-mqtt-meter/internal/logging"
	"github.com/morphZ/dbus-mqtt-meter/internal/security"
)

// sshClientIface is the slice of *ssh.Client the deployer needs, so tests can
// stand in a fake without a network.
type sshClientIface interface {
	Close() error
}

// sftpFile is what the deployer needs from a remote file handle.
type sftpFile interface {
	io.ReadWriteCloser
}

// sftpRaw is the file-transfer surface the deployer uses. *sftp.Client is
// adapted to it via realSftp; tests provide an in-memory fake.
type sftpRaw interface {
	MkdirAll(path string) error
	Create(path string) (sftpFile, error)
	Open(path string) (sftpFile, error)
	Chmod(path string, mode os.FileMode) error
	Remove(path string) error
	Rename(oldname, newname string) error
	Symlink(oldname, newname string) error
	ReadLink(path string) (string, error)
	Lstat(path string) (os.FileInfo, error)
	Close() error
}

// remoteSession is the command-execution surface of *ssh.Session.
type remoteSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// realSftp adapts *sftp.Client to sftpRaw. The indirection exists because
// Go return types are invariant: *sftp.File is not an sftpFile to the
// compiler even though it satisfies the interface.
type realSftp struct {
	c *sftp.Client
}

func (r *realSftp) MkdirAll(path string) error                 { return r.c.MkdirAll(path) }
func (r *realSftp) Create(path string) (sftpFile, error)       { return r.c.Create(path) }
func (r *realSftp) Open(path string) (sftpFile, error)         { return r.c.Open(path) }
func (r *realSftp) Chmod(path string, mode os.FileMode) error  { return r.c.Chmod(path, mode) }
func (r *realSftp) Remove(path string) error                   { return r.c.Remove(path) }
func (r *realSftp) Rename(oldname, newname string) error       { return r.c.Rename(oldname, newname) }
func (r *realSftp) Symlink(oldname, newname string) error      { return r.c.Symlink(oldname, newname) }
func (r *realSftp) ReadLink(path string) (string, error)       { return r.c.ReadLink(path) }
func (r *realSftp) Lstat(path string) (os.FileInfo, error)     { return r.c.Lstat(path) }
func (r *realSftp) Close() error                               { return r.c.Close() }

// Injection points for tests. Production code never reassigns these.
var (
	sshDial = func(network, addr string, cfg *ssh.ClientConfig) (sshClientIface, error) {
		return ssh.Dial(network, addr, cfg)
	}
	newSftpClient = func(c sshClientIface) (sftpRaw, error) {
		client, ok := c.(*ssh.Client)
		if !ok {
			return nil, fmt.Errorf("ssh client does not support sftp")
		}
		raw, err := sftp.NewClient(client)
		if err != nil {
			return nil, err
		}
		return &realSftp{c: raw}, nil
	}
	newSession = func(c sshClientIface) (remoteSession, error) {
		client, ok := c.(*ssh.Client)
		if !ok {
			return nil, fmt.Errorf("ssh client does not support sessions")
		}
		return client.NewSession()
	}
	sshAgentGetter = func() agent.Agent {
		return getSSHAgent()
	}
)

// AuthConfig bundles the credentials a connection attempt may use. Private
// key auth is tried first, then a running SSH agent, then the password.
type AuthConfig struct {
	PrivateKey string          // PEM-encoded private key, empty to skip
	Passphrase security.Secret // passphrase for an encrypted private key
	Password   security.Secret // SSH password, empty to skip
}

// Deployer handles the connection to a Venus OS device and the remote file
// and command operations a deployment needs.
type Deployer struct {
	client sshClientIface
	sftp   sftpRaw
	config ConnectionConfig
	host   string // hostname without port, for error messages
}

// NewDeployer connects with the default timeouts and strict host key
// checking.
func NewDeployer(host, user string, auth AuthConfig) (*Deployer, error) {
	return NewDeployerWithConfig(host, user, auth, DefaultConnectionConfig(), false)
}

// NewDeployerWithConfig creates a new SSH connection and returns a Deployer.
// Authentication tries the configured private key first, falls back to a
// running SSH agent, then to the configured password. Transport-level
// failures abort immediately; only authentication failures move on to the
// next method.
func NewDeployerWithConfig(host, user string, auth AuthConfig, config ConnectionConfig, insecureHostKey bool) (*Deployer, error) {
	hostname, _, err := ParseHostPort(host)
	if err != nil {
		return nil, err
	}
	addr := CanonicalizeHostPort(host)

	hostKeyCallback := knownHostKeyCallback()
	if insecureHostKey {
		logging.Warnf("host key verification disabled for %s", hostname)
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	var finalErr error

	// --- Attempt 1: the configured private key ---
	if auth.PrivateKey != "" {
		signer, err := parseSigner(auth.PrivateKey, auth.Passphrase)
		if err != nil {
			return nil, err
		}
		client, err := dialWithAuth(addr, user, ssh.PublicKeys(signer), hostKeyCallback, config)
		if err == nil {
			return finishDeployer(client, hostname, config)
		}
		// If the error was not an auth failure, fail fast.
		if !IsAuthenticationError(err) {
			return nil, ClassifyConnectionError(hostname, err)
		}
		finalErr = err
	}

	// --- Attempt 2: a running SSH agent ---
	if agentClient := sshAgentGetter(); agentClient != nil {
		client, err := dialWithAuth(addr, user, ssh.PublicKeysCallback(agentClient.Signers), hostKeyCallback, config)
		if err == nil {
			return finishDeployer(client, hostname, config)
		}
		if !IsAuthenticationError(err) {
			return nil, ClassifyConnectionError(hostname, err)
		}
		finalErr = err
	}

	// --- Attempt 3: the configured password ---
	if !auth.Password.IsZero() {
		client, err := dialWithAuth(addr, user, ssh.Password(string(auth.Password.Bytes())), hostKeyCallback, config)
		if err == nil {
			return finishDeployer(client, hostname, config)
		}
		if !IsAuthenticationError(err) {
			return nil, ClassifyConnectionError(hostname, err)
		}
		finalErr = err
	}

	if finalErr != nil {
		return nil, ClassifyConnectionError(hostname, finalErr)
	}
	return nil, fmt.Errorf("no authentication method available for %s (no private key, ssh agent, or password)", hostname)
}

// knownHostKeyCallback builds the strict host key verifier backed by the
// known_hosts table.
func knownHostKeyCallback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// The hostname passed to the callback can include the port. Strip it
		// so the lookup matches what trust-host stored.
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			host = hostname
		}

		// The key is presented in the format "ssh-ed25519 AAA..."
		presentedKey := string(ssh.MarshalAuthorizedKey(key))

		knownKey, err := db.GetKnownHostKey(host)
		if err != nil {
			return fmt.Errorf("failed to query known_hosts database: %w", err)
		}

		// No pinned key means this is the first contact with the device.
		if knownKey == "" {
			return fmt.Errorf("unknown host key for %s. run 'meter-deploy trust-host' to add it", host)
		}

		// If a key is pinned, it must match exactly.
		if knownKey != presentedKey {
			return fmt.Errorf("!!! HOST KEY MISMATCH FOR %s !!!\nRemote key presented: %s\nThis could be a man-in-the-middle attack", host, presentedKey)
		}

		return nil // Host key is trusted.
	}
}

// parseSigner turns the configured private key into an ssh.Signer, handling
// encrypted keys.
func parseSigner(privateKey string, passphrase security.Secret) (ssh.Signer, error) {
	if !passphrase.IsZero() {
		signer, err := ssh.ParsePrivateKeyWithPassphrase([]byte(privateKey), passphrase.Bytes())
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey([]byte(privateKey))
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, ErrPassphraseRequired
		}
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return signer, nil
}

func dialWithAuth(addr, user string, method ssh.AuthMethod, cb ssh.HostKeyCallback, config ConnectionConfig) (sshClientIface, error) {
	timeout := config.ConnectionTimeout
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{method},
		HostKeyCallback: cb,
		Timeout:         timeout,
	}
	return sshDial("tcp", addr, cfg)
}

func finishDeployer(client sshClientIface, hostname string, config ConnectionConfig) (*Deployer, error) {
	sftpClient, err := newSftpClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &Deployer{client: client, sftp: sftpClient, config: config, host: hostname}, nil
}

// Host returns the hostname (without port) the deployer is connected to.
func (d *Deployer) Host() string { return d.host }

// Close closes the underlying SSH and SFTP clients.
func (d *Deployer) Close() {
	if d.sftp != nil {
		_ = d.sftp.Close()
	}
	if d.client != nil {
		_ = d.client.Close()
	}
}

// GetRemoteHostKey connects to a host just to retrieve its public key, for
// trust-host to fingerprint and pin.
func GetRemoteHostKey(host string) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	config := &ssh.ClientConfig{
		// No authentication needed, just start the handshake.
		User: "meter-deploy-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			// We got the key; send it back on the channel and abort the
			// handshake with the sentinel.
			keyChan <- key
			return ErrHostKeySuccessfullyRetrieved
		},
		Timeout: 5 * time.Second,
	}

	addr := CanonicalizeHostPort(host)

	// The dial is expected to fail with the sentinel error.
	client, err := sshDial("tcp", addr, config)
	if err != nil {
		if errors.Is(err, ErrHostKeySuccessfullyRetrieved) ||
			strings.Contains(err.Error(), ErrHostKeySuccessfullyRetrieved.Error()) {
			return <-keyChan, nil
		}
		// A different, real error (e.g., connection refused).
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}

	// Should not be reached, since the callback always errors.
	if client != nil {
		_ = client.Close()
	}
	return nil, fmt.Errorf("ssh dial succeeded unexpectedly, could not retrieve key")
}
