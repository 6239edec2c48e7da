// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Default timeouts for remote operations.
const (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultCommandTimeout    = 30 * time.Second
	DefaultSFTPTimeout       = 30 * time.Second
)

// ConnectionConfig bounds the remote operations of one session.
type ConnectionConfig struct {
	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration
	SFTPTimeout       time.Duration
}

// DefaultConnectionConfig returns the standard timeouts.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectionTimeout: DefaultConnectionTimeout,
		CommandTimeout:    DefaultCommandTimeout,
		SFTPTimeout:       DefaultSFTPTimeout,
	}
}

// ErrPassphraseRequired is returned when the configured private key is
// encrypted and no passphrase was supplied. The CLI prompts and retries.
var ErrPassphraseRequired = errors.New("private key is encrypted: passphrase required")

// ErrHostKeySuccessfullyRetrieved is the sentinel used by GetRemoteHostKey to
// abort the handshake once the host key callback has seen the key.
var ErrHostKeySuccessfullyRetrieved = errors.New("successfully retrieved host key")

// IsConnectionTimeoutError reports whether err looks like a network timeout.
// The matching is string-based because the ssh package flattens the
// underlying net errors.
func IsConnectionTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

// IsConnectionRefusedError reports whether err indicates the host rejected or
// could not receive the connection.
func IsConnectionRefusedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host")
}

// IsAuthenticationError reports whether err indicates failed authentication
// rather than a transport problem.
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "unable to authenticate")
}

// IsHostKeyError reports whether err indicates a host key problem (mismatch,
// unknown, or verification failure).
func IsHostKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "host key mismatch") ||
		strings.Contains(msg, "unknown host key") ||
		strings.Contains(msg, "host key verification failed")
}

// ClassifyConnectionError wraps a connection error with a message naming the
// host and the failure class. The underlying error stays available for
// errors.Is/As.
func ClassifyConnectionError(host string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsConnectionTimeoutError(err):
		return fmt.Errorf("connection to %s timed out: %w", host, err)
	case IsConnectionRefusedError(err):
		return fmt.Errorf("connection to %s refused: %w", host, err)
	case IsAuthenticationError(err):
		return fmt.Errorf("authentication failed for %s: %w", host, err)
	case IsHostKeyError(err):
		return fmt.Errorf("host key verification failed for %s: %w", host, err)
	default:
		return fmt.Errorf("failed to connect to %s: %w", host, err)
	}
}

// ParseHostPort splits a target spec into host and port. It tolerates an
// optional user@ prefix, bracketed and bare IPv6 addresses, and a missing
// port (returned as "").
func ParseHostPort(target string) (host, port string, err error) {
	s := target
	if i := strings.LastIndex(s, "@"); i != -1 {
		s = s[i+1:]
	}
	if s == "" {
		return "", "", fmt.Errorf("empty host in %q", target)
	}
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end == -1 {
			return "", "", fmt.Errorf("unmatched '[' in %q", target)
		}
		host = s[1:end]
		rest := s[end+1:]
		if rest == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", fmt.Errorf("invalid host:port %q", target)
		}
		return host, rest[1:], nil
	}
	// A bare IPv6 address has two or more colons and no port notation.
	if strings.Count(s, ":") >= 2 {
		return s, "", nil
	}
	if i := strings.LastIndex(s, ":"); i != -1 {
		return s[:i], s[i+1:], nil
	}
	return s, "", nil
}

// JoinHostPort combines host and port, falling back to defaultPort when port
// is empty. IPv6 hosts are bracketed.
func JoinHostPort(host, port, defaultPort string) string {
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}

// CanonicalizeHostPort normalizes a target spec to "host:22" form (with
// brackets for IPv6). Unparseable input is returned unchanged.
func CanonicalizeHostPort(target string) string {
	host, port, err := ParseHostPort(target)
	if err != nil {
		return target
	}
	return JoinHostPort(host, port, "22")
}
