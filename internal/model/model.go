// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core data models used across the deployment
// tool. These are simple structs that represent database entities and are
// intentionally minimal to keep serialization and DB adapters
// straightforward.
package model // import "github.com/morphZ/dbus-mqtt-meter/internal/model"

import (
	"fmt"
	"net"
)

// Target identifies the remote Venus OS device a deployment talks to
// (e.g., root@venus.local).
type Target struct {
	User string `json:"user"` // SSH user; Venus OS ships a root login
	Host string `json:"host"` // hostname or IP address
	Port string `json:"port"` // SSH port, "22" unless overridden
}

// String returns the user@host representation, with the port appended
// when it differs from the SSH default.
func (t Target) String() string {
	if t.Port != "" && t.Port != "22" {
		return fmt.Sprintf("%s@%s:%s", t.User, t.Host, t.Port)
	}
	return fmt.Sprintf("%s@%s", t.User, t.Host)
}

// Addr returns the host:port form used for dialing. IPv6 addresses are
// bracketed as needed.
func (t Target) Addr() string {
	port := t.Port
	if port == "" {
		port = "22"
	}
	return net.JoinHostPort(t.Host, port)
}

// DeploymentRecord is one row of deployment history.
type DeploymentRecord struct {
	ID        int    `json:"id"`
	Target    string `json:"target"`      // user@host the run was aimed at
	Version   string `json:"version"`     // tool version that performed the run
	Files     int    `json:"files"`       // number of files shipped
	Bytes     int64  `json:"bytes"`       // total payload bytes written
	Duration  int64  `json:"duration_ms"` // wall time in milliseconds
	Status    string `json:"status"`      // "ok" or the name of the failed stage
	Detail    string `json:"detail"`      // error text for failed runs, empty on success
	StartedAt string `json:"started_at"`  // stored as text to stay portable across engines
}

// Succeeded reports whether the record describes a completed deployment.
func (r DeploymentRecord) Succeeded() bool {
	return r.Status == "ok"
}

// AuditLogEntry records an action performed by the tool, tagged with the
// local OS user that ran it.
type AuditLogEntry struct {
	ID        int    `json:"id"`
	Timestamp string `json:"timestamp"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Details   string `json:"details"`
}
