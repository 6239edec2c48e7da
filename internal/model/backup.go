// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.
package model

// BackupData is a container for all data to be exported for a backup.
// It holds slices of all the core models kept in the local database.
type BackupData struct {
	// SchemaVersion helps in handling migrations during restore.
	SchemaVersion int `json:"schema_version"`

	// Data from each table.
	Deployments     []DeploymentRecord `json:"deployments"`
	KnownHosts      []KnownHost        `json:"known_hosts"`
	AuditLogEntries []AuditLogEntry    `json:"audit_log_entries"`
}

// KnownHost represents a trusted device's SSH host key, pinned on first
// contact.
type KnownHost struct {
	Hostname string `json:"hostname"`
	Key      string `json:"key"`
}
