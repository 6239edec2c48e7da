// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"github.com/morphZ/dbus-mqtt-meter/internal/model"
)

// Store defines the interface for all database operations of the deploy tool.
// This allows for multiple database backends to be implemented.
type Store interface {
	// Deployment history methods
	AddDeployment(rec model.DeploymentRecord) (int, error)
	GetAllDeployments() ([]model.DeploymentRecord, error)
	GetDeploymentsForTarget(target string) ([]model.DeploymentRecord, error)

	// Host Key methods
	GetKnownHostKey(hostname string) (string, error)
	AddKnownHostKey(hostname, key string) error

	// Audit Log methods
	GetAllAuditLogEntries() ([]model.AuditLogEntry, error)
	LogAction(action string, details string) error

	// Backup / restore methods
	ExportDataForBackup() (*model.BackupData, error)
	ImportDataFromBackup(data *model.BackupData) error
	IntegrateDataFromBackup(data *model.BackupData) error
}
