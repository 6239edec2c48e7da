// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the data access layer for the deployment tool.
// This file contains the MySQL/MariaDB implementation of the database store.
package db // import "github.com/morphZ/dbus-mqtt-meter/internal/db"

import (
	"context"
	"fmt"

	"github.com/morphZ/dbus-mqtt-meter/internal/model"
	"github.com/uptrace/bun"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStore is the MySQL/MariaDB implementation of the Store interface.
type MySQLStore struct {
	bun *bun.DB
}

// AddDeployment records a deployment run and audits it.
func (s *MySQLStore) AddDeployment(rec model.DeploymentRecord) (int, error) {
	id, err := AddDeploymentBun(s.bun, rec)
	if err == nil {
		_ = s.LogAction("DEPLOY", fmt.Sprintf("target: %s, status: %s", rec.Target, rec.Status))
	}
	return id, err
}

// GetAllDeployments retrieves the full deployment history, newest first.
func (s *MySQLStore) GetAllDeployments() ([]model.DeploymentRecord, error) {
	return GetAllDeploymentsBun(s.bun)
}

// GetDeploymentsForTarget retrieves the deployment history for one target.
func (s *MySQLStore) GetDeploymentsForTarget(target string) ([]model.DeploymentRecord, error) {
	return GetDeploymentsForTargetBun(s.bun, target)
}

// GetKnownHostKey retrieves the trusted public key for a given hostname.
func (s *MySQLStore) GetKnownHostKey(hostname string) (string, error) {
	return GetKnownHostKeyBun(s.bun, hostname)
}

// AddKnownHostKey adds a new trusted host key to the database.
func (s *MySQLStore) AddKnownHostKey(hostname, key string) error {
	// MySQL's ON DUPLICATE KEY UPDATE gives "UPSERT" behavior. The key column
	// needs backticks because KEY is a reserved word in MySQL.
	ctx := context.Background()
	_, err := ExecRaw(ctx, s.bun, "INSERT INTO known_hosts (hostname, `key`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `key` = VALUES(`key`)", hostname, key)
	if err == nil {
		_ = s.LogAction("TRUST_HOST", fmt.Sprintf("hostname: %s", hostname))
	}
	return MapDBError(err)
}

// GetAllAuditLogEntries retrieves all entries from the audit log, most recent first.
func (s *MySQLStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *MySQLStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportDataForBackup retrieves all data from the database for a backup.
func (s *MySQLStore) ExportDataForBackup() (*model.BackupData, error) {
	return ExportDataForBackupBun(s.bun)
}

// ImportDataFromBackup restores the database from a backup data structure.
func (s *MySQLStore) ImportDataFromBackup(backup *model.BackupData) error {
	return ImportDataFromBackupBun(s.bun, backup)
}

// IntegrateDataFromBackup restores data from a backup in a non-destructive way,
// skipping entries that already exist.
func (s *MySQLStore) IntegrateDataFromBackup(backup *model.BackupData) error {
	ctx := context.Background()
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		for _, d := range backup.Deployments {
			if _, err := ExecRaw(ctx, tx, "INSERT IGNORE INTO deployments (id, target, version, files, bytes, duration_ms, status, detail, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
				d.ID, d.Target, d.Version, d.Files, d.Bytes, d.Duration, d.Status, d.Detail, d.StartedAt); err != nil {
				return err
			}
		}
		for _, kh := range backup.KnownHosts {
			if _, err := ExecRaw(ctx, tx, "INSERT IGNORE INTO known_hosts (hostname, `key`) VALUES (?, ?)", kh.Hostname, kh.Key); err != nil {
				return err
			}
		}
		for _, ale := range backup.AuditLogEntries {
			if _, err := ExecRaw(ctx, tx, "INSERT IGNORE INTO audit_log (id, timestamp, username, action, details) VALUES (?, ?, ?, ?, ?)",
				ale.ID, ale.Timestamp, ale.Username, ale.Action, ale.Details); err != nil {
				return err
			}
		}
		return nil
	})
}
