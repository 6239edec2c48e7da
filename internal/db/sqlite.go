// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the data access layer for the deployment tool.
// This file contains the SQLite implementation of the database store.
package db // import "github.com/morphZ/dbus-mqtt-meter/internal/db"

import (
	"context"
	"fmt"

	"github.com/morphZ/dbus-mqtt-meter/internal/model"
	"github.com/uptrace/bun"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SqliteStore is the SQLite implementation of the Store interface.
type SqliteStore struct {
	bun *bun.DB
}

// AddDeployment records a deployment run and audits it.
func (s *SqliteStore) AddDeployment(rec model.DeploymentRecord) (int, error) {
	id, err := AddDeploymentBun(s.bun, rec)
	if err == nil {
		_ = s.LogAction("DEPLOY", fmt.Sprintf("target: %s, status: %s", rec.Target, rec.Status))
	}
	return id, err
}

// GetAllDeployments retrieves the full deployment history, newest first.
func (s *SqliteStore) GetAllDeployments() ([]model.DeploymentRecord, error) {
	return GetAllDeploymentsBun(s.bun)
}

// GetDeploymentsForTarget retrieves the deployment history for one target.
func (s *SqliteStore) GetDeploymentsForTarget(target string) ([]model.DeploymentRecord, error) {
	return GetDeploymentsForTargetBun(s.bun, target)
}

// GetKnownHostKey retrieves the trusted public key for a given hostname.
func (s *SqliteStore) GetKnownHostKey(hostname string) (string, error) {
	return GetKnownHostKeyBun(s.bun, hostname)
}

// AddKnownHostKey adds a new trusted host key to the database.
func (s *SqliteStore) AddKnownHostKey(hostname, key string) error {
	// INSERT OR REPLACE will add the key if it doesn't exist, or update it if it does.
	// This is useful if a host is legitimately re-provisioned.
	ctx := context.Background()
	_, err := ExecRaw(ctx, s.bun, "INSERT OR REPLACE INTO known_hosts (hostname, key) VALUES (?, ?)", hostname, key)
	if err == nil {
		_ = s.LogAction("TRUST_HOST", fmt.Sprintf("hostname: %s", hostname))
	}
	return MapDBError(err)
}

// GetAllAuditLogEntries retrieves all entries from the audit log, most recent first.
func (s *SqliteStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *SqliteStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportDataForBackup retrieves all data from the database for a backup.
func (s *SqliteStore) ExportDataForBackup() (*model.BackupData, error) {
	return ExportDataForBackupBun(s.bun)
}

// ImportDataFromBackup restores the database from a backup data structure.
// It performs a full wipe-and-replace within a single transaction to ensure atomicity.
func (s *SqliteStore) ImportDataFromBackup(backup *model.BackupData) error {
	return ImportDataFromBackupBun(s.bun, backup)
}

// IntegrateDataFromBackup restores data from a backup in a non-destructive way,
// skipping entries that already exist.
func (s *SqliteStore) IntegrateDataFromBackup(backup *model.BackupData) error {
	ctx := context.Background()
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		for _, d := range backup.Deployments {
			if _, err := ExecRaw(ctx, tx, "INSERT OR IGNORE INTO deployments (id, target, version, files, bytes, duration_ms, status, detail, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
				d.ID, d.Target, d.Version, d.Files, d.Bytes, d.Duration, d.Status, d.Detail, d.StartedAt); err != nil {
				return err
			}
		}
		for _, kh := range backup.KnownHosts {
			if _, err := ExecRaw(ctx, tx, "INSERT OR IGNORE INTO known_hosts (hostname, key) VALUES (?, ?)", kh.Hostname, kh.Key); err != nil {
				return err
			}
		}
		for _, ale := range backup.AuditLogEntries {
			if _, err := ExecRaw(ctx, tx, "INSERT OR IGNORE INTO audit_log (id, timestamp, username, action, details) VALUES (?, ?, ?, ?, ?)",
				ale.ID, ale.Timestamp, ale.Username, ale.Action, ale.Details); err != nil {
				return err
			}
		}
		return nil
	})
}
