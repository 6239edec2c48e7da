// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the data access layer for the deployment tool.
// This file contains the PostgreSQL implementation of the database store.
package db // import "github.com/morphZ/dbus-mqtt-meter/internal/db"

import (
	"context"
	"fmt"

	"github.com/morphZ/dbus-mqtt-meter/internal/model"
	"github.com/uptrace/bun"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver (registers as "pgx")
)

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	bun *bun.DB
}

// AddDeployment records a deployment run and audits it.
func (s *PostgresStore) AddDeployment(rec model.DeploymentRecord) (int, error) {
	id, err := AddDeploymentBun(s.bun, rec)
	if err == nil {
		_ = s.LogAction("DEPLOY", fmt.Sprintf("target: %s, status: %s", rec.Target, rec.Status))
	}
	return id, err
}

// GetAllDeployments retrieves the full deployment history, newest first.
func (s *PostgresStore) GetAllDeployments() ([]model.DeploymentRecord, error) {
	return GetAllDeploymentsBun(s.bun)
}

// GetDeploymentsForTarget retrieves the deployment history for one target.
func (s *PostgresStore) GetDeploymentsForTarget(target string) ([]model.DeploymentRecord, error) {
	return GetDeploymentsForTargetBun(s.bun, target)
}

// GetKnownHostKey retrieves the trusted public key for a given hostname.
func (s *PostgresStore) GetKnownHostKey(hostname string) (string, error) {
	return GetKnownHostKeyBun(s.bun, hostname)
}

// AddKnownHostKey adds a new trusted host key to the database.
func (s *PostgresStore) AddKnownHostKey(hostname, key string) error {
	// Use Postgres's ON CONFLICT for "UPSERT" behavior.
	ctx := context.Background()
	_, err := ExecRaw(ctx, s.bun, `
		INSERT INTO known_hosts (hostname, "key") VALUES (?, ?)
		ON CONFLICT (hostname) DO UPDATE SET "key" = EXCLUDED.key`,
		hostname, key)
	if err == nil {
		_ = s.LogAction("TRUST_HOST", fmt.Sprintf("hostname: %s", hostname))
	}
	return MapDBError(err)
}

// GetAllAuditLogEntries retrieves all entries from the audit log, most recent first.
func (s *PostgresStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *PostgresStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportDataForBackup retrieves all data from the database for a backup.
func (s *PostgresStore) ExportDataForBackup() (*model.BackupData, error) {
	return ExportDataForBackupBun(s.bun)
}

// ImportDataFromBackup restores the database from a backup data structure.
// The restore is followed by sequence resets so subsequent inserts do not
// collide with imported ids.
func (s *PostgresStore) ImportDataFromBackup(backup *model.BackupData) error {
	if err := ImportDataFromBackupBun(s.bun, backup); err != nil {
		return err
	}
	return s.resetSequences()
}

// IntegrateDataFromBackup restores data from a backup in a non-destructive way,
// skipping entries that already exist.
func (s *PostgresStore) IntegrateDataFromBackup(backup *model.BackupData) error {
	ctx := context.Background()
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		for _, d := range backup.Deployments {
			if _, err := ExecRaw(ctx, tx, "INSERT INTO deployments (id, target, version, files, bytes, duration_ms, status, detail, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
				d.ID, d.Target, d.Version, d.Files, d.Bytes, d.Duration, d.Status, d.Detail, d.StartedAt); err != nil {
				return err
			}
		}
		for _, kh := range backup.KnownHosts {
			if _, err := ExecRaw(ctx, tx, `INSERT INTO known_hosts (hostname, "key") VALUES (?, ?) ON CONFLICT DO NOTHING`, kh.Hostname, kh.Key); err != nil {
				return err
			}
		}
		for _, ale := range backup.AuditLogEntries {
			if _, err := ExecRaw(ctx, tx, "INSERT INTO audit_log (id, timestamp, username, action, details) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
				ale.ID, ale.Timestamp, ale.Username, ale.Action, ale.Details); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.resetSequences()
}

// resetSequences realigns the serial sequences with the highest imported id.
func (s *PostgresStore) resetSequences() error {
	ctx := context.Background()
	for _, table := range []string{"deployments", "audit_log"} {
		q := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)", table, table)
		if _, err := ExecRaw(ctx, s.bun, q); err != nil {
			return fmt.Errorf("failed to reset sequence for %s: %w", table, err)
		}
	}
	return nil
}
