package db

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/morphZ/dbus-mqtt-meter/internal/model"
	"github.com/uptrace/bun"
)

// DeploymentModel maps the deployments table.
type DeploymentModel struct {
	bun.BaseModel `bun:"table:deployments"`
	ID            int    `bun:"id,pk,autoincrement"`
	Target        string `bun:"target"`
	Version       string `bun:"version"`
	Files         int    `bun:"files"`
	Bytes         int64  `bun:"bytes"`
	Duration      int64  `bun:"duration_ms"`
	Status        string `bun:"status"`
	Detail        string `bun:"detail"`
	StartedAt     string `bun:"started_at"`
}

// KnownHostModel maps known_hosts.
type KnownHostModel struct {
	bun.BaseModel `bun:"table:known_hosts"`
	Hostname      string `bun:"hostname,pk"`
	Key           string `bun:"key"`
}

// AuditLogModel maps the audit_log table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int    `bun:"id,pk,autoincrement"`
	Timestamp     string `bun:"timestamp"`
	Username      string `bun:"username"`
	Action        string `bun:"action"`
	Details       string `bun:"details"`
}

// --- Mapping helpers (centralized conversions) ---

func deploymentModelToModel(d DeploymentModel) model.DeploymentRecord {
	return model.DeploymentRecord{
		ID:        d.ID,
		Target:    d.Target,
		Version:   d.Version,
		Files:     d.Files,
		Bytes:     d.Bytes,
		Duration:  d.Duration,
		Status:    d.Status,
		Detail:    d.Detail,
		StartedAt: d.StartedAt,
	}
}

func auditLogModelToModel(a AuditLogModel) model.AuditLogEntry {
	return model.AuditLogEntry{ID: a.ID, Timestamp: a.Timestamp, Username: a.Username, Action: a.Action, Details: a.Details}
}

// --- Deployment helpers ---

// AddDeploymentBun inserts a deployment record and returns the assigned id.
func AddDeploymentBun(bdb *bun.DB, rec model.DeploymentRecord) (int, error) {
	ctx := context.Background()
	dm := &DeploymentModel{
		Target:    rec.Target,
		Version:   rec.Version,
		Files:     rec.Files,
		Bytes:     rec.Bytes,
		Duration:  rec.Duration,
		Status:    rec.Status,
		Detail:    rec.Detail,
		StartedAt: rec.StartedAt,
	}
	if dm.StartedAt == "" {
		dm.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	// Use Bun's NewInsert with Returning to support Postgres and MySQL.
	if _, err := bdb.NewInsert().Model(dm).Returning("id").Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return dm.ID, nil
}

// GetAllDeploymentsBun retrieves the complete deployment history, newest first.
func GetAllDeploymentsBun(bdb *bun.DB) ([]model.DeploymentRecord, error) {
	ctx := context.Background()
	var dms []DeploymentModel
	if err := bdb.NewSelect().Model(&dms).OrderExpr("id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.DeploymentRecord, 0, len(dms))
	for _, d := range dms {
		out = append(out, deploymentModelToModel(d))
	}
	return out, nil
}

// GetDeploymentsForTargetBun retrieves the history for one target, newest first.
func GetDeploymentsForTargetBun(bdb *bun.DB, target string) ([]model.DeploymentRecord, error) {
	ctx := context.Background()
	var dms []DeploymentModel
	if err := bdb.NewSelect().Model(&dms).Where("target = ?", target).OrderExpr("id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.DeploymentRecord, 0, len(dms))
	for _, d := range dms {
		out = append(out, deploymentModelToModel(d))
	}
	return out, nil
}

// --- Known host helpers ---

func GetKnownHostKeyBun(bdb *bun.DB, hostname string) (string, error) {
	ctx := context.Background()
	var kh KnownHostModel
	err := bdb.NewSelect().Model(&kh).Where("hostname = ?", hostname).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return kh.Key, nil
}

// --- Audit log helpers ---

func GetAllAuditLogEntriesBun(bdb *bun.DB) ([]model.AuditLogEntry, error) {
	ctx := context.Background()
	var am []AuditLogModel
	if err := bdb.NewSelect().Model(&am).OrderExpr("id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(am))
	for _, a := range am {
		out = append(out, auditLogModelToModel(a))
	}
	return out, nil
}

// LogActionBun inserts an audit log entry with the current OS user.
// Timestamps are written as RFC3339 strings so all supported engines store
// them identically.
func LogActionBun(bdb *bun.DB, action string, details string) error {
	ctx := context.Background()
	curUser, err := user.Current()
	username := "unknown"
	if err == nil {
		if parts := strings.Split(curUser.Username, `\`); len(parts) > 1 {
			username = parts[1]
		} else {
			username = curUser.Username
		}
	}
	entry := &AuditLogModel{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Username:  username,
		Action:    action,
		Details:   details,
	}
	_, err = bdb.NewInsert().Model(entry).Exec(ctx)
	return MapDBError(err)
}

// --- Backup helpers ---

// ExportDataForBackupBun exports all tables' data into a model.BackupData using a Bun transaction.
func ExportDataForBackupBun(bdb *bun.DB) (*model.BackupData, error) {
	ctx := context.Background()
	var backup *model.BackupData
	err := WithTx(ctx, bdb, func(ctx context.Context, tx bun.Tx) error {
		backup = &model.BackupData{SchemaVersion: 1}

		// Deployments
		var dms []DeploymentModel
		if err := tx.NewSelect().Model(&dms).OrderExpr("id").Scan(ctx); err != nil {
			return err
		}
		for _, d := range dms {
			backup.Deployments = append(backup.Deployments, deploymentModelToModel(d))
		}

		// Known hosts
		var khs []KnownHostModel
		if err := tx.NewSelect().Model(&khs).Scan(ctx); err != nil {
			return err
		}
		for _, k := range khs {
			backup.KnownHosts = append(backup.KnownHosts, model.KnownHost{Hostname: k.Hostname, Key: k.Key})
		}

		// Audit log
		var als []AuditLogModel
		if err := tx.NewSelect().Model(&als).OrderExpr("id").Scan(ctx); err != nil {
			return err
		}
		for _, a := range als {
			backup.AuditLogEntries = append(backup.AuditLogEntries, auditLogModelToModel(a))
		}

		return nil
	})
	return backup, err
}

// ImportDataFromBackupBun performs a full wipe-and-replace using a Bun transaction.
func ImportDataFromBackupBun(bdb *bun.DB, backup *model.BackupData) error {
	ctx := context.Background()
	return WithTx(ctx, bdb, func(ctx context.Context, tx bun.Tx) error {
		// Wipe tables
		tables := []string{"audit_log", "known_hosts", "deployments"}
		for _, t := range tables {
			if _, err := ExecRaw(ctx, tx, fmt.Sprintf("DELETE FROM %s", t)); err != nil {
				return err
			}
		}

		// Deployments: keep original ids so history references stay stable.
		for _, d := range backup.Deployments {
			if _, err := ExecRaw(ctx, tx, "INSERT INTO deployments (id, target, version, files, bytes, duration_ms, status, detail, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
				d.ID, d.Target, d.Version, d.Files, d.Bytes, d.Duration, d.Status, d.Detail, d.StartedAt); err != nil {
				return MapDBError(err)
			}
		}
		// Known hosts. "key" is quoted via bun.Ident since it is reserved in MySQL.
		for _, kh := range backup.KnownHosts {
			if _, err := ExecRaw(ctx, tx, "INSERT INTO known_hosts (hostname, ?) VALUES (?, ?)", bun.Ident("key"), kh.Hostname, kh.Key); err != nil {
				return MapDBError(err)
			}
		}
		// Audit log
		for _, ale := range backup.AuditLogEntries {
			if _, err := ExecRaw(ctx, tx, "INSERT INTO audit_log (id, timestamp, username, action, details) VALUES (?, ?, ?, ?, ?)",
				ale.ID, ale.Timestamp, ale.Username, ale.Action, ale.Details); err != nil {
				return MapDBError(err)
			}
		}
		return nil
	})
}
