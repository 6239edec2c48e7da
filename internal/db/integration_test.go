// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"os"
	"testing"
	"time"

	"github.com/morphZ/dbus-mqtt-meter/internal/model"
)

// TestIntegrationSmoke runs a minimal integration test against a real DB.
// It requires two env vars to be set by CI: INTEGRATION_DB ("postgres" or "mysql")
// and INTEGRATION_DSN (the driver DSN). If not present the test is skipped.
func TestIntegrationSmoke(t *testing.T) {
	dbType := os.Getenv("INTEGRATION_DB")
	dsn := os.Getenv("INTEGRATION_DSN")
	if dbType == "" || dsn == "" {
		t.Skip("integration DB env not set; skipping")
	}

	// Retry connecting for a short while to allow service startup in CI.
	var storeInst Store
	var err error
	for i := 0; i < 30; i++ {
		storeInst, err = NewStoreFromDSN(dbType, dsn)
		if err == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		t.Fatalf("failed to initialize store for integration DB (%s): %v", dbType, err)
	}

	if _, err := storeInst.AddDeployment(model.DeploymentRecord{Target: "root@int.example", Status: "ok", StartedAt: "2025-06-01T10:00:00Z"}); err != nil {
		t.Fatalf("AddDeployment failed on %s: %v", dbType, err)
	}

	// Pinning the same host twice must upsert, not error.
	if err := storeInst.AddKnownHostKey("int.example", "ssh-ed25519 AAAA one"); err != nil {
		t.Fatalf("AddKnownHostKey failed on %s: %v", dbType, err)
	}
	if err := storeInst.AddKnownHostKey("int.example", "ssh-ed25519 AAAA two"); err != nil {
		t.Fatalf("AddKnownHostKey upsert failed on %s: %v", dbType, err)
	}
	key, err := storeInst.GetKnownHostKey("int.example")
	if err != nil {
		t.Fatalf("GetKnownHostKey failed on %s: %v", dbType, err)
	}
	if key != "ssh-ed25519 AAAA two" {
		t.Fatalf("expected upserted key on %s, got %q", dbType, key)
	}

	// Export, wipe, restore.
	backup, err := storeInst.ExportDataForBackup()
	if err != nil {
		t.Fatalf("ExportDataForBackup failed on %s: %v", dbType, err)
	}
	empty := &model.BackupData{SchemaVersion: backup.SchemaVersion}
	if err := storeInst.ImportDataFromBackup(empty); err != nil {
		t.Fatalf("ImportDataFromBackup(empty) failed on %s: %v", dbType, err)
	}
	postEmpty, err := storeInst.ExportDataForBackup()
	if err != nil {
		t.Fatalf("ExportDataForBackup after wipe failed on %s: %v", dbType, err)
	}
	if len(postEmpty.Deployments) != 0 || len(postEmpty.KnownHosts) != 0 {
		t.Fatalf("expected DB to be empty after empty import on %s, got deployments=%d hosts=%d",
			dbType, len(postEmpty.Deployments), len(postEmpty.KnownHosts))
	}
	if err := storeInst.ImportDataFromBackup(backup); err != nil {
		t.Fatalf("ImportDataFromBackup restore failed on %s: %v", dbType, err)
	}
	restored, err := storeInst.ExportDataForBackup()
	if err != nil {
		t.Fatalf("ExportDataForBackup after restore failed on %s: %v", dbType, err)
	}
	if len(restored.Deployments) != len(backup.Deployments) || len(restored.KnownHosts) != len(backup.KnownHosts) {
		t.Fatalf("restore incomplete on %s", dbType)
	}

	// New inserts after a restore must not collide with imported ids.
	if _, err := storeInst.AddDeployment(model.DeploymentRecord{Target: "root@int.example", Status: "ok"}); err != nil {
		t.Fatalf("AddDeployment after restore failed on %s: %v", dbType, err)
	}
}
