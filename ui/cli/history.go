// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// history.go holds the commands that read the local database: the
// deployment history and the audit log.

package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/morphZ/dbus-mqtt-meter/internal/db"
	"github.com/morphZ/dbus-mqtt-meter/internal/model"
)

// historyCmd lists recorded deployments, newest first.
var historyCmd = &cobra.Command{
	Use:   "history [user@host]",
	Short: "Show recorded deployments",
	Long: `Lists the recorded deployment runs, newest first. With a user@host
argument, only runs against that target are shown. Failed runs carry the
name of the stage that failed and its error.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		var recs []model.DeploymentRecord
		var err error
		if len(args) > 0 {
			target, terr := parseTargetString(args[0])
			if terr != nil {
				return terr
			}
			recs, err = db.GetDeploymentsForTarget(target.String())
		} else {
			recs, err = db.GetAllDeployments()
		}
		if err != nil {
			return fmt.Errorf("failed to load deployment history: %w", err)
		}
		if len(recs) == 0 {
			fmt.Println("No deployments recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tTARGET\tVERSION\tFILES\tBYTES\tDURATION\tSTATUS")
		for _, r := range recs {
			status := r.Status
			if !r.Succeeded() && r.Detail != "" {
				status = fmt.Sprintf("%s: %s", r.Status, r.Detail)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%dms\t%s\n",
				r.ID, r.StartedAt, r.Target, r.Version, r.Files, r.Bytes, r.Duration, status)
		}
		return w.Flush()
	},
}

// auditLogCmd lists who did what with this tool, newest first.
var auditLogCmd = &cobra.Command{
	Use:   "audit-log",
	Short: "Show the audit log",
	Long: `Lists the audit log: which OS user ran which destructive or trust-changing
operation (deploy, uninstall, trust-host, restore, backup) and when.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := db.GetAllAuditLogEntries()
		if err != nil {
			return fmt.Errorf("failed to load audit log: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No audit log entries.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tUSER\tACTION\tDETAILS")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp, e.Username, e.Action, e.Details)
		}
		return w.Flush()
	},
}
