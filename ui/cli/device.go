// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// device.go holds the commands that inspect or clean up a single device:
// check (preflight probes), verify (drift detection), and uninstall.

package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/morphZ/dbus-mqtt-meter/internal/db"
	"github.com/morphZ/dbus-mqtt-meter/internal/deploy"
	"github.com/morphZ/dbus-mqtt-meter/internal/manifest"
)

// Injection points so tests can run these commands without a device on the
// network, mirroring runDeploymentFunc.
var (
	checkTargetFunc = deploy.CheckTarget

	analyzeDriftFunc = func(opts deploy.Options) (*deploy.DriftReport, error) {
		d, err := deploy.NewDeployerFunc(opts.Target.Addr(), opts.Target.User, opts.Auth, opts.Connection, opts.InsecureHostKey)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return d.AnalyzeDrift(opts, opts.Manifest)
	}

	uninstallFunc = func(opts deploy.Options, uopts deploy.UninstallOptions) error {
		d, err := deploy.NewDeployerFunc(opts.Target.Addr(), opts.Target.User, opts.Auth, opts.Connection, opts.InsecureHostKey)
		if err != nil {
			return err
		}
		defer d.Close()
		return d.Uninstall(opts.InstallDir, opts.ServiceDir, opts.StartupFile, uopts)
	}
)

// checkCmd probes a device without changing anything on it.
var checkCmd = &cobra.Command{
	Use:   "check [user@host]",
	Short: "Probe a device without changing anything on it",
	Long: `Runs the preflight probes against a device: an ICMP ping, a TCP dial of
the SSH port, an authenticated SSH login, a read of the firmware version,
and a look for the installed service. Nothing on the device is modified.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := deployOptions(cmd, args)
		if err != nil {
			return err
		}
		defer opts.Auth.Passphrase.Zero()
		defer opts.Auth.Password.Zero()

		res, err := checkTargetFunc(opts)
		if res == nil {
			return err
		}

		fmt.Printf("Target: %s\n", opts.Target.String())
		if res.PingOK {
			fmt.Printf("  ping: ok (%s)\n", res.PingRTT.Round(time.Millisecond))
		} else {
			fmt.Println("  ping: no reply (ICMP is often blocked; not fatal)")
		}
		if res.TCPOK {
			fmt.Println("  ssh port: open")
		} else {
			fmt.Println("  ssh port: closed or filtered")
		}
		if err != nil {
			return fmt.Errorf("ssh login failed: %w", err)
		}
		fmt.Println("  ssh login: ok")
		if res.Version != "" {
			fmt.Printf("  firmware: %s\n", res.Version)
		} else {
			fmt.Println("  firmware: unknown (version file not readable)")
		}
		if res.Installed {
			fmt.Printf("  service: %s is installed\n", manifest.ModuleName)
		} else {
			fmt.Printf("  service: %s is not installed\n", manifest.ModuleName)
		}
		return nil
	},
}

// verifyCmd compares the deployed installation against the local sources.
var verifyCmd = &cobra.Command{
	Use:   "verify [user@host]",
	Short: "Compare the deployed files against the local source tree",
	Long: `Reads every deployed file back from the device and compares it byte for
byte against the local source tree, then checks the service symlink target
and the autostart entry. Nothing on the device is modified.

Exits non-zero when the device deviates, so the command can gate scripted
rollouts.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := deployOptions(cmd, args)
		if err != nil {
			return err
		}
		defer opts.Auth.Passphrase.Zero()
		defer opts.Auth.Password.Zero()

		report, err := analyzeDriftFunc(opts)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSTATUS\tDETAIL")
		for _, f := range report.Files {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.Path, f.Status, f.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if report.SymlinkOK {
			fmt.Println("service symlink: ok")
		} else {
			fmt.Println("service symlink: missing or pointing elsewhere")
		}
		if report.AutostartOK {
			fmt.Println("autostart entry: ok")
		} else {
			fmt.Println("autostart entry: missing")
		}

		if report.HasDrift() {
			return fmt.Errorf("device deviates from the local source tree")
		}
		fmt.Println("No drift detected.")
		return nil
	},
}

// uninstallCmd removes the service from a device.
var uninstallCmd = &cobra.Command{
	Use:   "uninstall [user@host]",
	Short: "Remove the service from a device",
	Long: `Takes the service out of daemontools supervision, removes the service
symlink, strips the autostart entry from the startup file, and stops the
running process.

With --purge the installation directory is deleted as well, including any
logs under it.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := deployOptions(cmd, args)
		if err != nil {
			return err
		}
		defer opts.Auth.Passphrase.Zero()
		defer opts.Auth.Password.Zero()

		purge, _ := cmd.Flags().GetBool("purge")
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			fmt.Printf("This will stop %s on %s, remove the service symlink, and strip the autostart entry.\n",
				manifest.ModuleName, opts.Target.String())
			if purge {
				fmt.Printf("The installation directory %s will be DELETED, including logs.\n", opts.InstallDir)
			}
			ans := promptForConfirmation("Do you want to continue? (yes/no): ")
			if ans != "yes" && ans != "y" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := uninstallFunc(opts, deploy.UninstallOptions{Purge: purge}); err != nil {
			return err
		}
		if err := db.LogAction("UNINSTALL", fmt.Sprintf("target=%s purge=%v", opts.Target.String(), purge)); err != nil {
			log.Warnf("failed to record audit entry: %v", err)
		}
		fmt.Printf("Uninstalled %s from %s.\n", manifest.ModuleName, opts.Target.String())
		return nil
	},
}
