// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface (CLI) for the deployment tool
// using the Cobra library. It defines the root command, subcommands (like
// deploy, check, trust-host), flags, and the main entry point for execution.

package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"runtime/debug"

	log "github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/morphZ/dbus-mqtt-meter/buildvars"
	"github.com/morphZ/dbus-mqtt-meter/internal/config"
	"github.com/morphZ/dbus-mqtt-meter/internal/db"
	"github.com/morphZ/dbus-mqtt-meter/internal/deploy"
	"github.com/morphZ/dbus-mqtt-meter/internal/i18n"
	"github.com/morphZ/dbus-mqtt-meter/internal/logging"
	"github.com/morphZ/dbus-mqtt-meter/internal/manifest"
	"github.com/morphZ/dbus-mqtt-meter/internal/model"
	"github.com/morphZ/dbus-mqtt-meter/internal/security"
	"github.com/morphZ/dbus-mqtt-meter/internal/sshkey"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)
var cfgFile string
var fullRestore bool // Flag for the restore command

var verbose bool
var showVersionFlag bool

var appConfig config.Config

func setupDefaultServices(cmd *cobra.Command, args []string) error {
	// Load optional config file argument from cli
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	defaults := config.Defaults()

	appConfig, err = config.LoadConfig[config.Config](cmd, defaults, optionalConfigPath)
	if err != nil {
		// A YAML parse error caused by control characters gets a
		// user-friendly pointer at the `debug` command; the tool keeps
		// running on defaults so it stays usable.
		if strings.Contains(err.Error(), "control characters are not allowed") {
			if used := config.FileUsed(); used == "" {
				log.Errorf("The config appears to be invalid (parse error). Run 'meter-deploy debug' to inspect configuration files: %v", err)
			} else {
				log.Errorf("The config you are using (%s) appears to be invalid: %v. Run 'meter-deploy debug' to inspect and fix it.", used, err)
			}
		} else {
			return fmt.Errorf("error loading config: %w", err)
		}
	}

	// First run, or the config file was deleted: persist the defaults so
	// subsequent runs have a file to inspect and edit. Skipped when loading
	// failed, so a broken config is never overwritten.
	if err == nil && config.FileUsed() == "" {
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			// Warn but don't fail, the tool runs fine on defaults.
			log.Warnf("Warning: could not write default config file: %v", writeErr)
		}
	}

	// A config file with empty values for critical fields falls back to the
	// compiled-in defaults rather than shipping files to bogus paths.
	if appConfig.Database.Type == "" {
		appConfig.Database.Type = defaults["database.type"].(string)
	}
	if appConfig.Database.DSN == "" {
		appConfig.Database.DSN = defaults["database.dsn"].(string)
	}
	if appConfig.Language == "" {
		appConfig.Language = defaults["language"].(string)
	}
	if appConfig.Deploy.InstallDir == "" {
		appConfig.Deploy.InstallDir = defaults["deploy.install_dir"].(string)
	}
	if appConfig.Deploy.ServiceDir == "" {
		appConfig.Deploy.ServiceDir = defaults["deploy.service_dir"].(string)
	}
	if appConfig.Deploy.RcLocal == "" {
		appConfig.Deploy.RcLocal = defaults["deploy.rc_local"].(string)
	}

	// Initialize i18n
	i18n.Init(appConfig.Language)

	if appConfig.Debug {
		logging.SetDebug(true)
		db.SetDebug(true)
	}

	// Initialize the database if not already initialized by tests or earlier setup.
	if !db.IsInitialized() {
		if err := db.InitDB(appConfig.Database.Type, appConfig.Database.DSN); err != nil {
			return errors.New(i18n.T("config.error_init_db", err))
		}
	}

	return nil
}

// Execute runs the CLI entrypoint. The root main package should call this
// function and handle process exit.
func Execute() error {
	rootCmd := NewRootCmd()
	return rootCmd.Execute()
}

func applyDefaultFlags(cmd *cobra.Command) {
	// Avoid redefining flags if they already exist (NewRootCmd may be called
	// multiple times in tests which creates a new root but uses package-level
	// subcommands). pflag will panic on duplicate flag definitions, so check
	// first.
	if cmd.Flags().Lookup("database.type") == nil {
		cmd.Flags().String("database.type", "sqlite", "Database type (e.g., sqlite, postgres)")
	}
	if cmd.Flags().Lookup("database.dsn") == nil {
		cmd.Flags().String("database.dsn", "./meter-deploy.db", "Database connection string (DSN)")
	}
}

// applyDeployFlags defines the flags shared by the root command and the
// deploy subcommand, guarded the same way as applyDefaultFlags.
func applyDeployFlags(cmd *cobra.Command) {
	if cmd.Flags().Lookup("dry-run") == nil {
		cmd.Flags().Bool("dry-run", false, "Validate the file set and report what would be shipped, without connecting")
	}
	if cmd.Flags().Lookup("source-dir") == nil {
		cmd.Flags().String("source-dir", "", "Local directory holding the service files (overrides the configured source dir)")
	}
	if cmd.Flags().Lookup("manifest") == nil {
		cmd.Flags().String("manifest", "", "YAML manifest overriding the compiled-in file set")
	}
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	// Only proceed if the user has explicitly set the --config flag.
	if cmd.Flags().Changed("config") {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			// This is unlikely if Changed() is true, but good practice.
			return nil, fmt.Errorf("could not read --config flag: %w", err)
		}

		// If the flag is set but the value is empty, do nothing.
		if path == "" {
			return nil, nil
		}

		// Make sure the user-provided file exists to avoid unwanted behavior.
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		return &path, nil // Return the valid path
	}
	return nil, nil
}

// NewRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well as
// fresh instances for isolated testing.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meter-deploy",
		Short: "meter-deploy ships the dbus-mqtt-meter service to Venus OS devices.",
		Long: `meter-deploy installs the dbus-mqtt-meter MQTT grid meter service on a
Victron Venus OS device over SSH. It copies the service files, registers
the boot-time autostart entry, activates the daemontools service symlink,
and restarts the running instance.

Running without a subcommand deploys to the configured target. Deployment
history, pinned device host keys, and the audit log live in a small local
database (SQLite by default).`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if showVersionFlag {
				fmt.Printf("%s\n", compositeVersion())
				os.Exit(0)
			}
			if verbose {
				logging.SetDebug(true)
				db.SetDebug(true)
			}
			return setupDefaultServices(cmd, args)
		},
		Run: func(cmd *cobra.Command, args []string) {
			// Config and database are already initialized by
			// PersistentPreRunE, so a bare invocation just deploys.
			runDeploy(cmd, nil)
		},
	}

	cmd.Version = compositeVersion()

	// Register debug command
	cmd.AddCommand(debugCmd)

	// Define flags
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (debug logging for transfers and DB)")
	cmd.PersistentFlags().BoolVarP(&showVersionFlag, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", "CLI language ("+strings.Join(i18n.AvailableLocaleTags(), ", ")+")")
	applyDefaultFlags(cmd)
	applyDeployFlags(cmd)

	// Add subcommand flags
	applyDefaultFlags(deployCmd)
	applyDeployFlags(deployCmd)
	applyDefaultFlags(checkCmd)
	applyDefaultFlags(verifyCmd)
	if verifyCmd.Flags().Lookup("source-dir") == nil {
		verifyCmd.Flags().String("source-dir", "", "Local directory to compare the device against (overrides the configured source dir)")
	}
	if verifyCmd.Flags().Lookup("manifest") == nil {
		verifyCmd.Flags().String("manifest", "", "YAML manifest overriding the compiled-in file set")
	}
	applyDefaultFlags(uninstallCmd)
	if uninstallCmd.Flags().Lookup("purge") == nil {
		uninstallCmd.Flags().Bool("purge", false, "Also delete the installation directory, including logs")
	}
	if uninstallCmd.Flags().Lookup("force") == nil {
		uninstallCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	}
	applyDefaultFlags(historyCmd)
	applyDefaultFlags(auditLogCmd)
	applyDefaultFlags(trustHostCmd)
	applyDefaultFlags(backupCmd)
	applyDefaultFlags(restoreCmd)
	if restoreCmd.Flags().Lookup("full") == nil {
		restoreCmd.Flags().BoolVar(&fullRestore, "full", false, "Perform a full, destructive restore (wipes all existing data first)")
	}
	applyDefaultFlags(dbMaintainCmd)
	if dbMaintainCmd.Flags().Lookup("timeout") == nil {
		dbMaintainCmd.Flags().Int("timeout", 0, "Timeout in seconds for maintenance (0 means no timeout)")
	}

	// A lightweight `version` subcommand so users and CI can run
	// `meter-deploy version`.
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			fmt.Printf("version: %s\n", v)
			fmt.Printf("commit: %s\n", c)
			if d != "" {
				fmt.Printf("built: %s\n", d)
			}
		},
	}

	// Add subcommands to the newly created root command.
	cmd.AddCommand(
		deployCmd,
		checkCmd,
		verifyCmd,
		uninstallCmd,
		historyCmd,
		auditLogCmd,
		trustHostCmd,
		backupCmd,
		restoreCmd,
		dbMaintainCmd,
		versionCmd,
	)

	return cmd
}

// compositeVersion renders the one-line version string used by --version and
// the generated help.
func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out = out + " (" + c + ")"
	}
	if d != "" {
		out = out + " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If `info` is nil, it reads build info from
// the runtime. This helper is separated to make unit testing straightforward.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	var ok bool
	if info == nil {
		if infoLocal, found := debug.ReadBuildInfo(); found {
			info = infoLocal
			ok = true
		}
	} else {
		ok = true
	}

	if ok && info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		// If Main doesn't contain the version (some build paths), try to
		// find our module in the dependencies and use that version.
		if (resolvedVersion == "dev" || resolvedVersion == "(devel)") && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/morphZ/dbus-mqtt-meter" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}

		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	// As a last resort, if no version was discovered, but a gitCommit was
	// provided via ldflags, show that to aid support.
	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}

	return resolvedVersion, resolvedCommit, resolvedDate
}

// deployCmd represents the 'deploy' command.
// It ships the service file set to a device, registers the autostart entry,
// activates the service symlink, and restarts the running instance.
var deployCmd = &cobra.Command{
	Use:   "deploy [user@host]",
	Short: "Deploy the service to a Venus OS device",
	Long: `Ships the dbus-mqtt-meter file set to a Venus OS device over SSH: creates
the directory skeleton, transfers the files, applies permission bits,
registers the autostart entry in the startup file, activates the
daemontools service symlink, and restarts the running instance.

If no target is given, the configured deploy.target is used. The outcome is
recorded in the deployment history either way.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		runDeploy(cmd, args)
	},
}

// runDeploymentFunc is a package-level variable so tests can inject a mock
// implementation. By default it runs the real deployment sequence.
var runDeploymentFunc = deploy.RunDeployment

// runDeploy drives one deployment from flags and config. It is shared by the
// bare root invocation and the deploy subcommand.
func runDeploy(cmd *cobra.Command, args []string) {
	opts, err := deployOptions(cmd, args)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer opts.Auth.Passphrase.Zero()
	defer opts.Auth.Password.Zero()

	fmt.Println(i18n.T("deploy.cli_starting", opts.Target.String()))

	var bar *progressbar.ProgressBar
	if !opts.DryRun && term.IsTerminal(int(os.Stdout.Fd())) {
		m := opts.Manifest
		if len(m.Entries) == 0 {
			m = manifest.Default()
		}
		if total, terr := m.TotalSize(opts.SourceDir); terr == nil {
			bar = progressbar.DefaultBytes(total, "transferring")
			opts.Progress = func(file string, n int) { _ = bar.Add(n) }
		}
	}

	res, err := runDeploymentFunc(opts)
	if err != nil && errors.Is(err, deploy.ErrPassphraseRequired) && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(i18n.T("deploy.cli_passphrase_prompt"))
		bytePassphrase, perr := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if perr != nil {
			log.Fatalf("%s", i18n.T("deploy.cli_error_read_passphrase", perr))
		}
		opts.Auth.Passphrase = security.FromBytes(bytePassphrase)
		res, err = runDeploymentFunc(opts)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		log.Fatalf("%v", err)
	}

	if opts.DryRun {
		fmt.Printf("%s\n", i18n.T("deploy.cli_dry_run", res.Files, res.Bytes))
		return
	}
	fmt.Printf("%s\n", i18n.T("deploy.cli_success", res.Files, res.Bytes, res.Duration.Round(time.Millisecond)))
}

// deployOptions assembles the deployment options from the resolved config,
// the command's flags, and an optional user@host argument.
func deployOptions(cmd *cobra.Command, args []string) (deploy.Options, error) {
	targetSpec := appConfig.Deploy.Target
	if len(args) > 0 {
		targetSpec = args[0]
	}
	target, err := parseTargetString(targetSpec)
	if err != nil {
		return deploy.Options{}, err
	}

	sourceDir := appConfig.Deploy.SourceDir
	if cmd.Flags().Changed("source-dir") {
		sourceDir, _ = cmd.Flags().GetString("source-dir")
	}
	manifestPath := appConfig.Deploy.Manifest
	if cmd.Flags().Changed("manifest") {
		manifestPath, _ = cmd.Flags().GetString("manifest")
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	opts := deploy.Options{
		Target:          target,
		Connection:      deploy.DefaultConnectionConfig(),
		InsecureHostKey: appConfig.SSH.InsecureHostKey,
		SourceDir:       sourceDir,
		InstallDir:      appConfig.Deploy.InstallDir,
		ServiceDir:      appConfig.Deploy.ServiceDir,
		StartupFile:     appConfig.Deploy.RcLocal,
		DryRun:          dryRun,
	}
	opts.Version, _, _ = resolveBuildVersion(nil)

	if manifestPath != "" {
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return deploy.Options{}, err
		}
		opts.Manifest = m
	}

	if appConfig.SSH.KeyPath != "" {
		keyData, err := os.ReadFile(appConfig.SSH.KeyPath)
		if err != nil {
			return deploy.Options{}, fmt.Errorf("failed to read private key %s: %w", appConfig.SSH.KeyPath, err)
		}
		opts.Auth.PrivateKey = string(keyData)
	}
	if appConfig.SSH.Password != "" {
		opts.Auth.Password = security.FromString(appConfig.SSH.Password)
	}

	return opts, nil
}

// parseTargetString turns a "user@host[:port]" spec into a Target. A missing
// user defaults to root, the only login stock Venus OS ships.
func parseTargetString(s string) (model.Target, error) {
	user, hostPort := splitUserHost(s)
	if user == "" {
		user = "root"
	}
	host, port, err := deploy.ParseHostPort(hostPort)
	if err != nil {
		return model.Target{}, err
	}
	if host == "" {
		return model.Target{}, fmt.Errorf("no host in target %q", s)
	}
	return model.Target{User: user, Host: host, Port: port}, nil
}

// splitUserHost splits an optional user@ prefix off a target spec.
func splitUserHost(s string) (user, hostPort string) {
	if i := strings.LastIndex(s, "@"); i != -1 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// trustHostCmd represents the 'trust-host' command.
// It facilitates the initial trust of a new device by fetching its public SSH
// key, displaying its fingerprint, and prompting the user to save it to the
// database as a known host.
var trustHostCmd = &cobra.Command{
	Use:   "trust-host <user@host>",
	Short: "Adds a device's host key to the list of known hosts",
	Long: `Connects to a device for the first time, retrieves its public host key,
and prompts the user to save it to the database. This is a required step
before meter-deploy will ship anything to a new device.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		target := args[0]
		var hostname string
		if strings.Contains(target, "@") {
			parts := strings.SplitN(target, "@", 2)
			hostname = parts[1]
		} else {
			hostname = target
		}
		canonicalHost := deploy.CanonicalizeHostPort(hostname)
		// The host key callback looks keys up by bare hostname, so the key
		// is stored without the port.
		hostOnly, _, perr := deploy.ParseHostPort(hostname)
		if perr != nil {
			log.Fatalf("%v", perr)
		}

		fmt.Printf("Attempting to retrieve host key from %s...\n", canonicalHost)
		pubKey, err := deploy.GetRemoteHostKey(canonicalHost)
		if err != nil {
			log.Fatalf("%s", i18n.T("trust_host.error_get_key", err))
		}
		keyStr := string(ssh.MarshalAuthorizedKey(pubKey))

		existing, err := db.GetKnownHostKey(hostOnly)
		if err != nil {
			log.Fatalf("failed to query known_hosts database: %v", err)
		}
		if existing == keyStr {
			fmt.Printf("Host '%s' is already trusted with this key.\n", hostOnly)
			return
		}
		if existing != "" {
			// A re-provisioned device gets a new host key; make the operator
			// acknowledge the replacement explicitly.
			oldAlgo, _, _, perr := sshkey.Parse(existing)
			if perr != nil {
				oldAlgo = "unknown"
			}
			fmt.Printf("WARNING: a different key is already pinned for '%s' (%s). Continuing will replace it.\n", hostOnly, oldAlgo)
		}

		fmt.Printf("The authenticity of host '%s' can't be established.\n", canonicalHost)
		fmt.Printf("Key fingerprint: %s\n", ssh.FingerprintSHA256(pubKey))
		if warning := sshkey.CheckHostKeyAlgorithm(pubKey); warning != "" {
			fmt.Println(warning)
		}

		ans := promptForConfirmation("Are you sure you want to continue connecting (yes/no)? ")
		if ans != "yes" && ans != "y" {
			fmt.Println("Cancelled.")
			return
		}

		if err := db.AddKnownHostKey(hostOnly, keyStr); err != nil {
			log.Fatalf("%s", i18n.T("trust_host.error_save_key", err))
		}
		fmt.Printf("Warning: Permanently added '%s' (%s) to the list of known hosts.\n", hostOnly, pubKey.Type())
	},
}

// backupCmd represents the 'backup' command.
// It dumps all data from the database into a single compressed JSON file.
var backupCmd = &cobra.Command{
	Use:   "backup [output-file]",
	Short: "Create a compressed (zstd) JSON backup of the database",
	Long: `Dumps the entire contents of the meter-deploy database (deployment history,
known device host keys, audit log) into a single, Zstandard-compressed JSON
file.

If an output file is specified, '.zst' will be appended to the name if it's
not already present. If no output file is specified, a default filename
'meter-deploy-backup-YYYY-MM-DD.json.zst' is used.

This file can be used for disaster recovery or for migrating to a different
database backend.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		var outputFile string
		if len(args) == 0 {
			outputFile = fmt.Sprintf("meter-deploy-backup-%s.json.zst", time.Now().Format("2006-01-02"))
		} else {
			outputFile = args[0]
			if !strings.HasSuffix(outputFile, ".zst") {
				outputFile += ".zst"
			}
		}
		fmt.Println(i18n.T("backup.cli_starting"))
		data, err := db.ExportDataForBackup()
		if err != nil {
			log.Fatalf("%s", i18n.T("backup.cli_error_export", err))
		}
		if err := writeCompressedBackup(outputFile, data); err != nil {
			log.Fatalf("%s", i18n.T("backup.cli_error_write", err))
		}
		if err := db.LogAction("BACKUP", outputFile); err != nil {
			log.Warnf("failed to record audit entry: %v", err)
		}
		fmt.Println(i18n.T("backup.cli_success", outputFile))
	},
}

// restoreCmd represents the 'restore' command.
// It restores the database from a compressed JSON backup file.
var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file.zst>",
	Short: "Restore the database from a compressed JSON backup",
	Long: `Restores the meter-deploy database from a Zstandard-compressed JSON backup
file. By default, this command performs a non-destructive "integration"
restore, only adding data that does not already exist.

To perform a full, destructive restore that WIPES all existing data before
importing, use the --full flag.
WARNING: The --full flag is destructive and not reversible.

Example (Integrate):
  meter-deploy restore ./meter-deploy-backup-2025-10-26.json.zst

Example (Full Restore):
  meter-deploy restore --full ./meter-deploy-backup-2025-10-26.json.zst`,
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		inputFile := args[0]
		if fullRestore {
			ans := promptForConfirmation(i18n.T("restore.cli_confirm_full"))
			if ans != "yes" && ans != "y" {
				fmt.Println(i18n.T("restore.cli_cancelled"))
				return
			}
		}
		fmt.Println(i18n.T("restore.cli_starting", inputFile))
		data, err := readCompressedBackup(inputFile)
		if err != nil {
			log.Fatalf("%s", i18n.T("restore.cli_error_read", err))
		}
		if fullRestore {
			err = db.ImportDataFromBackup(data)
		} else {
			err = db.IntegrateDataFromBackup(data)
		}
		if err != nil {
			log.Fatalf("%s", i18n.T("restore.cli_error_import", err))
		}
		if err := db.LogAction("RESTORE_BACKUP", inputFile); err != nil {
			log.Warnf("failed to record audit entry: %v", err)
		}
		fmt.Println(i18n.T("restore.cli_success"))
	},
}

// writeCompressedBackup handles the process of writing the backup data to a
// zstd-compressed file. It streams the JSON encoding directly to the zstd
// writer for memory efficiency.
func writeCompressedBackup(filename string, data *model.BackupData) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	zstdWriter, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	defer func() { _ = zstdWriter.Close() }()

	encoder := json.NewEncoder(zstdWriter)
	encoder.SetIndent("", "  ") // Pretty-print the JSON inside the compressed file

	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("could not encode json to zstd writer: %w", err)
	}

	return nil
}

// readCompressedBackup handles reading and decoding a zstd-compressed JSON
// backup file.
func readCompressedBackup(filename string) (*model.BackupData, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zstdReader.Close()

	var backupData model.BackupData
	if err := json.NewDecoder(zstdReader).Decode(&backupData); err != nil {
		return nil, fmt.Errorf("could not decode json from zstd reader: %w", err)
	}

	return &backupData, nil
}

// dbMaintainCmd runs database maintenance tasks for the configured database.
var dbMaintainCmd = &cobra.Command{
	Use:     "db-maintain",
	Aliases: []string{"maintenance"},
	Short:   "Run database maintenance (VACUUM/OPTIMIZE) for the configured DB",
	Long:    `Runs engine-specific maintenance tasks (VACUUM, OPTIMIZE TABLE, PRAGMA optimize).`,
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		timeoutSec, _ := cmd.Flags().GetInt("timeout")
		dsn := appConfig.Database.DSN
		dbType := appConfig.Database.Type
		if timeoutSec > 0 {
			done := make(chan error, 1)
			go func() { done <- db.RunDBMaintenance(dbType, dsn) }()
			select {
			case err := <-done:
				if err != nil {
					fmt.Printf("Maintenance failed: %v\n", err)
					os.Exit(1)
				}
				fmt.Println("Maintenance completed successfully")
			case <-time.After(time.Duration(timeoutSec) * time.Second):
				fmt.Println("Maintenance timed out")
				os.Exit(2)
			}
			return
		}
		if err := db.RunDBMaintenance(dbType, dsn); err != nil {
			fmt.Printf("Maintenance failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Maintenance completed successfully")
	},
}

// promptForConfirmation displays a prompt and reads a line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}
