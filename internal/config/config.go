// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the deployment tool's configuration. Every setting
// has a compiled-in default so the tool runs with no config file at all;
// a YAML file, environment variables (METER_DEPLOY_*), and CLI flags can
// override the defaults in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every tunable of the deployment tool.
type Config struct {
	Database Database `mapstructure:"database" yaml:"database"`
	Language string   `mapstructure:"language" yaml:"language"`
	Debug    bool     `mapstructure:"debug" yaml:"debug"`
	Deploy   Deploy   `mapstructure:"deploy" yaml:"deploy"`
	SSH      SSH      `mapstructure:"ssh" yaml:"ssh"`
}

// Database selects the engine and DSN for deployment history and host keys.
type Database struct {
	Type string `mapstructure:"type" yaml:"type"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// Deploy describes what gets shipped and where it lands on the device.
type Deploy struct {
	Target     string `mapstructure:"target" yaml:"target"`           // default user@host, e.g. root@venus.local
	SourceDir  string `mapstructure:"source_dir" yaml:"source_dir"`   // local directory holding the payload files
	Manifest   string `mapstructure:"manifest" yaml:"manifest"`       // optional YAML manifest replacing the compiled-in file set
	InstallDir string `mapstructure:"install_dir" yaml:"install_dir"` // installation root on the device
	ServiceDir string `mapstructure:"service_dir" yaml:"service_dir"` // supervised services directory
	RcLocal    string `mapstructure:"rc_local" yaml:"rc_local"`       // startup file that re-links the service after firmware updates
}

// SSH carries authentication settings for reaching the device.
type SSH struct {
	KeyPath         string `mapstructure:"key_path" yaml:"key_path"`                   // private key file; agent and password are fallbacks
	Password        string `mapstructure:"password" yaml:"password"`                   // plain password auth, common on factory-fresh devices
	InsecureHostKey bool   `mapstructure:"insecure_host_key" yaml:"insecure_host_key"` // skip host key pinning entirely
}

// Defaults returns the compiled-in settings as viper defaults. The remote
// paths mirror the stock Venus OS layout.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":         "sqlite",
		"database.dsn":          "./meter-deploy.db",
		"language":              "en",
		"debug":                 false,
		"deploy.target":         "root@venus.local",
		"deploy.source_dir":     ".",
		"deploy.manifest":       "",
		"deploy.install_dir":    "/data/dbus-mqtt-meter",
		"deploy.service_dir":    "/service",
		"deploy.rc_local":       "/data/rc.local",
		"ssh.key_path":          "",
		"ssh.password":          "",
		"ssh.insecure_host_key": false,
	}
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "meter-deploy")
		default: // Linux, macOS, etc.
			configDir = "/etc/meter-deploy"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "meter-deploy")
	}

	return filepath.Join(configDir, "meter-deploy.yaml"), nil
}

// LoadConfig resolves configuration for a command: defaults first, then the
// config file, then environment, then flags bound on cmd.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitConfigFile *string) (T, error) {
	var c T
	v := viper.New()
	fileUsed = ""

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("meter-deploy")
	v.SetConfigType("yaml")

	// 3. An explicit --config path has the highest precedence for
	// file-based configuration.
	if explicitConfigFile != nil && *explicitConfigFile != "" {
		v.SetConfigFile(*explicitConfigFile)
	}

	// 4. Add standard config locations
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".") // Look for meter-deploy.yaml in current dir

	// 5. Read in the primary config file. The file path is recorded before
	// the error check so diagnostics can name a file that failed to parse.
	readErr := v.ReadInConfig()
	fileUsed = v.ConfigFileUsed()
	if readErr != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			return c, readErr
		}
	}

	// 6. Merge a hidden `.meter-deploy.yaml` from the current directory
	// when present, so a per-checkout config can ride along with the
	// payload sources.
	if merged := mergeDotfileConfig(v); merged != "" && fileUsed == "" {
		fileUsed = merged
	}

	// 7. Read from environment variables
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("meter_deploy")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 8. CLI flags bound on the command win over everything else.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// Load resolves the tool's Config for the given command using the
// compiled-in defaults.
func Load(cmd *cobra.Command, explicitConfigFile *string) (Config, error) {
	return LoadConfig[Config](cmd, Defaults(), explicitConfigFile)
}

// fileUsed records the config file consumed by the most recent LoadConfig
// call. LoadConfig reads through an isolated viper instance, so the global
// viper never knows which file was loaded; this keeps diagnostics honest.
var fileUsed string

// FileUsed returns the path of the config file consumed by the most recent
// LoadConfig call, or "" when the tool is running on compiled-in defaults.
func FileUsed() string {
	return fileUsed
}

// mergeDotfileConfig checks for a `.meter-deploy.yaml` file in the current
// directory and merges it into the viper configuration if found. It returns
// the dotfile path when a merge happened.
func mergeDotfileConfig(v *viper.Viper) string {
	dotfile := ".meter-deploy.yaml"
	if _, err := os.Stat(dotfile); err != nil {
		return ""
	}
	v.SetConfigFile(dotfile)
	// MergeInConfig errors on a malformed file; ignore it here so a
	// broken dotfile cannot block startup with compiled-in defaults.
	_ = v.MergeInConfig()
	v.SetConfigFile("")
	return dotfile
}

// WriteConfigFile persists the configuration as YAML to the user or system
// config location.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600 since the file may contain an SSH password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	return nil
}
