// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/morphZ/dbus-mqtt-meter/internal/config"
)

// debugCmd dumps what the tool actually resolved: which config file was
// loaded, the effective settings, flag values, and the environment
// variables that influence config discovery.
var debugCmd = &cobra.Command{
	Use:     "debug",
	Short:   "Dump debug information about config, env, flags and settings",
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("--- METER-DEPLOY DEBUG ---")
		// Config file used
		if used := config.FileUsed(); used == "" {
			fmt.Println("Config file used: (none, compiled-in defaults)")
		} else {
			fmt.Printf("Config file used: %s\n", used)
		}

		// Resolved configuration, in the same YAML shape as the config file.
		resolved := appConfig
		if resolved.SSH.Password != "" {
			resolved.SSH.Password = "[REDACTED]"
		}
		b, err := yaml.Marshal(&resolved)
		if err != nil {
			log.Errorf("could not marshal resolved config: %v", err)
		} else {
			fmt.Println("-- resolved config --")
			fmt.Print(string(b))
		}

		// Flags
		fmt.Println("-- flags --")
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			fmt.Printf("%s = %s\n", f.Name, f.Value.String())
		})

		// Environment variables of interest
		fmt.Println("-- environment (METER_DEPLOY_*) --")
		for _, e := range os.Environ() {
			if strings.HasPrefix(e, "METER_DEPLOY_") {
				fmt.Println(e)
			}
		}

		fmt.Printf("PWD=%s\n", os.Getenv("PWD"))
		fmt.Println("--- END DEBUG ---")
	},
}
