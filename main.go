// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for meter-deploy.
//
// Usage:
//
//	go run . [flags]
//	./meter-deploy [flags]
//
// This launches the meter-deploy CLI. See --help for options.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/morphZ/dbus-mqtt-meter/ui/cli"
)

// version is set at build time using -ldflags, e.g.:
// go build -ldflags "-X main.version=1.2.3"
var version = "dev"

// main is the entrypoint for the meter-deploy CLI.
func main() {
	// Print version info if requested (optional, placeholder for future flag parsing)
	if os.Getenv("METER_DEPLOY_SHOW_VERSION") == "1" {
		fmt.Fprintf(os.Stderr, "meter-deploy version: %s\n", version)
	}

	if err := cli.Execute(); err != nil {
		log.Printf("meter-deploy CLI error: %v", err)
		os.Exit(1)
	}
}
