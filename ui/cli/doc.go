// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the command-line interface for meter-deploy using
// Cobra. It wires configuration, default services, and provides commands that
// delegate to the `deploy` and `db` packages. CLI code should remain thin and
// delegate device work to those packages.
package cli
