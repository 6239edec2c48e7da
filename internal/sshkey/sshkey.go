// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshkey provides small helpers for working with SSH public keys in
// authorized_keys format, the format used to pin device host keys in the
// known_hosts table.
package sshkey

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Parse splits a raw public key string (like one stored in the known_hosts
// table) into its three core components: algorithm, key data, and comment.
// It correctly handles leading options in the line (e.g., from="...",command="...").
func Parse(rawKey string) (algorithm, keyData, comment string, err error) {
	fields := strings.Fields(rawKey)
	if len(fields) == 0 {
		err = fmt.Errorf("empty line")
		return
	}

	keyStartIndex := -1
	for i, field := range fields {
		if strings.HasPrefix(field, "ssh-") || strings.HasPrefix(field, "ecdsa-") {
			keyStartIndex = i
			break
		}
	}

	if keyStartIndex == -1 {
		err = fmt.Errorf("no valid SSH key type found in line")
		return
	}

	if len(fields) < keyStartIndex+2 {
		err = fmt.Errorf("invalid public key format: missing key data after algorithm")
		return
	}

	algorithm = fields[keyStartIndex]
	keyData = fields[keyStartIndex+1]
	if len(fields) > keyStartIndex+2 {
		comment = strings.Join(fields[keyStartIndex+2:], " ")
	}

	return
}

// CheckHostKeyAlgorithm inspects a host key and returns a warning for
// algorithms that modern OpenSSH clients reject out of the box. Older Venus
// OS images still present ssh-rsa host keys, so this comes up in practice.
// An empty string means the algorithm raised no concern.
func CheckHostKeyAlgorithm(key ssh.PublicKey) string {
	switch key.Type() {
	case ssh.KeyAlgoRSA, ssh.KeyAlgoDSA:
		return fmt.Sprintf("SECURITY WARNING: Host key uses %s, which is disabled by default in modern OpenSSH. If possible, enable an ed25519 host key on the device.", key.Type())
	}
	return ""
}
