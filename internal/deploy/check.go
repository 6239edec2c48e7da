// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"net"
	"path"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/morphZ/dbus-mqtt-meter/internal/manifest"
)

// venusVersionFile identifies the firmware release on a Venus OS device.
const venusVersionFile = "/opt/victronenergy/version"

// probeTimeout bounds the ping and TCP probes individually.
const probeTimeout = 3 * time.Second

// CheckResult carries the outcome of the preflight probes for one target.
type CheckResult struct {
	PingOK    bool
	PingRTT   time.Duration
	TCPOK     bool
	SSHOK     bool
	Version   string // firmware version string, empty when unreadable
	Installed bool   // service symlink present in the service directory
}

// CheckTarget probes the target without changing anything on it: an ICMP
// echo, a TCP dial of the SSH port, an authenticated SSH login, and a read
// of the firmware version file. Ping and TCP failures are recorded in the
// result; an SSH failure is returned alongside the probes that did run.
func CheckTarget(opts Options) (*CheckResult, error) {
	res := &CheckResult{}

	host, port, err := ParseHostPort(opts.Target.Addr())
	if err != nil {
		return nil, err
	}
	if port == "" {
		port = "22"
	}

	res.PingOK, res.PingRTT = pingHost(host)

	if conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), probeTimeout); err == nil {
		res.TCPOK = true
		_ = conn.Close()
	}

	d, err := NewDeployerFunc(opts.Target.Addr(), opts.Target.User, opts.Auth, opts.Connection, opts.InsecureHostKey)
	if err != nil {
		return res, err
	}
	defer d.Close()
	res.SSHOK = true

	if out, err := d.ReadFile(venusVersionFile); err == nil {
		res.Version = strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	}
	res.Installed = d.fileExists(path.Join(opts.ServiceDir, manifest.ModuleName))

	return res, nil
}

// pingHost sends a short unprivileged ICMP burst. Failure is normal in
// containers or networks that drop ICMP, so the result is advisory only.
func pingHost(host string) (bool, time.Duration) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0
	}
	pinger.Count = 3
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = probeTimeout
	pinger.SetPrivileged(false)
	if err := pinger.Run(); err != nil {
		return false, 0
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return false, 0
	}
	return true, stats.AvgRtt
}
