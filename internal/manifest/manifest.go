// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package manifest describes the fixed file set that makes up the
// dbus-mqtt-meter service on a Venus OS device: which local files ship,
// where they land under the installation root, and which permission bits
// they get after transfer.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// ModuleName is the service's identity on the device. It names the
// service symlink and tags the autostart entry.
const ModuleName = "dbus-mqtt-meter"

// Entry describes one file to ship.
type Entry struct {
	Source string      // path of the local file, relative to the source dir
	Dest   string      // path on the device, relative to the installation root
	Mode   fs.FileMode // permission bits to set after transfer; zero leaves the remote default
}

// Manifest is the ordered file set of a deployment. Directories are
// created first, then entries are transferred top to bottom.
type Manifest struct {
	Dirs    []string // directories under the installation root, in creation order
	Entries []Entry
}

// Default returns the compiled-in manifest for the dbus-mqtt-meter
// service. The layout matches what the daemontools supervisor on Venus OS
// expects: a service/run script, a service/log/run logger, and the
// velib_python libraries under ext/.
func Default() Manifest {
	return Manifest{
		Dirs: []string{".", "service", "service/log", "ext"},
		Entries: []Entry{
			{Source: "dbus-mqtt-meter.py", Dest: "dbus-mqtt-meter.py", Mode: 0o744},
			{Source: "kill_me.sh", Dest: "kill_me.sh", Mode: 0o744},
			{Source: "service/run", Dest: "service/run", Mode: 0o755},
			{Source: "service/log/run", Dest: "service/log/run", Mode: 0o755},
			{Source: "ext/vedbus.py", Dest: "ext/vedbus.py"},
			{Source: "ext/ve_utils.py", Dest: "ext/ve_utils.py"},
			{Source: "ext/mqtt_gobject_bridge.py", Dest: "ext/mqtt_gobject_bridge.py"},
		},
	}
}

// yamlManifest is the on-disk form of a manifest override. Modes are
// octal strings ("0755") since YAML integer literals are too easy to get
// wrong.
type yamlManifest struct {
	Dirs    []string    `yaml:"dirs"`
	Entries []yamlEntry `yaml:"files"`
}

type yamlEntry struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
	Mode   string `yaml:"mode"`
}

// Load reads a manifest override from a YAML file. Entries may omit the
// dest (defaults to the source path) and the mode (defaults to leaving
// the remote permission alone).
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var ym yamlManifest
	if err := yaml.Unmarshal(data, &ym); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(ym.Entries) == 0 {
		return Manifest{}, fmt.Errorf("manifest %s declares no files", path)
	}

	m := Manifest{Dirs: ym.Dirs}
	for _, ye := range ym.Entries {
		e := Entry{Source: ye.Source, Dest: ye.Dest}
		if e.Source == "" {
			return Manifest{}, fmt.Errorf("manifest %s: entry with empty source", path)
		}
		if e.Dest == "" {
			e.Dest = e.Source
		}
		if ye.Mode != "" {
			bits, err := strconv.ParseUint(ye.Mode, 8, 32)
			if err != nil {
				return Manifest{}, fmt.Errorf("manifest %s: bad mode %q for %s: %w", path, ye.Mode, e.Source, err)
			}
			e.Mode = fs.FileMode(bits)
		}
		m.Entries = append(m.Entries, e)
	}
	return m, nil
}

// Validate checks that every source file exists under sourceDir and that
// all remote paths stay inside the installation root.
func (m Manifest) Validate(sourceDir string) error {
	seen := map[string]string{}
	for _, e := range m.Entries {
		if err := checkRelative(e.Dest); err != nil {
			return fmt.Errorf("entry %s: %w", e.Source, err)
		}
		if prev, dup := seen[e.Dest]; dup {
			return fmt.Errorf("entries %s and %s share destination %s", prev, e.Source, e.Dest)
		}
		seen[e.Dest] = e.Source

		local := filepath.Join(sourceDir, filepath.FromSlash(e.Source))
		info, err := os.Stat(local)
		if err != nil {
			return fmt.Errorf("local file %s missing: %w", local, err)
		}
		if info.IsDir() {
			return fmt.Errorf("local path %s is a directory, expected a file", local)
		}
	}
	for _, d := range m.Dirs {
		if err := checkRelative(d); err != nil {
			return fmt.Errorf("directory %s: %w", d, err)
		}
	}
	return nil
}

// TotalSize sums the local sizes of all entries, used to scale the
// transfer progress bar.
func (m Manifest) TotalSize(sourceDir string) (int64, error) {
	var total int64
	for _, e := range m.Entries {
		info, err := os.Stat(filepath.Join(sourceDir, filepath.FromSlash(e.Source)))
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// checkRelative rejects absolute paths and anything that climbs out of
// the installation root.
func checkRelative(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %s must be relative to the installation root", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %s escapes the installation root", p)
	}
	return nil
}
