// Package config loads the daemon's YAML configuration, keeping the
// teacher's structure (defaulted Config with yaml.Unmarshal overriding
// individual fields) but swapping its IPMI/discovery/reboot-detection
// sections for the multiplexer, console, manifest, and log-rotation
// sections this domain needs.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mux      MuxConfig      `yaml:"mux"`
	Console  ConsoleConfig  `yaml:"console"`
	Logs     LogsConfig     `yaml:"logs"`
	Server   ServerConfig   `yaml:"server"`
	Manifest ManifestConfig `yaml:"manifest"`
}

// MuxConfig seeds the line count and the initial SET CONSOLE TELNET
// equivalents applied before the manifest watcher's first reload.
type MuxConfig struct {
	Lines        int    `yaml:"lines"`
	Port         int    `yaml:"port"`
	SimName      string `yaml:"sim_name"`
	DeviceName   string `yaml:"device_name"`
	Mantra       string `yaml:"mantra"`
	Buffered     int    `yaml:"buffered"`
	ConnectOrder string `yaml:"connect_order"`
	BusyMessage  string `yaml:"busy_message"`
}

// ConsoleConfig seeds the local-console keymap (spec §4.5/§6 SET CONSOLE).
type ConsoleConfig struct {
	WRU          int    `yaml:"wru"`
	Break        int    `yaml:"break"`
	Del          int    `yaml:"del"`
	PChar        uint32 `yaml:"pchar"`
	Radix        int    `yaml:"radix"`
	Log          string `yaml:"log"`
	Debug        string `yaml:"debug"`
	CheckTimeout int    `yaml:"check_timeout"`
}

type LogsConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	Template      string `yaml:"template"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// ManifestConfig points at the hot-reloaded line manifest (discovery.Watcher).
type ManifestConfig struct {
	Path string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Mux: MuxConfig{
			Lines:       8,
			Port:        9000,
			SimName:     "tmxsim",
			DeviceName:  "TTY",
			BusyMessage: "All connections busy\r\n",
		},
		Console: ConsoleConfig{
			WRU:          005,
			PChar:        0xFFFFFFFF,
			Radix:        8,
			CheckTimeout: 30,
		},
		Logs: LogsConfig{
			Path:          "/data/logs",
			RetentionDays: 30,
			Template:      "%L",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Manifest: ManifestConfig{
			Path: "/data/manifest.yaml",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
