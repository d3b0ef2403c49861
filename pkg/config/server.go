package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use strings like "45m"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig tunes the long-running daemon. All fields are optional in the
// YAML file; absent keys keep their defaults.
type ServerConfig struct {
	Log      LogSettings     `yaml:"log"`
	Listen   ListenSettings  `yaml:"listen"`
	Sessions SessionSettings `yaml:"sessions"`
	Janitor  JanitorSettings `yaml:"janitor"`
}

// LogSettings control the global logger
type LogSettings struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ListenSettings control the artifact HTTP server bind. Ports are tried in
// order until one binds, so a port squatted by another process is skipped.
type ListenSettings struct {
	Host  string `yaml:"host"`
	Ports []int  `yaml:"ports"`
}

// SessionSettings control idle eviction
type SessionSettings struct {
	IdleTimeout   Duration `yaml:"idle_timeout"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// JanitorSettings control startup container cleanup and the background
// reconcile loop
type JanitorSettings struct {
	PruneOnStart      bool     `yaml:"prune_on_start"`
	ReconcileInterval Duration `yaml:"reconcile_interval"`
	RemoveOrphans     bool     `yaml:"remove_orphans"`
}

// DefaultServerConfig returns the daemon defaults: five fallback ports
// starting at 8000, a 45 minute idle timeout swept every 5 minutes, and
// startup pruning of leftover sandbox containers.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Log: LogSettings{Level: "info"},
		Listen: ListenSettings{
			Host:  "0.0.0.0",
			Ports: []int{8000, 8001, 8002, 8003, 8004},
		},
		Sessions: SessionSettings{
			IdleTimeout:   Duration(45 * time.Minute),
			SweepInterval: Duration(5 * time.Minute),
		},
		Janitor: JanitorSettings{
			PruneOnStart:      true,
			ReconcileInterval: Duration(time.Minute),
		},
	}
}

// LoadServerConfig reads a YAML daemon config, layering it over the defaults.
// An empty path returns the defaults unchanged.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read server config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse server config: %w", err)
	}

	if len(cfg.Listen.Ports) == 0 {
		cfg.Listen.Ports = DefaultServerConfig().Listen.Ports
	}
	if cfg.Sessions.IdleTimeout <= 0 {
		cfg.Sessions.IdleTimeout = DefaultServerConfig().Sessions.IdleTimeout
	}
	if cfg.Sessions.SweepInterval <= 0 {
		cfg.Sessions.SweepInterval = DefaultServerConfig().Sessions.SweepInterval
	}
	if cfg.Janitor.ReconcileInterval <= 0 {
		cfg.Janitor.ReconcileInterval = DefaultServerConfig().Janitor.ReconcileInterval
	}
	return cfg, nil
}
