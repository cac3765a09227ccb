// Package config provides TOML configuration loading for autofleet.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration structure.
type Config struct {
	Bus       BusConfig       `toml:"bus"`
	Inventory InventoryConfig `toml:"inventory"`
	Cache     CacheConfig     `toml:"cache"`
	RPC       RPCConfig       `toml:"rpc"`
	Log       LogConfig       `toml:"log"`
	Facts     FactsConfig     `toml:"facts"`
}

// BusConfig holds settings for the result channel.
type BusConfig struct {
	Path           string `toml:"path"`
	Channel        string `toml:"channel"`
	MonitorChannel string `toml:"monitor_channel"`
	SharedSecret   string `toml:"shared_secret"`
	PollInterval   string `toml:"poll_interval"`
	Retain         int    `toml:"retain"`
}

// InventoryConfig holds the inventory source and the INI export target.
type InventoryConfig struct {
	Path    string `toml:"path"`
	INIPath string `toml:"ini_path"`
}

// CacheConfig holds settings for the fact cache.
type CacheConfig struct {
	Path           string `toml:"path"`
	ExpiryInterval string `toml:"expiry_interval"`
	StaleThreshold string `toml:"stale_threshold"`
}

// RPCConfig holds the unix socket the run command listens on.
type RPCConfig struct {
	Socket string `toml:"socket"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// FactsConfig holds settings for local fact collection.
type FactsConfig struct {
	NetworkRange string `toml:"network_range"`
}

// ParsePollInterval parses the bus poll interval string to a time.Duration.
func (b *BusConfig) ParsePollInterval() (time.Duration, error) {
	if b.PollInterval == "" {
		return 10 * time.Millisecond, nil
	}
	return time.ParseDuration(b.PollInterval)
}

// ParseExpiryInterval parses the cache expiry check interval.
func (c *CacheConfig) ParseExpiryInterval() (time.Duration, error) {
	if c.ExpiryInterval == "" {
		return time.Minute, nil
	}
	return time.ParseDuration(c.ExpiryInterval)
}

// ParseStaleThreshold parses the cache stale threshold string to a time.Duration.
func (c *CacheConfig) ParseStaleThreshold() (time.Duration, error) {
	if c.StaleThreshold == "" {
		return 24 * time.Hour, nil
	}
	return time.ParseDuration(c.StaleThreshold)
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

func (cfg *Config) expandPaths() {
	cfg.Bus.Path = ExpandPath(cfg.Bus.Path)
	cfg.Inventory.Path = ExpandPath(cfg.Inventory.Path)
	cfg.Inventory.INIPath = ExpandPath(cfg.Inventory.INIPath)
	cfg.Cache.Path = ExpandPath(cfg.Cache.Path)
	cfg.RPC.Socket = ExpandPath(cfg.RPC.Socket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Bus defaults
	if cfg.Bus.Path == "" {
		cfg.Bus.Path = "/var/lib/autofleet/bus.db"
	}
	if cfg.Bus.Channel == "" {
		cfg.Bus.Channel = "autostackqueue:results"
	}
	if cfg.Bus.MonitorChannel == "" {
		cfg.Bus.MonitorChannel = "autostackqueue:monitor"
	}
	if cfg.Bus.PollInterval == "" {
		cfg.Bus.PollInterval = "10ms"
	}

	// Inventory defaults
	if cfg.Inventory.Path == "" {
		cfg.Inventory.Path = "/etc/autofleet/inventory.yaml"
	}

	// Cache defaults
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "/var/lib/autofleet/facts.db"
	}
	if cfg.Cache.ExpiryInterval == "" {
		cfg.Cache.ExpiryInterval = "1m"
	}
	if cfg.Cache.StaleThreshold == "" {
		cfg.Cache.StaleThreshold = "24h"
	}

	// RPC defaults
	if cfg.RPC.Socket == "" {
		cfg.RPC.Socket = "/run/autofleet/autofleet.sock"
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
}
