// Package config loads the cowrite configuration file.
//
// Every field has a default; a file only needs the keys it changes, and
// command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/session"
	"github.com/amaydixit11/cowrite/internal/storage"
	"github.com/amaydixit11/cowrite/internal/storage/bolt"
	"github.com/amaydixit11/cowrite/internal/storage/sqlite"
	"github.com/amaydixit11/cowrite/internal/transport"
)

// Storage backends
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config is the full configuration
type Config struct {
	DataDir         string        `yaml:"data_dir"`
	Name            string        `yaml:"name"`
	Color           string        `yaml:"color"`
	PresenceTimeout time.Duration `yaml:"presence_timeout"`
	Network         Network       `yaml:"network"`
	Storage         Storage       `yaml:"storage"`
	API             API           `yaml:"api"`
}

// Network configures peer discovery and connections
type Network struct {
	Listen            []string      `yaml:"listen"`
	MDNS              bool          `yaml:"mdns"`
	Zeroconf          bool          `yaml:"zeroconf"`
	DHT               bool          `yaml:"dht"`
	Bootstrap         []string      `yaml:"bootstrap"`
	Relay             string        `yaml:"relay"`
	Redis             string        `yaml:"redis"`
	Peers             []string      `yaml:"peers"`
	Allowlist         string        `yaml:"allowlist"`
	StrictAllowlist   bool          `yaml:"strict_allowlist"`
	QueueSize         int           `yaml:"queue_size"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
}

// Storage configures retained room texts
type Storage struct {
	Backend string `yaml:"backend"` // sqlite or bolt
}

// API configures the local HTTP surface
type API struct {
	Listen string `yaml:"listen"` // empty disables it
}

// Default returns the built-in configuration
func Default() Config {
	dataDir := ".cowrite"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".cowrite")
	}
	tc := transport.DefaultConfig()
	return Config{
		DataDir:         dataDir,
		PresenceTimeout: awareness.DefaultTimeout,
		Network: Network{
			Listen:            tc.ListenAddrs,
			MDNS:              tc.EnableMDNS,
			QueueSize:         tc.QueueSize,
			DiscoveryInterval: tc.DiscoveryInterval,
		},
		Storage: Storage{Backend: BackendSQLite},
	}
}

// DefaultPath returns the config file location inside the default data dir
func DefaultPath() string {
	return filepath.Join(Default().DataDir, "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendBolt:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.PresenceTimeout <= 0 {
		return fmt.Errorf("presence_timeout must be positive")
	}
	if c.Network.QueueSize < 0 {
		return fmt.Errorf("network.queue_size must not be negative")
	}
	if err := (awareness.Fields{Name: &c.Name, Color: &c.Color}).Validate(); err != nil {
		return err
	}
	return nil
}

// Transport returns the libp2p transport configuration
func (c Config) Transport(logger transport.Logger) transport.Config {
	return transport.Config{
		ListenAddrs:       c.Network.Listen,
		EnableMDNS:        c.Network.MDNS,
		EnableZeroconf:    c.Network.Zeroconf,
		EnableDHT:         c.Network.DHT,
		BootstrapPeers:    c.Network.Bootstrap,
		RelayURL:          c.Network.Relay,
		RedisAddr:         c.Network.Redis,
		StaticPeers:       c.Network.Peers,
		AllowlistPath:     c.AllowlistPath(),
		StrictAllowlist:   c.Network.StrictAllowlist,
		QueueSize:         c.Network.QueueSize,
		DiscoveryInterval: c.Network.DiscoveryInterval,
		Logger:            logger,
	}
}

// AllowlistPath returns the trusted-peer file, allowlist.json in DataDir
// unless network.allowlist names another.
func (c Config) AllowlistPath() string {
	if c.Network.Allowlist != "" {
		return c.Network.Allowlist
	}
	return filepath.Join(c.DataDir, "allowlist.json")
}

// Session returns the session configuration
func (c Config) Session(logger transport.Logger) session.Config {
	return session.Config{
		DisplayName:     c.Name,
		Color:           c.Color,
		PresenceTimeout: c.PresenceTimeout,
		Logger:          logger,
	}
}

// OpenStore opens the configured storage backend in DataDir
func (c Config) OpenStore() (storage.Store, error) {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	switch c.Storage.Backend {
	case BackendBolt:
		return bolt.New(filepath.Join(c.DataDir, "rooms.bolt"))
	case BackendSQLite, "":
		return sqlite.New(filepath.Join(c.DataDir, "rooms.db"))
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
}
