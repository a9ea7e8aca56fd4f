package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"nftescrow/core/genesis"
)

type Config struct {
	Node        Node                 `toml:"node" yaml:"node"`
	Escrow      Escrow               `toml:"escrow" yaml:"escrow"`
	RateLimit   RateLimit            `toml:"rate_limit" yaml:"rate_limit"`
	Indexer     Indexer              `toml:"indexer" yaml:"indexer"`
	Kafka       Kafka                `toml:"kafka" yaml:"kafka"`
	Telemetry   Telemetry            `toml:"telemetry" yaml:"telemetry"`
	Logging     Logging              `toml:"logging" yaml:"logging"`
	GenesisFile string               `toml:"genesis_file,omitempty" yaml:"genesis_file,omitempty"`
	Genesis     *genesis.GenesisSpec `toml:"genesis,omitempty" yaml:"genesis,omitempty"`

	path string
}

// Node holds the process-level settings.
type Node struct {
	RPCAddress  string `toml:"rpc_address" yaml:"rpc_address"`
	DataDir     string `toml:"data_dir" yaml:"data_dir"`
	DBBackend   string `toml:"db_backend" yaml:"db_backend"`
	Environment string `toml:"environment" yaml:"environment"`
}

// Escrow mirrors escrow.Params in seconds.
type Escrow struct {
	MinExpirationLeadSeconds int64 `toml:"min_expiration_lead_seconds" yaml:"min_expiration_lead_seconds"`
	MaxExpirationLeadSeconds int64 `toml:"max_expiration_lead_seconds" yaml:"max_expiration_lead_seconds"`
}

type RateLimit struct {
	RequestsPerMinute float64 `toml:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `toml:"burst" yaml:"burst"`
	// TrustedProxies lists peers (IPs or CIDRs) whose X-Forwarded-For and
	// X-Real-IP headers identify the client.
	TrustedProxies []string `toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

type Indexer struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Driver  string `toml:"driver" yaml:"driver"`
	DSN     string `toml:"dsn" yaml:"dsn"`
}

type Kafka struct {
	Enabled   bool     `toml:"enabled" yaml:"enabled"`
	Brokers   []string `toml:"brokers" yaml:"brokers"`
	Topic     string   `toml:"topic" yaml:"topic"`
	QueueSize int      `toml:"queue_size" yaml:"queue_size"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"insecure" yaml:"insecure"`
	Headers  string `toml:"headers" yaml:"headers"`
	Traces   bool   `toml:"traces" yaml:"traces"`
	Metrics  bool   `toml:"metrics" yaml:"metrics"`
}

type Logging struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		Node: Node{
			RPCAddress:  ":8080",
			DataDir:     "./escrow-data",
			DBBackend:   "leveldb",
			Environment: "local",
		},
		Escrow: Escrow{MinExpirationLeadSeconds: 60},
		RateLimit: RateLimit{
			RequestsPerMinute: 600,
			Burst:             50,
		},
		Indexer: Indexer{Driver: "sqlite", DSN: "escrow-events.db"},
		Kafka:   Kafka{Topic: "escrow.events", QueueSize: 1024},
		Logging: Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists. The format follows the extension: .yaml/.yml or TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	} else {
		meta, err := toml.Decode(string(raw), cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
		}
	}
	cfg.path = path
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (c *Config) normalize() {
	c.Node.RPCAddress = strings.TrimSpace(c.Node.RPCAddress)
	c.Node.DBBackend = strings.ToLower(strings.TrimSpace(c.Node.DBBackend))
	c.Indexer.Driver = strings.ToLower(strings.TrimSpace(c.Indexer.Driver))
	if c.Indexer.Driver == "" {
		c.Indexer.Driver = "sqlite"
	}
	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Kafka.Brokers = brokers
}

// ResolvePath interprets p relative to the directory holding the config file.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

// LoadGenesis returns the inline genesis section, or the spec read from
// GenesisFile. It returns nil when neither is configured.
func (c *Config) LoadGenesis() (*genesis.GenesisSpec, error) {
	if c.Genesis != nil {
		if err := c.Genesis.Validate(); err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		return c.Genesis, nil
	}
	if strings.TrimSpace(c.GenesisFile) == "" {
		return nil, nil
	}
	return genesis.LoadGenesisSpec(c.ResolvePath(c.GenesisFile))
}
