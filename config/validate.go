package config

import (
	"fmt"
	"net"
	"strings"

	"nftescrow/native/escrow"
	"nftescrow/observability/otel"
)

var knownBackends = map[string]bool{"": true, "memory": true, "leveldb": true, "bolt": true, "bbolt": true}

// Validate reports settings the node cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration is missing")
	}
	if c.Node.RPCAddress == "" {
		return fmt.Errorf("node: rpc_address required")
	}
	if !knownBackends[c.Node.DBBackend] {
		return fmt.Errorf("node: unknown db_backend %q", c.Node.DBBackend)
	}
	if c.Node.DBBackend != "memory" && c.Node.DBBackend != "" && c.Node.DataDir == "" {
		return fmt.Errorf("node: data_dir required for %s backend", c.Node.DBBackend)
	}
	if err := c.EscrowParams().Validate(); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: burst must not be negative")
	}
	for _, proxy := range c.RateLimit.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("rate_limit: invalid trusted proxy %q", proxy)
		}
	}
	if c.Indexer.Enabled {
		switch c.Indexer.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("indexer: unsupported driver %q", c.Indexer.Driver)
		}
		if c.Indexer.DSN == "" {
			return fmt.Errorf("indexer: dsn required")
		}
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka: at least one broker required")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka: topic required")
		}
	}
	if (c.Telemetry.Traces || c.Telemetry.Metrics) && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint required when exporters are enabled")
	}
	if c.Genesis != nil && c.GenesisFile != "" {
		return fmt.Errorf("genesis: set either genesis_file or an inline genesis section, not both")
	}
	return nil
}

// EscrowParams converts the escrow section.
func (c *Config) EscrowParams() escrow.Params {
	return escrow.Params{
		MinExpirationLead: c.Escrow.MinExpirationLeadSeconds,
		MaxExpirationLead: c.Escrow.MaxExpirationLeadSeconds,
	}
}

// OTel builds the exporter configuration for service.
func (c *Config) OTel(service string) otel.Config {
	return otel.Config{
		ServiceName: service,
		Environment: c.Node.Environment,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(c.Telemetry.Headers),
		Metrics:     c.Telemetry.Metrics,
		Traces:      c.Telemetry.Traces,
	}
}

func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}
