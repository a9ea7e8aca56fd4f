package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nftescrow/crypto"
)

func testAddr(b byte) string {
	var raw [20]byte
	raw[0] = b
	raw[19] = b
	return crypto.FormatRaw(raw)
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.RPCAddress != ":8080" {
		t.Fatalf("unexpected rpc address %q", cfg.Node.RPCAddress)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.EscrowParams().MinExpirationLead != 60 {
		t.Fatalf("unexpected min lead %d", reloaded.EscrowParams().MinExpirationLead)
	}
}

func TestLoadCreatesDefaultYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "rpc_address:") {
		t.Fatalf("expected yaml output, got:\n%s", raw)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("reload yaml: %v", err)
	}
}

func TestLoadTOMLWithInlineGenesis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := fmt.Sprintf(`[node]
rpc_address = "127.0.0.1:9000"
data_dir = "./data"
db_backend = "BOLT"

[rate_limit]
requests_per_minute = 120
burst = 10
trusted_proxies = ["10.0.0.1", "172.16.0.0/12"]

[escrow]
min_expiration_lead_seconds = 120
max_expiration_lead_seconds = 86400

[kafka]
enabled = true
brokers = [" localhost:9092 ", ""]
topic = "escrow.events"

[[genesis.mints]]
authority = "%s"
symbol = "usdc"
decimals = 6

[[genesis.mints.alloc]]
owner = "%s"
amount = "1000"
`, testAddr(1), testAddr(2))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.DBBackend != "bolt" {
		t.Fatalf("backend not normalised: %q", cfg.Node.DBBackend)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if len(cfg.RateLimit.TrustedProxies) != 2 || cfg.RateLimit.TrustedProxies[1] != "172.16.0.0/12" {
		t.Fatalf("unexpected trusted proxies %v", cfg.RateLimit.TrustedProxies)
	}
	params := cfg.EscrowParams()
	if params.MinExpirationLead != 120 || params.MaxExpirationLead != 86400 {
		t.Fatalf("unexpected params %+v", params)
	}
	spec, err := cfg.LoadGenesis()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if len(spec.Mints) != 1 || len(spec.Mints[0].Alloc) != 1 {
		t.Fatalf("unexpected genesis %+v", spec)
	}
	if cfg.ResolvePath("events.db") != filepath.Join(dir, "events.db") {
		t.Fatalf("unexpected resolved path %q", cfg.ResolvePath("events.db"))
	}
}

func TestLoadGenesisFileRelativeToConfig(t *testing.T) {
	dir := t.TempDir()
	genesisJSON := fmt.Sprintf(`{"mints":[{"authority":%q,"symbol":"DEED","decimals":0,"nonFungible":true,"alloc":[{"owner":%q,"amount":"1"}]}]}`,
		testAddr(3), testAddr(4))
	if err := os.WriteFile(filepath.Join(dir, "genesis.json"), []byte(genesisJSON), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	contents := "node:\n  rpc_address: \":8081\"\n  db_backend: memory\ngenesis_file: genesis.json\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	spec, err := cfg.LoadGenesis()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if !spec.Mints[0].NonFungible {
		t.Fatalf("expected non-fungible mint")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[node]\nrpc_address = \":1\"\nvalidator_key = \"x\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"rpc address":   func(c *Config) { c.Node.RPCAddress = "" },
		"backend":       func(c *Config) { c.Node.DBBackend = "rocks" },
		"data dir":      func(c *Config) { c.Node.DataDir = "" },
		"escrow window": func(c *Config) { c.Escrow.MaxExpirationLeadSeconds = 10 },
		"rate":          func(c *Config) { c.RateLimit.RequestsPerMinute = -1 },
		"trusted proxy": func(c *Config) { c.RateLimit.TrustedProxies = []string{"10.0.0.1", "proxy.local"} },
		"indexer":       func(c *Config) { c.Indexer.Enabled = true; c.Indexer.Driver = "mysql" },
		"kafka brokers": func(c *Config) { c.Kafka.Enabled = true },
		"telemetry":     func(c *Config) { c.Telemetry.Traces = true },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
