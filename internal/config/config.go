// Package config loads the network/peer configuration that wires a node's
// identity, TLS material, and peer table at startup. It follows the
// teacher's deployment/discord-bridge config.go shape (a YAML file loaded
// with gopkg.in/yaml.v2 plus default-filling and environment overrides),
// generalized from one Discord-bridge block to the full node identity and
// gossip peer table this spec needs.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"emberd/internal/gossip"
)

// TLSConfig names the on-disk PEM material for this node's own
// certificate/key and the CA pool peers are verified against.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// NetworkConfig is the top-level on-disk shape.
type NetworkConfig struct {
	Server struct {
		Id         uint16 `yaml:"id"`
		Name       string `yaml:"name"`
		ListenAddr string `yaml:"listen_addr"`
		// Seed skips the retry-then-warn bootstrap loop entirely — the
		// escape hatch for starting the first node of a new network
		// (§4.3), since a seed node has no peer to bootstrap from.
		Seed bool `yaml:"seed"`
	} `yaml:"server"`

	TLS TLSConfig `yaml:"tls"`

	Peers []gossip.PeerConfig `yaml:"peers"`

	Gossip struct {
		FanOut int `yaml:"fan_out"`
	} `yaml:"gossip"`

	History struct {
		RingSize int `yaml:"ring_size"`
		TTLHours int `yaml:"ttl_hours"`
	} `yaml:"history"`

	Mgmt struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"mgmt"`
}

const (
	defaultFanOut      = 3
	defaultRingSize    = 500
	defaultTTLHours    = 24
	defaultMgmtAddr    = "127.0.0.1:9090"
	defaultListenAddr  = "0.0.0.0:7776"
)

// Load reads and parses path, fills in defaults, and applies the handful of
// EMBERD_* environment overrides operators commonly need at deploy time —
// the same REPRAM_* / legacy-fallback shape cmd/cluster-node/main.go uses.
func Load(path string) (*NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg NetworkConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *NetworkConfig) {
	if cfg.Gossip.FanOut == 0 {
		cfg.Gossip.FanOut = defaultFanOut
	}
	if cfg.History.RingSize == 0 {
		cfg.History.RingSize = defaultRingSize
	}
	if cfg.History.TTLHours == 0 {
		cfg.History.TTLHours = defaultTTLHours
	}
	if cfg.Mgmt.ListenAddr == "" {
		cfg.Mgmt.ListenAddr = defaultMgmtAddr
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
}

// applyEnvOverrides follows cmd/cluster-node/main.go's "try both the new
// name and the legacy name" convention: EMBERD_* is current, NODE_* is the
// fallback for operators migrating an existing deployment.
func applyEnvOverrides(cfg *NetworkConfig) {
	if v := firstNonEmpty("EMBERD_SERVER_ID", "NODE_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Server.Id = uint16(id)
		}
	}
	if v := firstNonEmpty("EMBERD_LISTEN_ADDR", "NODE_ADDRESS"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("EMBERD_MGMT_ADDR"); v != "" {
		cfg.Mgmt.ListenAddr = v
	}
	if v := os.Getenv("EMBERD_SEED"); v == "true" {
		cfg.Server.Seed = true
	}
}

func firstNonEmpty(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func validate(cfg *NetworkConfig) error {
	if cfg.Server.Id == 0 {
		return fmt.Errorf("config: server.id must be set")
	}
	if cfg.Server.Name == "" {
		return fmt.Errorf("config: server.name must be set")
	}
	if !cfg.Server.Seed && len(cfg.Peers) == 0 {
		return fmt.Errorf("config: non-seed nodes must configure at least one peer")
	}
	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" || cfg.TLS.CAFile == "" {
		return fmt.Errorf("config: tls.cert_file, key_file, and ca_file are all required")
	}
	return nil
}
