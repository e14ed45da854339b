package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
server:
  id: 1
  name: node-a
  listen_addr: "0.0.0.0:7776"
tls:
  cert_file: node.crt
  key_file: node.key
  ca_file: ca.crt
peers:
  - name: node-b
    address: "10.0.0.2:7776"
    fingerprint: "aabbccdd"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "network.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gossip.FanOut != defaultFanOut {
		t.Fatalf("expected default fan_out %d, got %d", defaultFanOut, cfg.Gossip.FanOut)
	}
	if cfg.History.RingSize != defaultRingSize {
		t.Fatalf("expected default ring_size %d, got %d", defaultRingSize, cfg.History.RingSize)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].Name != "node-b" {
		t.Fatalf("expected one peer node-b, got %+v", cfg.Peers)
	}
}

func TestLoadRejectsNonSeedWithoutPeers(t *testing.T) {
	const noPeers = `
server:
  id: 1
  name: node-a
tls:
  cert_file: node.crt
  key_file: node.key
  ca_file: ca.crt
`
	if _, err := Load(writeTemp(t, noPeers)); err == nil {
		t.Fatal("expected an error for a non-seed node with no configured peers")
	}
}

func TestLoadAllowsSeedWithoutPeers(t *testing.T) {
	const seed = `
server:
  id: 1
  name: node-a
  seed: true
tls:
  cert_file: node.crt
  key_file: node.key
  ca_file: ca.crt
`
	if _, err := Load(writeTemp(t, seed)); err != nil {
		t.Fatalf("expected a seed node with no peers to load cleanly, got %v", err)
	}
}

func TestEnvOverridesServerId(t *testing.T) {
	t.Setenv("EMBERD_SERVER_ID", "42")
	cfg, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Id != 42 {
		t.Fatalf("expected env override to set server id to 42, got %d", cfg.Server.Id)
	}
}
