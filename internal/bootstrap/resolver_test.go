package bootstrap

import (
	"testing"

	"dhtnode/internal/config"
	"dhtnode/internal/logger"
)

func TestResolveBootstrapStaticReturnsConfiguredPeers(t *testing.T) {
	cfg := &config.Config{
		Bootstrap: config.BootstrapConfig{
			Mode:  "static",
			Peers: []string{"10.0.0.1:10000", "10.0.0.2:10000"},
		},
	}

	peers, err := ResolveBootstrap(cfg, &logger.NopLogger{})
	if err != nil {
		t.Fatalf("ResolveBootstrap: %v", err)
	}
	if len(peers) != 2 || peers[0] != "10.0.0.1:10000" {
		t.Fatalf("peers = %v, want the configured static list verbatim", peers)
	}
}

func TestResolveBootstrapRejectsUnknownMode(t *testing.T) {
	cfg := &config.Config{Bootstrap: config.BootstrapConfig{Mode: "carrier-pigeon"}}

	if _, err := ResolveBootstrap(cfg, &logger.NopLogger{}); err == nil {
		t.Fatal("expected an error for an unsupported bootstrap mode")
	}
}

func TestStaticBootstrapDiscoverReturnsPeers(t *testing.T) {
	b := NewStaticBootstrap([]string{"10.0.0.1:10000"})
	peers, err := b.Discover(nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(peers) != 1 || peers[0] != "10.0.0.1:10000" {
		t.Fatalf("peers = %v, want [10.0.0.1:10000]", peers)
	}
}
