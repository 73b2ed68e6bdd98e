package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.ini")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfigAppliesFileValues(t *testing.T) {
	path := writeTestConfig(t, `
HOSTKEY = /etc/dht/host.pem
LOG = /var/log/dht/node.log

[DHT]
HOSTNAME = 10.0.0.5
PORT = 7100
OVERLAY_HOSTNAME = 10.0.0.1

[BOOTSTRAP]
PORT = 7000
MODE = static
PEERS = 10.0.0.1:7000,10.0.0.2:7000
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DHT.Hostname != "10.0.0.5" {
		t.Errorf("DHT.Hostname = %q, want 10.0.0.5", cfg.DHT.Hostname)
	}
	if cfg.DHT.Port != 7100 {
		t.Errorf("DHT.Port = %d, want 7100", cfg.DHT.Port)
	}
	if cfg.DHT.OverlayHostname != "10.0.0.1" {
		t.Errorf("DHT.OverlayHostname = %q, want 10.0.0.1", cfg.DHT.OverlayHostname)
	}
	if cfg.HostKey != "/etc/dht/host.pem" {
		t.Errorf("HostKey = %q, want /etc/dht/host.pem", cfg.HostKey)
	}
	if cfg.Logger.Mode != "file" || cfg.Logger.File.Path != "/var/log/dht/node.log" {
		t.Errorf("LOG did not switch logger to file mode: %+v", cfg.Logger)
	}
	if len(cfg.Bootstrap.Peers) != 2 {
		t.Fatalf("Bootstrap.Peers = %v, want 2 entries", cfg.Bootstrap.Peers)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	path := writeTestConfig(t, `[DHT]
PORT = 9000
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DHT.IDBits != 256 {
		t.Errorf("DHT.IDBits = %d, want default 256", cfg.DHT.IDBits)
	}
	if cfg.FaultTolerance.StabilizationInterval != time.Second {
		t.Errorf("StabilizationInterval = %v, want default 1s", cfg.FaultTolerance.StabilizationInterval)
	}
	if cfg.Bootstrap.Mode != "static" {
		t.Errorf("Bootstrap.Mode = %q, want default static", cfg.Bootstrap.Mode)
	}
}

func TestApplyFlagOverridesWinsOverFile(t *testing.T) {
	cfg := defaultConfig()
	cfg.DHT.Hostname = "file-host"
	cfg.DHT.Port = 7000

	cfg.ApplyFlagOverrides("", "flag-host", 0, 8000, "")

	if cfg.DHT.Hostname != "flag-host" {
		t.Errorf("Hostname = %q, want flag-host", cfg.DHT.Hostname)
	}
	if cfg.DHT.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.DHT.Port)
	}
	if cfg.DHT.OverlayHostname != "" {
		t.Errorf("OverlayHostname = %q, want empty (flag was blank)", cfg.DHT.OverlayHostname)
	}
}

func TestValidateRejectsUnknownBootstrapMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bootstrap.Mode = "smoke-signal"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown bootstrap mode")
	}
}

func TestValidateRejectsStaticPeerWithoutPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bootstrap.Mode = "static"
	cfg.Bootstrap.Peers = []string{"not-a-host-port"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a malformed static peer address")
	}
}

func TestClientAndPeerAddrDeriveFromPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.DHT.Hostname = "10.0.0.9"
	cfg.DHT.Port = 7000

	if got := cfg.ClientAddr(); got != "10.0.0.9:7000" {
		t.Errorf("ClientAddr = %q, want 10.0.0.9:7000", got)
	}
	if got := cfg.PeerAddr(); got != "10.0.0.9:10086" {
		t.Errorf("PeerAddr = %q, want 10.0.0.9:10086", got)
	}
}

func TestBootstrapPeerAddrEmptyWhenNoOverlay(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.BootstrapPeerAddr(); got != "" {
		t.Errorf("BootstrapPeerAddr = %q, want empty", got)
	}
}
