package config

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"
)

func writeConfig(t *testing.T, body string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "ttxfer.yaml")
    if err := os.WriteFile(path, []byte(body), 0o644); err != nil { t.Fatalf("write: %v", err) }
    return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
    t.Chdir(t.TempDir())
    cfg, err := Load("")
    if err != nil { t.Fatalf("load: %v", err) }
    if cfg.NodeID != "node-1" || cfg.Transfer.Format != "cbor" { t.Fatalf("defaults: %+v", cfg) }
    if len(cfg.Transports) != 1 || cfg.Transports[0].Kind != "quic" { t.Fatalf("transports: %+v", cfg.Transports) }
    if cfg.Transfer.RendezvousTimeout() != 30*time.Second { t.Fatalf("rendezvous timeout %v", cfg.Transfer.RendezvousTimeout()) }
}

func TestLoadFile(t *testing.T) {
    path := writeConfig(t, `
node_id: relay-2
log:
  level: debug
transports:
  - kind: MEM
    listen: ["relay-2"]
    dial:
      - address: "edge-1"
        peer_id: edge-1
transfer:
  format: json
  open_timeout_ms: 250
routes:
  - dest: far
    via: edge-1
`)
    cfg, err := Load(path)
    if err != nil { t.Fatalf("load: %v", err) }
    if cfg.NodeID != "relay-2" || cfg.Log.Level != "debug" { t.Fatalf("cfg: %+v", cfg) }
    if len(cfg.Transports) != 1 || cfg.Transports[0].Kind != "mem" { t.Fatalf("transports: %+v", cfg.Transports) }
    if d := cfg.Transports[0].Dial; len(d) != 1 || d[0].PeerID != "edge-1" { t.Fatalf("dial: %+v", d) }
    if cfg.Transfer.Format != "json" || cfg.Transfer.OpenTimeout() != 250*time.Millisecond { t.Fatalf("transfer: %+v", cfg.Transfer) }
    if cfg.Transfer.FrameBuffer != 64 { t.Fatalf("frame buffer default lost: %d", cfg.Transfer.FrameBuffer) }
    if len(cfg.Routes) != 1 || cfg.Routes[0].Via != "edge-1" { t.Fatalf("routes: %+v", cfg.Routes) }
}

func TestLoadEnvOverride(t *testing.T) {
    t.Setenv("TTXFER_NODE_ID", "from-env")
    t.Setenv("TTXFER_TRANSFER_FORMAT", "proto")
    cfg, err := Load(writeConfig(t, "node_id: from-file\n"))
    if err != nil { t.Fatalf("load: %v", err) }
    if cfg.NodeID != "from-env" || cfg.Transfer.Format != "proto" { t.Fatalf("env not applied: %+v", cfg) }
}

func TestLoadRejectsInvalid(t *testing.T) {
    cases := map[string]string{
        "level":     "log:\n  level: loud\n",
        "kind":      "transports:\n  - kind: tcp\n",
        "format":    "transfer:\n  format: xml\n",
        "route":     "routes:\n  - dest: x\n",
        "self":      "node_id: a\nroutes:\n  - dest: a\n    via: b\n",
        "timeout":   "transfer:\n  rendezvous_timeout_ms: -1\n",
    }
    for name, body := range cases {
        t.Run(name, func(t *testing.T) {
            if _, err := Load(writeConfig(t, body)); err == nil { t.Fatalf("expected error for %q", body) }
        })
    }
}

func TestWatchReloads(t *testing.T) {
    path := writeConfig(t, "log:\n  level: info\n")
    changed := make(chan *Config, 4)
    cfg, err := Watch(path, func(c *Config) { changed <- c })
    if err != nil { t.Fatalf("watch: %v", err) }
    if cfg.Log.Level != "info" { t.Fatalf("initial level %q", cfg.Log.Level) }

    if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil { t.Fatalf("rewrite: %v", err) }
    deadline := time.After(5 * time.Second)
    for {
        select {
        case c := <-changed:
            if strings.EqualFold(c.Log.Level, "debug") { return }
        case <-deadline:
            t.Fatalf("no reload observed")
        }
    }
}

func TestWatchNeedsFile(t *testing.T) {
    if _, err := Watch("", func(*Config) {}); err == nil { t.Fatalf("expected error") }
    if _, err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {}); err == nil { t.Fatalf("expected error for missing file") }
}
