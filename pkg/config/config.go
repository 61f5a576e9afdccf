// Package config provides YAML-based configuration loading for ttxfer nodes.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name of the node/application
    AppName string `mapstructure:"app_name"`

    // NodeID is the mesh-wide identifier this node announces to its peers
    NodeID string `mapstructure:"node_id"`

    Log LogConfig `mapstructure:"log"`

    // Transports list to configure multiple inbound/outbound links
    Transports []TransportConfig `mapstructure:"transports"`

    Net NetConfig `mapstructure:"net"`

    // Transfer tunes frame encoding and the rendezvous of moved handles.
    Transfer TransferConfig `mapstructure:"transfer"`

    // Routes pins next hops for destinations that are not direct peers.
    Routes []RouteConfig `mapstructure:"routes"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    Rotation    RotationConfig `mapstructure:"rotation"`
    Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// TransferConfig controls the frame streams used by proxies and transfers.
type TransferConfig struct {
    // Format of frames on the wire: cbor, json or proto
    Format string `mapstructure:"format"`
    // FrameBuffer is how many decoded frames a stream reader keeps ahead
    FrameBuffer int `mapstructure:"frame_buffer"`
    // RendezvousTimeoutMS bounds how long an unclaimed transfer or drain waits
    RendezvousTimeoutMS int `mapstructure:"rendezvous_timeout_ms"`
    // OpenTimeoutMS bounds the wait for Hello on an inbound stream
    OpenTimeoutMS int `mapstructure:"open_timeout_ms"`
}

func (t TransferConfig) RendezvousTimeout() time.Duration {
    return time.Duration(t.RendezvousTimeoutMS) * time.Millisecond
}

func (t TransferConfig) OpenTimeout() time.Duration {
    return time.Duration(t.OpenTimeoutMS) * time.Millisecond
}

// RouteConfig sends traffic for Dest through the direct peer Via.
type RouteConfig struct {
    Dest string `mapstructure:"dest"`
    Via  string `mapstructure:"via"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "xfer-node",
        NodeID:  "node-1",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/ttxfer.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Transports: []TransportConfig{
            {
                Kind:   "quic",
                Listen: []string{":4433"},
            },
        },
        Net: NetConfig{DialBackoffInitialMS: 500, DialBackoffMaxMS: 30000, DialBackoffJitterMS: 100},
        Transfer: TransferConfig{
            Format:              "cbor",
            FrameBuffer:         64,
            RendezvousTimeoutMS: 30000,
            OpenTimeoutMS:       10000,
        },
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix TTXFER and `.`/`-` are replaced with `_`.
// Example: TTXFER_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
    v := newViper(path)
    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }
    return decode(v)
}

func newViper(path string) *viper.Viper {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("TTXFER")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("node_id", cfg.NodeID)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("transports", cfg.Transports)
    v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
    v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)
    v.SetDefault("net.dial_backoff_jitter_ms", cfg.Net.DialBackoffJitterMS)
    v.SetDefault("transfer.format", cfg.Transfer.Format)
    v.SetDefault("transfer.frame_buffer", cfg.Transfer.FrameBuffer)
    v.SetDefault("transfer.rendezvous_timeout_ms", cfg.Transfer.RendezvousTimeoutMS)
    v.SetDefault("transfer.open_timeout_ms", cfg.Transfer.OpenTimeoutMS)

    if path == "" {
        if envPath := os.Getenv("TTXFER_CONFIG"); envPath != "" {
            path = envPath
        }
    }
    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("ttxfer")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".ttxfer"))
        }
    }
    return v
}

func decode(v *viper.Viper) (*Config, error) {
    cfg := Default()
    // lists replace the defaults instead of merging into them
    cfg.Transports = nil
    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }
    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
    case "debug", "info", "warn", "warning", "error":
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }
    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    if strings.TrimSpace(c.NodeID) == "" {
        return errors.New("node_id must not be empty")
    }
    for i := range c.Transports {
        c.Transports[i].Kind = strings.ToLower(strings.TrimSpace(c.Transports[i].Kind))
        switch c.Transports[i].Kind {
        case "quic", "mem":
        default:
            return fmt.Errorf("transports[%d]: unsupported kind %q", i, c.Transports[i].Kind)
        }
    }

    c.Transfer.Format = strings.ToLower(strings.TrimSpace(c.Transfer.Format))
    switch c.Transfer.Format {
    case "":
        c.Transfer.Format = "cbor"
    case "cbor", "json", "proto":
    default:
        return fmt.Errorf("invalid transfer.format: %q", c.Transfer.Format)
    }
    if c.Transfer.FrameBuffer <= 0 {
        c.Transfer.FrameBuffer = 64
    }
    if c.Transfer.RendezvousTimeoutMS <= 0 || c.Transfer.OpenTimeoutMS <= 0 {
        return errors.New("transfer timeouts must be positive")
    }
    for i, r := range c.Routes {
        if r.Dest == "" || r.Via == "" {
            return fmt.Errorf("routes[%d]: dest and via are required", i)
        }
        if r.Dest == c.NodeID {
            return fmt.Errorf("routes[%d]: route to self", i)
        }
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
