package config

import "time"

// NetConfig contains networking tuning options.
type NetConfig struct {
    DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
    DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
    DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms"`
}

func (n NetConfig) BackoffMin() time.Duration {
    return time.Duration(n.DialBackoffInitialMS) * time.Millisecond
}

func (n NetConfig) BackoffMax() time.Duration {
    return time.Duration(n.DialBackoffMaxMS) * time.Millisecond
}

// Jittered reports whether dial delays should be randomized.
func (n NetConfig) Jittered() bool { return n.DialBackoffJitterMS > 0 }
