package config

import (
    "fmt"

    "github.com/fsnotify/fsnotify"
    "go.uber.org/zap"
)

// Watch loads path and calls fn with the freshly decoded configuration
// every time the file changes. Invalid edits are logged and skipped.
func Watch(path string, fn func(*Config)) (*Config, error) {
    if path == "" { return nil, fmt.Errorf("watch: no config file") }
    v := newViper(path)
    if err := v.ReadInConfig(); err != nil { return nil, fmt.Errorf("read config: %w", err) }
    cfg, err := decode(v)
    if err != nil { return nil, err }
    v.OnConfigChange(func(e fsnotify.Event) {
        next, err := decode(v)
        if err != nil {
            zap.L().Warn("ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
            return
        }
        zap.L().Info("config reloaded", zap.String("file", e.Name), zap.Stringer("op", e.Op))
        fn(next)
    })
    v.WatchConfig()
    return cfg, nil
}
