package observability

import (
    "encoding/json"
    "os"
    "path/filepath"
    "testing"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"

    "ttxfer/pkg/config"
)

func TestParseLevel(t *testing.T) {
    cases := map[string]zapcore.Level{
        "debug": zap.DebugLevel, " WARN ": zap.WarnLevel, "warning": zap.WarnLevel,
        "error": zap.ErrorLevel, "info": zap.InfoLevel, "bogus": zap.InfoLevel,
    }
    for in, want := range cases {
        if got := ParseLevel(in); got != want { t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want) }
    }
}

func TestSetupLoggerFileOutput(t *testing.T) {
    prev := zap.L()
    defer zap.ReplaceGlobals(prev)

    path := filepath.Join(t.TempDir(), "logs", "node.log")
    logger, level, err := SetupLogger(config.LogConfig{Level: "warn", Format: "json", Outputs: []string{path}})
    if err != nil { t.Fatalf("setup: %v", err) }
    logger.Info("dropped")
    level.SetLevel(zap.InfoLevel)
    zap.L().Info("kept", zap.String("key", "k1"))
    _ = logger.Sync()

    data, err := os.ReadFile(path)
    if err != nil { t.Fatalf("read: %v", err) }
    var entry map[string]any
    if err := json.Unmarshal(data, &entry); err != nil { t.Fatalf("want exactly one json line, got %q: %v", data, err) }
    if entry["msg"] != "kept" || entry["key"] != "k1" { t.Fatalf("entry: %v", entry) }
}

func TestSetupLoggerBadPath(t *testing.T) {
    prev := zap.L()
    defer zap.ReplaceGlobals(prev)
    dir := t.TempDir()
    if _, _, err := SetupLogger(config.LogConfig{Level: "info", Outputs: []string{dir}}); err == nil {
        t.Fatalf("expected error opening a directory as log file")
    }
}
