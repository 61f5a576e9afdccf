package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"

    "go.uber.org/zap"

    "ttxfer/pkg/config"
    "ttxfer/pkg/handle"
    "ttxfer/pkg/node"
    "ttxfer/pkg/observability"
)

func main() { os.Exit(run(ParseFlags(os.Args[1:]))) }

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }

    logger, level, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("xfer-node started", zap.String("app", cfg.AppName), zap.String("node_id", cfg.NodeID))
    zap.L().Info("effective configuration", zap.Any("config", cfg))

    if opts.Watch && opts.ConfigPath != "" {
        _, err := config.Watch(opts.ConfigPath, func(next *config.Config) {
            level.SetLevel(observability.ParseLevel(next.Log.Level))
            if next.NodeID != cfg.NodeID { zap.L().Warn("node_id change needs a restart", zap.String("node_id", next.NodeID)) }
        })
        if err != nil { zap.L().Warn("config watch disabled", zap.Error(err)) }
    }

    n, err := node.New(cfg, node.Options{Logger: logger})
    if err != nil {
        zap.L().Error("failed to build node", zap.Error(err))
        return 1
    }
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    if err := n.Start(ctx); err != nil {
        zap.L().Error("failed to start transports", zap.Error(err))
        return 1
    }
    defer n.Close()

    go echo(ctx, n)

    zap.L().Info("node is running; press Ctrl+C to exit")
    <-ctx.Done()
    zap.L().Info("shutting down")
    return 0
}

// echo serves every capability exported to this node by writing each
// message straight back.
func echo(ctx context.Context, n *node.Node) {
    for {
        acc, err := n.Accept(ctx)
        if err != nil { return }
        zap.L().Info("capability accepted", zap.String("from", string(acc.Header.Source)), zap.String("kind", acc.App.Kind().String()))
        go func(h handle.Handle) {
            defer h.Close()
            for {
                m, err := h.Read(ctx)
                if err != nil { return }
                if err := h.Write(ctx, m); err != nil { return }
            }
        }(acc.App)
    }
}
