package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
    ConfigPath string
    // Watch reloads the log level when the config file changes.
    Watch bool
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
    fs := flag.NewFlagSet("xfer-node", flag.ExitOnError)
    var opts Options
    fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    fs.BoolVar(&opts.Watch, "watch", false, "Reload log level on config file changes")
    _ = fs.Parse(args)
    return opts
}
