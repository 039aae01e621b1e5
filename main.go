package main

import (
	cmdcollect "azcost/command/collect"
	cmdreport "azcost/command/report"
	cmdweb "azcost/command/web"
	"azcost/connectors/config"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// azcost collects per-subscription Azure cost and budget figures, labels each subscription
// with its management group path and ships one batch to a Log Analytics custom table.
// Usage:
//   azcost collect [-dry-run] [-subscription <ids>] [-days <n>]
//   azcost report [-backup <file>] [-out <dir>]
//   azcost web [-addr :8080] [-data ./data]

func main() {
	args := os.Args
	// Initialize slog logger (text to stderr) at the configured level
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()})
	slog.SetDefault(slog.New(h))

	if len(args) > 1 {
		sub := args[1]
		rest := append([]string{}, args[2:]...)
		var run func([]string) error
		switch sub {
		case "collect":
			run = cmdcollect.Run
		case "report":
			run = cmdreport.Run
		case "web":
			run = cmdweb.Run
		}
		if run != nil {
			if err := run(rest); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: azcost collect [-dry-run] [-subscription <ids>] [-days <n>] | report [-backup <file>] | web [-addr :8080] [-data ./data]\nENV: set CONFIG_PATH to point to a YAML config file (default ./config.yml)")
	os.Exit(2)
}

// logLevel reads LOG_LEVEL, falling back to log_level from the config file.
func logLevel() slog.Level {
	name := os.Getenv("LOG_LEVEL")
	if name == "" {
		if cfg, err := config.Load(config.Path()); err == nil {
			name = cfg.LogLevel
		}
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
