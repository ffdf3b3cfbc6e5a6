package main

import (
	"flag"

	"github.com/nyan-/snmptrapd/pkg/trapd/app"
)

// parseFlags defines and parses the daemon's command-line flags, returning
// the resulting app.Config plus the raw log level/format strings (kept
// separate since they're consumed by buildLogger, not app.Config).
func parseFlags() (app.Config, string, string, error) {
	var (
		settingsPath    string
		filterGroupsDir string
		adminAddr       string
		logLevel        string
		logFmt          string
	)

	flag.StringVar(&settingsPath, "config", "/etc/snmptrapd/snmptrapd.yaml", "Path to the daemon settings YAML file")
	flag.StringVar(&filterGroupsDir, "filter-groups", "/etc/snmptrapd/filter-groups", "Directory of filter-group YAML definitions")
	flag.StringVar(&adminAddr, "admin.addr", ":9116", "Admin HTTP listen address for /metrics (empty disables)")
	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")

	flag.Parse()

	cfg := app.Config{
		SettingsPath:    settingsPath,
		FilterGroupsDir: filterGroupsDir,
		AdminAddr:       adminAddr,
	}
	return cfg, logLevel, logFmt, nil
}
