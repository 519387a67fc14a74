package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/portfolio-valuator/internal/app"
	"github.com/portfolio-valuator/internal/config"
	"github.com/portfolio-valuator/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// loadConfig reads configuration and sends logs to stderr so that stdout
// carries only command output
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.SetGlobalLogger(logging.NewLoggerWithOutput(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
		os.Stderr,
	))
	return cfg, nil
}

func setup(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts.RegistryDB = opts.RegistryDB || cfg.Registry.FromDatabase
	return app.New(ctx, cfg, opts)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAsOf accepts RFC3339 or a bare date, which means the end of that
// UTC day
func parseAsOf(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", s)
	}
	t := d.Add(24*time.Hour - time.Second)
	return &t, nil
}
