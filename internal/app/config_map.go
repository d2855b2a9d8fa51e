package app

import (
	"fmt"
	"strings"
	"time"

	"gradebook/internal/config"
	"gradebook/internal/report"
	"gradebook/internal/storage"
	"gradebook/internal/task/batch"
	logx "gradebook/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapReportsConfig(cfg *config.Config) (report.Config, error) {
	rc := cfg.Reports
	dir := strings.TrimSpace(rc.Dir)
	if dir == "" {
		dir = "./reports"
	}
	if rc.RatePerSec < 0 {
		return report.Config{}, fmt.Errorf("reports.rate_per_sec must be >= 0")
	}
	return report.Config{Dir: dir, RatePerSec: rc.RatePerSec, Burst: rc.Burst}, nil
}

// reportFormats returns the configured formats, defaulting to all of them.
// Unknown names are rejected early instead of failing every batch cell.
func reportFormats(cfg *config.Config) ([]string, error) {
	if len(cfg.Reports.Formats) == 0 {
		return append([]string(nil), report.Formats...), nil
	}
	known := map[string]bool{}
	for _, f := range report.Formats {
		known[f] = true
	}
	out := make([]string, 0, len(cfg.Reports.Formats))
	for _, f := range cfg.Reports.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if !known[f] {
			return nil, fmt.Errorf("reports.formats: unknown format %q", f)
		}
		out = append(out, f)
	}
	return out, nil
}

func mapBatchConfig(cfg *config.Config) (batch.Config, time.Duration, error) {
	bc := cfg.Batch
	if bc.Workers < 0 {
		return batch.Config{}, 0, fmt.Errorf("batch.workers must be >= 0")
	}
	itemTimeout, err := config.ParseDurationField("batch.item_timeout", bc.ItemTimeout)
	if err != nil {
		return batch.Config{}, 0, err
	}
	grace, err := config.ParseDurationOrDefault("batch.shutdown_grace", bc.ShutdownGrace, 10*time.Second)
	if err != nil {
		return batch.Config{}, 0, err
	}
	return batch.Config{Workers: bc.Workers, ItemTimeout: itemTimeout}, grace, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
