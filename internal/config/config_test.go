package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "gradebook/pkg/logx"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleJSON = `{
  "logging": {"level": "debug", "console": true},
  "storage": {"driver": "sqlite", "path": "./gradebook.db", "busy_timeout": "5s"},
  "reports": {"dir": "./reports", "formats": ["csv", "json"], "scope": "honors", "rate_per_sec": 20},
  "batch": {"workers": 4, "shutdown_grace": "15s"},
  "scheduler": {
    "enabled": true,
    "timezone": "UTC",
    "jobs": {
      "daily_reports": {"enabled": true, "at": "06:30"},
      "monthly_reports": {"enabled": true, "day": 31, "at": "07:00"},
      "roster_snapshot": {"enabled": true, "every": "30m"},
      "audit_prune": {"enabled": true, "retention": "720h"}
    }
  }
}`

const sampleYAML = `logging:
  level: info
  console: true
reports:
  dir: ./reports
  scope: all
scheduler:
  enabled: true
  jobs:
    daily_reports:
      enabled: true
      at: "06:30"
`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", sampleJSON), logx.Nop())

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Reports.Scope != "honors" || len(cfg.Reports.Formats) != 2 {
		t.Fatalf("reports = %+v", cfg.Reports)
	}
	if cfg.Scheduler.Jobs.MonthlyReports == nil || cfg.Scheduler.Jobs.MonthlyReports.Day != 31 {
		t.Fatalf("monthly job = %+v", cfg.Scheduler.Jobs.MonthlyReports)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML), logx.Nop())

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Reports.Dir != "./reports" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Scheduler.Jobs.DailyReports == nil || cfg.Scheduler.Jobs.DailyReports.At != "06:30" {
		t.Fatalf("daily job = %+v", cfg.Scheduler.Jobs.DailyReports)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"reports": {"dir": ".", "fromats": []}}`), logx.Nop())
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse accepted a misspelled field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"reports": {"dir": "."}} {"extra": 1}`), logx.Nop())
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse accepted trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty ParseDurationField = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "fast"); err == nil {
		t.Fatal("garbage duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("ParseDurationOrDefault = %v, %v", d, err)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	h, m, err := ParseClock("x", "06:30")
	if err != nil || h != 6 || m != 30 {
		t.Fatalf("ParseClock = %d:%d, %v", h, m, err)
	}
	for _, bad := range []string{"", "6", "24:00", "12:60", "a:b"} {
		if _, _, err := ParseClock("x", bad); err == nil {
			t.Fatalf("ParseClock accepted %q", bad)
		}
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", sampleJSON)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Unchanged content must not publish.
	m.reload()
	select {
	case <-ch:
		t.Fatal("reload published an unchanged config")
	default:
	}

	changed := `{"logging": {"level": "warn", "console": false, "file": {"enabled": false, "path": ""}}, "reports": {"dir": "./out"}, "scheduler": {"enabled": false}}`
	if err := os.WriteFile(path, []byte(changed), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	m.reload()
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("published config = %+v", cfg.Logging)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published after change")
	}
}
