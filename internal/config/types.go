package config

import (
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Reports   ReportsConfig   `json:"reports"`
	Batch     BatchConfig     `json:"batch,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./gradebook.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReportsConfig controls report rendering.
type ReportsConfig struct {
	// Dir is where rendered artifacts land.
	Dir string `json:"dir"`

	// Formats to render per target. Defaults to every supported format.
	Formats []string `json:"formats,omitempty"`

	// Scope selects batch targets: "all", "honors", or "regular".
	Scope string `json:"scope,omitempty"`

	// RatePerSec caps renders per second across all workers; 0 disables.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// BatchConfig controls batch execution.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type BatchConfig struct {
	Workers int `json:"workers,omitempty"`

	// ItemTimeout bounds a single render. "0s" disables it.
	ItemTimeout string `json:"item_timeout,omitempty"`

	// ShutdownGrace bounds how long shutdown waits for in-flight batches.
	ShutdownGrace string `json:"shutdown_grace,omitempty"`
}

// SchedulerConfig controls the recurring job catalogue.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	Jobs JobsConfig `json:"jobs,omitempty"`
}

// JobsConfig declares the built-in recurring jobs. Times are "HH:MM"
// wall-clock strings in the scheduler timezone.
type JobsConfig struct {
	DailyReports   *ClockJob    `json:"daily_reports,omitempty"`
	WeeklyReports  *WeekdayJob  `json:"weekly_reports,omitempty"`
	MonthlyReports *MonthdayJob `json:"monthly_reports,omitempty"`
	RosterSnapshot *IntervalJob `json:"roster_snapshot,omitempty"`
	AuditPrune     *RetainJob   `json:"audit_prune,omitempty"`
}

type ClockJob struct {
	Enabled bool   `json:"enabled"`
	At      string `json:"at"` // "HH:MM"
}

type WeekdayJob struct {
	Enabled bool   `json:"enabled"`
	Weekday string `json:"weekday"` // "sunday".."saturday"
	At      string `json:"at"`
}

type MonthdayJob struct {
	Enabled bool   `json:"enabled"`
	Day     int    `json:"day"` // 1..31, clamped to short months
	At      string `json:"at"`
}

type IntervalJob struct {
	Enabled bool   `json:"enabled"`
	Every   string `json:"every"` // Go duration string
}

type RetainJob struct {
	Enabled   bool   `json:"enabled"`
	Retention string `json:"retention"` // Go duration string
}

// ParseClock splits an "HH:MM" string into hour and minute.
func ParseClock(path, raw string) (hour, minute int, err error) {
	s := strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%s: invalid time %q (want HH:MM)", path, raw)
	}
	hour, err = strconv.Atoi(hh)
	if err == nil {
		minute, err = strconv.Atoi(mm)
	}
	if err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%s: invalid time %q (want HH:MM)", path, raw)
	}
	return hour, minute, nil
}
