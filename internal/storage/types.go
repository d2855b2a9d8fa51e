package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl audit + roster snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one job run or batch outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time
	Job    string
	Action string
	Target string
	OK     int
	Fail   int
	Error  string
	TookMS int64
}
