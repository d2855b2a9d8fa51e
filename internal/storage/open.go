package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gradebook/internal/roster"
	logx "gradebook/pkg/logx"
)

// Store is the minimal persistence API used by the app and jobs.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, olderThan time.Time) (int, error)
	SaveRoster(ctx context.Context, students []roster.Student) error
	LoadRoster(ctx context.Context) ([]roster.Student, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
