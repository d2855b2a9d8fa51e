package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gradebook/internal/config"
	"gradebook/internal/roster"
	"gradebook/internal/storage"
	"gradebook/internal/task/batch"
	logx "gradebook/pkg/logx"
)

// Job names. Registration is keyed by name, so re-applying config
// replaces rather than duplicates.
const (
	jobDailyReports   = "daily-reports"
	jobWeeklyReports  = "weekly-reports"
	jobMonthlyReports = "monthly-reports"
	jobRosterSnapshot = "roster-snapshot"
	jobAuditPrune     = "audit-prune"
)

// applyJobs reconciles the recurring job catalogue with config: enabled
// jobs are (re)registered, disabled or omitted ones cancelled.
func (a *App) applyJobs(cfg *config.Config) error {
	jobs := cfg.Scheduler.Jobs

	reportAction := func(ctx context.Context) error {
		_, err := a.RunBatch(ctx, "", nil, 0)
		return err
	}

	if j := jobs.DailyReports; j != nil && j.Enabled {
		hour, minute, err := config.ParseClock("scheduler.jobs.daily_reports.at", j.At)
		if err != nil {
			return err
		}
		if err := a.jobs.DailyAt(jobDailyReports, hour, minute, reportAction); err != nil {
			return err
		}
	} else {
		a.jobs.Cancel(jobDailyReports)
	}

	if j := jobs.WeeklyReports; j != nil && j.Enabled {
		wd, err := parseWeekday("scheduler.jobs.weekly_reports.weekday", j.Weekday)
		if err != nil {
			return err
		}
		hour, minute, err := config.ParseClock("scheduler.jobs.weekly_reports.at", j.At)
		if err != nil {
			return err
		}
		if err := a.jobs.WeeklyAt(jobWeeklyReports, wd, hour, minute, reportAction); err != nil {
			return err
		}
	} else {
		a.jobs.Cancel(jobWeeklyReports)
	}

	if j := jobs.MonthlyReports; j != nil && j.Enabled {
		hour, minute, err := config.ParseClock("scheduler.jobs.monthly_reports.at", j.At)
		if err != nil {
			return err
		}
		if err := a.jobs.MonthlyAt(jobMonthlyReports, j.Day, hour, minute, reportAction); err != nil {
			return err
		}
	} else {
		a.jobs.Cancel(jobMonthlyReports)
	}

	if j := jobs.RosterSnapshot; j != nil && j.Enabled && a.store != nil {
		every, err := config.ParseDurationOrDefault("scheduler.jobs.roster_snapshot.every", j.Every, 30*time.Minute)
		if err != nil {
			return err
		}
		if err := a.jobs.Every(jobRosterSnapshot, every, every, a.snapshotRoster); err != nil {
			return err
		}
	} else {
		a.jobs.Cancel(jobRosterSnapshot)
	}

	if j := jobs.AuditPrune; j != nil && j.Enabled && a.store != nil {
		retention, err := config.ParseDurationOrDefault("scheduler.jobs.audit_prune.retention", j.Retention, 30*24*time.Hour)
		if err != nil {
			return err
		}
		action := func(ctx context.Context) error { return a.pruneAudit(ctx, retention) }
		if err := a.jobs.Hourly(jobAuditPrune, action); err != nil {
			return err
		}
	} else {
		a.jobs.Cancel(jobAuditPrune)
	}

	return nil
}

func parseWeekday(path, raw string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("%s: unknown weekday %q", path, raw)
	}
}

// RunBatch renders reports for every student the scope selects, in every
// requested format. Empty arguments fall back to config; an empty scope
// yields an empty batch rather than an error.
func (a *App) RunBatch(ctx context.Context, scopeStr string, formats []string, workers int) (batch.Result, error) {
	cfg := a.cfgm.Get()
	if strings.TrimSpace(scopeStr) == "" {
		scopeStr = cfg.Reports.Scope
		if strings.TrimSpace(scopeStr) == "" {
			scopeStr = "all"
		}
	}
	scope := roster.ParseScope(scopeStr)
	targets := a.students.ResolveTargets(scope)
	if len(targets) == 0 {
		a.log.Info("batch skipped: scope selected no students", logx.String("scope", scope.String()))
		return batch.Result{}, nil
	}

	if len(formats) == 0 {
		var err error
		formats, err = reportFormats(cfg)
		if err != nil {
			return batch.Result{}, err
		}
	}

	res, err := a.engine.Run(ctx, targets, formats, workers)
	if err != nil {
		return batch.Result{}, err
	}
	for _, f := range res.Failures {
		a.log.Warn("report failed",
			logx.String("target", f.Item.Target),
			logx.String("format", f.Item.Format),
			logx.Any("err", f.Err))
	}
	return res, nil
}

func (a *App) snapshotRoster(ctx context.Context) error {
	students := a.students.List()
	if err := a.store.SaveRoster(ctx, students); err != nil {
		return err
	}
	a.audit(storage.AuditEntry{Job: jobRosterSnapshot, Action: "save", Target: "all", OK: len(students)})
	return nil
}

func (a *App) pruneAudit(ctx context.Context, retention time.Duration) error {
	dropped, err := a.store.PruneAudit(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if dropped > 0 {
		a.log.Info("audit pruned", logx.Int("dropped", dropped), logx.Duration("retention", retention))
	}
	return nil
}
