package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"dialogd/pkg/config"
	"dialogd/pkg/logger"
	"dialogd/pkg/store"
)

// Start starts the retention scheduler if enabled. The scheduler
// physically purges soft-truncated messages older than the configured
// minimum age; visible history is never touched. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config, st *store.Store) (context.CancelFunc, error) {
	ret := cfg.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "min_age", ret.MinAge.Duration().String(), "dry_run", ret.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, st, cronExpr)
	return cancel, nil
}

// runScheduler computes the next tick for the cron expression with gronx
// and sleeps until it, then triggers a purge run.
func runScheduler(ctx context.Context, cfg *config.Config, st *store.Store, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(ctx, cfg, st); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce purges hidden messages for every user in one pass. Exposed so
// an operator trigger or test can run retention on demand.
func RunOnce(ctx context.Context, cfg *config.Config, st *store.Store) error {
	ret := cfg.Retention
	minAge := ret.MinAge.Duration()
	if minAge <= 0 {
		minAge = 30 * 24 * time.Hour
	}
	batch := ret.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	cutoff := time.Now().Add(-minAge)

	users, err := st.GetAllUsers()
	if err != nil {
		return err
	}
	var total int
	for _, u := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := st.PurgeTruncated(u.UserID, cutoff, batch, ret.DryRun)
		if err != nil {
			logger.Error("retention_purge_failed", "user", u.UserID, "error", err)
			continue
		}
		if n > 0 {
			logger.Info("retention_purged", "user", u.UserID, "count", n, "dry_run", ret.DryRun)
		}
		total += n
	}
	logger.Info("retention_run_complete", "purged", total, "users", len(users))
	return nil
}
