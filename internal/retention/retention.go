// Package retention bounds local cache growth: a cron-scheduled sweeper
// trims stream membership past a configured length and evicts notification
// entities orphaned by the trim. Entity snapshots referenced by surviving
// stream entries are never touched.
package retention

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"skymirror/pkg/cache"
	"skymirror/pkg/config"
	"skymirror/pkg/logger"
	"skymirror/pkg/models"
	"skymirror/pkg/stream"
)

// Sweeper runs eviction passes over the shared substrate.
type Sweeper struct {
	store *cache.Store
	index *stream.Index
	cfg   config.RetentionConfig
}

// New builds a Sweeper from the retention section of the config.
func New(s *cache.Store, x *stream.Index, cfg config.RetentionConfig) *Sweeper {
	return &Sweeper{store: s, index: x, cfg: cfg}
}

// Start launches the cron scheduler if retention is enabled. It returns a
// cancel func; call it to stop the scheduler.
func (s *Sweeper) Start(ctx context.Context) (context.CancelFunc, error) {
	if !s.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := s.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", s.cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", s.cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_entries", s.cfg.MaxStreamEntries)
	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler computes the next tick for the cron expression and sleeps
// until then, mirroring plain cron semantics.
func (s *Sweeper) runScheduler(ctx context.Context, cronExpr string) {
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
			if err := s.RunOnce(); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single eviction pass over every stream.
func (s *Sweeper) RunOnce() error {
	keep := s.cfg.MaxStreamEntries
	if keep <= 0 {
		return nil
	}
	names, err := s.index.Names()
	if err != nil {
		return err
	}
	evicted := 0
	for _, name := range names {
		dropped, err := s.index.Trim(name, keep)
		if err != nil {
			return fmt.Errorf("trim %q: %w", name, err)
		}
		// notification records exist solely for their stream; once
		// trimmed out nothing references them
		if len(dropped) > 0 && strings.HasPrefix(name, "notifications:") {
			for _, k := range dropped {
				if err := s.store.Delete(models.KindNotification, k); err != nil {
					return fmt.Errorf("evict notification %s: %w", k, err)
				}
				evicted++
			}
		}
	}
	if evicted > 0 {
		logger.Info("retention_swept", "streams", len(names), "evicted", evicted)
	}
	return nil
}
