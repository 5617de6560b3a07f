// Package sweeper implements the Timeout Sweeper of spec §4.9: a
// ticker-driven scan that fails async jobs stuck in processing past their
// deadline, adapted from the teacher's heartbeat-ticker pattern
// (sendJobHeartbeat) into a standalone periodic component.
package sweeper

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/job"
)

const timeoutReason = "Job timed out - no webhook received"

// Store is the subset of internal/store's Store this package consumes.
type Store interface {
	FindByStatus(ctx context.Context, status job.Status, limit int) ([]job.Job, error)
	UpdateResult(ctx context.Context, requestID string, status job.Status, result json.RawMessage, errMsg *string) error
}

// Cache is the subset of internal/cache's Cache this package consumes.
type Cache interface {
	Invalidate(ctx context.Context, requestID string)
}

// Config configures a Sweeper's cadence and deadline.
type Config struct {
	Logger      *slog.Logger
	Store       Store
	Cache       Cache
	AsyncVendor string
	Interval    time.Duration
	StaleAfter  time.Duration
	ScanLimit   int
}

// Sweeper periodically fails async jobs that never received a webhook.
type Sweeper struct {
	logger      *slog.Logger
	store       Store
	cache       Cache
	asyncVendor string
	interval    time.Duration
	staleAfter  time.Duration
	scanLimit   int
	now         func() time.Time
}

// New creates a Sweeper, filling in the spec's defaults (120s interval, 5
// minute stale threshold) for any zero-valued tunable.
func New(cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 120 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 500
	}
	return &Sweeper{
		logger:      cfg.Logger,
		store:       cfg.Store,
		cache:       cfg.Cache,
		asyncVendor: cfg.AsyncVendor,
		interval:    cfg.Interval,
		staleAfter:  cfg.StaleAfter,
		scanLimit:   cfg.ScanLimit,
		now:         time.Now,
	}
}

// Run blocks, sweeping every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("timeout sweeper started", slog.Duration("interval", s.interval), slog.Duration("stale_after", s.staleAfter))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout sweeper stopped - context canceled")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce scans processing jobs once and fails the stale async ones.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	processing, err := s.store.FindByStatus(ctx, job.StatusProcessing, s.scanLimit)
	if err != nil {
		s.logger.Error("sweeper: scan failed", slog.Any("error", err))
		return
	}

	cutoff := s.now().UTC().Add(-s.staleAfter)
	var swept int
	for _, j := range processing {
		// Synchronous-vendor jobs finalize inline and are never swept.
		if j.Vendor == nil || *j.Vendor != s.asyncVendor {
			continue
		}
		if j.UpdatedAt.After(cutoff) {
			continue
		}

		errMsg := timeoutReason
		if err := s.store.UpdateResult(ctx, j.RequestID, job.StatusFailed, nil, &errMsg); err != nil {
			s.logger.Error("sweeper: failed to mark job timed out",
				slog.String("request_id", j.RequestID), slog.Any("error", err))
			continue
		}
		s.cache.Invalidate(ctx, j.RequestID)
		swept++
	}

	if swept > 0 {
		s.logger.Info("timeout sweeper swept stale jobs", slog.Int("count", swept))
	}
}
