package sessionsrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/warden/pkg/asyncx"
	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/logx"
	"github.com/Abraxas-365/warden/pkg/metricsx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// Reaper purges expired and revoked sessions in batches.
type Reaper struct {
	repo     session.Repository
	interval time.Duration
	batch    int
	workers  int
	now      kernel.Clock
	metrics  *metricsx.Collector
}

type ReaperOption func(*Reaper)

func WithReaperClock(c kernel.Clock) ReaperOption {
	return func(r *Reaper) { r.now = c }
}

func WithReaperMetrics(c *metricsx.Collector) ReaperOption {
	return func(r *Reaper) { r.metrics = c }
}

func NewReaper(repo session.Repository, cfg config.ReaperConfig, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		repo:     repo,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		workers:  max(cfg.Workers, 1),
		now:      kernel.SystemClock,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReapResult summarizes one run.
type ReapResult struct {
	Scanned int
	Deleted int
	Failed  int
}

// Run ticks until ctx is cancelled. It is meant to own one goroutine.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logx.WithFields(logx.Fields{
		"interval": r.interval.String(),
		"batch":    r.batch,
	}).Info("Session reaper started")

	for {
		select {
		case <-ctx.Done():
			logx.Info("Session reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logx.WithError(err).Error("Session reaper run failed")
			}
		}
	}
}

// RunOnce purges one batch. A session that is already gone counts as
// deleted; other failures are left for the next run.
func (r *Reaper) RunOnce(ctx context.Context) (ReapResult, error) {
	start := time.Now()

	dead, err := r.repo.ListReapable(ctx, r.now(), r.batch)
	if err != nil {
		return ReapResult{}, err
	}

	results := asyncx.PoolSettled(ctx, r.workers, dead, func(ctx context.Context, s *session.Session) (struct{}, error) {
		err := r.repo.Delete(ctx, s.ID)
		if storex.IsNotFound(err) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})

	res := ReapResult{Scanned: len(dead)}
	for i, out := range results {
		if out.OK() {
			res.Deleted++
			continue
		}
		res.Failed++
		logx.WithFields(logx.Fields{
			"session": dead[i].ID.Fingerprint(),
			"backend": r.repo.Name(),
		}).WithError(out.Err).Warn("Could not purge session")
	}

	took := time.Since(start)
	r.metrics.ReaperRun(res.Deleted, res.Failed, took)
	if res.Scanned > 0 {
		logx.WithFields(logx.Fields{
			"deleted":  res.Deleted,
			"failed":   res.Failed,
			"duration": took.String(),
		}).Info("Session reaper run complete")
	}
	return res, nil
}
