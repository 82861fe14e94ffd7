// Package sweeper returns stale claims to the dispatch pool. Interviewer
// stations crash or lose connectivity mid-interview; without the sweep
// their cases would stay claimed forever.
package sweeper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/cati-dispatch/internal/repository"
	"github.com/acme/cati-dispatch/pkg/logger"
)

// Leaser gates the sweep so only one instance scans at a time.
type Leaser interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Config tunes the sweep loop.
type Config struct {
	TickInterval        time.Duration
	BatchSize           int
	DefaultClaimTimeout time.Duration
}

// Sweeper periodically reclaims expired claims across all campaigns.
type Sweeper struct {
	cases     repository.CaseStore
	campaigns repository.CampaignConfigRepository
	lease     Leaser
	log       *logger.Logger
	cfg       Config
	now       func() time.Time
}

// New constructs a sweeper. lease may be nil for single-instance deployments.
func New(cases repository.CaseStore, campaigns repository.CampaignConfigRepository, lease Leaser, log *logger.Logger, cfg Config) *Sweeper {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.DefaultClaimTimeout <= 0 {
		cfg.DefaultClaimTimeout = 15 * time.Minute
	}
	return &Sweeper{
		cases:     cases,
		campaigns: campaigns,
		lease:     lease,
		log:       log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the sweep loop until cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweeper: tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one sweep pass over all campaigns.
func (s *Sweeper) Tick(ctx context.Context) error {
	if s.lease != nil {
		held, err := s.lease.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if !held {
			s.log.Debug("sweeper: lease held elsewhere, skipping tick")
			return nil
		}
	}

	tracer := otel.Tracer("cati.sweeper")
	sctx, span := tracer.Start(ctx, "sweeper.tick")
	defer span.End()

	campaigns, err := s.campaigns.List(sctx, 0)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)))

	now := s.now()
	var total int64
	for _, campaign := range campaigns {
		timeout := campaign.ClaimTimeout
		if timeout <= 0 {
			timeout = s.cfg.DefaultClaimTimeout
		}
		cutoff := now.Add(-timeout)

		cctx, cspan := tracer.Start(sctx, "sweeper.campaign", trace.WithAttributes(
			attribute.String("campaign.id", campaign.ID.String()),
		))

		reclaimed, err := s.cases.ReclaimExpired(cctx, campaign.ID, cutoff, now, s.cfg.BatchSize)
		if err != nil {
			cspan.RecordError(err)
			cspan.End()
			s.log.Error("sweeper: reclaim failed",
				zap.Error(err),
				zap.String("campaign_id", campaign.ID.String()),
			)
			continue
		}
		cspan.SetAttributes(attribute.Int64("reclaimed", reclaimed))
		cspan.End()
		if reclaimed > 0 {
			s.log.Info("sweeper: reclaimed stale claims",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Int64("count", reclaimed),
				zap.Duration("claim_timeout", timeout),
			)
		}
		total += reclaimed
	}

	span.SetAttributes(attribute.Int64("reclaimed.total", total))
	return nil
}
