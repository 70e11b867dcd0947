// Package sweeper runs the expiry sweep on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"yogaflow/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Sweeper struct {
	svc      service.SweepService
	schedule string
	timeout  time.Duration
	logger   zerolog.Logger
}

func New(svc service.SweepService, schedule string, timeout time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger.With().Str("worker", "sweeper").Logger(),
	}
}

// Run sweeps once at startup and then on every tick of the schedule until ctx
// is cancelled. Overlapping runs are skipped.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.logger.Info().Str("schedule", s.schedule).Msg("Starting expiry sweeper")
	s.RunOnce(ctx)
	c.Start()

	<-ctx.Done()
	s.logger.Info().Msg("Shutting down expiry sweeper")
	<-c.Stop().Done()
	return nil
}

func (s *Sweeper) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.svc.Sweep(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Expiry sweep failed")
	}
}
