package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PassFunc runs one scrape pass over the bucket that just opened.
type PassFunc func(ctx context.Context, bucket time.Time) error

// Options control the bucket cadence. With AlignToStart the buckets snap
// to wall-clock multiples of Interval (an hourly cadence fires at :00),
// otherwise the first pass runs one Interval after startup.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler opens scrape buckets at a fixed cadence and hands each one to
// a PassFunc. A failed pass is logged; the cadence never stops for it.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking pass once per bucket until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextBoundary(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextBoundary(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		bucket := s.bucketStart(next)
		s.logger.Info().Time("bucket", bucket).Msg("opening scrape bucket")

		if err := pass(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("scrape pass failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextBoundary(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
