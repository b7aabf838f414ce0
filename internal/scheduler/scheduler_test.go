package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestScheduler(aligned bool) *Scheduler {
	return New(Options{Interval: time.Hour, AlignToStart: aligned}, zerolog.Nop())
}

func TestNextBoundaryAligned(t *testing.T) {
	s := newTestScheduler(true)

	now := time.Date(2026, 8, 1, 10, 20, 0, 0, time.UTC)
	want := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	if got := s.nextBoundary(now); !got.Equal(want) {
		t.Fatalf("nextBoundary(%s) = %s, want %s", now, got, want)
	}
}

func TestNextBoundaryOnBoundaryMovesForward(t *testing.T) {
	s := newTestScheduler(true)

	now := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	want := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if got := s.nextBoundary(now); !got.Equal(want) {
		t.Fatalf("boundary time should move to the next bucket, got %s", got)
	}
}

func TestNextBoundaryUnaligned(t *testing.T) {
	s := newTestScheduler(false)

	now := time.Date(2026, 8, 1, 10, 20, 0, 0, time.UTC)
	if got := s.nextBoundary(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unaligned boundary should be one interval out, got %s", got)
	}
}

func TestBucketStart(t *testing.T) {
	aligned := newTestScheduler(true)
	at := time.Date(2026, 8, 1, 11, 30, 0, 0, time.UTC)
	if got := aligned.bucketStart(at); !got.Equal(time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("aligned bucket start should truncate, got %s", got)
	}

	unaligned := newTestScheduler(false)
	if got := unaligned.bucketStart(at); !got.Equal(at) {
		t.Fatalf("unaligned bucket start should be the fire time, got %s", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestScheduler(false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("no pass should run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run should return the context error, got %v", err)
	}
}
