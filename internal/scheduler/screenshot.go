package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"hdgwatch/internal/camera"
	"hdgwatch/internal/logging"
	"hdgwatch/internal/metrics"
)

const DefaultCheckInterval = time.Minute

type Trigger interface {
	TakeAndUpload(ctx context.Context) camera.Outcome
}

// ScreenshotScheduler fires the trigger at most once per designated hour per
// calendar date. Missed hours are not caught up. A slot counts as used as
// soon as it fires, whatever the capture outcome.
type ScreenshotScheduler struct {
	Hours    HourSet
	Trigger  Trigger
	Interval time.Duration
	// OnStart fires one capture before the first check. It bypasses slot
	// bookkeeping.
	OnStart bool
	Now     func() time.Time
	Log     *slog.Logger

	slots map[int]string
}

// Check reports whether now opens an unused slot and records it if so.
func (s *ScreenshotScheduler) Check(now time.Time) bool {
	hour := now.Hour()
	if !s.Hours.Contains(hour) {
		return false
	}
	date := now.Format(time.DateOnly)
	if s.slots == nil {
		s.slots = make(map[int]string)
	}
	if s.slots[hour] == date {
		return false
	}
	s.slots[hour] = date
	return true
}

// Tick checks the clock once and runs the trigger when a slot opens.
func (s *ScreenshotScheduler) Tick(ctx context.Context) bool {
	now := s.now()
	if !s.Check(now) {
		return false
	}
	s.logger().Info("screenshot hour reached", "hour", now.Hour(), "date", now.Format(time.DateOnly))
	s.fire(ctx)
	return true
}

// fire runs one attempt. A panic in the trigger is logged and counted as a
// failed capture so the loop keeps going.
func (s *ScreenshotScheduler) fire(ctx context.Context) (outcome camera.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Error("screenshot attempt crashed", "panic", fmt.Sprint(r), logging.DetailKey, string(debug.Stack()))
			metrics.ScreenshotsTotal.WithLabelValues(string(camera.OutcomeCaptureFailed)).Inc()
			outcome = camera.OutcomeCaptureFailed
		}
		s.logger().Info("screenshot attempt finished", "outcome", string(outcome))
	}()
	return s.Trigger.TakeAndUpload(ctx)
}

// Run checks every Interval until ctx ends. Triggers run inline, so
// attempts never overlap.
func (s *ScreenshotScheduler) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	s.logger().Info("screenshot scheduler started", "hours", s.Hours.String(), "interval", interval.String())
	if s.OnStart {
		s.logger().Info("taking startup screenshot")
		s.fire(ctx)
	}
	s.Tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *ScreenshotScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ScreenshotScheduler) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
