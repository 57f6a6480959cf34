// Package scheduler drives the two independent agent loops: the poll cycle
// over catalog items and sources, and the hourly screenshot check.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"hdgwatch/internal/camera"
	"hdgwatch/internal/catalog"
	"hdgwatch/internal/hdg"
	"hdgwatch/internal/logging"
	"hdgwatch/internal/metrics"
	"hdgwatch/internal/readings"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateIterating
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StateIterating:
		return "ITERATING"
	case StateCooldown:
		return "COOLDOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	DefaultInterval  = 120 * time.Minute
	DefaultLoadRetry = 10 * time.Minute
	DefaultPause     = time.Second
)

type Catalog interface {
	Load() ([]catalog.Item, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, address, metricID string) (string, error)
}

type Retention interface {
	Prune(now time.Time) (logging.PruneStats, error)
}

// CycleReport summarizes one pass through LOADING, ITERATING and the start of
// COOLDOWN.
type CycleReport struct {
	Cycle          int
	Loaded         bool
	Items          int
	Attempts       int
	Saved          int
	FetchFailed    int
	SaveFailed     int
	SkippedItems   int
	SkippedSources int
	Cooldown       time.Duration
	Capped         bool
}

// PollScheduler runs IDLE -> LOADING -> ITERATING -> COOLDOWN -> IDLE
// forever. A load failure skips ITERATING and uses the short LoadRetry
// cooldown. Failed pairs are not retried within a cycle.
type PollScheduler struct {
	Catalog   Catalog
	Fetcher   Fetcher
	Sink      readings.Sink
	Retention Retention
	Sources   []readings.Source
	MachineID string

	Interval    time.Duration
	MaxCooldown time.Duration
	LoadRetry   time.Duration
	Pause       time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	Log   *slog.Logger

	state   State
	cycle   int
	limiter *rate.Limiter
}

func (s *PollScheduler) State() State {
	return s.state
}

// Run loops until ctx ends and returns its error.
func (s *PollScheduler) Run(ctx context.Context) error {
	if s.Catalog == nil || s.Fetcher == nil || s.Sink == nil {
		return errors.New("catalog, fetcher and sink required")
	}
	for {
		report := s.RunCycle(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sleep(ctx, report.Cooldown); err != nil {
			return err
		}
		s.transition(StateIdle)
	}
}

// RunCycle performs one cycle up to the start of COOLDOWN, including log
// retention, and reports the cooldown the caller should wait.
func (s *PollScheduler) RunCycle(ctx context.Context) CycleReport {
	s.cycle++
	report := CycleReport{Cycle: s.cycle}
	log := s.logger().With("cycle", s.cycle)

	s.transition(StateLoading)
	items, err := s.Catalog.Load()
	if err != nil {
		log.Error("catalog load failed, skipping cycle", "err", err)
		metrics.CyclesTotal.WithLabelValues("load_failed").Inc()
		report.Cooldown = s.loadRetry()
		s.transition(StateCooldown)
		log.Info("cooling down", "duration", report.Cooldown.String())
		return report
	}
	report.Loaded = true
	report.Items = len(items)
	log.Info("catalog loaded", "items", len(items))

	s.transition(StateIterating)
	s.iterate(ctx, log, items, &report)
	if ctx.Err() != nil {
		log.Info("cycle interrupted", "attempts", report.Attempts)
		return report
	}
	log.Info("cycle complete",
		"attempts", report.Attempts,
		"saved", report.Saved,
		"fetch_failed", report.FetchFailed,
		"save_failed", report.SaveFailed,
		"skipped_items", report.SkippedItems,
		"skipped_sources", report.SkippedSources,
	)
	metrics.CyclesTotal.WithLabelValues("completed").Inc()

	s.transition(StateCooldown)
	s.prune(log)
	report.Cooldown, report.Capped = s.cooldown()
	if report.Capped {
		log.Info("cooling down", "duration", report.Cooldown.String(), "capped_from", s.interval().String())
	} else {
		log.Info("cooling down", "duration", report.Cooldown.String())
	}
	return report
}

func (s *PollScheduler) iterate(ctx context.Context, log *slog.Logger, items []catalog.Item, report *CycleReport) {
	for _, item := range items {
		if item.ID == "" {
			report.SkippedItems++
			log.Warn("catalog item without id, skipping")
			continue
		}
		for _, src := range s.Sources {
			if !src.Configured() {
				report.SkippedSources++
				log.Warn("source has no address, skipping", "source", src.Name, "metric", item.ID)
				continue
			}
			if err := s.pace(ctx); err != nil {
				return
			}
			s.step(ctx, log, item.ID, src, report)
			s.rest(time.Now())
		}
	}
}

// step fetches and saves one (item, source) pair. A panic is contained to
// the pair and counted against the stage it happened in.
func (s *PollScheduler) step(ctx context.Context, log *slog.Logger, metricID string, src readings.Source, report *CycleReport) {
	stage := "fetch"
	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected failure", "stage", stage, "source", src.Name, "metric", metricID, "panic", fmt.Sprint(r), logging.DetailKey, string(debug.Stack()))
			if stage == "fetch" {
				report.FetchFailed++
			} else {
				report.SaveFailed++
			}
		}
	}()

	report.Attempts++
	start := time.Now()
	value, err := s.Fetcher.Fetch(ctx, src.Address, metricID)
	metrics.FetchDuration.WithLabelValues(src.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := string(hdg.KindOf(err))
		if kind == "" {
			kind = "error"
		}
		metrics.FetchesTotal.WithLabelValues(src.Name, kind).Inc()
		report.FetchFailed++
		log.Error("fetch failed", "source", src.Name, "metric", metricID, "kind", kind, "err", err)
		return
	}
	metrics.FetchesTotal.WithLabelValues(src.Name, "ok").Inc()

	stage = "save"
	reading := readings.New(src, metricID, value, s.MachineID)
	if err := s.Sink.Save(ctx, reading); err != nil {
		metrics.SavesTotal.WithLabelValues("failed").Inc()
		report.SaveFailed++
		log.Error("save failed", "source", src.Name, "metric", metricID, "err", err)
		return
	}
	metrics.SavesTotal.WithLabelValues("ok").Inc()
	report.Saved++
	log.Debug("reading saved", "source", src.Name, "metric", metricID, "value", value)
}

// pace blocks until Pause has passed since the previous step returned.
func (s *PollScheduler) pace(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	return s.limiter.Wait(ctx)
}

// rest drains a fresh single-token bucket at end, so the next pace waits a
// full Pause however long the step took.
func (s *PollScheduler) rest(end time.Time) {
	limit := rate.Inf
	if s.Pause > 0 {
		limit = rate.Every(s.Pause)
	}
	s.limiter = rate.NewLimiter(limit, 1)
	s.limiter.AllowN(end, 1)
}

func (s *PollScheduler) prune(log *slog.Logger) {
	if s.Retention == nil {
		return
	}
	stats, err := s.Retention.Prune(s.now())
	if err != nil {
		log.Error("log retention failed", "err", err)
		return
	}
	if stats.Removed > 0 {
		metrics.LogLinesPrunedTotal.Add(float64(stats.Removed))
		log.Info("log retention pruned entries", "processed", stats.Processed, "kept", stats.Kept, "removed", stats.Removed)
	}
}

func (s *PollScheduler) cooldown() (time.Duration, bool) {
	d := s.interval()
	if s.MaxCooldown > 0 && s.MaxCooldown < d {
		return s.MaxCooldown, true
	}
	return d, false
}

func (s *PollScheduler) transition(to State) {
	from := s.state
	s.state = to
	s.logger().Info("state transition", "cycle", s.cycle, "from", from.String(), "to", to.String())
}

func (s *PollScheduler) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultInterval
}

func (s *PollScheduler) loadRetry() time.Duration {
	if s.LoadRetry > 0 {
		return s.LoadRetry
	}
	return DefaultLoadRetry
}

func (s *PollScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *PollScheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	return camera.SleepContext(ctx, d)
}

func (s *PollScheduler) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
